package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/scheduler"
)

const (
	DefaultCountdown         = 100 * time.Millisecond
	DefaultMaxActiveSessions = 10
	DefaultMaxAutoStart      = 50
)

type Config struct {
	EventBus  *event.Bus
	Scheduler *scheduler.Scheduler

	// Countdown is the delay between QUESTION_COUNTDOWN and QUESTION_OPEN.
	Countdown time.Duration
	// MaxActiveSessions caps the sessions not in END, across all quizzes.
	MaxActiveSessions int
	// MaxAutoStart is the largest accepted auto-start threshold.
	MaxAutoStart int
	// LastSessionID is the highest id issued by earlier runs. New ids start above it.
	LastSessionID int64

	Now      func() time.Time
	NameFunc func() string
}

// Service is the session registry. It owns every session and routes players to them.
type Service struct {
	eb        *event.Bus
	sched     *scheduler.Scheduler
	countdown time.Duration
	maxActive int
	maxAuto   int
	now       func() time.Time
	nameFunc  func() string

	lastSessionID atomic.Int64
	lastPlayerID  atomic.Int64

	mu       sync.RWMutex
	sessions map[int64]*Session
	players  map[int64]*player
}

type player struct {
	id      int64
	name    string
	session *Session
}

func NewService(c Config) *Service {
	s := &Service{
		eb:        c.EventBus,
		sched:     c.Scheduler,
		countdown: c.Countdown,
		maxActive: c.MaxActiveSessions,
		maxAuto:   c.MaxAutoStart,
		now:       c.Now,
		nameFunc:  c.NameFunc,
		sessions:  make(map[int64]*Session),
		players:   make(map[int64]*player),
	}

	if s.sched == nil {
		s.sched = scheduler.New(scheduler.Config{})
	}
	if s.countdown <= 0 {
		s.countdown = DefaultCountdown
	}
	if s.maxActive <= 0 {
		s.maxActive = DefaultMaxActiveSessions
	}
	if s.maxAuto <= 0 {
		s.maxAuto = DefaultMaxAutoStart
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.nameFunc == nil {
		s.nameFunc = randomName
	}
	s.lastSessionID.Store(c.LastSessionID)

	return s
}

// StartSessionRequest starts a session on a catalog snapshot.
type StartSessionRequest struct {
	Quiz domain.Quiz
	// AutoStartNum is the joined-player count that starts the first question automatically. 0 disables it.
	AutoStartNum int
}

// StartSession creates a session in LOBBY and returns its id.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (int64, error) {
	if req.AutoStartNum < 0 {
		return 0, errors.InvalidArgument("autoStartNum must not be negative")
	}
	if req.AutoStartNum > s.maxAuto {
		return 0, errors.ResourceExhausted("autoStartNum is greater than %d", s.maxAuto)
	}
	if len(req.Quiz.Questions) == 0 {
		return 0, errors.InvalidArgument("quiz %d does not have any questions", req.Quiz.QuizID)
	}

	s.mu.Lock()
	active := 0
	for _, ss := range s.sessions {
		if !ss.Phase().Terminal() {
			active++
		}
	}
	if active >= s.maxActive {
		s.mu.Unlock()
		return 0, errors.ResourceExhausted("a maximum of %d sessions that are not in END state already exist", s.maxActive)
	}

	ss := newSession(s, s.lastSessionID.Add(1), req.Quiz, req.AutoStartNum)
	s.sessions[ss.id] = ss
	s.mu.Unlock()

	slog.InfoContext(ctx, "session: started",
		"session_id", ss.id,
		"quiz_id", ss.quiz.QuizID,
		"questions", len(ss.quiz.Questions),
		"auto_start", ss.autoStart,
	)

	s.eb.Publish(ctx, domain.EventSessionStarted{
		SessionID: ss.id,
		QuizID:    ss.quiz.QuizID,
		StartTime: s.now(),
	})

	return ss.id, nil
}

// Get returns the session with the given id.
func (s *Service) Get(sessionID int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ss, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session %d not found", sessionID)
	}

	return ss, nil
}

// getForQuiz rejects sessions that exist but were started on another quiz.
func (s *Service) getForQuiz(quizID, sessionID int64) (*Session, error) {
	ss, err := s.Get(sessionID)
	if err != nil || ss.quiz.QuizID != quizID {
		return nil, errors.NotFound("session %d does not refer to a valid session within quiz %d", sessionID, quizID)
	}

	return ss, nil
}

// ListByQuiz returns the quiz's session ids, ascending, split by whether they reached END.
func (s *Service) ListByQuiz(_ context.Context, quizID int64) domain.SessionList {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l := domain.SessionList{Active: []int64{}, Inactive: []int64{}}
	for id, ss := range s.sessions {
		if ss.quiz.QuizID != quizID {
			continue
		}
		if ss.Phase().Terminal() {
			l.Inactive = append(l.Inactive, id)
		} else {
			l.Active = append(l.Active, id)
		}
	}

	slices.Sort(l.Active)
	slices.Sort(l.Inactive)
	return l
}

type UpdateSessionRequest struct {
	QuizID    int64
	SessionID int64
	Action    string
}

// UpdateSession applies an admin action to a session.
func (s *Service) UpdateSession(ctx context.Context, req UpdateSessionRequest) error {
	ss, err := s.getForQuiz(req.QuizID, req.SessionID)
	if err != nil {
		return err
	}

	a, err := domain.ParseAction(req.Action)
	if err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("action provided is not a valid action: %q", req.Action), errors.WithCause(err))
	}

	return ss.apply(ctx, a)
}

// SessionStatus returns the admin view of a session.
func (s *Service) SessionStatus(_ context.Context, quizID, sessionID int64) (*domain.SessionStatus, error) {
	ss, err := s.getForQuiz(quizID, sessionID)
	if err != nil {
		return nil, err
	}

	st := ss.status()
	return &st, nil
}

// SessionResults returns the final results of a session in FINAL_RESULTS.
func (s *Service) SessionResults(_ context.Context, quizID, sessionID int64) (*domain.FinalResult, error) {
	ss, err := s.getForQuiz(quizID, sessionID)
	if err != nil {
		return nil, err
	}

	return ss.finalResults()
}

// SessionResultsCSV renders the final results of a session in FINAL_RESULTS as CSV.
func (s *Service) SessionResultsCSV(_ context.Context, quizID, sessionID int64) (string, error) {
	ss, err := s.getForQuiz(quizID, sessionID)
	if err != nil {
		return "", err
	}

	return ss.resultsCSV()
}

func (s *Service) player(playerID int64) (*player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[playerID]
	if !ok {
		return nil, errors.NotFound("player %d does not exist", playerID)
	}

	return p, nil
}

// Stop cancels every pending timer. Sessions stay readable.
func (s *Service) Stop() {
	s.sched.Stop()
}
