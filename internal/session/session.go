package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

// Session is one running instance of a quiz. Every read and write of its state
// goes through mu, timer callbacks included.
type Session struct {
	svc       *Service
	id        int64
	quiz      domain.Quiz
	autoStart int

	mu         sync.Mutex
	phase      domain.Phase
	atQuestion int
	// gen changes on every transition. A timer carries the gen it was scheduled
	// under and does nothing if the session moved on in the meantime.
	gen       uint64
	players   []*player
	names     map[string]struct{}
	ledger    []*questionLedger
	messages  []domain.Message
	finalized bool
}

func newSession(svc *Service, id int64, quiz domain.Quiz, autoStart int) *Session {
	quiz = cloneQuiz(quiz)

	ss := &Session{
		svc:       svc,
		id:        id,
		quiz:      quiz,
		autoStart: autoStart,
		phase:     domain.PhaseLobby,
		names:     make(map[string]struct{}),
		ledger:    make([]*questionLedger, 0, len(quiz.Questions)),
	}
	for _, q := range quiz.Questions {
		ss.ledger = append(ss.ledger, newQuestionLedger(q))
	}

	return ss
}

func cloneQuiz(q domain.Quiz) domain.Quiz {
	c := q
	c.Questions = make([]domain.Question, 0, len(q.Questions))
	for _, qq := range q.Questions {
		qq.Answers = slices.Clone(qq.Answers)
		c.Questions = append(c.Questions, qq)
	}
	return c
}

func (ss *Session) ID() int64 { return ss.id }

func (ss *Session) QuizID() int64 { return ss.quiz.QuizID }

func (ss *Session) Phase() domain.Phase {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	return ss.phase
}

func (ss *Session) status() domain.SessionStatus {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	return domain.SessionStatus{
		Phase:      ss.phase,
		AtQuestion: ss.atQuestion,
		Players:    ss.playerNamesLocked(),
		Quiz:       cloneQuiz(ss.quiz),
	}
}

func (ss *Session) playerNamesLocked() []string {
	names := make([]string, 0, len(ss.players))
	for _, p := range ss.players {
		names = append(names, p.name)
	}
	return names
}

func (ss *Session) apply(ctx context.Context, a domain.Action) error {
	ss.mu.Lock()
	events, err := ss.applyLocked(a)
	ss.mu.Unlock()
	if err != nil {
		return err
	}

	ss.publish(ctx, events)
	return nil
}

func (ss *Session) applyLocked(a domain.Action) ([]event.Event, error) {
	switch a {
	case domain.ActionNextQuestion:
		if !ss.in(domain.PhaseLobby, domain.PhaseQuestionClose, domain.PhaseAnswerShow) {
			return nil, ss.illegal(a)
		}
		if ss.atQuestion >= len(ss.quiz.Questions) {
			return nil, errors.FailedPrecondition("session %d is already at its last question", ss.id)
		}
		return ss.startCountdownLocked(), nil

	case domain.ActionGoToAnswer:
		if !ss.in(domain.PhaseQuestionOpen, domain.PhaseQuestionClose) {
			return nil, ss.illegal(a)
		}
		return ss.transitionLocked(domain.PhaseAnswerShow), nil

	case domain.ActionGoToFinalResults:
		if !ss.in(domain.PhaseQuestionClose, domain.PhaseAnswerShow) {
			return nil, ss.illegal(a)
		}
		events := ss.transitionLocked(domain.PhaseFinalResults)
		if !ss.finalized {
			ss.finalized = true
			events = append(events, domain.EventSessionFinalized{
				SessionID: ss.id,
				QuizID:    ss.quiz.QuizID,
				Result:    ss.computeResultsLocked(),
				Totals:    ss.totalsLocked(),
			})
		}
		return events, nil

	case domain.ActionEnd:
		if ss.phase == domain.PhaseEnd {
			return nil, ss.illegal(a)
		}
		return ss.transitionLocked(domain.PhaseEnd), nil

	default:
		return nil, errors.InvalidArgument("action provided is not a valid action: %q", a)
	}
}

func (ss *Session) in(phases ...domain.Phase) bool {
	return slices.Contains(phases, ss.phase)
}

func (ss *Session) illegal(a domain.Action) error {
	return errors.FailedPrecondition("action %s cannot be applied in the current state %s", a, ss.phase)
}

// transitionLocked moves the session to phase to and invalidates any pending timer.
func (ss *Session) transitionLocked(to domain.Phase) []event.Event {
	from := ss.phase
	ss.phase = to
	ss.gen++
	ss.svc.sched.Cancel(ss.id)

	slog.Debug("session: phase changed",
		"session_id", ss.id,
		"from", from,
		"to", to,
		"at_question", ss.atQuestion,
	)

	return []event.Event{domain.EventPhaseChanged{
		SessionID:  ss.id,
		QuizID:     ss.quiz.QuizID,
		From:       from,
		To:         to,
		AtQuestion: ss.atQuestion,
	}}
}

// startCountdownLocked advances to the next question and schedules it to open.
func (ss *Session) startCountdownLocked() []event.Event {
	ss.atQuestion++
	events := ss.transitionLocked(domain.PhaseQuestionCountdown)

	gen, position := ss.gen, ss.atQuestion
	ss.svc.sched.Schedule(ss.id, ss.svc.countdown, func() { ss.openQuestion(gen, position) })

	return events
}

func (ss *Session) openQuestion(gen uint64, position int) {
	ss.mu.Lock()
	if !ss.current(gen, domain.PhaseQuestionCountdown, position) {
		ss.mu.Unlock()
		return
	}

	events := ss.transitionLocked(domain.PhaseQuestionOpen)
	ss.ledger[position-1].openedAt = ss.svc.now()

	gen = ss.gen
	d := time.Duration(ss.quiz.Questions[position-1].DurationSeconds * float64(time.Second))
	ss.svc.sched.Schedule(ss.id, d, func() { ss.closeQuestion(gen, position) })
	ss.mu.Unlock()

	ss.publish(context.Background(), events)
}

func (ss *Session) closeQuestion(gen uint64, position int) {
	ss.mu.Lock()
	if !ss.current(gen, domain.PhaseQuestionOpen, position) {
		ss.mu.Unlock()
		return
	}

	events := ss.transitionLocked(domain.PhaseQuestionClose)
	ss.mu.Unlock()

	ss.publish(context.Background(), events)
}

// current reports whether a timer scheduled under gen still applies.
func (ss *Session) current(gen uint64, phase domain.Phase, position int) bool {
	if ss.gen == gen && ss.phase == phase && ss.atQuestion == position {
		return true
	}

	slog.Debug("session: stale timer ignored",
		"session_id", ss.id,
		"phase", ss.phase,
		"expected_phase", phase,
		"at_question", ss.atQuestion,
	)
	return false
}

func (ss *Session) publish(ctx context.Context, events []event.Event) {
	for _, e := range events {
		ss.svc.eb.Publish(ctx, e)
	}
}
