package session

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"unicode/utf8"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const maxMessageLength = 100

type JoinRequest struct {
	SessionID int64
	// Name is generated when empty.
	Name string
}

// Join adds a player to a session in LOBBY and returns the player id.
// The join that reaches the auto-start threshold starts the first question.
func (s *Service) Join(ctx context.Context, req JoinRequest) (int64, error) {
	ss, err := s.Get(req.SessionID)
	if err != nil {
		return 0, err
	}

	ss.mu.Lock()
	if ss.phase != domain.PhaseLobby {
		ss.mu.Unlock()
		return 0, errors.FailedPrecondition("session %d is not in LOBBY state", ss.id)
	}
	if ss.autoStart > 0 && len(ss.players) >= ss.autoStart {
		ss.mu.Unlock()
		return 0, errors.FailedPrecondition("session %d is full", ss.id)
	}

	name := req.Name
	if name == "" {
		name = ss.uniqueNameLocked()
	}
	if _, ok := ss.names[name]; ok {
		ss.mu.Unlock()
		return 0, errors.AlreadyExists("name %q of user entered is not unique", name)
	}

	p := &player{id: s.lastPlayerID.Add(1), name: name, session: ss}
	ss.players = append(ss.players, p)
	ss.names[name] = struct{}{}

	var events []event.Event
	if ss.autoStart > 0 && len(ss.players) == ss.autoStart {
		events = ss.startCountdownLocked()
	}
	ss.mu.Unlock()

	s.mu.Lock()
	s.players[p.id] = p
	s.mu.Unlock()

	slog.InfoContext(ctx, "session: player joined",
		"session_id", ss.id,
		"player_id", p.id,
		"name", name,
	)

	ss.publish(ctx, events)
	return p.id, nil
}

func (ss *Session) uniqueNameLocked() string {
	for {
		name := ss.svc.nameFunc()
		if _, ok := ss.names[name]; !ok {
			return name
		}
	}
}

// randomName returns five distinct letters followed by three distinct digits.
func randomName() string {
	const (
		letters = "abcdefghijklmnopqrstuvwxyz"
		digits  = "0123456789"
	)

	b := make([]byte, 0, 8)
	for _, i := range rand.Perm(len(letters))[:5] {
		b = append(b, letters[i])
	}
	for _, i := range rand.Perm(len(digits))[:3] {
		b = append(b, digits[i])
	}
	return string(b)
}

// PlayerStatus returns the state of the player's session.
func (s *Service) PlayerStatus(_ context.Context, playerID int64) (*domain.PlayerStatus, error) {
	p, err := s.player(playerID)
	if err != nil {
		return nil, err
	}

	ss := p.session
	ss.mu.Lock()
	defer ss.mu.Unlock()

	return &domain.PlayerStatus{
		Phase:          ss.phase,
		TotalQuestions: len(ss.quiz.Questions),
		AtQuestion:     ss.atQuestion,
	}, nil
}

// PlayerSession returns the id of the session the player joined.
func (s *Service) PlayerSession(playerID int64) (int64, error) {
	p, err := s.player(playerID)
	if err != nil {
		return 0, err
	}

	return p.session.id, nil
}

// PlayerIDs returns the ids of the session's players in join order.
func (s *Service) PlayerIDs(sessionID int64) ([]int64, error) {
	ss, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	ids := make([]int64, 0, len(ss.players))
	for _, p := range ss.players {
		ids = append(ids, p.id)
	}
	return ids, nil
}

type SendMessageRequest struct {
	PlayerID int64
	Body     string
}

// SendMessage appends a chat message to the player's session.
func (s *Service) SendMessage(ctx context.Context, req SendMessageRequest) error {
	p, err := s.player(req.PlayerID)
	if err != nil {
		return err
	}

	if n := utf8.RuneCountInString(req.Body); n < 1 || n > maxMessageLength {
		return errors.InvalidArgument("message body must be between 1 and %d characters", maxMessageLength)
	}

	ss := p.session
	ss.mu.Lock()
	ss.messages = append(ss.messages, domain.Message{
		Body:       req.Body,
		PlayerID:   p.id,
		PlayerName: p.name,
		TimeSent:   s.now().Unix(),
	})
	ss.mu.Unlock()

	slog.DebugContext(ctx, "session: message sent", "session_id", ss.id, "player_id", p.id)
	return nil
}

// ListMessages returns the chat of the player's session in send order.
func (s *Service) ListMessages(_ context.Context, playerID int64) ([]domain.Message, error) {
	p, err := s.player(playerID)
	if err != nil {
		return nil, err
	}

	ss := p.session
	ss.mu.Lock()
	defer ss.mu.Unlock()

	msgs := slices.Clone(ss.messages)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}
