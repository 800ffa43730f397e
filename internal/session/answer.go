package session

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

// questionLedger records the answers given to one question of a session.
type questionLedger struct {
	question   domain.Question
	correctIDs []int64

	// openedAt is zero until the question opens.
	openedAt time.Time
	// submittedAt is in submission order.
	submittedAt []time.Time
	submitted   map[int64]struct{}
	// correct holds the names of the fully correct players in submission order,
	// which is their rank for the question.
	correct []string
}

func newQuestionLedger(q domain.Question) *questionLedger {
	return &questionLedger{
		question:   q,
		correctIDs: q.CorrectAnswerIDs(),
		submitted:  make(map[int64]struct{}),
	}
}

// points is what the player at 1-based rank earns for the question.
func (l *questionLedger) points(rank int) decimal.Decimal {
	return decimal.NewFromInt(l.question.Points).Div(decimal.NewFromInt(int64(rank)))
}

// isCorrect reports whether ids is exactly the set of correct answers.
func (l *questionLedger) isCorrect(ids []int64) bool {
	if len(ids) != len(l.correctIDs) {
		return false
	}
	for _, id := range ids {
		if !slices.Contains(l.correctIDs, id) {
			return false
		}
	}
	return true
}

func (l *questionLedger) validate(ids []int64) error {
	if len(ids) == 0 {
		return errors.InvalidArgument("less than 1 answer ID was submitted")
	}

	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return errors.InvalidArgument("duplicate answer id %d provided", id)
		}
		seen[id] = struct{}{}

		if !slices.ContainsFunc(l.question.Answers, func(a domain.Answer) bool { return a.AnswerID == id }) {
			return errors.InvalidArgument("answer id %d is not valid for this particular question", id)
		}
	}

	return nil
}

// positionLocked returns the ledger at a 1-based question position.
func (ss *Session) positionLocked(position int) (*questionLedger, error) {
	if position < 1 || position > len(ss.ledger) {
		return nil, errors.NotFound("question position %d is not valid for session %d", position, ss.id)
	}
	return ss.ledger[position-1], nil
}

// QuestionInfo returns the current question of the player's session, without correctness flags.
func (s *Service) QuestionInfo(_ context.Context, playerID int64, position int) (*domain.QuestionView, error) {
	p, err := s.player(playerID)
	if err != nil {
		return nil, err
	}

	ss := p.session
	ss.mu.Lock()
	defer ss.mu.Unlock()

	l, err := ss.positionLocked(position)
	if err != nil {
		return nil, err
	}
	if ss.in(domain.PhaseLobby, domain.PhaseEnd) {
		return nil, errors.FailedPrecondition("session %d is in %s state", ss.id, ss.phase)
	}
	if ss.atQuestion != position {
		return nil, errors.FailedPrecondition("session %d is not currently on question %d", ss.id, position)
	}

	v := l.question.View()
	return &v, nil
}

type SubmitAnswerRequest struct {
	PlayerID  int64
	Position  int
	AnswerIDs []int64
}

// SubmitAnswer records the player's answer to the open question. A player answers a question at most once.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) error {
	p, err := s.player(req.PlayerID)
	if err != nil {
		return err
	}

	ss := p.session
	ss.mu.Lock()
	e, err := ss.submitLocked(p, req)
	ss.mu.Unlock()
	if err != nil {
		return err
	}

	ss.publish(ctx, []event.Event{e})
	return nil
}

func (ss *Session) submitLocked(p *player, req SubmitAnswerRequest) (domain.EventAnswerAccepted, error) {
	var e domain.EventAnswerAccepted

	l, err := ss.positionLocked(req.Position)
	if err != nil {
		return e, err
	}
	if ss.phase != domain.PhaseQuestionOpen {
		return e, errors.FailedPrecondition("session %d is not in QUESTION_OPEN state", ss.id)
	}
	if ss.atQuestion != req.Position {
		return e, errors.FailedPrecondition("session %d is not currently on question %d", ss.id, req.Position)
	}
	if err := l.validate(req.AnswerIDs); err != nil {
		return e, err
	}
	if _, ok := l.submitted[p.id]; ok {
		return e, errors.AlreadyExists("player %d already answered question %d", p.id, req.Position)
	}

	now := ss.svc.now()
	l.submitted[p.id] = struct{}{}
	l.submittedAt = append(l.submittedAt, now)

	e = domain.EventAnswerAccepted{
		SessionID:  ss.id,
		PlayerID:   p.id,
		PlayerName: p.name,
		Position:   req.Position,
		SubmitTime: now,
		Score:      decimal.Zero,
	}
	if l.isCorrect(req.AnswerIDs) {
		l.correct = append(l.correct, p.name)
		e.Correct = true
		e.Rank = len(l.correct)
		e.Score = l.points(e.Rank)
	}

	return e, nil
}
