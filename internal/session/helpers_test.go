package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/scheduler"
	"github.com/victornm/livequiz/internal/scheduler/schedulertest"
	"github.com/victornm/livequiz/internal/session"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *session.Service
	timers *schedulertest.Manual
	clock  *clock
	bus    *event.Bus
}

func newFixture(t *testing.T, opts ...func(c *session.Config)) *fixture {
	t.Helper()

	timers := schedulertest.New()
	clk := &clock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	bus := event.NewBus()

	c := session.Config{
		EventBus:  bus,
		Scheduler: scheduler.New(scheduler.Config{AfterFunc: timers.AfterFunc}),
		Now:       clk.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}

	svc := session.NewService(c)
	t.Cleanup(func() {
		svc.Stop()
		bus.Stop()
	})

	return &fixture{svc: svc, timers: timers, clock: clk, bus: bus}
}

const quizID = 7

// newQuiz returns a quiz whose question i (1-based) has answers 10i+1..10i+3, 10i+1 being correct.
func newQuiz(questions int) domain.Quiz {
	q := domain.Quiz{QuizID: quizID, Name: "Capitals", Description: "Where is it?"}
	for i := 1; i <= questions; i++ {
		base := int64(10 * i)
		q.Questions = append(q.Questions, domain.Question{
			QuestionID:      int64(100 + i),
			Text:            "Question",
			DurationSeconds: 0.5,
			Points:          10,
			Answers: []domain.Answer{
				{AnswerID: base + 1, Text: "right", Correct: true},
				{AnswerID: base + 2, Text: "wrong"},
				{AnswerID: base + 3, Text: "also wrong"},
			},
		})
	}
	return q
}

func correctAnswer(position int) []int64 { return []int64{int64(10*position + 1)} }

func wrongAnswer(position int) []int64 { return []int64{int64(10*position + 2)} }

func (f *fixture) start(t *testing.T, quiz domain.Quiz, autoStart int) int64 {
	t.Helper()

	id, err := f.svc.StartSession(context.Background(), session.StartSessionRequest{Quiz: quiz, AutoStartNum: autoStart})
	require.NoError(t, err)
	return id
}

func (f *fixture) join(t *testing.T, sessionID int64, name string) int64 {
	t.Helper()

	id, err := f.svc.Join(context.Background(), session.JoinRequest{SessionID: sessionID, Name: name})
	require.NoError(t, err)
	return id
}

func (f *fixture) update(sessionID int64, action domain.Action) error {
	return f.svc.UpdateSession(context.Background(), session.UpdateSessionRequest{
		QuizID:    quizID,
		SessionID: sessionID,
		Action:    string(action),
	})
}

func (f *fixture) mustUpdate(t *testing.T, sessionID int64, action domain.Action) {
	t.Helper()
	require.NoError(t, f.update(sessionID, action))
}

func (f *fixture) phase(t *testing.T, sessionID int64) domain.Phase {
	t.Helper()

	ss, err := f.svc.Get(sessionID)
	require.NoError(t, err)
	return ss.Phase()
}

// fire runs the next pending timer, which must exist.
func (f *fixture) fire(t *testing.T) {
	t.Helper()
	require.True(t, f.timers.FireNext(), "no pending timer")
}

// openQuestion advances the session to its next question and opens it.
func (f *fixture) openQuestion(t *testing.T, sessionID int64) {
	t.Helper()

	f.mustUpdate(t, sessionID, domain.ActionNextQuestion)
	f.fire(t)
	require.Equal(t, domain.PhaseQuestionOpen, f.phase(t, sessionID))
}

// closeQuestion lets the open question time out.
func (f *fixture) closeQuestion(t *testing.T, sessionID int64) {
	t.Helper()

	f.fire(t)
	require.Equal(t, domain.PhaseQuestionClose, f.phase(t, sessionID))
}

// driveTo moves a fresh session on its first question to phase.
func (f *fixture) driveTo(t *testing.T, sessionID int64, phase domain.Phase) {
	t.Helper()

	steps := map[domain.Phase]func(){
		domain.PhaseLobby:             func() {},
		domain.PhaseQuestionCountdown: func() { f.mustUpdate(t, sessionID, domain.ActionNextQuestion) },
		domain.PhaseQuestionOpen:      func() { f.openQuestion(t, sessionID) },
		domain.PhaseQuestionClose: func() {
			f.openQuestion(t, sessionID)
			f.closeQuestion(t, sessionID)
		},
		domain.PhaseAnswerShow: func() {
			f.openQuestion(t, sessionID)
			f.mustUpdate(t, sessionID, domain.ActionGoToAnswer)
		},
		domain.PhaseFinalResults: func() {
			f.openQuestion(t, sessionID)
			f.closeQuestion(t, sessionID)
			f.mustUpdate(t, sessionID, domain.ActionGoToFinalResults)
		},
		domain.PhaseEnd: func() { f.mustUpdate(t, sessionID, domain.ActionEnd) },
	}

	steps[phase]()
	require.Equal(t, phase, f.phase(t, sessionID))
}

func requireCode(t *testing.T, want errors.Code, err error) {
	t.Helper()

	require.Error(t, err)
	require.Equal(t, want, errors.CodeOf(err), err.Error())
}
