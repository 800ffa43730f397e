package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventNameSessionStarted     = "session.started"
	EventNamePhaseChanged       = "session.phase_changed"
	EventNameSessionFinalized   = "session.finalized"
	EventNameAnswerAccepted     = "answer.accepted"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionStarted struct {
	SessionID int64
	QuizID    int64
	StartTime time.Time
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

// EventPhaseChanged is published after every transition, admin or timer driven.
type EventPhaseChanged struct {
	SessionID  int64
	QuizID     int64
	From       Phase
	To         Phase
	AtQuestion int
}

func (EventPhaseChanged) Name() string { return EventNamePhaseChanged }

// EventSessionFinalized carries the results the first time a session reaches FINAL_RESULTS.
type EventSessionFinalized struct {
	SessionID int64
	QuizID    int64
	Result    FinalResult
	// Totals are the exact scores behind Result, in the same order.
	Totals []PlayerTotal
}

func (EventSessionFinalized) Name() string { return EventNameSessionFinalized }

// EventAnswerAccepted is published for every submission; Rank is 0 for incorrect answers.
type EventAnswerAccepted struct {
	SessionID  int64
	PlayerID   int64
	PlayerName string
	Position   int
	Correct    bool
	Rank       int
	Score      decimal.Decimal
	SubmitTime time.Time
}

func (EventAnswerAccepted) Name() string { return EventNameAnswerAccepted }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
