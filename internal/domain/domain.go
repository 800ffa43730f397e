package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the state-machine node a session currently occupies.
type Phase string

const (
	PhaseLobby             Phase = "LOBBY"
	PhaseQuestionCountdown Phase = "QUESTION_COUNTDOWN"
	PhaseQuestionOpen      Phase = "QUESTION_OPEN"
	PhaseQuestionClose     Phase = "QUESTION_CLOSE"
	PhaseAnswerShow        Phase = "ANSWER_SHOW"
	PhaseFinalResults      Phase = "FINAL_RESULTS"
	PhaseEnd               Phase = "END"
)

func (p Phase) Terminal() bool { return p == PhaseEnd }

// Action is an admin-triggered transition request.
type Action string

const (
	ActionNextQuestion     Action = "NEXT_QUESTION"
	ActionGoToAnswer       Action = "GO_TO_ANSWER"
	ActionGoToFinalResults Action = "GO_TO_FINAL_RESULTS"
	ActionEnd              Action = "END"
)

// ParseAction returns an error for names outside the action enum.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionNextQuestion, ActionGoToAnswer, ActionGoToFinalResults, ActionEnd:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Quiz is the read-only snapshot of a quiz taken from the catalog.
type Quiz struct {
	QuizID       int64      `json:"quizId"`
	OwnerID      int64      `json:"-"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	Questions    []Question `json:"questions"`
}

// Duration is the sum of the question durations, in seconds.
func (q Quiz) Duration() float64 {
	var d float64
	for _, qq := range q.Questions {
		d += qq.DurationSeconds
	}
	return d
}

type Question struct {
	QuestionID      int64    `json:"questionId"`
	Text            string   `json:"question"`
	DurationSeconds float64  `json:"duration"`
	Points          int64    `json:"points"`
	ThumbnailURL    string   `json:"thumbnailUrl,omitempty"`
	Answers         []Answer `json:"answers"`
}

// CorrectAnswerIDs returns the ids of the correct answers, in catalog order.
func (q Question) CorrectAnswerIDs() []int64 {
	var ids []int64
	for _, a := range q.Answers {
		if a.Correct {
			ids = append(ids, a.AnswerID)
		}
	}
	return ids
}

type Answer struct {
	AnswerID int64  `json:"answerId"`
	Text     string `json:"answer"`
	Colour   string `json:"colour,omitempty"`
	Correct  bool   `json:"correct"`
}

// QuestionView is what a player sees: no correctness flags.
type QuestionView struct {
	QuestionID      int64        `json:"questionId"`
	Text            string       `json:"question"`
	DurationSeconds float64      `json:"duration"`
	Points          int64        `json:"points"`
	ThumbnailURL    string       `json:"thumbnailUrl,omitempty"`
	Answers         []AnswerView `json:"answers"`
}

type AnswerView struct {
	AnswerID int64  `json:"answerId"`
	Text     string `json:"answer"`
	Colour   string `json:"colour,omitempty"`
}

// View strips the correctness flags from q.
func (q Question) View() QuestionView {
	v := QuestionView{
		QuestionID:      q.QuestionID,
		Text:            q.Text,
		DurationSeconds: q.DurationSeconds,
		Points:          q.Points,
		ThumbnailURL:    q.ThumbnailURL,
		Answers:         make([]AnswerView, 0, len(q.Answers)),
	}
	for _, a := range q.Answers {
		v.Answers = append(v.Answers, AnswerView{AnswerID: a.AnswerID, Text: a.Text, Colour: a.Colour})
	}
	return v
}

// SessionList groups a quiz's session ids by liveness.
type SessionList struct {
	Active   []int64 `json:"activeSessions"`
	Inactive []int64 `json:"inactiveSessions"`
}

// SessionStatus is the admin view of a session.
type SessionStatus struct {
	Phase      Phase    `json:"state"`
	AtQuestion int      `json:"atQuestion"`
	Players    []string `json:"players"`
	Quiz       Quiz     `json:"metadata"`
}

// PlayerStatus is the player view of its session.
type PlayerStatus struct {
	Phase          Phase `json:"state"`
	TotalQuestions int   `json:"numQuestions"`
	AtQuestion     int   `json:"atQuestion"`
}

// CorrectBreakdown lists, in submission order, the players who answered fully correctly.
type CorrectBreakdown struct {
	AnswerID       int64    `json:"answerId"`
	PlayersCorrect []string `json:"playersCorrect"`
}

type QuestionResult struct {
	QuestionID        int64              `json:"questionId"`
	CorrectBreakdown  []CorrectBreakdown `json:"questionCorrectBreakdown"`
	AverageAnswerTime float64            `json:"averageAnswerTime"`
	PercentCorrect    float64            `json:"percentCorrect"`
}

type RankedPlayer struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// FinalResult is the ranked leaderboard of a session, sorted by score descending.
type FinalResult struct {
	UsersRankedByScore []RankedPlayer   `json:"usersRankedByScore"`
	QuestionResults    []QuestionResult `json:"questionResults"`
}

type Message struct {
	Body       string `json:"messageBody"`
	PlayerID   int64  `json:"playerId"`
	PlayerName string `json:"playerName"`
	TimeSent   int64  `json:"timeSent"`
}

// Leaderboard is the live, per-answer score view kept outside the engine.
// The list is sorted by score in descending order.
type Leaderboard struct {
	SessionID int64
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	Player string
	Score  float64
}

// PlayerTotal is the exact total score of a player.
type PlayerTotal struct {
	Name  string
	Score decimal.Decimal
}

// Score is the archived total of a player within a finished session.
type Score struct {
	SessionID  int64
	Player     string
	Rank       int
	TotalScore decimal.Decimal
	UpdateTime time.Time
}
