package session

import (
	"context"
	"encoding/csv"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// questionResultLocked folds the ledger of a question into its statistics.
// Players that did not answer correctly are charged the full question duration.
func (ss *Session) questionResultLocked(l *questionLedger) domain.QuestionResult {
	r := domain.QuestionResult{
		QuestionID:       l.question.QuestionID,
		CorrectBreakdown: make([]domain.CorrectBreakdown, 0, len(l.correctIDs)),
	}
	for _, id := range l.correctIDs {
		players := make([]string, len(l.correct))
		copy(players, l.correct)
		r.CorrectBreakdown = append(r.CorrectBreakdown, domain.CorrectBreakdown{AnswerID: id, PlayersCorrect: players})
	}

	n := len(ss.players)
	if n == 0 {
		return r
	}

	var total float64
	for _, t := range l.submittedAt {
		total += t.Sub(l.openedAt).Seconds()
	}
	total += float64(n-len(l.correct)) * l.question.DurationSeconds

	r.AverageAnswerTime = total / float64(n)
	r.PercentCorrect = float64(len(l.correct)) / float64(n) * 100
	return r
}

// computeResultsLocked ranks every joined player by total score. Ties keep join order.
func (ss *Session) computeResultsLocked() domain.FinalResult {
	results := make([]domain.QuestionResult, 0, len(ss.ledger))
	for _, l := range ss.ledger {
		results = append(results, ss.questionResultLocked(l))
	}

	totals := ss.totalsLocked()
	users := make([]domain.RankedPlayer, 0, len(totals))
	for _, t := range totals {
		users = append(users, domain.RankedPlayer{Name: t.Name, Score: t.Score.InexactFloat64()})
	}

	return domain.FinalResult{
		UsersRankedByScore: users,
		QuestionResults:    results,
	}
}

// totalsLocked returns the exact total of every joined player, highest first. Ties keep join order.
func (ss *Session) totalsLocked() []domain.PlayerTotal {
	byName := make(map[string]decimal.Decimal, len(ss.players))
	for _, l := range ss.ledger {
		for i, name := range l.correct {
			byName[name] = byName[name].Add(l.points(i + 1))
		}
	}

	totals := make([]domain.PlayerTotal, 0, len(ss.players))
	for _, p := range ss.players {
		totals = append(totals, domain.PlayerTotal{Name: p.name, Score: byName[p.name]})
	}
	slices.SortStableFunc(totals, func(a, b domain.PlayerTotal) int { return b.Score.Cmp(a.Score) })
	return totals
}

func (ss *Session) finalResults() (*domain.FinalResult, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.phase != domain.PhaseFinalResults {
		return nil, errors.FailedPrecondition("session %d is not in FINAL_RESULTS state", ss.id)
	}

	r := ss.computeResultsLocked()
	return &r, nil
}

// resultsCSV renders one row per player, sorted by name, with a score and a rank column per question.
func (ss *Session) resultsCSV() (string, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.phase != domain.PhaseFinalResults {
		return "", errors.FailedPrecondition("session %d is not in FINAL_RESULTS state", ss.id)
	}

	header := []string{"Player"}
	for i := range ss.ledger {
		header = append(header, fmt.Sprintf("question%dscore", i+1), fmt.Sprintf("question%drank", i+1))
	}

	names := ss.playerNamesLocked()
	slices.Sort(names)

	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write(header)
	for _, name := range names {
		row := []string{name}
		for _, l := range ss.ledger {
			rank := slices.Index(l.correct, name) + 1
			if rank == 0 {
				row = append(row, "0.0", "0")
				continue
			}
			row = append(row, formatScore(l.points(rank)), strconv.Itoa(rank))
		}
		_ = w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.Internal(fmt.Errorf("write csv: %w", err))
	}

	return b.String(), nil
}

// formatScore always keeps a fractional part, 10 renders as 10.0.
func formatScore(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// QuestionResult returns the result of the current question while the answer is shown.
func (s *Service) QuestionResult(_ context.Context, playerID int64, position int) (*domain.QuestionResult, error) {
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
	if ss.phase != domain.PhaseAnswerShow {
		return nil, errors.FailedPrecondition("session %d is not in ANSWER_SHOW state", ss.id)
	}
	if ss.atQuestion != position {
		return nil, errors.FailedPrecondition("session %d is not currently on question %d", ss.id, position)
	}

	r := ss.questionResultLocked(l)
	return &r, nil
}

// PlayerResults returns the final results of the player's session.
func (s *Service) PlayerResults(_ context.Context, playerID int64) (*domain.FinalResult, error) {
	p, err := s.player(playerID)
	if err != nil {
		return nil, err
	}

	return p.session.finalResults()
}
