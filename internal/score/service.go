package score

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

// Schema creates the archive tables.
//
//go:embed schema.sql
var Schema string

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
	Now      func() time.Time
}

// Service archives sessions and their final scores. The engine never waits on it.
type Service struct {
	eb  *event.Bus
	db  *pgxpool.Pool
	now func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:  c.EventBus,
		db:  c.DB,
		now: c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameSessionStarted, func(ctx context.Context, e event.Event) error {
		return s.ArchiveSession(ctx, e.(domain.EventSessionStarted))
	})
	s.eb.Subscribe(domain.EventNameSessionFinalized, func(ctx context.Context, e event.Event) error {
		return s.ArchiveScores(ctx, e.(domain.EventSessionFinalized))
	})

	return s
}

// ArchiveSession records a started session.
func (s *Service) ArchiveSession(ctx context.Context, e domain.EventSessionStarted) error {
	const stmt = `
INSERT INTO sessions (id, quiz_id, start_time)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING;`

	if _, err := s.db.Exec(ctx, stmt, e.SessionID, e.QuizID, e.StartTime); err != nil {
		return fmt.Errorf("insert session %d: %w", e.SessionID, err)
	}

	slog.DebugContext(ctx, "score: session archived", "session_id", e.SessionID)
	return nil
}

// ArchiveScores writes the final ranking of a session, once.
func (s *Service) ArchiveScores(ctx context.Context, e domain.EventSessionFinalized) error {
	scores := scoresOf(e.SessionID, e.Totals, s.now())

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const stmt = `
INSERT INTO scores (id, session_id, player, rank, score, create_time)
VALUES ($1, $2, $3, $4, $5, $6);`

	for _, sc := range scores {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("new id: %w", err)
		}

		_, err = tx.Exec(ctx, stmt, id, sc.SessionID, sc.Player, sc.Rank, sc.TotalScore, sc.UpdateTime)

		var pgErr *pgconn.PgError
		const codeUniqueViolation = "23505"
		if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("scores of session %d already archived", e.SessionID),
				errors.WithCause(err))
		}
		if err != nil {
			return fmt.Errorf("insert score: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "score: session scores archived",
		"session_id", e.SessionID,
		"players", len(scores),
	)
	return nil
}

// scoresOf ranks totals sorted by score descending. Equal scores share a rank.
func scoresOf(sessionID int64, totals []domain.PlayerTotal, at time.Time) []domain.Score {
	scores := make([]domain.Score, 0, len(totals))
	for i, t := range totals {
		rank := i + 1
		if i > 0 && t.Score.Equal(totals[i-1].Score) {
			rank = scores[i-1].Rank
		}

		scores = append(scores, domain.Score{
			SessionID:  sessionID,
			Player:     t.Name,
			Rank:       rank,
			TotalScore: t.Score,
			UpdateTime: at,
		})
	}
	return scores
}

// LastSessionID returns the highest archived session id, 0 when none is archived.
func (s *Service) LastSessionID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(max(id), 0) FROM sessions;`).Scan(&id); err != nil {
		return 0, fmt.Errorf("select last session id: %w", err)
	}
	return id, nil
}

// ListScores returns the archived ranking of a session.
func (s *Service) ListScores(ctx context.Context, sessionID int64) ([]domain.Score, error) {
	const stmt = `
SELECT player, rank, score, create_time
FROM scores
WHERE session_id = $1
ORDER BY rank;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, err
	}

	scores, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Score, error) {
		var sc domain.Score
		if err := r.Scan(&sc.Player, &sc.Rank, &sc.TotalScore, &sc.UpdateTime); err != nil {
			return domain.Score{}, err
		}
		sc.SessionID = sessionID
		return sc, nil
	})
	if err != nil {
		return nil, err
	}

	return scores, nil
}
