package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Schema creates the quizzes table.
//
//go:embed schema.sql
var Schema string

// PostgresLoader reads quizzes stored as JSONB documents.
type PostgresLoader struct {
	db *pgxpool.Pool
}

func NewPostgresLoader(db *pgxpool.Pool) *PostgresLoader {
	return &PostgresLoader{db: db}
}

func (l *PostgresLoader) LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	const stmt = `SELECT owner_id, data FROM quizzes WHERE id = $1;`

	var (
		owner int64
		raw   []byte
	)
	err := l.db.QueryRow(ctx, stmt, quizID).Scan(&owner, &raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, errors.NotFound("quiz %d not found", quizID)
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	var q domain.Quiz
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz %d: %w", quizID, err)
	}
	q.QuizID = quizID
	q.OwnerID = owner

	return q, nil
}
