package catalog_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/catalog"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

type countingLoader struct {
	catalog.Loader
	calls atomic.Int32
	delay time.Duration
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	return l.Loader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		QuizID:  1,
		OwnerID: 9,
		Name:    "Maths",
		Questions: []domain.Question{{
			QuestionID:      1,
			Text:            "What is 2 + 2?",
			DurationSeconds: 10,
			Points:          5,
			Answers: []domain.Answer{
				{AnswerID: 1, Text: "3"},
				{AnswerID: 2, Text: "4", Correct: true},
			},
		}},
	}
}

func TestCache_GetQuiz(t *testing.T) {
	type clock struct{ now time.Time }

	tests := map[string]struct {
		act       func(t *testing.T, c *catalog.Cache, clk *clock)
		wantCalls int32
	}{
		"second read is served from the cache": {
			act: func(t *testing.T, c *catalog.Cache, clk *clock) {
				for range 2 {
					q, err := c.GetQuiz(context.Background(), 1)
					require.NoError(t, err)
					assert.Equal(t, sampleQuiz(), q)
				}
			},
			wantCalls: 1,
		},

		"expired entries are reloaded": {
			act: func(t *testing.T, c *catalog.Cache, clk *clock) {
				_, err := c.GetQuiz(context.Background(), 1)
				require.NoError(t, err)

				clk.now = clk.now.Add(2 * time.Minute)
				_, err = c.GetQuiz(context.Background(), 1)
				require.NoError(t, err)
			},
			wantCalls: 2,
		},

		"invalidated entries are reloaded": {
			act: func(t *testing.T, c *catalog.Cache, clk *clock) {
				_, err := c.GetQuiz(context.Background(), 1)
				require.NoError(t, err)

				c.Invalidate(1)
				_, err = c.GetQuiz(context.Background(), 1)
				require.NoError(t, err)
			},
			wantCalls: 2,
		},

		"misses are not cached": {
			act: func(t *testing.T, c *catalog.Cache, clk *clock) {
				for range 2 {
					_, err := c.GetQuiz(context.Background(), 404)
					require.Error(t, err)
					assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
				}
			},
			wantCalls: 2,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			clk := &clock{now: time.Unix(1_700_000_000, 0)}
			loader := &countingLoader{Loader: catalog.NewStaticLoader(sampleQuiz())}
			c := catalog.NewCache(catalog.CacheConfig{
				Loader: loader,
				TTL:    time.Minute,
				Now:    func() time.Time { return clk.now },
			})

			tt.act(t, c, clk)

			assert.Equal(t, tt.wantCalls, loader.calls.Load())
		})
	}
}

func TestCache_ConcurrentLoadsAreCollapsed(t *testing.T) {
	loader := &countingLoader{Loader: catalog.NewStaticLoader(sampleQuiz()), delay: 50 * time.Millisecond}
	c := catalog.NewCache(catalog.CacheConfig{Loader: loader, TTL: time.Minute})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetQuiz(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, loader.calls.Load(), int32(20))
}
