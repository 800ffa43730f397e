// Package catalog provides read-only quiz snapshots to the session engine.
package catalog

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Loader fetches a quiz from its backing store.
type Loader interface {
	LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
}

type CacheConfig struct {
	Loader Loader
	TTL    time.Duration
	Now    func() time.Time
}

// Cache keeps loaded quizzes for a TTL and collapses concurrent loads of the same quiz.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	sf     singleflight.Group

	mu      sync.RWMutex
	entries map[int64]entry
}

type entry struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewCache(c CacheConfig) *Cache {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{
		loader:  c.Loader,
		ttl:     c.TTL,
		now:     now,
		entries: make(map[int64]entry),
	}
}

// GetQuiz returns the quiz, from the cache when it has not expired.
func (c *Cache) GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	if q, ok := c.lookup(quizID); ok {
		return q, nil
	}

	v, err, _ := c.sf.Do(strconv.FormatInt(quizID, 10), func() (any, error) {
		if q, ok := c.lookup(quizID); ok {
			return q, nil
		}

		q, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		if c.ttl > 0 {
			c.mu.Lock()
			c.entries[quizID] = entry{quiz: q, expiresAt: c.now().Add(c.ttlWithJitter())}
			c.mu.Unlock()
		}
		return q, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}

	return v.(domain.Quiz), nil
}

func (c *Cache) lookup(quizID int64) (domain.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[quizID]
	if !ok || !e.expiresAt.After(c.now()) {
		return domain.Quiz{}, false
	}
	return e.quiz, true
}

// Invalidate drops a quiz from the cache.
func (c *Cache) Invalidate(quizID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, quizID)
}

// ttlWithJitter adds up to 10% to the TTL to spread expirations.
func (c *Cache) ttlWithJitter() time.Duration {
	return c.ttl + time.Duration(rand.Int64N(int64(c.ttl)/10+1))
}

// StaticLoader serves quizzes from memory, for tests and local runs.
type StaticLoader struct {
	quizzes map[int64]domain.Quiz
}

func NewStaticLoader(quizzes ...domain.Quiz) *StaticLoader {
	l := &StaticLoader{quizzes: make(map[int64]domain.Quiz, len(quizzes))}
	for _, q := range quizzes {
		l.quizzes[q.QuizID] = q
	}
	return l
}

func (l *StaticLoader) LoadQuiz(_ context.Context, quizID int64) (domain.Quiz, error) {
	q, ok := l.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, errors.NotFound("quiz %d not found", quizID)
	}
	return q, nil
}
