package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	// endedTTL is how long the leaderboard of an ended session stays readable.
	endedTTL = time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps a live leaderboard per session, updated on every correct answer.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameAnswerAccepted, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventAnswerAccepted))
	})
	s.eb.Subscribe(domain.EventNamePhaseChanged, func(ctx context.Context, e event.Event) error {
		if pc := e.(domain.EventPhaseChanged); pc.To == domain.PhaseEnd {
			return s.Expire(ctx, pc.SessionID)
		}
		return nil
	})

	return s
}

// GetLeaderboard returns the leaderboard for a session, including all players that scored.
func (s *Service) GetLeaderboard(ctx context.Context, sessionID int64) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.NotFound("leaderboard not found: session=%d", sessionID)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Player: z.Member.(string),
			Score:  z.Score,
		})
	}

	return &domain.Leaderboard{
		SessionID: sessionID,
		Entries:   entries,
	}, nil
}

// UpdateLeaderboard adds the score of a correct answer to the player's total.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventAnswerAccepted) error {
	if !e.Correct {
		return nil
	}

	if err := s.redis.ZIncrBy(ctx, s.getLeaderboardKey(e.SessionID), e.Score.InexactFloat64(), e.PlayerName).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, e.SessionID, e.SubmitTime)
}

// schedulePublishLeaderboard publishes at most one leaderboard.updated per session and interval,
// answers arrive in bursts right after a question opens.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, sessionID int64, at time.Time) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(sessionID), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	l, err := s.GetLeaderboard(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%d: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

// Expire lets the leaderboard of a session disappear after endedTTL.
func (s *Service) Expire(ctx context.Context, sessionID int64) error {
	if err := s.redis.Expire(ctx, s.getLeaderboardKey(sessionID), endedTTL).Err(); err != nil {
		return fmt.Errorf("expire leaderboard: %w", err)
	}
	return nil
}

func (s *Service) getLeaderboardKey(sessionID int64) string {
	return fmt.Sprintf("%s:%d:leaderboard", s.prefix, sessionID)
}

func (s *Service) getLeaderboardTimeKey(sessionID int64) string {
	return fmt.Sprintf("%s:%d:time", s.prefix, sessionID)
}
