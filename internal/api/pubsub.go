package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		SessionID int64              `json:"sessionId"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Name  string `json:"name"`
		Score string `json:"score"`
	}
)

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	data := Leaderboard{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Name:  entry.Player,
			Score: strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	return data
}

// PublishLeaderboardUpdated notifies every player of the session, including those who have not scored yet.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	ids, err := a.qss.PlayerIDs(e.Leaderboard.SessionID)
	if err != nil {
		return fmt.Errorf("pubsub: players of session %d: %w", e.Leaderboard.SessionID, err)
	}

	data := toLeaderboard(e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, id := range ids {
		eg.Go(func() error {
			return a.publishNotification(ctx, id, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, playerID int64, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, a.channel(playerID), b).Err()
}

func (a *API) channel(playerID int64) string {
	return fmt.Sprintf("%s:player:%d", a.prefix, playerID)
}
