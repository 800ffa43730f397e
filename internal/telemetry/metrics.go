package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

// Metrics counts engine activity from the events it publishes.
type Metrics struct {
	sessionsStarted    prometheus.Counter
	sessionsFinalized  prometheus.Counter
	transitions        *prometheus.CounterVec
	answers            *prometheus.CounterVec
	leaderboardUpdates prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, eb *event.Bus) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "sessions_started_total",
			Help:      "Number of quiz sessions started.",
		}),
		sessionsFinalized: f.NewCounter(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "sessions_finalized_total",
			Help:      "Number of quiz sessions that reached FINAL_RESULTS.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "phase_transitions_total",
			Help:      "Number of session phase transitions, by target phase.",
		}, []string{"to"}),
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "answers_total",
			Help:      "Number of accepted answers, by correctness.",
		}, []string{"correct"}),
		leaderboardUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "leaderboard_updates_total",
			Help:      "Number of leaderboard.updated notifications.",
		}),
	}

	eb.Subscribe(domain.EventNameSessionStarted, func(context.Context, event.Event) error {
		m.sessionsStarted.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameSessionFinalized, func(context.Context, event.Event) error {
		m.sessionsFinalized.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNamePhaseChanged, func(_ context.Context, e event.Event) error {
		m.transitions.WithLabelValues(string(e.(domain.EventPhaseChanged).To)).Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameAnswerAccepted, func(_ context.Context, e event.Event) error {
		m.answers.WithLabelValues(strconv.FormatBool(e.(domain.EventAnswerAccepted).Correct)).Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(context.Context, event.Event) error {
		m.leaderboardUpdates.Inc()
		return nil
	})

	return m
}
