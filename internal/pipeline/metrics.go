package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EpisodesTotal counts finished episodes.
	// Labels: mode (pipeline, policy), outcome (success, failure, untracked)
	EpisodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pickplace",
			Subsystem: "eval",
			Name:      "episodes_total",
			Help:      "Total number of finished evaluation episodes",
		},
		[]string{"mode", "outcome"},
	)

	EpisodeReturn = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pickplace",
			Subsystem: "eval",
			Name:      "episode_return",
			Help:      "Cumulative reward per episode",
			Buckets:   prometheus.LinearBuckets(-100, 10, 11),
		},
	)

	EpisodeLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pickplace",
			Subsystem: "eval",
			Name:      "episode_length_steps",
			Help:      "Number of environment steps per episode",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 8),
		},
	)

	// PhaseTransitionsTotal counts phase changes, including the place
	// self-loop. Labels: from, to
	PhaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pickplace",
			Subsystem: "controller",
			Name:      "phase_transitions_total",
			Help:      "Total number of phase transitions taken",
		},
		[]string{"from", "to"},
	)

	// PhaseStepsTotal counts environment steps spent in each phase.
	PhaseStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pickplace",
			Subsystem: "controller",
			Name:      "phase_steps_total",
			Help:      "Total number of environment steps per phase",
		},
		[]string{"phase"},
	)

	PickStallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pickplace",
			Subsystem: "controller",
			Name:      "pick_stalls_total",
			Help:      "Episodes whose pick countdown expired before the grasp was confirmed",
		},
	)

	SuccessRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pickplace",
			Subsystem: "eval",
			Name:      "success_rate",
			Help:      "Running success rate over the episodes finished so far",
		},
	)
)

func recordEpisode(mode string, rec EpisodeRecord, tracked bool) {
	outcome := "untracked"
	if tracked {
		outcome = "failure"
		if rec.Success {
			outcome = "success"
		}
	}
	EpisodesTotal.WithLabelValues(mode, outcome).Inc()
	EpisodeReturn.Observe(rec.Return)
	EpisodeLength.Observe(float64(rec.Length))
}

func recordOutcome(out Outcome) {
	PhaseStepsTotal.WithLabelValues(out.From.String()).Inc()
	if out.Fired {
		PhaseTransitionsTotal.WithLabelValues(out.From.String(), out.To.String()).Inc()
	}
	if out.Stalled {
		PickStallsTotal.Inc()
	}
}
