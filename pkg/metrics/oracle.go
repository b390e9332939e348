package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon_oracle",
			Name:      "cycle_total",
			Help:      "Scheduler cycles by the stage they ended in.",
		},
		[]string{"stage"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "beacon_oracle",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one scheduler cycle, including inclusion wait.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms ~ 7m
		},
	)

	SubmissionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon_oracle",
			Name:      "submission_total",
			Help:      "addTimestamp submissions by strategy and result.",
		},
		[]string{"strategy", "result"}, // result: success/failed/unconfirmed
	)

	ReadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon_oracle",
			Name:      "chain_read_errors_total",
			Help:      "Chain reads that failed or timed out.",
		},
		[]string{"op"},
	)

	ChainHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "beacon_oracle",
			Name:      "chain_height",
			Help:      "Latest block height seen by the last cycle.",
		},
	)

	LastAnchoredBoundary = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "beacon_oracle",
			Name:      "last_anchored_boundary",
			Help:      "Highest anchored boundary derived from the contract by the last cycle.",
		},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "beacon_oracle",
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"name", "state"}, // state: closed/open/half_open
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon_oracle",
			Name:      "circuitbreaker_reject_total",
			Help:      "Calls rejected by an open circuit breaker.",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector above on the default registry. Safe to call
// more than once.
func MustRegister() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		CycleTotal,
		CycleDuration,
		SubmissionTotal,
		ReadErrors,
		ChainHeight,
		LastAnchoredBoundary,
		CBState,
		CBRejectTotal,
	)
}
