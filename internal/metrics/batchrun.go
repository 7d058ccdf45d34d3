package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "batchrun"

var (
	QueueClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_claims_total",
		Help:      "Queue claim attempts by result (won, lost).",
	}, []string{"result"})

	RunsLaunched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_launched_total",
		Help:      "Worker launches by result (ok, failed).",
	}, []string{"result"})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Runs launched by this scheduler by outcome (success, failure, signal, spawn_failed, unfinished).",
	}, []string{"outcome"})

	SchedulerSleep = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_sleep_seconds",
		Help:      "Time the scheduler slept before a claim attempt.",
		Buckets:   []float64{0, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})
)
