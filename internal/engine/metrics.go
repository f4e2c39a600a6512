package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_engine_events_total",
		Help: "Events applied by the engine loop, by type",
	}, []string{"type"})

	staleCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formsync_engine_stale_completions_total",
		Help: "Resolver completions discarded because a newer request was issued",
	})

	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formsync_engine_fetch_failures_total",
		Help: "Resolutions that degraded a field to placeholder-only options",
	})

	cascadeExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formsync_engine_cascade_exceeded_total",
		Help: "Inputs whose propagation was cut off by the cascade quota",
	})

	recomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formsync_engine_recomputations_total",
		Help: "Aggregate propagation passes",
	})

	rejectedInputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_engine_rejected_inputs_total",
		Help: "Inputs rejected without changing state, by error code",
	}, []string{"code"})
)
