package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch cycle metrics
	CycleDuration    prometheus.Histogram
	ContactsSelected prometheus.Counter
	ContactsRanked   prometheus.Counter
	BatchesSent      prometheus.Counter
	TasksDispatched  prometheus.Counter
	TasksFailed      prometheus.Counter
	ClaimsLost       prometheus.Counter

	// Compliance metrics
	ComplianceChecks   *prometheus.CounterVec // result: blocked|clear, path: cache|database
	BlockedAtSelection prometheus.Counter
	BlacklistWrites    *prometheus.CounterVec // status: success|error
	CacheRepopulations prometheus.Counter

	// Delivery metrics
	DeliveryOutcomes  *prometheus.CounterVec // channel, status
	FallbacksRequired prometheus.Counter
	DeliveryLatency   *prometheus.HistogramVec // channel

	// Fallback metrics
	Escalations        *prometheus.CounterVec // outcome: delivered|failed|duplicate
	SynthesisCacheHits prometheus.Counter
	SynthesisLatency   prometheus.Histogram

	// Outcome recorder metrics
	EventsRecorded  *prometheus.CounterVec // event_type
	DTMFActions     *prometheus.CounterVec // action, status: executed|duplicate
	CounterFailures prometheus.Counter
}

// NewMetrics creates and registers all application metrics on the default
// registry.
func NewMetrics(namespace, subsystem string) *Metrics {
	return NewMetricsWithRegistry(namespace, subsystem, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers on an explicit registry; tests use this to
// avoid duplicate registration across cases.
func NewMetricsWithRegistry(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one dispatch cycle",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		ContactsSelected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "contacts_selected_total",
			Help:      "Total number of contacts returned by the eligibility selector",
		}),
		ContactsRanked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "contacts_ranked_total",
			Help:      "Total number of contacts passed through the priority ranker",
		}),
		BatchesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_sent_total",
			Help:      "Total number of dispatch batches submitted to the transport",
		}),
		TasksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of dispatch tasks submitted successfully",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_failed_total",
			Help:      "Total number of dispatch tasks that failed to submit",
		}),
		ClaimsLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "claims_lost_total",
			Help:      "Total number of contacts claimed by a concurrent cycle",
		}),

		ComplianceChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compliance_checks_total",
			Help:      "Total number of blacklist membership checks",
		}, []string{"result", "path"}),
		BlockedAtSelection: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blocked_at_selection_total",
			Help:      "Contacts excluded at selection time because the number is blacklisted",
		}),
		BlacklistWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blacklist_writes_total",
			Help:      "Total number of durable blacklist writes",
		}, []string{"status"}),
		CacheRepopulations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blacklist_cache_repopulations_total",
			Help:      "Cache repopulations after a positive durable lookup",
		}),

		DeliveryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_outcomes_total",
			Help:      "Delivery outcomes by channel and status",
		}, []string{"channel", "status"}),
		FallbacksRequired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallbacks_required_total",
			Help:      "SMS outcomes classified as requiring voice fallback",
		}),
		DeliveryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of channel submissions",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"channel"}),

		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "escalations_total",
			Help:      "Fallback escalations by outcome",
		}, []string{"outcome"}),
		SynthesisCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "synthesis_cache_hits_total",
			Help:      "Speech synthesis requests served from the content-hash cache",
		}),
		SynthesisLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "synthesis_duration_seconds",
			Help:      "Duration of speech synthesis calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		EventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_recorded_total",
			Help:      "Lifecycle events recorded by type",
		}, []string{"event_type"}),
		DTMFActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dtmf_actions_total",
			Help:      "DTMF action dispatches by action and dedup status",
		}, []string{"action", "status"}),
		CounterFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "counter_update_failures_total",
			Help:      "Best-effort live counter updates that failed",
		}),
	}
}
