package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TriggersRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindcal_triggers_registered_total",
		Help: "Total number of reminder triggers registered with the timer.",
	})

	TriggersSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remindcal_triggers_skipped_total",
		Help: "Total number of occurrence/reminder pairs not registered, labelled by reason.",
	}, []string{"reason"})

	TriggersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindcal_triggers_cancelled_total",
		Help: "Total number of registered triggers removed before firing.",
	})

	ActiveTriggers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "remindcal_active_triggers",
		Help: "Triggers currently tracked by the scheduler.",
	})

	RemindersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remindcal_reminders_fired_total",
		Help: "Total number of fired reminders, labelled by notification status.",
	}, []string{"status"})

	EventsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remindcal_events_imported_total",
		Help: "Total number of events parsed from ICS input, labelled by origin.",
	}, []string{"origin"})

	SubscriptionSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remindcal_subscription_syncs_total",
		Help: "Total number of subscription sync attempts, labelled by status.",
	}, []string{"status"})

	SubscriptionSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "remindcal_subscription_sync_duration_ms",
		Help:    "Wall time of one subscription fetch+parse+replace in milliseconds.",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
	})
)
