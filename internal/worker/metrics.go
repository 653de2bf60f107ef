package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the /metrics endpoint. Failures are visible only through
// logs and these metrics — the worker has no user-facing surface.
var (
	jobsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_jobs_processed_total",
		Help: "Jobs claimed, sent, and committed as processed.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_jobs_failed_total",
		Help: "Claim attempts that rolled back due to a processing failure.",
	})
	notificationsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_notifications_received_total",
		Help: "Valid job notifications received on the LISTEN channel.",
	})
	listenerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_listener_reconnects_total",
		Help: "Times the LISTEN connection was re-established after a failure.",
	})
	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_sweep_runs_total",
		Help: "Recovery sweeps executed (startup, reconnect, and periodic).",
	})
)
