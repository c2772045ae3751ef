package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_created_total", Help: "Jobs created"})
	JobsRetried       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_retried_total", Help: "Failed jobs resubmitted"})
	DispatchAccepted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_accepted_total", Help: "Work orders accepted by the editing workflow"})
	DispatchFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_failures_total", Help: "Work orders rejected or lost in transit"})
	CallbacksReceived = prometheus.NewCounter(prometheus.CounterOpts{Name: "callbacks_received_total", Help: "Workflow result callbacks received"})
	JobsReaped        = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_reaped_total", Help: "Stale jobs force-failed by the reaper"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsRetried,
			DispatchAccepted,
			DispatchFailures,
			CallbacksReceived,
			JobsReaped,
		)
	})
	return promhttp.Handler()
}
