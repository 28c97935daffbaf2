package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricPollTicks counts poll loop iterations, paused ones included.
	metricPollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_executor_poll_ticks_total",
		Help: "Total poll loop iterations",
	})

	// metricTasksStarted counts task executions launched per model.
	metricTasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_executor_tasks_started_total",
		Help: "Total task executions started",
	}, []string{"model"})

	// metricTasksCompleted counts successful task completions per model.
	metricTasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_executor_tasks_completed_total",
		Help: "Total task executions completed successfully",
	}, []string{"model"})

	// metricTasksFailed counts failed executions by model and reason.
	metricTasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_executor_tasks_failed_total",
		Help: "Total task executions that failed",
	}, []string{"model", "reason"})

	// metricInFlight tracks currently running task executions.
	metricInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_executor_tasks_in_flight",
		Help: "Task executions currently in flight",
	})

	// metricReservationMisses counts reservations lost to the rate window
	// between planning and execution.
	metricReservationMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_executor_reservation_misses_total",
		Help: "Scheduled tasks whose rate reservation failed at execution time",
	}, []string{"model"})
)
