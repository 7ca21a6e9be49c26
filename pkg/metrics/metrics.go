// Package metrics provides Prometheus instrumentation for multiproc components.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metric instances for multiproc components.
type Registry struct {
	// Pool Metrics
	JobsSubmitted    *prometheus.CounterVec
	JobsCompleted    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	ItemsProcessed   *prometheus.CounterVec
	ChunksDispatched *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	PoolSize         *prometheus.GaugeVec
	ReadyWorkers     *prometheus.GaugeVec
	QueuedJobs       *prometheus.GaugeVec
	WorkerRestarts   *prometheus.CounterVec

	// Priority Queue Metrics
	PriorityPending    *prometheus.GaugeVec
	PrioritySlots      *prometheus.GaugeVec
	PriorityDispatched *prometheus.CounterVec

	// Admission Metrics
	AdmissionRequests *prometheus.CounterVec
	AdmissionDenied   *prometheus.CounterVec
	AdmissionWaitTime *prometheus.HistogramVec

	// Scheduler Metrics
	TasksScheduled *prometheus.CounterVec
	TasksExecuted  *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by multiproc components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, DefaultNamespace, nil)
}

// NewRegistryWithConfig creates a registry honoring the namespace and
// constant labels of cfg.
func NewRegistryWithConfig(cfg Config) *Registry {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return newRegistry(reg, ns, cfg.Labels)
}

func newRegistry(reg prometheus.Registerer, ns string, labels prometheus.Labels) *Registry {
	counter := func(subsystem, name, help string, labelNames ...string) *prometheus.CounterVec {
		return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames))
	}
	gauge := func(subsystem, name, help string, labelNames ...string) *prometheus.GaugeVec {
		return register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames))
	}
	histogram := func(subsystem, name, help string, labelNames ...string) *prometheus.HistogramVec {
		return register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, labelNames))
	}

	return &Registry{
		JobsSubmitted:    counter("pool", "jobs_submitted_total", "Total number of jobs admitted to the pool", "pool_name"),
		JobsCompleted:    counter("pool", "jobs_completed_total", "Total number of jobs that resolved with results", "pool_name"),
		JobsFailed:       counter("pool", "jobs_failed_total", "Total number of jobs that failed", "pool_name", "reason"),
		ItemsProcessed:   counter("pool", "items_processed_total", "Total number of item results merged into jobs", "pool_name"),
		ChunksDispatched: counter("pool", "chunks_dispatched_total", "Total number of chunks handed to workers", "pool_name"),
		JobDuration:      histogram("pool", "job_duration_seconds", "Time from job admission to settlement", "pool_name"),
		PoolSize:         gauge("pool", "workers", "Number of worker slots in the pool", "pool_name"),
		ReadyWorkers:     gauge("pool", "ready_workers", "Number of workers waiting for a chunk", "pool_name"),
		QueuedJobs:       gauge("pool", "queued_jobs", "Number of jobs with undispatched chunks", "pool_name"),
		WorkerRestarts:   counter("worker", "restarts_total", "Total number of worker processes replaced", "pool_name", "reason"),

		PriorityPending:    gauge("priority", "pending_tasks", "Number of tasks waiting in the priority heap", "queue_name"),
		PrioritySlots:      gauge("priority", "available_slots", "Number of free dispatch slots", "queue_name"),
		PriorityDispatched: counter("priority", "dispatched_total", "Total number of tasks handed to the pool", "queue_name"),

		AdmissionRequests: counter("admission", "requests_total", "Total number of admission requests", "throttle_type", "throttle_name"),
		AdmissionDenied:   counter("admission", "denied_total", "Total number of refused admission requests", "throttle_type", "throttle_name"),
		AdmissionWaitTime: histogram("admission", "wait_duration_seconds", "Time spent waiting for admission", "throttle_type", "throttle_name"),

		TasksScheduled: counter("scheduler", "tasks_scheduled_total", "Total number of tasks scheduled", "scheduler_name"),
		TasksExecuted:  counter("scheduler", "tasks_executed_total", "Total number of scheduled submissions fired", "scheduler_name"),
		TasksFailed:    counter("scheduler", "tasks_failed_total", "Total number of scheduled submissions that failed", "scheduler_name"),
	}
}

// register adds c to reg. If an identical collector is already registered,
// as happens when several components report to one registerer, the existing
// one is returned so they share it.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
