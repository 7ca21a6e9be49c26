// Package metrics provides Prometheus instrumentation for multiproc components.
//
// Pools, priority queues, admission throttles and schedulers accept a
// metrics.Config. When Enabled is set they report to a Registry:
//
//	reg := prometheus.NewRegistry()
//	p, err := workerpool.NewWithConfig(workerpool.Config{
//		WorkerCount: 4,
//		Name:        "resize",
//		Metrics:     metrics.Config{Enabled: true, Registry: reg},
//	})
//
// Expose them with promhttp:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Available Metrics
//
// Pool (label pool_name):
//
//   - multiproc_pool_jobs_submitted_total
//   - multiproc_pool_jobs_completed_total
//   - multiproc_pool_jobs_failed_total (extra label reason: error, timeout, terminated, worker_exited)
//   - multiproc_pool_items_processed_total
//   - multiproc_pool_chunks_dispatched_total
//   - multiproc_pool_job_duration_seconds
//   - multiproc_pool_workers, multiproc_pool_ready_workers, multiproc_pool_queued_jobs
//   - multiproc_worker_restarts_total (extra label reason: timeout, exited)
//
// Priority queue (label queue_name):
//
//   - multiproc_priority_pending_tasks
//   - multiproc_priority_available_slots
//   - multiproc_priority_dispatched_total
//
// Admission (labels throttle_type, throttle_name):
//
//   - multiproc_admission_requests_total
//   - multiproc_admission_denied_total
//   - multiproc_admission_wait_duration_seconds
//
// Scheduler (label scheduler_name):
//
//   - multiproc_scheduler_tasks_scheduled_total
//   - multiproc_scheduler_tasks_executed_total
//   - multiproc_scheduler_tasks_failed_total
//
// Registering two registries with the same namespace on one Prometheus
// registerer panics, so components sharing prometheus.DefaultRegisterer
// share DefaultRegistry and are told apart by their name label.
package metrics
