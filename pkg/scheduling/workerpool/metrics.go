package workerpool

// observe publishes the gauges. Called with p.mu held.
func (p *Pool) observe() {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolSize.WithLabelValues(p.name).Set(float64(len(p.workers)))
	p.metrics.ReadyWorkers.WithLabelValues(p.name).Set(float64(len(p.ready)))
	p.metrics.QueuedJobs.WithLabelValues(p.name).Set(float64(len(p.queue)))
}
