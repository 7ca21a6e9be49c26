package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "multiproc"

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace overrides the default "multiproc" namespace for metrics.
	Namespace string

	// Labels are constant labels added to all metrics.
	Labels prometheus.Labels
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
	}
}

// Resolve returns the registry a component configured with cfg should
// report to, or nil when metrics are disabled. Components built with the
// default registerer share DefaultRegistry.
func Resolve(cfg Config) *Registry {
	if !cfg.Enabled {
		return nil
	}
	if (cfg.Registry == nil || cfg.Registry == prometheus.DefaultRegisterer) &&
		(cfg.Namespace == "" || cfg.Namespace == DefaultNamespace) && len(cfg.Labels) == 0 {
		return DefaultRegistry
	}
	return NewRegistryWithConfig(cfg)
}
