package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vnykmshr/multiproc/internal/config"
	"github.com/vnykmshr/multiproc/internal/logging"
	"github.com/vnykmshr/multiproc/pkg/admission"
	"github.com/vnykmshr/multiproc/pkg/metrics"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
	"github.com/vnykmshr/multiproc/pkg/worker"
)

// app holds what every command builds from the configuration.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	metrics  metrics.Config
	throttle admission.Throttle

	server      *http.Server
	metricsAddr string
	closers     []func() error
}

func (o *rootOptions) start(cmd *cobra.Command) (*app, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		if err := a.serveMetrics(); err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.Admission.Rate > 0 {
		if err := a.buildThrottle(cmd.Context()); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) serveMetrics() error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: a.cfg.Metrics.Namespace,
	}

	ln, err := net.Listen("tcp", a.cfg.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metricsAddr = ln.Addr().String()

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", a.metricsAddr))
	return nil
}

// buildThrottle admits items through a local token bucket, or through a
// Redis bucket shared by every multiproc process when redis_addr is set.
func (a *app) buildThrottle(ctx context.Context) error {
	ac := a.cfg.Admission
	local, err := admission.NewTokenBucketWithConfig(admission.BucketConfig{
		Name:          "local",
		Rate:          admission.Limit(ac.Rate),
		Burst:         ac.Burst,
		InitialTokens: -1,
		Metrics:       a.metrics,
	})
	if err != nil {
		return err
	}
	if ac.RedisAddr == "" {
		a.throttle = local
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: ac.RedisAddr})
	a.closers = append(a.closers, client.Close)
	shared, err := admission.NewRedisTokenBucket(ctx, admission.RedisConfig{
		Client:   client,
		Key:      ac.RedisKey,
		Rate:     ac.Rate,
		Burst:    ac.Burst,
		Fallback: local,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}
	a.closers = append([]func() error{shared.Close}, a.closers...)
	a.throttle = shared
	return nil
}

func (a *app) newPool(name string) (*workerpool.Pool, error) {
	return workerpool.NewWithConfig(a.poolConfig(name))
}

func (a *app) poolConfig(name string) workerpool.Config {
	pc := a.cfg.Pool
	if pc.Name != "" {
		name = pc.Name + "-" + name
	}
	return workerpool.Config{
		Name:        name,
		WorkerCount: pc.Workers,
		ChunkSize:   pc.ChunkSize,
		Timeout:     pc.Timeout,
		Throttle:    a.throttle,
		Env:         []string{worker.EnvLogLevel + "=" + a.cfg.Log.Level},
		Logger:      a.logger,
		Metrics:     a.metrics,
	}
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Debug("closing", zap.Error(err))
		}
	}
	a.closers = nil
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
		a.server = nil
	}
	_ = a.logger.Sync()
}

// stopPool drains p, or kills its workers when ctx was cancelled.
func stopPool(ctx context.Context, p *workerpool.Pool) {
	if ctx.Err() != nil {
		<-p.Terminate()
		return
	}
	<-p.Close()
}
