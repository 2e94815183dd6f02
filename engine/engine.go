// Package engine wires all Conveyor subsystems together: the hook
// registry, job registry, queue service, middleware chain, worker pool,
// reaper, stats aggregator, and stream broker.
//
// This package exists to break the import cycle: the root conveyor
// package defines the Coordinator (imported by subsystem packages) and
// so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/backoff"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/hook"
	"github.com/pressline/conveyor/job"
	mw "github.com/pressline/conveyor/middleware"
	"github.com/pressline/conveyor/queue"
	"github.com/pressline/conveyor/stats"
	"github.com/pressline/conveyor/stream"
	"github.com/pressline/conveyor/worker"
)

// Engine wraps a Coordinator with typed subsystem access.
// Use Build() to create one from a Coordinator.
type Engine struct {
	c        *conveyor.Coordinator
	hooks    *hook.Registry
	registry *job.Registry

	jobStore job.Store
	queueSvc *queue.Service
	dlqSvc   *dlq.Service
	pool     *worker.Pool
	reaper   *queue.Reaper
	stats    *stats.Aggregator
	broker   *stream.Broker

	policy       *backoff.Policy
	mws          []mw.Middleware
	extraHooks   []hook.Hook
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.extraHooks = append(eng.extraHooks, h)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithPolicy sets the retry policy for failed jobs. If not set, the
// default policy (exponential backoff with jitter) is used.
func WithPolicy(p *backoff.Policy) Option {
	return func(eng *Engine) {
		eng.policy = p
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware uses this provider instead of the
// global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Coordinator.
// The Coordinator's store must implement job.Store and dlq.Store.
func Build(c *conveyor.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, conveyor.ErrNoStore
	}
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement dlq.Store")
	}

	eng := &Engine{
		c:        c,
		hooks:    hook.NewRegistry(logger),
		registry: job.NewRegistry(),
		jobStore: js,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.policy == nil {
		eng.policy = backoff.DefaultPolicy()
	}

	config := c.Config()

	// Queue and DLQ services share the hook registry so every state
	// transition reaches the stats aggregator and the stream broker.
	eng.dlqSvc = dlq.NewService(ds, js)
	eng.queueSvc = queue.NewService(js, eng.dlqSvc,
		queue.WithPolicy(eng.policy),
		queue.WithLogger(logger),
		queue.WithLeaseDuration(config.LeaseDuration),
		queue.WithDefaults(config.DefaultMaxAttempts, config.DefaultJobTimeout),
	)
	eng.queueSvc.SetHooks(eng.hooks)
	eng.dlqSvc.SetHooks(eng.hooks)

	eng.stats = stats.NewAggregator(js)
	eng.broker = stream.NewBroker(logger)
	eng.hooks.Register(eng.stats)
	eng.hooks.Register(eng.broker)
	for _, h := range eng.extraHooks {
		eng.hooks.Register(h)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/pressline/conveyor")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/pressline/conveyor")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.queueSvc, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues...),
		worker.WithPollInterval(config.PollInterval, config.MaxPollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(eng.queueSvc, executor, logger, poolOpts...)

	eng.reaper = queue.NewReaper(eng.queueSvc, logger,
		queue.WithReapInterval(config.ReapInterval),
	)

	// Wire back into the Coordinator.
	c.SetPool(eng.pool)
	c.SetHooks(eng.hooks)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals a typed payload and enqueues it on the queue.
func Enqueue[T any](ctx context.Context, eng *Engine, queueName string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for queue %q: %w", queueName, err)
	}
	return eng.queueSvc.Enqueue(ctx, queueName, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, queueName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	return eng.queueSvc.Enqueue(ctx, queueName, payload, opts...)
}

// Start begins job processing: the lease reaper first so stranded jobs
// from a previous run are reclaimed, then the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.reaper.Start(ctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.reaper.Stop(ctx); err != nil {
		eng.c.Logger().Error("reaper stop error", "error", err)
	}
	return eng.c.Stop(ctx)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *conveyor.Coordinator { return eng.c }

// Queue returns the queue service for enqueue, pause/resume, purge,
// and operator cancel/retry.
func (eng *Engine) Queue() *queue.Service { return eng.queueSvc }

// DLQ returns the dead letter service for search, replay, and purge.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqSvc }

// Stats returns the stats aggregator.
func (eng *Engine) Stats() *stats.Aggregator { return eng.stats }

// Broker returns the live event stream broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
