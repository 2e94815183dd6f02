package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobDelayedEntry struct {
	name string
	hook JobDelayed
}

type jobDeadLetteredEntry struct {
	name string
	hook JobDeadLettered
}

type jobReplayedEntry struct {
	name string
	hook JobReplayed
}

type queuePausedEntry struct {
	name string
	hook QueuePaused
}

type queueResumedEntry struct {
	name string
	hook QueueResumed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	jobEnqueued     []jobEnqueuedEntry
	jobStarted      []jobStartedEntry
	jobCompleted    []jobCompletedEntry
	jobFailed       []jobFailedEntry
	jobDelayed      []jobDelayedEntry
	jobDeadLettered []jobDeadLetteredEntry
	jobReplayed     []jobReplayedEntry
	queuePaused     []queuePausedEntry
	queueResumed    []queueResumedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, hk})
	}
	if hk, ok := h.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, hk})
	}
	if hk, ok := h.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, hk})
	}
	if hk, ok := h.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, hk})
	}
	if hk, ok := h.(JobDelayed); ok {
		r.jobDelayed = append(r.jobDelayed, jobDelayedEntry{name, hk})
	}
	if hk, ok := h.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, jobDeadLetteredEntry{name, hk})
	}
	if hk, ok := h.(JobReplayed); ok {
		r.jobReplayed = append(r.jobReplayed, jobReplayedEntry{name, hk})
	}
	if hk, ok := h.(QueuePaused); ok {
		r.queuePaused = append(r.queuePaused, queuePausedEntry{name, hk})
	}
	if hk, ok := h.(QueueResumed); ok {
		r.queueResumed = append(r.queueResumed, queueResumedEntry{name, hk})
	}
	if hk, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all hooks that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all hooks that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all hooks that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobDelayed notifies all hooks that implement JobDelayed.
func (r *Registry) EmitJobDelayed(ctx context.Context, j *job.Job, attempt int, nextAt time.Time) {
	for _, e := range r.jobDelayed {
		if err := e.hook.OnJobDelayed(ctx, j, attempt, nextAt); err != nil {
			r.logHookError("OnJobDelayed", e.name, err)
		}
	}
}

// EmitJobDeadLettered notifies all hooks that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDeadLettered {
		if err := e.hook.OnJobDeadLettered(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobDeadLettered", e.name, err)
		}
	}
}

// EmitJobReplayed notifies all hooks that implement JobReplayed.
func (r *Registry) EmitJobReplayed(ctx context.Context, entryID id.DLQID, j *job.Job) {
	for _, e := range r.jobReplayed {
		if err := e.hook.OnJobReplayed(ctx, entryID, j); err != nil {
			r.logHookError("OnJobReplayed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Queue event emitters
// ──────────────────────────────────────────────────

// EmitQueuePaused notifies all hooks that implement QueuePaused.
func (r *Registry) EmitQueuePaused(ctx context.Context, queue string) {
	for _, e := range r.queuePaused {
		if err := e.hook.OnQueuePaused(ctx, queue); err != nil {
			r.logHookError("OnQueuePaused", e.name, err)
		}
	}
}

// EmitQueueResumed notifies all hooks that implement QueueResumed.
func (r *Registry) EmitQueueResumed(ctx context.Context, queue string) {
	for _, e := range r.queueResumed {
		if err := e.hook.OnQueueResumed(ctx, queue); err != nil {
			r.logHookError("OnQueueResumed", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
