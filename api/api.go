// Package api exposes the Conveyor admin and producer surface over
// HTTP. It serves JSON endpoints for queues, jobs, the dead letter
// queue, and statistics, plus live event streams over SSE and
// WebSocket.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pressline/conveyor/engine"
)

// API wires all HTTP handlers for a Conveyor engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used by the handlers.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from a Conveyor engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	a.Routes(r)
	return r
}

// Routes mounts all endpoints on the given router. Callers that need
// their own middleware stack can use this instead of Handler.
func (a *API) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/queues", a.listQueues)
		r.Route("/queues/{queue}", func(r chi.Router) {
			r.Post("/jobs", a.enqueueJob)
			r.Post("/pause", a.pauseQueue)
			r.Post("/resume", a.resumeQueue)
			r.Post("/purge", a.purgeQueue)
			r.Get("/stats", a.queueStats)
		})

		r.Get("/jobs", a.listJobs)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", a.getJob)
			r.Post("/cancel", a.cancelJob)
			r.Post("/retry", a.retryJob)
		})

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", a.searchDLQ)
			r.Get("/count", a.dlqCount)
			r.Post("/replay", a.replayDLQBatch)
			r.Post("/purge", a.purgeDLQ)
			r.Route("/{entryID}", func(r chi.Router) {
				r.Get("/", a.getDLQ)
				r.Post("/replay", a.replayDLQ)
				r.Delete("/", a.deleteDLQ)
			})
		})

		r.Get("/stats", a.overviewStats)

		r.Get("/stream", a.streamSSE)
		r.Get("/stream/ws", a.streamWS)
	})
}
