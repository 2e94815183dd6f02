package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

const defaultListLimit = 50

type enqueueRequest struct {
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	TimeoutMs      int64           `json:"timeout_ms,omitempty"`
	DelayMs        int64           `json:"delay_ms,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !a.decode(w, r, &req) {
		return
	}

	opts := []job.Option{job.WithPriority(req.Priority)}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	if req.TimeoutMs > 0 {
		opts = append(opts, job.WithTimeout(time.Duration(req.TimeoutMs)*time.Millisecond))
	}
	if req.DelayMs > 0 {
		opts = append(opts, job.WithDelay(time.Duration(req.DelayMs)*time.Millisecond))
	}
	if req.IdempotencyKey != "" {
		opts = append(opts, job.WithIdempotencyKey(req.IdempotencyKey))
	}

	j, err := a.eng.EnqueueRaw(r.Context(), chi.URLParam(r, "queue"), req.Payload, opts...)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.eng.Queue().List(r.Context(), job.ListOpts{
		Queue:  r.URL.Query().Get("queue"),
		State:  job.State(r.URL.Query().Get("state")),
		Limit:  queryInt(r, "limit", defaultListLimit),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	a.writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.badRequest(w, "invalid job ID: "+err.Error())
		return
	}

	j, err := a.eng.Queue().Get(r.Context(), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.badRequest(w, "invalid job ID: "+err.Error())
		return
	}

	if err := a.eng.Queue().Cancel(r.Context(), jobID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.badRequest(w, "invalid job ID: "+err.Error())
		return
	}

	if err := a.eng.Queue().Retry(r.Context(), jobID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
