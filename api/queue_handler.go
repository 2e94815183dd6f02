package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/queue"
)

func (a *API) listQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := a.eng.Queue().Queues(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if queues == nil {
		queues = []job.QueueInfo{}
	}
	a.writeJSON(w, http.StatusOK, queues)
}

func (a *API) pauseQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Queue().Pause(r.Context(), chi.URLParam(r, "queue")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resumeQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Queue().Resume(r.Context(), chi.URLParam(r, "queue")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type purgeQueueRequest struct {
	// States to remove. Defaults to the terminal states.
	States []job.State `json:"states,omitempty"`
	// Force permits purging non-terminal states.
	Force bool `json:"force,omitempty"`
	// OlderThanMs restricts the purge to jobs created at least this
	// many milliseconds ago.
	OlderThanMs int64 `json:"older_than_ms,omitempty"`
}

type purgeResponse struct {
	Purged int64 `json:"purged"`
}

func (a *API) purgeQueue(w http.ResponseWriter, r *http.Request) {
	var req purgeQueueRequest
	if r.ContentLength > 0 && !a.decode(w, r, &req) {
		return
	}

	n, err := a.eng.Queue().Purge(r.Context(), chi.URLParam(r, "queue"), queue.PurgeOpts{
		States:    req.States,
		Force:     req.Force,
		OlderThan: time.Duration(req.OlderThanMs) * time.Millisecond,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, purgeResponse{Purged: n})
}

func (a *API) queueStats(w http.ResponseWriter, r *http.Request) {
	snap, err := a.eng.Stats().Snapshot(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *API) overviewStats(w http.ResponseWriter, r *http.Request) {
	overview, err := a.eng.Stats().Overview(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, overview)
}
