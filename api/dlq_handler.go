package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
)

func (a *API) searchDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.DLQ().Search(r.Context(), dlq.SearchOpts{
		Queue:  r.URL.Query().Get("queue"),
		Query:  r.URL.Query().Get("q"),
		Limit:  queryInt(r, "limit", defaultListLimit),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.badRequest(w, "invalid DLQ entry ID: "+err.Error())
		return
	}

	entry, err := a.eng.DLQ().Get(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.badRequest(w, "invalid DLQ entry ID: "+err.Error())
		return
	}

	j, err := a.eng.DLQ().Replay(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, j)
}

type replayBatchRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

type replayBatchResponse struct {
	// Replayed maps entry IDs to the new job IDs created for them.
	Replayed map[string]string `json:"replayed"`
	// Failed maps entry IDs to the reason their replay was skipped.
	Failed map[string]string `json:"failed"`
}

func (a *API) replayDLQBatch(w http.ResponseWriter, r *http.Request) {
	var req replayBatchRequest
	if !a.decode(w, r, &req) {
		return
	}
	if len(req.EntryIDs) == 0 {
		a.badRequest(w, "entry_ids must not be empty")
		return
	}

	ids := make([]id.DLQID, 0, len(req.EntryIDs))
	for _, raw := range req.EntryIDs {
		entryID, err := id.ParseDLQID(raw)
		if err != nil {
			a.badRequest(w, "invalid DLQ entry ID "+raw+": "+err.Error())
			return
		}
		ids = append(ids, entryID)
	}

	result, err := a.eng.DLQ().ReplayBatch(r.Context(), ids)
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := replayBatchResponse{
		Replayed: make(map[string]string, len(result.Replayed)),
		Failed:   make(map[string]string, len(result.Failed)),
	}
	for entryID, j := range result.Replayed {
		resp.Replayed[entryID.String()] = j.ID.String()
	}
	for entryID, replayErr := range result.Failed {
		resp.Failed[entryID.String()] = replayErr.Error()
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) deleteDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.badRequest(w, "invalid DLQ entry ID: "+err.Error())
		return
	}

	if err := a.eng.DLQ().Delete(r.Context(), entryID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type purgeDLQRequest struct {
	Queue string `json:"queue,omitempty"`
	// OlderThanMs keeps entries that failed within the window. Zero
	// purges everything up to now.
	OlderThanMs int64 `json:"older_than_ms,omitempty"`
}

func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	var req purgeDLQRequest
	if r.ContentLength > 0 && !a.decode(w, r, &req) {
		return
	}

	cutoff := time.Now().UTC()
	if req.OlderThanMs > 0 {
		cutoff = cutoff.Add(-time.Duration(req.OlderThanMs) * time.Millisecond)
	}

	n, err := a.eng.DLQ().Purge(r.Context(), req.Queue, cutoff)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, purgeResponse{Purged: n})
}

type dlqCountResponse struct {
	Count int64 `json:"count"`
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQ().Count(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, dlqCountResponse{Count: count})
}
