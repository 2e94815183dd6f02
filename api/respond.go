package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pressline/conveyor"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// writeError maps sentinel errors to HTTP statuses. Anything
// unrecognized is a 500 with the message withheld from the client.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()

	switch {
	case errors.Is(err, conveyor.ErrJobNotFound),
		errors.Is(err, conveyor.ErrQueueNotFound),
		errors.Is(err, conveyor.ErrDLQNotFound):
		status = http.StatusNotFound
	case errors.Is(err, conveyor.ErrInvalidState),
		errors.Is(err, conveyor.ErrAlreadyReplayed),
		errors.Is(err, conveyor.ErrPurgeLiveStates):
		status = http.StatusConflict
	case errors.Is(err, conveyor.ErrJobAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, conveyor.ErrQueuePaused):
		status = http.StatusUnprocessableEntity
	default:
		a.logger.Error("request failed", slog.String("error", msg))
		msg = "internal error"
	}

	a.writeJSON(w, status, errorResponse{Error: msg})
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// queryInt parses an integer query parameter, falling back to def when
// absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
