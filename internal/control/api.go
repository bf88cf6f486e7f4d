package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/session"
)

// Coordinator is the session surface the API drives
type Coordinator interface {
	Start(ctx context.Context, req session.StartRequest) (domain.Status, error)
	Pause(ctx context.Context) (domain.Status, error)
	Resume(ctx context.Context) (domain.Status, error)
	Stop(ctx context.Context) (domain.Status, error)
	AnalyzeNow(ctx context.Context) (domain.JobID, error)
	Seek(ctx context.Context, offset time.Duration) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// API serves the session control endpoints
type API struct {
	coord  Coordinator
	logger zerolog.Logger
}

// NewAPI creates the control API for coord
func NewAPI(coord Coordinator) *API {
	return &API{
		coord:  coord,
		logger: observability.GetLogger().With().Str("component", "control").Logger(),
	}
}

// Register mounts the API routes on mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/session", a.handleSnapshot)
	mux.HandleFunc("/session/start", a.handleStart)
	mux.HandleFunc("/session/pause", a.lifecycle("pause", a.coord.Pause))
	mux.HandleFunc("/session/resume", a.lifecycle("resume", a.coord.Resume))
	mux.HandleFunc("/session/stop", a.lifecycle("stop", a.coord.Stop))
	mux.HandleFunc("/session/analyze", a.handleAnalyze)
	mux.HandleFunc("/session/seek", a.handleSeek)
}

type seekRequest struct {
	OffsetSeconds float64 `json:"offset_seconds"`
}

type analyzeResponse struct {
	JobID domain.JobID `json:"job_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	snap, err := a.coord.Snapshot(r.Context())
	if err != nil {
		a.fail(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid start request: %v", err)})
		return
	}
	if req.Mode == "" {
		req.Mode = domain.CaptureModeMicrophone
	}
	if !req.Mode.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown capture mode %q", req.Mode)})
		return
	}

	status, err := a.coord.Start(r.Context(), req)
	if err != nil {
		a.fail(w, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) lifecycle(action string, call func(context.Context) (domain.Status, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		status, err := call(r.Context())
		if err != nil {
			a.fail(w, action, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	job, err := a.coord.AnalyzeNow(r.Context())
	if err != nil {
		a.fail(w, "analyze", err)
		return
	}
	writeJSON(w, http.StatusAccepted, analyzeResponse{JobID: job})
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid seek request: %v", err)})
		return
	}
	if req.OffsetSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "offset_seconds must not be negative"})
		return
	}

	offset := time.Duration(req.OffsetSeconds * float64(time.Second))
	if err := a.coord.Seek(r.Context(), offset); err != nil {
		a.fail(w, "seek", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) fail(w http.ResponseWriter, action string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("action", action).Msg("Session control failed")
	} else {
		a.logger.Info().Err(err).Str("action", action).Int("status", code).Msg("Session control rejected")
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// statusFor maps the coordinator error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCaptureUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
