package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/events"
)

// LastEventFunc returns the most recent progress event of a run, or nil.
type LastEventFunc func(ctx context.Context, runID string) (*domain.ProgressEvent, error)

// App carries the dependencies shared by every handler.
type App struct {
	Segments    domain.SegmentRepository
	Runs        domain.RunRepository
	Handles     domain.HandleStore
	Credentials domain.CredentialSource
	Hub         *events.Hub
	LastEvent   LastEventFunc
	Logger      zerolog.Logger

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	NewID     func() string
}

func NewApp(segments domain.SegmentRepository, runs domain.RunRepository, handles domain.HandleStore, creds domain.CredentialSource, hub *events.Hub, logger zerolog.Logger) *App {
	return &App{
		Segments:    segments,
		Runs:        runs,
		Handles:     handles,
		Credentials: creds,
		Hub:         hub,
		Logger:      logger,
		Heartbeat:   15 * time.Second,
		NewID:       uuid.NewString,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}

// fail maps domain errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidSegment):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrSegmentBusy):
		a.error(w, http.StatusConflict, "segment_busy", err.Error())
	case errors.Is(err, domain.ErrRunActive):
		a.error(w, http.StatusConflict, "run_active", err.Error())
	case errors.Is(err, domain.ErrMissingCredential):
		a.error(w, http.StatusPreconditionFailed, "missing_credential", err.Error())
	case errors.Is(err, domain.ErrNoEligibleWork):
		a.error(w, http.StatusUnprocessableEntity, "no_eligible_work", err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Start images travel inline as base64, so bodies are generous.
const maxBodyBytes = 64 << 20

func (a *App) release(ctx context.Context, handles ...domain.ResultHandle) {
	for _, h := range handles {
		if h.IsZero() {
			continue
		}
		if err := a.Handles.Release(ctx, h); err != nil {
			a.Logger.Warn().Err(err).Str("key", h.Key).Msg("release result handle failed")
		}
	}
}
