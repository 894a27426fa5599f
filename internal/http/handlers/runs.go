package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/orchestrator"
)

type runView struct {
	ID              string           `json:"id"`
	Mode            domain.RunMode   `json:"mode"`
	Status          domain.RunStatus `json:"status"`
	Total           int              `json:"total"`
	Completed       int              `json:"completed"`
	Fraction        float64          `json:"fraction"`
	Message         string           `json:"message"`
	CancelRequested bool             `json:"cancel_requested"`
	Outcome         *domain.Outcome  `json:"outcome,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func toRunView(run *domain.Run) runView {
	v := runView{
		ID:              run.ID,
		Mode:            run.Mode,
		Status:          run.Status,
		Total:           run.Total,
		Completed:       run.Completed,
		Message:         run.Message,
		CancelRequested: run.CancelRequested,
		Outcome:         run.Outcome,
		CreatedAt:       run.CreatedAt,
		UpdatedAt:       run.UpdatedAt,
	}
	if run.Total > 0 {
		v.Fraction = float64(run.Completed) / float64(run.Total)
	}
	return v
}

type createRunRequest struct {
	Mode string `json:"mode"`
}

// CreateRun queues a batch. Precondition failures are reported before
// anything is queued.
func (a *App) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := a.decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	mode := domain.ParseRunMode(strings.TrimSpace(req.Mode))

	if err := a.checkCredential(r); err != nil {
		a.fail(w, r, err)
		return
	}
	segs, err := a.Segments.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	total := orchestrator.CountEligible(mode, segs)
	if total == 0 {
		a.fail(w, r, domain.ErrNoEligibleWork)
		return
	}
	run, err := a.Runs.Enqueue(r.Context(), mode, total)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().Str("run_id", run.ID).Str("mode", string(mode)).Int("total", total).Msg("run queued")
	a.json(w, http.StatusAccepted, toRunView(run))
}

func (a *App) checkCredential(r *http.Request) error {
	if a.Credentials == nil {
		return domain.ErrMissingCredential
	}
	key, err := a.Credentials.APIKey(r.Context())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMissingCredential, err)
	}
	if strings.TrimSpace(key) == "" {
		return domain.ErrMissingCredential
	}
	return nil
}

// ActiveRun returns the queued or running run.
func (a *App) ActiveRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.Runs.Active(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toRunView(run))
}

// GetRun returns a run's persisted state.
func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toRunView(run))
}

// CancelRun asks the worker to stop after the current segment.
func (a *App) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Runs.RequestCancel(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	run, err := a.Runs.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().Str("run_id", id).Str("status", string(run.Status)).Msg("run cancel requested")
	a.json(w, http.StatusAccepted, toRunView(run))
}

// RunEvents streams progress events for one run as Server-Sent Events. The
// stream ends after run_finished or when the client disconnects.
func (a *App) RunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.Runs.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(ev domain.ProgressEvent) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		fmt.Fprintf(w, "event: %s\n", ev.Type)
		fmt.Fprintf(w, "data: %s\n\n", data)
		return rc.Flush() == nil
	}

	if run.Status.Terminal() {
		send(snapshotEvent(run))
		return
	}

	var (
		ch     <-chan domain.ProgressEvent
		cancel = func() {}
	)
	if a.Hub != nil {
		ch, cancel = a.Hub.Subscribe(id)
	}
	defer cancel()

	initial := snapshotEvent(run)
	if a.LastEvent != nil {
		if last, err := a.LastEvent(r.Context(), id); err != nil {
			a.Logger.Warn().Err(err).Str("run_id", id).Msg("load last event failed")
		} else if last != nil {
			initial = *last
		}
	}
	if !send(initial) || initial.Type == domain.EventRunFinished {
		return
	}

	heartbeat := a.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// The finish event may have been published before we subscribed,
			// and without a relay the run record is the only progress source.
			if latest, err := a.Runs.Get(r.Context(), id); err == nil {
				if latest.Status.Terminal() {
					send(snapshotEvent(latest))
					return
				}
				if latest.Completed != run.Completed || latest.Message != run.Message {
					run = latest
					if !send(snapshotEvent(latest)) {
						return
					}
					continue
				}
			}
			fmt.Fprint(w, ": keep-alive\n\n")
			if rc.Flush() != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !send(ev) || ev.Type == domain.EventRunFinished {
				return
			}
		}
	}
}

// snapshotEvent renders a persisted run as a progress event for clients that
// connect mid-run or after it finished.
func snapshotEvent(run *domain.Run) domain.ProgressEvent {
	ev := domain.ProgressEvent{
		Type:      domain.EventRunStarted,
		RunID:     run.ID,
		Completed: run.Completed,
		Total:     run.Total,
		Message:   run.Message,
		Status:    domain.StatusGenerating,
		At:        run.UpdatedAt,
	}
	if run.Total > 0 {
		ev.Fraction = float64(run.Completed) / float64(run.Total)
	}
	switch run.Status {
	case domain.RunStatusSucceeded:
		ev.Type, ev.Status = domain.EventRunFinished, domain.StatusSuccess
	case domain.RunStatusPartialFailure, domain.RunStatusFailed, domain.RunStatusCanceled:
		ev.Type, ev.Status = domain.EventRunFinished, domain.StatusError
	}
	return ev
}
