package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/domain/jsoncfg"
)

type resultView struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type segmentView struct {
	ID                string        `json:"id"`
	Position          int           `json:"position"`
	Prompt            string        `json:"prompt"`
	Dialogue          string        `json:"dialogue,omitempty"`
	AspectRatio       string        `json:"aspect_ratio"`
	Modality          string        `json:"modality"`
	ChainFromPrevious bool          `json:"chain_from_previous"`
	HasStartImage     bool          `json:"has_start_image"`
	StartImageMIME    string        `json:"start_image_mime,omitempty"`
	Status            domain.Status `json:"status"`
	Ready             bool          `json:"ready"`
	Result            *resultView   `json:"result,omitempty"`
	Error             string        `json:"error,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func toSegmentView(seg domain.Segment) segmentView {
	v := segmentView{
		ID:                seg.ID,
		Position:          seg.Position,
		Prompt:            seg.Prompt,
		Dialogue:          seg.Dialogue,
		AspectRatio:       seg.AspectRatio,
		Modality:          string(seg.Modality),
		ChainFromPrevious: seg.ChainFromPrevious,
		HasStartImage:     seg.StartImage != nil,
		Status:            seg.Status,
		Ready:             seg.Ready(),
		Error:             seg.Error,
		UpdatedAt:         seg.UpdatedAt,
	}
	if seg.StartImage != nil {
		v.StartImageMIME = seg.StartImage.MIMEType
	}
	if seg.Result != nil && !seg.Result.IsZero() {
		v.Result = &resultView{
			URL:      "/v1/assets/" + seg.ID,
			MIMEType: seg.Result.MIMEType,
			Size:     seg.Result.Size,
		}
	}
	return v
}

func toSegmentViews(segs []domain.Segment) []segmentView {
	out := make([]segmentView, 0, len(segs))
	for _, seg := range segs {
		out = append(out, toSegmentView(seg))
	}
	return out
}

// ListSegments returns the workspace in order.
func (a *App) ListSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := a.Segments.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": toSegmentViews(segs)})
}

// CreateSegment appends a new idle segment.
func (a *App) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req jsoncfg.SegmentJSON
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	in, err := req.ToInput()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	seg, err := a.Segments.Insert(r.Context(), domain.NewSegment(a.NewID(), in))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, toSegmentView(*seg))
}

// UpdateSegment applies a partial edit. Generating segments are locked.
func (a *App) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	var req jsoncfg.PatchJSON
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	patch, err := req.ToPatch()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	seg, err := a.Segments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if seg.Status == domain.StatusGenerating {
		a.fail(w, r, domain.ErrSegmentBusy)
		return
	}
	patch.Apply(seg)
	if err := a.Segments.Update(r.Context(), *seg); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toSegmentView(*seg))
}

// DeleteSegment removes a segment and releases its result. Refused while a
// run is active.
func (a *App) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := a.refuseDuringRun(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	h, err := a.Segments.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if h != nil {
		a.release(r.Context(), *h)
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	Position *int `json:"position"`
}

// MoveSegment reorders a segment.
func (a *App) MoveSegment(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := a.decode(w, r, &req); err != nil || req.Position == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "position required")
		return
	}
	if err := a.Segments.Move(r.Context(), chi.URLParam(r, "id"), *req.Position); err != nil {
		a.fail(w, r, err)
		return
	}
	segs, err := a.Segments.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": toSegmentViews(segs)})
}

type importRequest struct {
	Segments []jsoncfg.SegmentJSON `json:"segments"`
}

// ImportSegments replaces the workspace with a new list. Every previous
// result is released. Refused while a run is active.
func (a *App) ImportSegments(w http.ResponseWriter, r *http.Request) {
	if err := a.refuseDuringRun(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	var req importRequest
	if err := a.decode(w, r, &req); err != nil {
		if errors.Is(err, io.EOF) {
			a.error(w, http.StatusBadRequest, "bad_request", "segments required")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	segs := make([]domain.Segment, 0, len(req.Segments))
	for _, item := range req.Segments {
		in, err := item.ToInput()
		if err != nil {
			a.fail(w, r, err)
			return
		}
		segs = append(segs, domain.NewSegment(a.NewID(), in))
	}
	released, err := a.Segments.ReplaceAll(r.Context(), segs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.release(r.Context(), released...)
	a.json(w, http.StatusOK, map[string]any{"items": toSegmentViews(segs)})
}

// refuseDuringRun fails with domain.ErrRunActive while a run is queued or
// running. The worker has loaded the segments and releases their handles
// itself when it reaches them.
func (a *App) refuseDuringRun(ctx context.Context) error {
	_, err := a.Runs.Active(ctx)
	switch {
	case err == nil:
		return domain.ErrRunActive
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}
