// Package workspace holds the ordered segment list a user edits and the
// orchestrator mutates. It owns the release discipline for result handles.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
)

// Releaser frees result handles.
type Releaser interface {
	Release(ctx context.Context, h domain.ResultHandle) error
}

// Persister receives write-through copies of segment state changes.
type Persister interface {
	SaveState(ctx context.Context, seg domain.Segment) error
}

// Source reads the stored copy of a segment. When set, a new attempt starts
// from the stored result instead of the one captured by Load.
type Source interface {
	Get(ctx context.Context, id string) (*domain.Segment, error)
}

// Options configures a Workspace.
type Options struct {
	Releaser  Releaser
	Persister Persister
	Source    Source
	Logger    *infra.Logger
	NewID     func() string
}

// Workspace is safe for concurrent use.
type Workspace struct {
	mu       sync.Mutex
	segments []*domain.Segment
	releaser Releaser
	persist  Persister
	source   Source
	logger   *infra.Logger
	newID    func() string
}

// New constructs an empty workspace.
func New(opts Options) *Workspace {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Workspace{
		releaser: opts.Releaser,
		persist:  opts.Persister,
		source:   opts.Source,
		logger:   logger,
		newID:    newID,
	}
}

// Load replaces the list with already-persisted segments. Existing handles are
// adopted, not released.
func (w *Workspace) Load(segs []domain.Segment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.segments = make([]*domain.Segment, 0, len(segs))
	for _, seg := range segs {
		clone := seg.Clone()
		w.segments = append(w.segments, &clone)
	}
	w.renumber()
}

// Add appends a new idle segment.
func (w *Workspace) Add(in domain.SegmentInput) domain.Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	seg := domain.NewSegment(w.newID(), in)
	seg.Position = len(w.segments)
	w.segments = append(w.segments, &seg)
	return seg.Clone()
}

// Get returns a copy of one segment.
func (w *Workspace) Get(id string) (domain.Segment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, seg := w.find(id)
	if seg == nil {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	return seg.Clone(), nil
}

// Segments returns a snapshot in order.
func (w *Workspace) Segments(ctx context.Context) ([]domain.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.Segment, len(w.segments))
	for i, seg := range w.segments {
		out[i] = seg.Clone()
	}
	return out, nil
}

// Update applies a user edit. Segments that are generating cannot be edited.
func (w *Workspace) Update(id string, patch domain.SegmentPatch) (domain.Segment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, seg := w.find(id)
	if seg == nil {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	if seg.Status == domain.StatusGenerating {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, domain.ErrSegmentBusy)
	}
	patch.Apply(seg)
	return seg.Clone(), nil
}

// Remove deletes a segment and releases its result handle.
func (w *Workspace) Remove(ctx context.Context, id string) error {
	w.mu.Lock()
	idx, seg := w.find(id)
	if seg == nil {
		w.mu.Unlock()
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	if seg.Status == domain.StatusGenerating {
		w.mu.Unlock()
		return fmt.Errorf("segment %s: %w", id, domain.ErrSegmentBusy)
	}
	w.segments = append(w.segments[:idx], w.segments[idx+1:]...)
	w.renumber()
	released := takeHandle(seg)
	w.mu.Unlock()

	w.release(ctx, released...)
	return nil
}

// Move places the segment at position to, shifting the others.
func (w *Workspace) Move(id string, to int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx, seg := w.find(id)
	if seg == nil {
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	if seg.Status == domain.StatusGenerating {
		return fmt.Errorf("segment %s: %w", id, domain.ErrSegmentBusy)
	}
	if to < 0 {
		to = 0
	}
	if to >= len(w.segments) {
		to = len(w.segments) - 1
	}
	w.segments = append(w.segments[:idx], w.segments[idx+1:]...)
	w.segments = append(w.segments[:to], append([]*domain.Segment{seg}, w.segments[to:]...)...)
	w.renumber()
	return nil
}

// Import replaces the whole list, releasing every handle the old list held.
// It is refused while any segment is generating.
func (w *Workspace) Import(ctx context.Context, inputs []domain.SegmentInput) ([]domain.Segment, error) {
	w.mu.Lock()
	for _, seg := range w.segments {
		if seg.Status == domain.StatusGenerating {
			w.mu.Unlock()
			return nil, fmt.Errorf("import: %w", domain.ErrSegmentBusy)
		}
	}
	var released []domain.ResultHandle
	for _, seg := range w.segments {
		released = append(released, takeHandle(seg)...)
	}
	w.segments = make([]*domain.Segment, 0, len(inputs))
	out := make([]domain.Segment, 0, len(inputs))
	for i, in := range inputs {
		seg := domain.NewSegment(w.newID(), in)
		seg.Position = i
		w.segments = append(w.segments, &seg)
		out = append(out, seg.Clone())
	}
	w.mu.Unlock()

	w.release(ctx, released...)
	return out, nil
}

// MarkGenerating starts a new attempt. The previous result, if any, is
// released first. A segment already generating is rejected so at most one
// attempt per segment is in flight.
func (w *Workspace) MarkGenerating(ctx context.Context, id string) error {
	if err := w.refresh(ctx, id); err != nil {
		return err
	}
	w.mu.Lock()
	_, seg := w.find(id)
	if seg == nil {
		w.mu.Unlock()
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	if seg.Status == domain.StatusGenerating {
		w.mu.Unlock()
		return fmt.Errorf("segment %s: %w", id, domain.ErrSegmentBusy)
	}
	released := takeHandle(seg)
	seg.Status = domain.StatusGenerating
	seg.Error = ""
	snapshot := seg.Clone()
	w.mu.Unlock()

	w.release(ctx, released...)
	return w.save(ctx, snapshot)
}

// MarkSucceeded attaches h. On failure h has been released.
func (w *Workspace) MarkSucceeded(ctx context.Context, id string, h domain.ResultHandle) error {
	w.mu.Lock()
	_, seg := w.find(id)
	if seg == nil {
		w.mu.Unlock()
		w.release(ctx, h)
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	stale := takeHandle(seg)
	handle := h
	seg.Result = &handle
	seg.Status = domain.StatusSuccess
	seg.Error = ""
	snapshot := seg.Clone()
	w.mu.Unlock()

	w.release(ctx, stale...)
	if err := w.save(ctx, snapshot); err != nil {
		w.mu.Lock()
		if _, cur := w.find(id); cur != nil && cur.Result != nil && cur.Result.Key == h.Key {
			cur.Result = nil
		}
		w.mu.Unlock()
		w.release(ctx, h)
		return err
	}
	return nil
}

// MarkFailed records the failure reason for the latest attempt.
func (w *Workspace) MarkFailed(ctx context.Context, id string, reason string) error {
	w.mu.Lock()
	_, seg := w.find(id)
	if seg == nil {
		w.mu.Unlock()
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	released := takeHandle(seg)
	seg.Status = domain.StatusError
	seg.Error = reason
	snapshot := seg.Clone()
	w.mu.Unlock()

	w.release(ctx, released...)
	return w.save(ctx, snapshot)
}

// refresh replaces the loaded result of id with the stored one. A segment
// deleted since Load is dropped without releasing anything: whoever deleted
// it released its handle.
func (w *Workspace) refresh(ctx context.Context, id string) error {
	if w.source == nil {
		return nil
	}
	cur, err := w.source.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("reload segment %s: %w", id, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	idx, seg := w.find(id)
	if seg == nil {
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	if cur == nil {
		w.segments = append(w.segments[:idx], w.segments[idx+1:]...)
		w.renumber()
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	seg.Result = nil
	if cur.Result != nil && !cur.Result.IsZero() {
		h := *cur.Result
		seg.Result = &h
	}
	return nil
}

func (w *Workspace) find(id string) (int, *domain.Segment) {
	for i, seg := range w.segments {
		if seg.ID == id {
			return i, seg
		}
	}
	return -1, nil
}

func (w *Workspace) renumber() {
	for i, seg := range w.segments {
		seg.Position = i
	}
}

func (w *Workspace) save(ctx context.Context, seg domain.Segment) error {
	if w.persist == nil {
		return nil
	}
	if err := w.persist.SaveState(ctx, seg); err != nil {
		return fmt.Errorf("persist segment %s: %w", seg.ID, err)
	}
	return nil
}

func (w *Workspace) release(ctx context.Context, handles ...domain.ResultHandle) {
	if w.releaser == nil {
		return
	}
	for _, h := range handles {
		if h.IsZero() {
			continue
		}
		if err := w.releaser.Release(ctx, h); err != nil {
			w.logger.Warn().Err(err).Str("key", h.Key).Msg("workspace: release handle failed")
		}
	}
}

// takeHandle detaches the segment's handle so it is released exactly once.
func takeHandle(seg *domain.Segment) []domain.ResultHandle {
	if seg.Result == nil || seg.Result.IsZero() {
		seg.Result = nil
		return nil
	}
	h := *seg.Result
	seg.Result = nil
	return []domain.ResultHandle{h}
}
