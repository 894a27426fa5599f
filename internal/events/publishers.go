package events

import (
	"context"
	"errors"

	"studio/internal/domain"
	"studio/internal/infra"
)

// Fanout forwards every event to all publishers and joins their errors.
type Fanout []domain.Publisher

// Publish implements domain.Publisher.
func (f Fanout) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Channel delivers events into a caller-owned channel, blocking until the
// reader takes them or ctx ends.
type Channel chan<- domain.ProgressEvent

// Publish implements domain.Publisher.
func (c Channel) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	Logger *infra.Logger
}

// Publish implements domain.Publisher.
func (l LogPublisher) Publish(_ context.Context, ev domain.ProgressEvent) error {
	if l.Logger == nil {
		return nil
	}
	entry := l.Logger.Info()
	if ev.Type == domain.EventSegmentFailed {
		entry = l.Logger.Warn().Str("error", ev.Error)
	}
	entry.
		Str("event", string(ev.Type)).
		Str("run_id", ev.RunID).
		Str("segment_id", ev.SegmentID).
		Int("completed", ev.Completed).
		Int("total", ev.Total).
		Float64("fraction", ev.Fraction).
		Msg(ev.Message)
	return nil
}

var (
	_ domain.Publisher = Fanout(nil)
	_ domain.Publisher = Channel(nil)
	_ domain.Publisher = LogPublisher{}
)
