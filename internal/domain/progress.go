package domain

import (
	"context"
	"time"
)

// EventType identifies a progress event.
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventSegmentStarted   EventType = "segment_started"
	EventSegmentPolling   EventType = "segment_polling"
	EventSegmentSucceeded EventType = "segment_succeeded"
	EventSegmentFailed    EventType = "segment_failed"
	EventRunFinished      EventType = "run_finished"
)

// ProgressEvent is published after every segment-level change. The aggregate
// fields are derived from segment states at publish time.
type ProgressEvent struct {
	Type          EventType `json:"type"`
	RunID         string    `json:"run_id"`
	SegmentID     string    `json:"segment_id,omitempty"`
	SegmentStatus Status    `json:"segment_status,omitempty"`
	Index         int       `json:"index,omitempty"`
	Completed     int       `json:"completed"`
	Total         int       `json:"total"`
	Fraction      float64   `json:"fraction"`
	Message       string    `json:"message"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// Publisher receives progress events.
type Publisher interface {
	Publish(ctx context.Context, event ProgressEvent) error
}

// PublisherFunc adapts a plain function to Publisher.
type PublisherFunc func(ctx context.Context, event ProgressEvent) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event ProgressEvent) error {
	return f(ctx, event)
}
