package domain

import (
	"context"
	"io"
)

// HandleStore allocates and releases result handles. It replaces the browser
// object-URL allocator so that generation can run headless.
type HandleStore interface {
	Allocate(ctx context.Context, key string, data []byte, mimeType string) (ResultHandle, error)
	Open(ctx context.Context, h ResultHandle) (io.ReadCloser, error)
	Release(ctx context.Context, h ResultHandle) error
}

// CredentialSource supplies the API credential used by every service call.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

// SegmentRepository persists the ordered workspace.
type SegmentRepository interface {
	List(ctx context.Context) ([]Segment, error)
	Get(ctx context.Context, id string) (*Segment, error)
	Insert(ctx context.Context, seg Segment) (*Segment, error)
	Update(ctx context.Context, seg Segment) error
	Delete(ctx context.Context, id string) (*ResultHandle, error)
	Move(ctx context.Context, id string, position int) error
	ReplaceAll(ctx context.Context, segs []Segment) ([]ResultHandle, error)
	SaveState(ctx context.Context, seg Segment) error
	// ResetGenerating marks segments stuck in generating as failed.
	ResetGenerating(ctx context.Context, reason string) error
}

// RunRepository persists batch runs.
type RunRepository interface {
	// Enqueue fails with ErrRunActive while another run is queued or running.
	Enqueue(ctx context.Context, mode RunMode, total int) (*Run, error)
	// Claim returns the oldest queued run marked running, or ErrNotFound.
	Claim(ctx context.Context) (*Run, error)
	Get(ctx context.Context, id string) (*Run, error)
	Active(ctx context.Context) (*Run, error)
	UpdateProgress(ctx context.Context, id string, completed, total int, message string) error
	Finish(ctx context.Context, id string, status RunStatus, message string, outcome *Outcome) error
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
	// RecoverInterrupted fails runs left running by a crashed worker and
	// returns how many were recovered.
	RecoverInterrupted(ctx context.Context, reason string) (int, error)
}
