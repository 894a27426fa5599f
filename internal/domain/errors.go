package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidSegment = errors.New("invalid segment")
	ErrSegmentBusy    = errors.New("segment is generating")
	ErrRunActive      = errors.New("a run is already queued or running")

	// ErrPrecondition fails a whole batch before any work starts.
	ErrPrecondition      = errors.New("precondition failed")
	ErrMissingCredential = fmt.Errorf("%w: api key not found, set it in the settings", ErrPrecondition)
	ErrNoEligibleWork    = fmt.Errorf("%w: no prompts or start images provided for generation", ErrPrecondition)

	// The remaining kinds fail a single segment only.
	ErrDependencyNotReady = errors.New("previous segment has no usable result")
	ErrService            = errors.New("generation service error")
	ErrTimeout            = errors.New("generation timed out")
	ErrDownload           = errors.New("result download failed")
)

// FailureKind names the error class of a failed segment for display.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDependencyNotReady):
		return "dependency_not_ready"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDownload):
		return "download"
	case errors.Is(err, ErrService):
		return "service"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	default:
		return "unknown"
	}
}
