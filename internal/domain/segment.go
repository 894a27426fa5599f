package domain

import (
	"strings"
	"time"
)

// Status enumerates the per-segment lifecycle states.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Modality selects which kind of asset a segment produces.
type Modality string

const (
	ModalityVideo Modality = "video"
	ModalityImage Modality = "image"
)

const (
	// DefaultAspectRatio is applied to segments created without an explicit ratio.
	DefaultAspectRatio = "16:9"
)

var aspectRatios = map[string]struct{}{
	"16:9": {},
	"9:16": {},
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
}

// ValidAspectRatio reports whether ratio is one of the supported output shapes.
func ValidAspectRatio(ratio string) bool {
	_, ok := aspectRatios[ratio]
	return ok
}

// NormalizeModality sanitizes free-form input into a supported modality.
func NormalizeModality(m string) Modality {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case string(ModalityImage):
		return ModalityImage
	default:
		return ModalityVideo
	}
}

// InputImage is an auxiliary image used to seed generation.
type InputImage struct {
	Data     []byte
	MIMEType string
	Filename string
}

// ResultHandle references a materialised asset. Handles are a manual resource
// and must be released through the HandleStore that allocated them.
type ResultHandle struct {
	Key      string `json:"key"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Backend  string `json:"backend,omitempty"`
}

// IsZero reports whether the handle references nothing.
func (h ResultHandle) IsZero() bool {
	return h.Key == ""
}

// Segment is one unit of generation work within a batch.
type Segment struct {
	ID                string
	Position          int
	Prompt            string
	Dialogue          string
	StartImage        *InputImage
	AspectRatio       string
	Modality          Modality
	ChainFromPrevious bool
	Status            Status
	Result            *ResultHandle
	Error             string
	UpdatedAt         time.Time
}

// Ready reports whether the segment carries enough input to be submitted.
func (s Segment) Ready() bool {
	return strings.TrimSpace(s.Prompt) != "" || s.StartImage != nil
}

// Clone returns a deep copy so snapshots can be handed out without sharing
// mutable pointers.
func (s Segment) Clone() Segment {
	out := s
	if s.StartImage != nil {
		img := *s.StartImage
		img.Data = append([]byte(nil), s.StartImage.Data...)
		out.StartImage = &img
	}
	if s.Result != nil {
		h := *s.Result
		out.Result = &h
	}
	return out
}

// SegmentInput carries user-editable fields used to create or import segments.
type SegmentInput struct {
	Prompt            string
	Dialogue          string
	StartImage        *InputImage
	AspectRatio       string
	Modality          Modality
	ChainFromPrevious bool
}

// NewSegment builds an idle segment with defaults applied.
func NewSegment(id string, in SegmentInput) Segment {
	ratio := strings.TrimSpace(in.AspectRatio)
	if ratio == "" {
		ratio = DefaultAspectRatio
	}
	modality := in.Modality
	if modality == "" {
		modality = ModalityVideo
	}
	return Segment{
		ID:                id,
		Prompt:            in.Prompt,
		Dialogue:          in.Dialogue,
		StartImage:        in.StartImage,
		AspectRatio:       ratio,
		Modality:          modality,
		ChainFromPrevious: in.ChainFromPrevious,
		Status:            StatusIdle,
		UpdatedAt:         time.Now().UTC(),
	}
}

// SegmentPatch describes a partial update. Nil fields are left untouched.
type SegmentPatch struct {
	Prompt            *string
	Dialogue          *string
	StartImage        *InputImage
	ClearStartImage   bool
	AspectRatio       *string
	Modality          *Modality
	ChainFromPrevious *bool
}

// Apply mutates s with the patch fields.
func (p SegmentPatch) Apply(s *Segment) {
	if p.Prompt != nil {
		s.Prompt = *p.Prompt
	}
	if p.Dialogue != nil {
		s.Dialogue = *p.Dialogue
	}
	if p.ClearStartImage {
		s.StartImage = nil
	}
	if p.StartImage != nil {
		s.StartImage = p.StartImage
	}
	if p.AspectRatio != nil {
		s.AspectRatio = *p.AspectRatio
	}
	if p.Modality != nil {
		s.Modality = *p.Modality
	}
	if p.ChainFromPrevious != nil {
		s.ChainFromPrevious = *p.ChainFromPrevious
	}
	s.UpdatedAt = time.Now().UTC()
}

// SubmitRequest is what the orchestrator hands to the submission adapter for a
// single segment.
type SubmitRequest struct {
	RunID    string
	Segment  Segment
	Previous *Segment
	OnPoll   func(attempt, max int)
}
