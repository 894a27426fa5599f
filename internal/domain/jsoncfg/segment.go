package jsoncfg

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"studio/internal/domain"
)

const (
	// MaxPromptLength bounds prompt and dialogue text.
	MaxPromptLength = 4000
	// MaxStartImageBytes bounds decoded start images.
	MaxStartImageBytes = 20 << 20
)

// TooLong reports whether text exceeds MaxPromptLength characters.
func TooLong(text string) bool {
	return utf8.RuneCountInString(text) > MaxPromptLength
}

// ImageJSON carries an inline start image.
type ImageJSON struct {
	DataBase64 string `json:"data_base64"`
	MIMEType   string `json:"mime_type"`
	Filename   string `json:"filename,omitempty"`
}

// SegmentJSON is the wire contract used to create or import segments.
type SegmentJSON struct {
	Prompt            string     `json:"prompt"`
	Dialogue          string     `json:"dialogue,omitempty"`
	AspectRatio       string     `json:"aspect_ratio"`
	Modality          string     `json:"modality"`
	ChainFromPrevious bool       `json:"chain_from_previous"`
	StartImage        *ImageJSON `json:"start_image,omitempty"`
}

// Normalize applies server defaults.
func (s *SegmentJSON) Normalize() {
	if s == nil {
		return
	}
	s.AspectRatio = strings.TrimSpace(s.AspectRatio)
	if s.AspectRatio == "" {
		s.AspectRatio = domain.DefaultAspectRatio
	}
	s.Modality = string(domain.NormalizeModality(s.Modality))
}

// Validate checks the contract before the segment is stored.
func (s SegmentJSON) Validate() error {
	if TooLong(s.Prompt) {
		return fmt.Errorf("prompt must be at most %d characters", MaxPromptLength)
	}
	if TooLong(s.Dialogue) {
		return fmt.Errorf("dialogue must be at most %d characters", MaxPromptLength)
	}
	if !domain.ValidAspectRatio(s.AspectRatio) {
		return fmt.Errorf("aspect_ratio must be one of 16:9, 9:16, 1:1, 4:3, 3:4")
	}
	if s.StartImage != nil && strings.TrimSpace(s.StartImage.DataBase64) == "" {
		return fmt.Errorf("start_image.data_base64 is required when start_image is set")
	}
	return nil
}

// ToInput normalizes, validates and decodes the contract into a domain input.
func (s SegmentJSON) ToInput() (domain.SegmentInput, error) {
	s.Normalize()
	if err := s.Validate(); err != nil {
		return domain.SegmentInput{}, fmt.Errorf("%w: %v", domain.ErrInvalidSegment, err)
	}
	img, err := s.StartImage.decode()
	if err != nil {
		return domain.SegmentInput{}, err
	}
	return domain.SegmentInput{
		Prompt:            s.Prompt,
		Dialogue:          s.Dialogue,
		StartImage:        img,
		AspectRatio:       s.AspectRatio,
		Modality:          domain.Modality(s.Modality),
		ChainFromPrevious: s.ChainFromPrevious,
	}, nil
}

func (i *ImageJSON) decode() (*domain.InputImage, error) {
	if i == nil {
		return nil, nil
	}
	raw := strings.TrimSpace(i.DataBase64)
	// Accept data URLs as produced by browser file readers.
	if idx := strings.Index(raw, ";base64,"); strings.HasPrefix(raw, "data:") && idx > 0 {
		if i.MIMEType == "" {
			i.MIMEType = raw[len("data:"):idx]
		}
		raw = raw[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: start_image is not valid base64", domain.ErrInvalidSegment)
	}
	if len(data) > MaxStartImageBytes {
		return nil, fmt.Errorf("%w: start_image exceeds %d bytes", domain.ErrInvalidSegment, MaxStartImageBytes)
	}
	mime := strings.TrimSpace(i.MIMEType)
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: start_image must be an image, got %s", domain.ErrInvalidSegment, mime)
	}
	return &domain.InputImage{Data: data, MIMEType: mime, Filename: i.Filename}, nil
}

// PatchJSON is the partial update contract.
type PatchJSON struct {
	Prompt            *string    `json:"prompt"`
	Dialogue          *string    `json:"dialogue"`
	AspectRatio       *string    `json:"aspect_ratio"`
	Modality          *string    `json:"modality"`
	ChainFromPrevious *bool      `json:"chain_from_previous"`
	StartImage        *ImageJSON `json:"start_image"`
	ClearStartImage   bool       `json:"clear_start_image"`
}

// ToPatch validates and converts the update contract.
func (p PatchJSON) ToPatch() (domain.SegmentPatch, error) {
	var patch domain.SegmentPatch
	if p.Prompt != nil {
		if TooLong(*p.Prompt) {
			return patch, fmt.Errorf("%w: prompt must be at most %d characters", domain.ErrInvalidSegment, MaxPromptLength)
		}
		patch.Prompt = p.Prompt
	}
	if p.Dialogue != nil {
		if TooLong(*p.Dialogue) {
			return patch, fmt.Errorf("%w: dialogue must be at most %d characters", domain.ErrInvalidSegment, MaxPromptLength)
		}
		patch.Dialogue = p.Dialogue
	}
	if p.AspectRatio != nil {
		ratio := strings.TrimSpace(*p.AspectRatio)
		if !domain.ValidAspectRatio(ratio) {
			return patch, fmt.Errorf("%w: aspect_ratio must be one of 16:9, 9:16, 1:1, 4:3, 3:4", domain.ErrInvalidSegment)
		}
		patch.AspectRatio = &ratio
	}
	if p.Modality != nil {
		m := domain.NormalizeModality(*p.Modality)
		patch.Modality = &m
	}
	patch.ChainFromPrevious = p.ChainFromPrevious
	patch.ClearStartImage = p.ClearStartImage
	if p.StartImage != nil {
		img, err := p.StartImage.decode()
		if err != nil {
			return patch, err
		}
		patch.StartImage = img
	}
	return patch, nil
}
