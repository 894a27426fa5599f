package jsoncfg

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"studio/internal/domain"
)

func TestSegmentJSONNormalizeDefaults(t *testing.T) {
	s := &SegmentJSON{Prompt: "sunrise"}
	s.Normalize()
	if s.AspectRatio != domain.DefaultAspectRatio {
		t.Fatalf("AspectRatio = %q, want %q", s.AspectRatio, domain.DefaultAspectRatio)
	}
	if s.Modality != string(domain.ModalityVideo) {
		t.Fatalf("Modality = %q, want video", s.Modality)
	}
}

func TestSegmentJSONRejectsUnknownAspect(t *testing.T) {
	_, err := SegmentJSON{Prompt: "x", AspectRatio: "2:1"}.ToInput()
	if !errors.Is(err, domain.ErrInvalidSegment) {
		t.Fatalf("expected ErrInvalidSegment, got %v", err)
	}
}

func TestSegmentJSONDecodesDataURL(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	in, err := SegmentJSON{
		AspectRatio: "1:1",
		Modality:    "IMAGE",
		StartImage: &ImageJSON{
			DataBase64: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		},
	}.ToInput()
	if err != nil {
		t.Fatalf("ToInput: %v", err)
	}
	if in.StartImage == nil || in.StartImage.MIMEType != "image/png" {
		t.Fatalf("unexpected start image: %+v", in.StartImage)
	}
	if len(in.StartImage.Data) != len(png) {
		t.Fatalf("decoded %d bytes, want %d", len(in.StartImage.Data), len(png))
	}
	if in.Modality != domain.ModalityImage {
		t.Fatalf("Modality = %q, want image", in.Modality)
	}
}

func TestSegmentJSONRejectsNonImage(t *testing.T) {
	_, err := SegmentJSON{
		StartImage: &ImageJSON{DataBase64: base64.StdEncoding.EncodeToString([]byte("plain text")), MIMEType: "text/plain"},
	}.ToInput()
	if !errors.Is(err, domain.ErrInvalidSegment) {
		t.Fatalf("expected ErrInvalidSegment, got %v", err)
	}
}

func TestPatchJSONValidatesAspect(t *testing.T) {
	bad := "5:4"
	if _, err := (PatchJSON{AspectRatio: &bad}).ToPatch(); !errors.Is(err, domain.ErrInvalidSegment) {
		t.Fatalf("expected ErrInvalidSegment, got %v", err)
	}
	good := " 9:16 "
	patch, err := PatchJSON{AspectRatio: &good}.ToPatch()
	if err != nil {
		t.Fatalf("ToPatch: %v", err)
	}
	if patch.AspectRatio == nil || *patch.AspectRatio != "9:16" {
		t.Fatalf("AspectRatio not trimmed: %v", patch.AspectRatio)
	}
}

func TestPromptLimitCountsCharacters(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		wantErr bool
	}{
		{name: "multi-byte at limit", prompt: strings.Repeat("é", MaxPromptLength)},
		{name: "cjk at limit", prompt: strings.Repeat("夜", MaxPromptLength)},
		{name: "one over", prompt: strings.Repeat("é", MaxPromptLength+1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SegmentJSON{Prompt: tt.prompt}.ToInput()
			if tt.wantErr != (err != nil) {
				t.Fatalf("ToInput error = %v, wantErr %v", err, tt.wantErr)
			}
			prompt := tt.prompt
			_, err = PatchJSON{Prompt: &prompt}.ToPatch()
			if tt.wantErr != errors.Is(err, domain.ErrInvalidSegment) {
				t.Fatalf("ToPatch error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
