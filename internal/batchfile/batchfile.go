// Package batchfile loads segment batches described in TOML, used by the
// local segrun command.
package batchfile

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"studio/internal/domain"
	"studio/internal/domain/jsoncfg"
)

// SegmentConfig is one [[segment]] table.
type SegmentConfig struct {
	Prompt            string `toml:"prompt"`
	Dialogue          string `toml:"dialogue"`
	AspectRatio       string `toml:"aspect_ratio"`
	Modality          string `toml:"modality"`
	ChainFromPrevious bool   `toml:"chain_from_previous"`
	StartImage        string `toml:"start_image"`
}

// File is a parsed batch file.
type File struct {
	ChainPolicy string          `toml:"chain_policy"`
	OutputDir   string          `toml:"output_dir"`
	Segments    []SegmentConfig `toml:"segment"`

	dir string
}

// Validate checks every segment and applies defaults.
func (c *SegmentConfig) Validate() error {
	c.AspectRatio = strings.TrimSpace(c.AspectRatio)
	if c.AspectRatio == "" {
		c.AspectRatio = domain.DefaultAspectRatio
	}
	if !domain.ValidAspectRatio(c.AspectRatio) {
		return fmt.Errorf("unsupported aspect_ratio %q", c.AspectRatio)
	}
	c.Modality = string(domain.NormalizeModality(c.Modality))
	if jsoncfg.TooLong(c.Prompt) || jsoncfg.TooLong(c.Dialogue) {
		return fmt.Errorf("prompt and dialogue must be at most %d characters", jsoncfg.MaxPromptLength)
	}
	return nil
}

// Load reads and validates a batch file. Relative start_image paths resolve
// against the file's directory.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes and validates TOML content.
func Parse(data []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Segments) == 0 {
		return nil, fmt.Errorf("no [[segment]] entries")
	}
	switch f.ChainPolicy {
	case "", "strict", "lenient":
	default:
		return nil, fmt.Errorf("chain_policy must be strict or lenient, got %q", f.ChainPolicy)
	}
	for i := range f.Segments {
		if err := f.Segments[i].Validate(); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return &f, nil
}

// Inputs converts the segments into workspace inputs, reading start images
// from disk.
func (f *File) Inputs() ([]domain.SegmentInput, error) {
	out := make([]domain.SegmentInput, 0, len(f.Segments))
	for i, s := range f.Segments {
		in := domain.SegmentInput{
			Prompt:            s.Prompt,
			Dialogue:          s.Dialogue,
			AspectRatio:       s.AspectRatio,
			Modality:          domain.Modality(s.Modality),
			ChainFromPrevious: s.ChainFromPrevious,
		}
		if s.StartImage != "" {
			img, err := f.readImage(s.StartImage)
			if err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
			in.StartImage = img
		}
		out = append(out, in)
	}
	return out, nil
}

// Dir is the directory the file was loaded from.
func (f *File) Dir() string {
	return f.dir
}

func (f *File) readImage(path string) (*domain.InputImage, error) {
	if !filepath.IsAbs(path) && f.dir != "" {
		path = filepath.Join(f.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read start image: %w", err)
	}
	if len(data) > jsoncfg.MaxStartImageBytes {
		return nil, fmt.Errorf("start image %s exceeds %d bytes", path, jsoncfg.MaxStartImageBytes)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("start image %s is %s, not an image", path, mime)
	}
	return &domain.InputImage{Data: data, MIMEType: mime, Filename: filepath.Base(path)}, nil
}
