// Package frames pulls still images out of generated clips so a following
// segment can continue from where the previous one ended.
package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Extractor returns the final frame of a clip as an encoded image.
type Extractor interface {
	LastFrame(ctx context.Context, clip []byte) ([]byte, string, error)
}

// FFmpeg shells out to an ffmpeg binary.
type FFmpeg struct {
	path string
}

// NewFFmpeg uses path, or "ffmpeg" from PATH when empty.
func NewFFmpeg(path string) *FFmpeg {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path}
}

// FFmpegPath reports the binary in use.
func (f *FFmpeg) FFmpegPath() string {
	return f.path
}

// LastFrame seeks to just before the end of the clip and encodes one JPEG.
func (f *FFmpeg) LastFrame(ctx context.Context, clip []byte) ([]byte, string, error) {
	if len(clip) == 0 {
		return nil, "", errors.New("frames: empty clip")
	}
	tmp, err := os.CreateTemp("", "segment-*.mp4")
	if err != nil {
		return nil, "", fmt.Errorf("frames: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(clip); err != nil {
		tmp.Close()
		return nil, "", fmt.Errorf("frames: write clip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, "", fmt.Errorf("frames: close clip: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, lastFrameArgs(tmp.Name())...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("frames: ffmpeg: %w: %s", err, lastLine(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, "", errors.New("frames: ffmpeg produced no frame")
	}
	return stdout.Bytes(), "image/jpeg", nil
}

func lastFrameArgs(input string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-sseof", "-0.1",
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

var _ Extractor = (*FFmpeg)(nil)
