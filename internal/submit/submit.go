// Package submit turns one segment into a finished, stored asset: it picks the
// job kind from the segment's modality, resolves chaining seeds, runs the
// provider and materialises the payload through the handle store.
package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/frames"
	"studio/internal/infra"
	"studio/internal/providers/image"
	"studio/internal/providers/video"
)

// Options wires the submitter.
type Options struct {
	Images  image.Generator
	Videos  video.Generator
	Handles domain.HandleStore
	Frames  frames.Extractor
	Logger  *infra.Logger
}

// Submitter implements the orchestrator's single-job adapter.
type Submitter struct {
	images  image.Generator
	videos  video.Generator
	handles domain.HandleStore
	frames  frames.Extractor
	logger  *infra.Logger
}

// New validates opts.
func New(opts Options) (*Submitter, error) {
	if opts.Handles == nil {
		return nil, errors.New("submit: handle store is required")
	}
	if opts.Images == nil && opts.Videos == nil {
		return nil, errors.New("submit: at least one generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Submitter{
		images:  opts.Images,
		videos:  opts.Videos,
		handles: opts.Handles,
		frames:  opts.Frames,
		logger:  logger,
	}, nil
}

// Submit runs the full lifecycle for req.Segment and returns the stored handle.
func (s *Submitter) Submit(ctx context.Context, req domain.SubmitRequest) (domain.ResultHandle, error) {
	seg := req.Segment
	start := seg.StartImage
	if req.Previous != nil {
		seed, err := s.seed(ctx, *req.Previous)
		if err != nil {
			return domain.ResultHandle{}, err
		}
		start = seed
	}

	var (
		data []byte
		mime string
	)
	switch seg.Modality {
	case domain.ModalityImage:
		if s.images == nil {
			return domain.ResultHandle{}, fmt.Errorf("%w: image generation is not configured", domain.ErrService)
		}
		genReq := image.GenerateRequest{
			Prompt:      seg.Prompt,
			AspectRatio: seg.AspectRatio,
			RequestID:   req.RunID,
		}
		if start != nil {
			genReq.SourceImage = &image.SourceImage{Data: start.Data, MIME: start.MIMEType, Filename: start.Filename}
		}
		asset, err := s.images.Generate(ctx, genReq)
		if err != nil {
			return domain.ResultHandle{}, err
		}
		data, mime = asset.Data, firstNonEmpty(asset.Format, "image/jpeg")
	default:
		if s.videos == nil {
			return domain.ResultHandle{}, fmt.Errorf("%w: video generation is not configured", domain.ErrService)
		}
		genReq := video.GenerateRequest{
			Prompt:      seg.Prompt,
			AspectRatio: seg.AspectRatio,
			Dialogue:    seg.Dialogue,
			RequestID:   req.RunID,
			OnPoll:      req.OnPoll,
		}
		if start != nil {
			genReq.StartImage = &video.StartImage{Data: start.Data, MIME: start.MIMEType}
		}
		asset, err := s.videos.Generate(ctx, genReq)
		if err != nil {
			return domain.ResultHandle{}, err
		}
		data, mime = asset.Data, firstNonEmpty(asset.Format, "video/mp4")
	}

	if len(data) == 0 {
		return domain.ResultHandle{}, fmt.Errorf("%w: empty payload", domain.ErrDownload)
	}
	key := fmt.Sprintf("runs/%s/%s-%s%s", safe(req.RunID), safe(seg.ID), uuid.NewString()[:8], extension(mime))
	h, err := s.handles.Allocate(ctx, key, data, mime)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ResultHandle{}, ctxErr
		}
		return domain.ResultHandle{}, fmt.Errorf("%w: store result: %v", domain.ErrDownload, err)
	}
	s.logger.Debug().Str("segment_id", seg.ID).Str("key", h.Key).Int64("size", h.Size).Msg("submit: result stored")
	return h, nil
}

// seed derives a start image from the predecessor's result. Images are used
// as-is, videos contribute their last frame.
func (s *Submitter) seed(ctx context.Context, prev domain.Segment) (*domain.InputImage, error) {
	if prev.Result == nil || prev.Result.IsZero() {
		return nil, fmt.Errorf("%w: predecessor %s has no result", domain.ErrDependencyNotReady, prev.ID)
	}
	rc, err := s.handles.Open(ctx, *prev.Result)
	if err != nil {
		return nil, fmt.Errorf("%w: open predecessor result: %v", domain.ErrDependencyNotReady, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read predecessor result: %v", domain.ErrDependencyNotReady, err)
	}

	if strings.HasPrefix(prev.Result.MIMEType, "image/") {
		return &domain.InputImage{Data: data, MIMEType: prev.Result.MIMEType}, nil
	}
	if s.frames == nil {
		return nil, fmt.Errorf("%w: no frame extractor for video predecessor", domain.ErrDependencyNotReady)
	}
	frame, mime, err := s.frames.LastFrame(ctx, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: extract last frame: %v", domain.ErrDependencyNotReady, err)
	}
	return &domain.InputImage{Data: frame, MIMEType: mime, Filename: prev.ID + "-last.jpg"}, nil
}

func extension(mime string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])) {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

func safe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "local"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
