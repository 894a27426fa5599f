package video

import (
	"context"

	"studio/internal/providers/genai"
)

type StartImage struct {
	Data []byte
	MIME string
}

type GenerateRequest struct {
	Prompt      string
	AspectRatio string
	Dialogue    string
	RequestID   string
	StartImage  *StartImage
	// OnPoll is called before every status check of the long-running job.
	OnPoll func(attempt, max int)
}

type Asset struct {
	URL    string
	Format string
	Data   []byte
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}

type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	job := genai.VideoJob{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Dialogue:    req.Dialogue,
	}
	if req.StartImage != nil && len(req.StartImage.Data) > 0 {
		job.Image = &genai.Blob{Data: req.StartImage.Data, MIMEType: req.StartImage.MIME}
	}
	asset, err := g.client.GenerateVideo(ctx, job, req.OnPoll)
	if err != nil {
		return nil, err
	}
	return &Asset{
		URL:    asset.URI,
		Format: asset.MIMEType,
		Data:   asset.Data,
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
