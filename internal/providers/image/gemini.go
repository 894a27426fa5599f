package image

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/providers/genai"
)

// SourceImage is an image the provider should transform rather than
// generate from scratch.
type SourceImage struct {
	Data     []byte
	MIME     string
	Filename string
}

// GenerateRequest describes a normalized request passed to any image provider.
type GenerateRequest struct {
	Prompt      string
	AspectRatio string
	RequestID   string
	SourceImage *SourceImage
}

// Asset represents a generated or edited image.
type Asset struct {
	Format string
	Data   []byte
}

// Generator is the contract implemented by all image providers.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}

type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

// Generate produces one image. A source image turns the request into an edit.
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	if src := req.SourceImage; src != nil && len(src.Data) > 0 {
		asset, err := g.client.EditImage(ctx, genai.EditJob{
			Prompt: req.Prompt,
			Image:  genai.Blob{Data: src.Data, MIMEType: src.MIME},
		})
		if err != nil {
			return nil, err
		}
		return &Asset{Format: asset.MIMEType, Data: asset.Data}, nil
	}

	assets, err := g.client.GenerateImages(ctx, genai.ImageJob{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Count:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: no image returned", domain.ErrService)
	}
	return &Asset{Format: assets[0].MIMEType, Data: assets[0].Data}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
