package submit

import (
	"studio/internal/domain"
	"studio/internal/frames"
	"studio/internal/infra"
	"studio/internal/providers/genai"
	"studio/internal/providers/image"
	"studio/internal/providers/video"
)

// NewGemini builds a submitter backed by one Gemini client for both stills
// and video. It fails with domain.ErrMissingCredential when the key is empty.
func NewGemini(client genai.Options, handles domain.HandleStore, extractor frames.Extractor, logger *infra.Logger) (*Submitter, error) {
	c, err := genai.NewClient(client)
	if err != nil {
		return nil, err
	}
	return New(Options{
		Images:  image.NewGeminiGenerator(c),
		Videos:  video.NewGeminiGenerator(c),
		Handles: handles,
		Frames:  extractor,
		Logger:  logger,
	})
}
