package genai

import (
	"net/http"
	"time"

	"studio/internal/infra"
)

// OptionsFromConfig maps the service configuration onto client options.
func OptionsFromConfig(cfg *infra.Config, apiKey string, logger *infra.Logger) Options {
	return Options{
		APIKey:       apiKey,
		BaseURL:      cfg.GeminiBaseURL,
		ImageModel:   cfg.GeminiImageModel,
		EditModel:    cfg.GeminiEditModel,
		VideoModel:   cfg.GeminiVideoModel,
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.MaxPolls,
		HTTPClient:   &http.Client{Timeout: 120 * time.Second},
		Logger:       logger,
	}
}
