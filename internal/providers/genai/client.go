package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"studio/internal/domain"
	"studio/internal/infra"
)

const (
	DefaultBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	DefaultImageModel   = "imagen-4.0-generate-001"
	DefaultEditModel    = "gemini-2.5-flash-image-preview"
	DefaultVideoModel   = "veo-2.0-generate-001"
	DefaultPollInterval = 10 * time.Second
	DefaultMaxPolls     = 30
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey       string
	BaseURL      string
	ImageModel   string
	EditModel    string
	VideoModel   string
	PollInterval time.Duration
	MaxPolls     int
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Client talks to the Gemini REST surface used for still images, image edits
// and long-running video operations.
type Client struct {
	apiKey       string
	baseURL      string
	imageModel   string
	editModel    string
	videoModel   string
	pollInterval time.Duration
	maxPolls     int
	httpClient   *http.Client
	logger       *infra.Logger
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, domain.ErrMissingCredential
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxPolls := opts.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		imageModel:   firstNonEmpty(opts.ImageModel, DefaultImageModel),
		editModel:    firstNonEmpty(opts.EditModel, DefaultEditModel),
		videoModel:   firstNonEmpty(opts.VideoModel, DefaultVideoModel),
		pollInterval: interval,
		maxPolls:     maxPolls,
		httpClient:   client,
		logger:       logger,
	}, nil
}

// GenerateImages runs an Imagen prediction. The call is synchronous.
func (c *Client) GenerateImages(ctx context.Context, job ImageJob) ([]Asset, error) {
	count := job.Count
	if count <= 0 {
		count = 1
	}
	payload := predictRequest{
		Instances: []predictInstance{{Prompt: normalizePrompt(job.Prompt)}},
		Parameters: predictParameters{
			SampleCount:    count,
			AspectRatio:    job.AspectRatio,
			OutputMimeType: "image/jpeg",
		},
	}

	var resp predictResponse
	if err := c.invokeGemini(ctx, c.modelPath(c.imageModel, "predict"), payload, &resp); err != nil {
		return nil, err
	}

	assets := make([]Asset, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		if p.BytesBase64Encoded == "" {
			continue
		}
		data, err := decodeBase64(p.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: decode image: %v", domain.ErrService, err)
		}
		assets = append(assets, Asset{Data: data, MIMEType: firstNonEmpty(p.MimeType, "image/jpeg")})
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: image generation returned no images", domain.ErrService)
	}

	c.logger.Debug().Str("model", c.imageModel).Int("count", len(assets)).Msg("genai: generated images")
	return assets, nil
}

// EditImage sends an inline image plus instruction to the multimodal model and
// returns the first image part of the answer.
func (c *Client) EditImage(ctx context.Context, job EditJob) (*Asset, error) {
	if len(job.Image.Data) == 0 {
		return nil, fmt.Errorf("%w: edit requires an input image", domain.ErrService)
	}
	parts := []geminiPart{{InlineData: job.Image.inline()}}
	if prompt := normalizePrompt(job.Prompt); prompt != "" {
		parts = append(parts, geminiPart{Text: prompt})
	}
	payload := generateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}

	var resp generateContentResponse
	if err := c.invokeGemini(ctx, c.modelPath(c.editModel, "generateContent"), payload, &resp); err != nil {
		return nil, err
	}
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := decodeBase64(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: decode edited image: %v", domain.ErrService, err)
			}
			return &Asset{Data: data, MIMEType: firstNonEmpty(part.InlineData.MimeType, "image/png")}, nil
		}
	}
	return nil, fmt.Errorf("%w: image edit returned no image", domain.ErrService)
}

// StartVideo submits a Veo job and returns the long-running operation.
func (c *Client) StartVideo(ctx context.Context, job VideoJob) (*Operation, error) {
	instance := predictInstance{Prompt: normalizePrompt(job.Prompt)}
	if job.Image != nil && len(job.Image.Data) > 0 {
		instance.Image = &imageBytes{
			BytesBase64Encoded: encodeBase64(job.Image.Data),
			MimeType:           job.Image.MIMEType,
		}
	}
	if dialogue := normalizePrompt(job.Dialogue); dialogue != "" {
		instance.Speech = &speech{TTS: tts{Text: dialogue}}
	}
	payload := predictRequest{
		Instances: []predictInstance{instance},
		Parameters: predictParameters{
			SampleCount: 1,
			AspectRatio: job.AspectRatio,
		},
	}

	var op Operation
	if err := c.invokeGemini(ctx, c.modelPath(c.videoModel, "predictLongRunning"), payload, &op); err != nil {
		return nil, err
	}
	if op.Name == "" && !op.Done {
		return nil, fmt.Errorf("%w: video submission returned no operation", domain.ErrService)
	}
	c.logger.Debug().Str("model", c.videoModel).Str("operation", op.Name).Msg("genai: video operation started")
	return &op, nil
}

// GetOperation re-queries a long-running operation.
func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	if err := c.call(ctx, http.MethodGet, "/"+strings.TrimLeft(name, "/"), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// WaitForOperation sleeps PollInterval between status checks until the
// operation is done or MaxPolls checks have been spent. ctx is honoured at
// every wake-up. onPoll, when set, is told about each attempt.
func (c *Client) WaitForOperation(ctx context.Context, op *Operation, onPoll func(attempt, max int)) (*Operation, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", domain.ErrService)
	}
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	current := op
	for attempt := 1; !current.Done; attempt++ {
		if attempt > c.maxPolls {
			return nil, fmt.Errorf("%w: operation %s not done after %d polls", domain.ErrTimeout, current.Name, c.maxPolls)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(attempt, c.maxPolls)
		}
		next, err := c.GetOperation(ctx, current.Name)
		if err != nil {
			return nil, err
		}
		if next.Name == "" {
			next.Name = current.Name
		}
		current = next
		timer.Reset(c.pollInterval)
	}

	if current.Error != nil && (current.Error.Message != "" || current.Error.Code != 0) {
		return nil, fmt.Errorf("%w: operation failed (code %d): %s", domain.ErrService, current.Error.Code, current.Error.Message)
	}
	return current, nil
}

// GenerateVideo starts, waits for and downloads one video.
func (c *Client) GenerateVideo(ctx context.Context, job VideoJob, onPoll func(attempt, max int)) (*Asset, error) {
	op, err := c.StartVideo(ctx, job)
	if err != nil {
		return nil, err
	}
	done, err := c.WaitForOperation(ctx, op, onPoll)
	if err != nil {
		return nil, err
	}
	uri := done.VideoURI()
	if uri == "" {
		return nil, fmt.Errorf("%w: operation %s finished without a video locator", domain.ErrDownload, done.Name)
	}
	data, mime, err := c.Download(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &Asset{Data: data, MIMEType: firstNonEmpty(mime, "video/mp4"), URI: uri}, nil
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

func (c *Client) modelPath(model, method string) string {
	return fmt.Sprintf("/models/%s:%s", url.PathEscape(model), method)
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	return c.call(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any) error {
	endpoint := c.baseURL + path
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: invoke gemini: %v", domain.ErrService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%w: gemini status %d: %s", domain.ErrService, resp.StatusCode, apiErr.Error.Message)
		}
		if len(data) > 0 {
			return fmt.Errorf("%w: gemini status %d: %s", domain.ErrService, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("%w: gemini status %d", domain.ErrService, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode gemini response: %v", domain.ErrService, err)
	}
	return nil
}

// Download fetches a result locator with the API credential attached.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, string, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, "", fmt.Errorf("%w: missing locator", domain.ErrDownload)
	}
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: create download request: %v", domain.ErrDownload, err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("%w: %v", domain.ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("%w: status %d: %s", domain.ErrDownload, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: read body: %v", domain.ErrDownload, err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func (c *Client) authorize(req *http.Request) {
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("x-goog-api-key", c.apiKey)
}

func normalizePrompt(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
