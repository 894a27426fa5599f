package genai

import "encoding/base64"

// Blob is inline binary input.
type Blob struct {
	Data     []byte
	MIMEType string
}

func (b Blob) inline() *geminiInlineData {
	return &geminiInlineData{MimeType: b.MIMEType, Data: encodeBase64(b.Data)}
}

// ImageJob requests still images from a prompt.
type ImageJob struct {
	Prompt      string
	AspectRatio string
	Count       int
}

// EditJob asks the multimodal model to transform an existing image.
type EditJob struct {
	Prompt string
	Image  Blob
}

// VideoJob requests a single video clip, optionally seeded by Image.
type VideoJob struct {
	Prompt      string
	Image       *Blob
	AspectRatio string
	Dialogue    string
}

// Asset is a materialised result payload.
type Asset struct {
	Data     []byte
	MIMEType string
	URI      string
}

// Operation is a long-running job handle.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *OperationError    `json:"error,omitempty"`
	Response *operationResponse `json:"response,omitempty"`
}

// OperationError is reported by the service when a job fails.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type operationResponse struct {
	GenerateVideoResponse struct {
		GeneratedSamples []struct {
			Video struct {
				URI string `json:"uri"`
			} `json:"video"`
		} `json:"generatedSamples"`
	} `json:"generateVideoResponse"`
}

// VideoURI returns the first generated video locator, if any.
func (o *Operation) VideoURI() string {
	if o == nil || o.Response == nil {
		return ""
	}
	for _, s := range o.Response.GenerateVideoResponse.GeneratedSamples {
		if s.Video.URI != "" {
			return s.Video.URI
		}
	}
	return ""
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string      `json:"prompt,omitempty"`
	Image  *imageBytes `json:"image,omitempty"`
	Speech *speech     `json:"speech,omitempty"`
}

type imageBytes struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}

type speech struct {
	TTS tts `json:"tts"`
}

type tts struct {
	Text string `json:"text"`
}

type predictParameters struct {
	SampleCount    int    `json:"sampleCount,omitempty"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	OutputMimeType string `json:"outputMimeType,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type generateContentRequest struct {
	Contents         []geminiContent   `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
