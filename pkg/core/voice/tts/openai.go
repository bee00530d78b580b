package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/audio"
)

const (
	openAIBaseURL      = "https://api.openai.com/v1"
	openAIDefaultModel = "tts-1"
	openAIDefaultVoice = "nova"
)

// OpenAIProvider streams speech from the OpenAI audio/speech endpoint.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI TTS provider. An empty baseURL selects the
// public API.
func NewOpenAI(apiKey, baseURL string, client *http.Client) *OpenAIProvider {
	if client == nil {
		client = &http.Client{}
	}
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAIProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// SynthesizeStream implements Provider. The response body is relayed as-is.
func (o *OpenAIProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*audio.Stream, error) {
	reqBody := openAISpeechRequest{
		Model:          opts.Model,
		Voice:          opts.Voice,
		Input:          text,
		ResponseFormat: getFormat(opts.Format),
		Speed:          opts.Speed,
	}
	if reqBody.Model == "" {
		reqBody.Model = openAIDefaultModel
	}
	if reqBody.Voice == "" {
		reqBody.Voice = openAIDefaultVoice
	}
	if reqBody.ResponseFormat == "raw" {
		reqBody.ResponseFormat = "pcm"
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: o.Name(), Err: err}
	}
	stream, err := audio.Relay(resp)
	if err != nil {
		return nil, &Error{Provider: o.Name(), Err: err}
	}
	return stream, nil
}
