package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	groqDefaultModel = "whisper-large-v3"
)

// GroqProvider transcribes through Groq's OpenAI-compatible Whisper endpoint.
type GroqProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GroqOption customizes a GroqProvider.
type GroqOption func(*GroqProvider)

// WithGroqBaseURL points the provider at another OpenAI-compatible host.
func WithGroqBaseURL(u string) GroqOption {
	return func(p *GroqProvider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithGroqHTTPClient sets the HTTP client.
func WithGroqHTTPClient(c *http.Client) GroqOption {
	return func(p *GroqProvider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// NewGroq creates a Groq STT provider.
func NewGroq(apiKey string, opts ...GroqOption) *GroqProvider {
	p := &GroqProvider{
		apiKey:     apiKey,
		baseURL:    groqBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (g *GroqProvider) Name() string {
	return "groq"
}

type groqTranscriptionResponse struct {
	Text     string   `json:"text"`
	Language string   `json:"language,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

// Transcribe uploads the clip and returns the trimmed transcript.
func (g *GroqProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	model := opts.Model
	if model == "" {
		model = groqDefaultModel
	}

	body, contentType, err := multipartAudio(audio, opts.Format, [][2]string{
		{"model", model},
		{"response_format", "verbose_json"},
		{"language", opts.Language},
		{"prompt", opts.Prompt},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("groq request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(g.Name(), resp)
	}

	var out groqTranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	t := &Transcript{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
	}
	if out.Duration != nil {
		t.Duration = *out.Duration
	}
	return t, nil
}
