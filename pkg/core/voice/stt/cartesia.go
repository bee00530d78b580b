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
	cartesiaBaseURL      = "https://api.cartesia.ai"
	cartesiaVersion      = "2025-04-16"
	cartesiaDefaultModel = "ink-whisper"
)

// CartesiaProvider implements Provider using Cartesia's batch STT endpoint.
type CartesiaProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewCartesia creates a new Cartesia STT provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return NewCartesiaWithClient(apiKey, &http.Client{})
}

// NewCartesiaWithClient creates a new Cartesia STT provider with a custom HTTP client.
func NewCartesiaWithClient(apiKey string, client *http.Client) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey:     apiKey,
		baseURL:    cartesiaBaseURL,
		httpClient: client,
	}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// Transcribe converts audio to text using Cartesia's STT API.
func (c *CartesiaProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	model := opts.Model
	if model == "" {
		model = cartesiaDefaultModel
	}

	body, contentType, err := multipartAudio(audio, opts.Format, [][2]string{
		{"model", model},
		{"language", opts.Language},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(c.Name(), resp)
	}

	var cartesiaResp cartesiaTranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cartesiaResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return cartesiaResp.transcript(), nil
}

type cartesiaTranscriptionResponse struct {
	Text     string   `json:"text"`
	Language *string  `json:"language,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

func (r cartesiaTranscriptionResponse) transcript() *Transcript {
	t := &Transcript{Text: strings.TrimSpace(r.Text)}
	if r.Language != nil {
		t.Language = *r.Language
	}
	if r.Duration != nil {
		t.Duration = *r.Duration
	}
	return t
}
