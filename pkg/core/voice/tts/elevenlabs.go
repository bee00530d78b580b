package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/audio"
)

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
)

type ElevenLabsProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return NewElevenLabsWithClient(apiKey, nil)
}

func NewElevenLabsWithClient(apiKey string, client *http.Client) *ElevenLabsProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &ElevenLabsProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    elevenLabsBaseURL,
		httpClient: client,
	}
}

func (e *ElevenLabsProvider) WithBaseURL(base string) *ElevenLabsProvider {
	if e == nil {
		return e
	}
	base = strings.TrimSpace(base)
	if base != "" {
		e.baseURL = strings.TrimRight(base, "/")
	}
	return e
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

type elevenLabsRequest struct {
	Text         string              `json:"text"`
	ModelID      string              `json:"model_id"`
	LanguageCode string              `json:"language_code,omitempty"`
	Settings     *elevenLabsSettings `json:"voice_settings,omitempty"`
}

type elevenLabsSettings struct {
	Speed float64 `json:"speed,omitempty"`
}

func (e *ElevenLabsProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*audio.Stream, error) {
	if e == nil || e.apiKey == "" {
		return nil, &Error{Provider: "elevenlabs", Err: fmt.Errorf("api key is required")}
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		return nil, &Error{Provider: e.Name(), Err: fmt.Errorf("voice id is required")}
	}

	reqBody := elevenLabsRequest{
		Text:         text,
		ModelID:      opts.Model,
		LanguageCode: opts.Language,
	}
	if reqBody.ModelID == "" {
		reqBody.ModelID = elevenLabsDefaultModel
	}
	if opts.Speed != 0 {
		reqBody.Settings = &elevenLabsSettings{Speed: opts.Speed}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream?" +
		url.Values{"output_format": {elevenLabsOutputFormat(opts)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", contentType(opts.Format))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: e.Name(), Err: err}
	}
	stream, err := audio.Relay(resp)
	if err != nil {
		return nil, &Error{Provider: e.Name(), Err: err}
	}
	return stream, nil
}

func elevenLabsOutputFormat(opts SynthesizeOptions) string {
	switch getFormat(opts.Format) {
	case "pcm", "raw", "wav":
		rate := opts.SampleRate
		if rate == 0 {
			rate = 24000
		}
		return fmt.Sprintf("pcm_%d", rate)
	default:
		return "mp3_44100_128"
	}
}
