package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

const (
	DefaultModel           = "gemini-1.5-flash"
	DefaultMaxOutputTokens = 200
	DefaultTemperature     = 1.0
)

var _ Generator = (*Gemini)(nil)

// Gemini implements Generator with the Google Gemini API.
type Gemini struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
	temperature     float32
}

type geminiConfig struct {
	model           string
	maxOutputTokens int32
	temperature     float32
	baseURL         string
	httpClient      *http.Client
}

// Option configures a Gemini generator.
type Option func(*geminiConfig)

// WithModel sets the model ID. Default is gemini-1.5-flash.
func WithModel(model string) Option {
	return func(c *geminiConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxOutputTokens caps reply length.
func WithMaxOutputTokens(n int) Option {
	return func(c *geminiConfig) {
		if n > 0 {
			c.maxOutputTokens = int32(n)
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *geminiConfig) {
		if t >= 0 {
			c.temperature = float32(t)
		}
	}
}

// WithBaseURL points the SDK at another endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(c *geminiConfig) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *geminiConfig) { c.httpClient = hc }
}

// NewGemini creates a Gemini generator with the given API key.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	cfg := geminiConfig{
		model:           DefaultModel,
		maxOutputTokens: DefaultMaxOutputTokens,
		temperature:     DefaultTemperature,
	}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &Gemini{
		client:          gc,
		model:           cfg.model,
		maxOutputTokens: cfg.maxOutputTokens,
		temperature:     cfg.temperature,
	}, nil
}

// Name returns the provider identifier.
func (g *Gemini) Name() string {
	return "gemini"
}

// Generate sends the history and returns the first candidate's text.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, ConvertTurns(req.History), g.buildConfig(req.System))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return nil, ErrEmptyReply
	}

	out := &Response{Text: text, Model: g.model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	return out, nil
}

func (g *Gemini) buildConfig(system string) *genai.GenerateContentConfig {
	temp := g.temperature
	config := &genai.GenerateContentConfig{
		CandidateCount:  1,
		MaxOutputTokens: g.maxOutputTokens,
		Temperature:     &temp,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	return config
}

// ConvertTurns converts conversation turns to genai Contents.
// Exported for testing.
func ConvertTurns(turns []types.Turn) []*genai.Content {
	result := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		result = append(result, &genai.Content{
			Role:  t.Role.String(),
			Parts: []*genai.Part{{Text: t.Content}},
		})
	}
	return result
}

// responseText joins the text parts of the first candidate, skipping
// thought parts.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
