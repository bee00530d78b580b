package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v2"

	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice"
)

// Persona is the on-disk agent definition. Voice and Model override the
// VOICE_TTS_VOICE and VOICE_LLM_MODEL settings when set.
type Persona struct {
	SystemPrompt string         `json:"system_prompt" yaml:"system_prompt"`
	Priming      []PrimingTurn  `json:"priming" yaml:"priming"`
	Voice        string         `json:"voice,omitempty" yaml:"voice,omitempty"`
	Model        string         `json:"model,omitempty" yaml:"model,omitempty"`
	Prices       *PersonaPrices `json:"prices,omitempty" yaml:"prices,omitempty"`
}

type PrimingTurn struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// PersonaPrices lets a persona carry the list prices of the models it names.
type PersonaPrices struct {
	LLMInputPerMillionTokens  *float64 `json:"llm_input_per_million_tokens,omitempty" yaml:"llm_input_per_million_tokens,omitempty"`
	LLMOutputPerMillionTokens *float64 `json:"llm_output_per_million_tokens,omitempty" yaml:"llm_output_per_million_tokens,omitempty"`
	TranscriptionPerHour      *float64 `json:"transcription_per_hour,omitempty" yaml:"transcription_per_hour,omitempty"`
	SynthesisPerMillionChars  *float64 `json:"synthesis_per_million_chars,omitempty" yaml:"synthesis_per_million_chars,omitempty"`
}

// LoadPersona reads a persona from a YAML or JSON file. An empty path yields
// the default persona with the stock priming exchange.
func LoadPersona(path string) (*Persona, error) {
	if path == "" {
		return DefaultPersona(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona: %w", err)
	}

	p := &Persona{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse json persona: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse yaml persona: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, p); err != nil {
			if jerr := json.Unmarshal(data, p); jerr != nil {
				return nil, fmt.Errorf("unsupported persona format: %s", ext)
			}
		}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultPersona has no system prompt and primes with voice.DefaultPriming.
func DefaultPersona() *Persona {
	p := &Persona{}
	for _, t := range voice.DefaultPriming() {
		p.Priming = append(p.Priming, PrimingTurn{Role: t.Role.String(), Content: t.Content})
	}
	return p
}

func (p *Persona) validate() error {
	for i, t := range p.Priming {
		if _, err := types.ParseRole(t.Role); err != nil {
			return fmt.Errorf("persona priming[%d]: %w", i, err)
		}
		if strings.TrimSpace(t.Content) == "" {
			return fmt.Errorf("persona priming[%d]: content must not be empty", i)
		}
	}
	return nil
}

// VoicePersona converts p into the pipeline's form. An empty priming list
// falls back to voice.DefaultPriming.
func (p *Persona) VoicePersona() voice.Persona {
	out := voice.Persona{SystemPrompt: strings.TrimSpace(p.SystemPrompt)}
	for _, t := range p.Priming {
		role, err := types.ParseRole(t.Role)
		if err != nil {
			continue
		}
		out.Priming = append(out.Priming, types.Turn{Role: role, Content: t.Content})
	}
	if len(out.Priming) == 0 {
		out.Priming = voice.DefaultPriming()
	}
	return out
}

// Apply folds the persona's overrides into cfg.
func (p *Persona) Apply(cfg *Config) {
	if p.Voice != "" {
		cfg.TTSVoice = p.Voice
	}
	if p.Model != "" {
		cfg.LLMModel = p.Model
	}
	if p.Prices == nil {
		return
	}
	set := func(dst *float64, v *float64) {
		if v != nil && *v >= 0 {
			*dst = *v
		}
	}
	set(&cfg.Prices.LLMInputPerMillionTokens, p.Prices.LLMInputPerMillionTokens)
	set(&cfg.Prices.LLMOutputPerMillionTokens, p.Prices.LLMOutputPerMillionTokens)
	set(&cfg.Prices.TranscriptionPerHour, p.Prices.TranscriptionPerHour)
	set(&cfg.Prices.SynthesisPerMillionChars, p.Prices.SynthesisPerMillionChars)
}
