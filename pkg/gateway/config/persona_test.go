package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadPersona_EmptyPathUsesDefaultPriming(t *testing.T) {
	p, err := LoadPersona("")
	if err != nil {
		t.Fatalf("LoadPersona() error = %v", err)
	}
	got := p.VoicePersona()
	want := voice.DefaultPriming()
	if len(got.Priming) != len(want) {
		t.Fatalf("priming len = %d, want %d", len(got.Priming), len(want))
	}
	for i := range want {
		if got.Priming[i] != want[i] {
			t.Fatalf("priming[%d] = %+v, want %+v", i, got.Priming[i], want[i])
		}
	}
}

func TestLoadPersona_YAML(t *testing.T) {
	path := writeTemp(t, "persona.yaml", `
system_prompt: |
  You are a concise history tutor.
priming:
  - role: user
    content: hello
  - role: model
    content: Ready.
voice: alloy
model: gemini-2.0-flash
prices:
  synthesis_per_million_chars: 30
`)

	p, err := LoadPersona(path)
	if err != nil {
		t.Fatalf("LoadPersona() error = %v", err)
	}
	vp := p.VoicePersona()
	if vp.SystemPrompt != "You are a concise history tutor." {
		t.Fatalf("SystemPrompt = %q", vp.SystemPrompt)
	}
	if len(vp.Priming) != 2 || vp.Priming[0] != types.UserTurn("hello") || vp.Priming[1] != types.AgentTurn("Ready.") {
		t.Fatalf("Priming = %+v", vp.Priming)
	}

	cfg := Config{TTSVoice: "nova", LLMModel: "gemini-1.5-flash"}
	cfg.Prices.SynthesisPerMillionChars = 15
	cfg.Prices.LLMInputPerMillionTokens = 1.25
	p.Apply(&cfg)
	if cfg.TTSVoice != "alloy" || cfg.LLMModel != "gemini-2.0-flash" {
		t.Fatalf("overrides = %q/%q", cfg.TTSVoice, cfg.LLMModel)
	}
	if cfg.Prices.SynthesisPerMillionChars != 30 || cfg.Prices.LLMInputPerMillionTokens != 1.25 {
		t.Fatalf("Prices = %+v", cfg.Prices)
	}
}

func TestLoadPersona_JSON(t *testing.T) {
	path := writeTemp(t, "persona.json", `{"system_prompt":"Be brief.","priming":[{"role":"user","content":"hi"},{"role":"assistant","content":"Hi."}]}`)

	p, err := LoadPersona(path)
	if err != nil {
		t.Fatalf("LoadPersona() error = %v", err)
	}
	vp := p.VoicePersona()
	if vp.SystemPrompt != "Be brief." || len(vp.Priming) != 2 || vp.Priming[1].Role != types.RoleAgent {
		t.Fatalf("persona = %+v", vp)
	}
}

func TestLoadPersona_RejectsUnknownRole(t *testing.T) {
	path := writeTemp(t, "persona.yml", `
priming:
  - role: system
    content: nope
`)
	_, err := LoadPersona(path)
	if err == nil || !strings.Contains(err.Error(), "priming[0]") {
		t.Fatalf("LoadPersona() error = %v, want priming[0] error", err)
	}
}

func TestLoadPersona_MissingFile(t *testing.T) {
	_, err := LoadPersona(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read persona") {
		t.Fatalf("LoadPersona() error = %v", err)
	}
}
