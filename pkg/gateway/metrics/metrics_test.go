package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/cost"
	"github.com/vango-go/vai-voice/pkg/core/voice"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	return string(body)
}

func TestMetrics_ObserveTurnOutcomes(t *testing.T) {
	m := New("test")
	var _ voice.Observer = m

	m.ObserveStage(voice.StageTranscribed, 250*time.Millisecond)
	m.ObserveTurn(&voice.TurnResult{
		Stage: voice.StageSynthesized,
		Cost:  cost.Compute(1000, 500, 30, "hello"),
	}, nil)
	m.ObserveTurn(&voice.TurnResult{
		Stage:           voice.StageCostComputed,
		SynthesisFailed: true,
	}, nil)
	m.ObserveTurn(&voice.TurnResult{Stage: voice.StageFailed}, &voice.StageError{
		Stage: voice.StageSessionResolved,
		Err:   core.NewInvalidAudioError("Invalid audio"),
	})

	out := scrape(t, m)
	for _, want := range []string{
		`test_turns_total{outcome="ok",stage="synthesized"} 1`,
		`test_turns_total{outcome="degraded",stage="cost_computed"} 1`,
		`test_turns_total{outcome="failed",stage="session_resolved"} 1`,
		`test_errors_total{error_type="invalid_audio_error"} 1`,
		`test_errors_total{error_type="synthesis_error"} 1`,
		`test_tokens_total{direction="input"} 1000`,
		`test_tokens_total{direction="output"} 500`,
		`test_speech_seconds_total 30`,
		`test_tts_characters_total 5`,
		`test_stage_duration_seconds_count{stage="transcribed"} 1`,
		`test_cost_usd_total{component="llm"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q\n%s", want, out)
		}
	}
}

func TestMetrics_RateLimitAndSessions(t *testing.T) {
	m := New("")
	m.RecordRateLimitHit("rps")
	m.SetSessionsActive(3)

	out := scrape(t, m)
	if !strings.Contains(out, `voice_rate_limit_hits_total{limit_type="rps"} 1`) {
		t.Fatalf("missing rate limit counter:\n%s", out)
	}
	if !strings.Contains(out, "voice_sessions_active 3") {
		t.Fatalf("missing sessions gauge:\n%s", out)
	}
}
