package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

func TestConvertTurns(t *testing.T) {
	t.Parallel()
	got := llm.ConvertTurns([]types.Turn{
		types.UserTurn("hi"),
		types.AgentTurn("ready"),
	})
	require.Len(t, got, 2)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, "model", got[1].Role)
	require.Len(t, got[1].Parts, 1)
	assert.Equal(t, "ready", got[1].Parts[0].Text)
}

func newGeminiServer(t *testing.T, body map[string]any, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-1.5-flash:generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestGemini_Generate(t *testing.T) {
	t.Parallel()

	var seen map[string]any
	srv := newGeminiServer(t, map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": " Rome fell in 476. "}},
			},
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     42,
			"candidatesTokenCount": 7,
		},
	}, &seen)
	defer srv.Close()

	g, err := llm.NewGemini(context.Background(), "key", llm.WithBaseURL(srv.URL), llm.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, "gemini", g.Name())

	resp, err := g.Generate(context.Background(), llm.Request{
		System:  "You are a historian.",
		History: []types.Turn{types.UserTurn("When did Rome fall?")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Rome fell in 476.", resp.Text)
	assert.Equal(t, int64(42), resp.InputTokens)
	assert.Equal(t, int64(7), resp.OutputTokens)

	gen, ok := seen["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", seen)
	assert.EqualValues(t, 200, gen["maxOutputTokens"])
	assert.EqualValues(t, 1, gen["candidateCount"])
	assert.EqualValues(t, 1, gen["temperature"])
	assert.NotNil(t, seen["systemInstruction"])
}

func TestGemini_MissingUsageDefaultsToZero(t *testing.T) {
	t.Parallel()

	srv := newGeminiServer(t, map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": "ok"}}},
		}},
	}, nil)
	defer srv.Close()

	g, err := llm.NewGemini(context.Background(), "key", llm.WithBaseURL(srv.URL))
	require.NoError(t, err)

	resp, err := g.Generate(context.Background(), llm.Request{History: []types.Turn{types.UserTurn("x")}})
	require.NoError(t, err)
	assert.Zero(t, resp.InputTokens)
	assert.Zero(t, resp.OutputTokens)
}

func TestGemini_EmptyReply(t *testing.T) {
	t.Parallel()

	srv := newGeminiServer(t, map[string]any{"candidates": []any{}}, nil)
	defer srv.Close()

	g, err := llm.NewGemini(context.Background(), "key", llm.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), llm.Request{History: []types.Turn{types.UserTurn("x")}})
	assert.ErrorIs(t, err, llm.ErrEmptyReply)
}
