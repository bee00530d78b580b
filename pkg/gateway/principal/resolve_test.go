package principal

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

func TestResolve_APIKeyWins(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/turn", nil)
	r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{APIKey: "voice_sk_1"}))

	got := Resolve(r, config.Config{})
	if got.Kind != KindAPIKey || got.Key != ratelimit.PrincipalKeyFromAPIKey("voice_sk_1") {
		t.Fatalf("got %+v", got)
	}
}

func TestResolve_ClientIP(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		headers map[string]string
		want    string
	}{
		{"remote addr", false, nil, "192.0.2.1"},
		{"untrusted headers ignored", false, map[string]string{"X-Forwarded-For": "203.0.113.9"}, "192.0.2.1"},
		{"edge header first", true, map[string]string{
			"X-Vercel-Forwarded-For": "198.51.100.7, 10.0.0.1",
			"X-Forwarded-For":        "203.0.113.9",
		}, "198.51.100.7"},
		{"forwarded-for left-most", true, map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"garbage falls back", true, map[string]string{"X-Real-IP": "not-an-ip"}, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/turn", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got := Resolve(r, config.Config{TrustProxyHeaders: tt.trust})
			if got.Kind != KindIP || got.Raw != tt.want || got.Key != ratelimit.PrincipalKeyFromIP(tt.want) {
				t.Fatalf("got %+v, want ip %s", got, tt.want)
			}
		})
	}
}

func TestResolve_NoAddressIsAnonymous(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/turn", nil)
	r.RemoteAddr = ""
	if got := Resolve(r, config.Config{}); got.Kind != KindAnon {
		t.Fatalf("got %+v", got)
	}
}

func TestResolved_LogValueHidesKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("turn", "principal", Resolved{Kind: KindAPIKey, Raw: "voice_sk_secret", Key: "k"})

	if strings.Contains(buf.String(), "voice_sk_secret") {
		t.Fatalf("raw key logged: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "principal.kind=api_key") {
		t.Fatalf("missing kind: %s", buf.String())
	}
}
