package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is implemented by session stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ Pinger = (*session.RedisStore)(nil)

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	// Store is pinged when it implements Pinger.
	Store session.Store
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		Draining      bool     `json:"draining,omitempty"`
		InFlightTurns int64    `json:"in_flight_turns"`
		AuthMode      string   `json:"auth_mode"`
		SessionStore  string   `json:"session_store"`
		STTProvider   string   `json:"stt_provider"`
		TTSProvider   string   `json:"tts_provider"`
		LimitsEnabled bool     `json:"limits_enabled"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.MaxHistory <= 0 {
		issues = append(issues, "max_history must be > 0")
	}
	if h.Config.SessionTTL <= 0 {
		issues = append(issues, "session ttl must be > 0")
	}
	if h.Config.STTTimeout <= 0 || h.Config.LLMTimeout <= 0 || h.Config.TTSTimeout <= 0 {
		issues = append(issues, "provider timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.UpstreamResponseHeaderTimeout <= 0 {
		issues = append(issues, "upstream timeouts must be > 0")
	}

	if p, ok := h.Store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "session store unreachable")
		}
	}

	draining := h.Lifecycle.IsDraining()
	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
		(h.Config.LimitMaxConcurrentRequests > 0) ||
		(h.Config.LimitMaxConcurrentTurns > 0)

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:            ok,
		Draining:      draining,
		InFlightTurns: h.Lifecycle.InFlightTurns(),
		AuthMode:      string(h.Config.AuthMode),
		SessionStore:  string(h.Config.SessionStore),
		STTProvider:   h.Config.STTProvider,
		TTSProvider:   h.Config.TTSProvider,
		LimitsEnabled: limitsEnabled,
		Issues:        issues,
	})
}
