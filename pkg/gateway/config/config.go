package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/cost"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/voice"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	STTProviderGroq     = "groq"
	STTProviderCartesia = "cartesia"

	TTSProviderOpenAI     = "openai"
	TTSProviderCartesia   = "cartesia"
	TTSProviderCartesiaWS = "cartesia-ws"
	TTSProviderElevenLabs = "elevenlabs"
)

const (
	defaultLLMModel     = "gemini-1.5-flash"
	defaultMaxBodyBytes = 25 << 20
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Sessions
	SessionStore         session.Kind
	RedisURL             string
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	MaxHistory           int

	// Remote services
	STTProvider        string
	STTModel           string
	STTLanguage        string
	TTSProvider        string
	TTSModel           string
	TTSVoice           string
	TTSFormat          string
	LLMModel           string
	LLMMaxOutputTokens int32
	LLMTemperature     float64

	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	GroqAPIKey       string
	GoogleAPIKey     string
	OpenAIAPIKey     string
	CartesiaAPIKey   string
	ElevenLabsAPIKey string

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	LimitMaxConcurrentTurns    int

	Prices cost.Rates

	// Operational defaults
	ReadHeaderTimeout             time.Duration
	ReadTimeout                   time.Duration
	HandlerTimeout                time.Duration
	ShutdownGracePeriod           time.Duration
	UpstreamResponseHeaderTimeout time.Duration

	LogLevel  string
	LogFormat string

	GeoHeaderPrefix string
	TimeZone        *time.Location
	PersonaFile     string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("VOICE_ADDR", ":8080"),
		AuthMode:                      AuthMode(envOr("VOICE_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                       make(map[string]struct{}),
		TrustProxyHeaders:             envBoolOr("VOICE_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:                  envInt64Or("VOICE_MAX_BODY_BYTES", defaultMaxBodyBytes),
		CORSAllowedOrigins:            make(map[string]struct{}),
		RedisURL:                      envOr("VOICE_REDIS_URL", ""),
		SessionTTL:                    envDurationOr("VOICE_SESSION_TTL", session.DefaultTTL),
		SessionSweepInterval:          envDurationOr("VOICE_SESSION_SWEEP", session.DefaultSweepInterval),
		MaxHistory:                    envIntOr("VOICE_MAX_HISTORY", session.DefaultMaxHistory),
		STTProvider:                   strings.ToLower(envOr("VOICE_STT_PROVIDER", STTProviderGroq)),
		STTModel:                      envOr("VOICE_STT_MODEL", ""),
		STTLanguage:                   envOr("VOICE_STT_LANGUAGE", ""),
		TTSProvider:                   strings.ToLower(envOr("VOICE_TTS_PROVIDER", TTSProviderOpenAI)),
		TTSModel:                      envOr("VOICE_TTS_MODEL", ""),
		TTSVoice:                      envOr("VOICE_TTS_VOICE", ""),
		TTSFormat:                     strings.ToLower(envOr("VOICE_TTS_FORMAT", "mp3")),
		LLMModel:                      envOr("VOICE_LLM_MODEL", defaultLLMModel),
		LLMMaxOutputTokens:            int32(envIntOr("VOICE_LLM_MAX_OUTPUT_TOKENS", 200)),
		LLMTemperature:                envFloat64Or("VOICE_LLM_TEMPERATURE", 1.0),
		STTTimeout:                    envDurationOr("VOICE_STT_TIMEOUT", 30*time.Second),
		LLMTimeout:                    envDurationOr("VOICE_LLM_TIMEOUT", 30*time.Second),
		TTSTimeout:                    envDurationOr("VOICE_TTS_TIMEOUT", 30*time.Second),
		GroqAPIKey:                    envOr("GROQ_API_KEY", ""),
		GoogleAPIKey:                  envOr("GOOGLE_API_KEY", ""),
		OpenAIAPIKey:                  envOr("OPENAI_API_KEY", ""),
		CartesiaAPIKey:                envOr("CARTESIA_API_KEY", ""),
		ElevenLabsAPIKey:              envOr("ELEVENLABS_API_KEY", ""),
		LimitRPS:                      envFloat64Or("VOICE_RATE_LIMIT_RPS", 2.0),
		LimitBurst:                    envIntOr("VOICE_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentRequests:    envIntOr("VOICE_MAX_CONCURRENT_REQUESTS", 20),
		LimitMaxConcurrentTurns:       envIntOr("VOICE_MAX_CONCURRENT_TURNS", 2),
		ReadHeaderTimeout:             envDurationOr("VOICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("VOICE_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:                envDurationOr("VOICE_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:           envDurationOr("VOICE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("VOICE_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
		Prices: cost.Rates{
			LLMInputPerMillionTokens:  envFloat64Or("VOICE_PRICE_LLM_INPUT_PER_MTOK", cost.DefaultRates.LLMInputPerMillionTokens),
			LLMOutputPerMillionTokens: envFloat64Or("VOICE_PRICE_LLM_OUTPUT_PER_MTOK", cost.DefaultRates.LLMOutputPerMillionTokens),
			TranscriptionPerHour:      envFloat64Or("VOICE_PRICE_STT_PER_HOUR", cost.DefaultRates.TranscriptionPerHour),
			SynthesisPerMillionChars:  envFloat64Or("VOICE_PRICE_TTS_PER_MCHAR", cost.DefaultRates.SynthesisPerMillionChars),
		},
		LogLevel:        strings.ToLower(envOr("VOICE_LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(envOr("VOICE_LOG_FORMAT", "text")),
		GeoHeaderPrefix: envOr("VOICE_GEO_HEADER_PREFIX", voice.DefaultGeoHeaderPrefix),
		PersonaFile:     envOr("VOICE_PERSONA_FILE", ""),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOICE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VOICE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VOICE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	kind, err := session.ParseKind(os.Getenv("VOICE_SESSION_STORE"))
	if err != nil {
		return Config{}, fmt.Errorf("VOICE_SESSION_STORE must be one of memory|redis")
	}
	cfg.SessionStore = kind
	if kind == session.KindRedis && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("VOICE_REDIS_URL must be set when VOICE_SESSION_STORE=redis")
	}

	if tz := envOr("VOICE_TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("VOICE_TIMEZONE: %w", err)
		}
		cfg.TimeZone = loc
	} else {
		cfg.TimeZone = time.Local
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("VOICE_SESSION_TTL must be > 0")
	}
	if cfg.SessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("VOICE_SESSION_SWEEP must be > 0")
	}
	if cfg.MaxHistory <= 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_HISTORY must be > 0")
	}
	if cfg.LLMMaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("VOICE_LLM_MAX_OUTPUT_TOKENS must be > 0")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("VOICE_LLM_TEMPERATURE must be within [0, 2]")
	}
	if cfg.STTTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_STT_TIMEOUT must be > 0")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_LLM_TIMEOUT must be > 0")
	}
	if cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_TTS_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VOICE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VOICE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitMaxConcurrentTurns < 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_CONCURRENT_TURNS must be >= 0")
	}

	if cfg.Prices.LLMInputPerMillionTokens < 0 || cfg.Prices.LLMOutputPerMillionTokens < 0 ||
		cfg.Prices.TranscriptionPerHour < 0 || cfg.Prices.SynthesisPerMillionChars < 0 {
		return Config{}, fmt.Errorf("VOICE_PRICE_* rates must be >= 0")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("VOICE_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("VOICE_LOG_FORMAT must be one of text|json")
	}
	switch cfg.TTSFormat {
	case "mp3", "wav", "pcm":
	default:
		return Config{}, fmt.Errorf("VOICE_TTS_FORMAT must be one of mp3|wav|pcm")
	}

	switch cfg.STTProvider {
	case STTProviderGroq:
		if cfg.GroqAPIKey == "" {
			return Config{}, fmt.Errorf("GROQ_API_KEY must be set when VOICE_STT_PROVIDER=groq")
		}
	case STTProviderCartesia:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("CARTESIA_API_KEY must be set when VOICE_STT_PROVIDER=cartesia")
		}
	default:
		return Config{}, fmt.Errorf("VOICE_STT_PROVIDER must be one of groq|cartesia")
	}

	switch cfg.TTSProvider {
	case TTSProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("OPENAI_API_KEY must be set when VOICE_TTS_PROVIDER=openai")
		}
	case TTSProviderCartesia, TTSProviderCartesiaWS:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("CARTESIA_API_KEY must be set when VOICE_TTS_PROVIDER=%s", cfg.TTSProvider)
		}
	case TTSProviderElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return Config{}, fmt.Errorf("ELEVENLABS_API_KEY must be set when VOICE_TTS_PROVIDER=elevenlabs")
		}
		if cfg.TTSVoice == "" {
			return Config{}, fmt.Errorf("VOICE_TTS_VOICE must be set when VOICE_TTS_PROVIDER=elevenlabs")
		}
	default:
		return Config{}, fmt.Errorf("VOICE_TTS_PROVIDER must be one of openai|cartesia|cartesia-ws|elevenlabs")
	}

	if cfg.GoogleAPIKey == "" {
		return Config{}, fmt.Errorf("GOOGLE_API_KEY must be set")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOICE_API_KEYS must be set when VOICE_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
