package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/vango-go/vai-voice/pkg/core/cost"
	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/voice"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-voice/pkg/gateway/server"
)

const sessionGaugeInterval = 15 * time.Second

// gateway is a fully wired server plus the resources it owns.
type gateway struct {
	srv      *gatewayserver.Server
	sessions session.Store
	metrics  *metrics.Metrics
}

// background starts the session sweeper and gauge reporter. They stop when
// ctx is cancelled.
func (g *gateway) background(ctx context.Context) {
	mem, ok := g.sessions.(*session.MemoryStore)
	if !ok || g.metrics == nil {
		return
	}
	go mem.Run(ctx)
	go func() {
		t := time.NewTicker(sessionGaugeInterval)
		defer t.Stop()
		for {
			g.metrics.SetSessionsActive(mem.Len())
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

func (g *gateway) Close() error {
	if g.sessions == nil {
		return nil
	}
	return g.sessions.Close()
}

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	loadPersona  func(path string) (*config.Persona, error)
	newGateway   func(context.Context, config.Config, *config.Persona, *slog.Logger) (*gateway, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:  config.LoadFromEnv,
		loadPersona: config.LoadPersona,
		newGateway:  newGateway,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newGateway(ctx context.Context, cfg config.Config, persona *config.Persona, logger *slog.Logger) (*gateway, error) {
	client := gatewayserver.NewUpstreamClient(cfg)

	sttProvider, err := newSTTProvider(cfg, client)
	if err != nil {
		return nil, err
	}
	ttsProvider, err := newTTSProvider(cfg, client)
	if err != nil {
		return nil, err
	}
	generator, err := llm.NewGemini(ctx, cfg.GoogleAPIKey,
		llm.WithModel(cfg.LLMModel),
		llm.WithMaxOutputTokens(int(cfg.LLMMaxOutputTokens)),
		llm.WithTemperature(cfg.LLMTemperature),
	)
	if err != nil {
		return nil, fmt.Errorf("init gemini: %w", err)
	}
	store, err := newSessionStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New("voice")
	pipeline, err := voice.NewPipeline(voice.Config{
		STT:      sttProvider,
		LLM:      generator,
		TTS:      ttsProvider,
		Sessions: store,
		Cost:     cost.NewCalculator(cfg.Prices),
		Persona:  persona.VoicePersona(),
		STTOptions: stt.TranscribeOptions{
			Model:    cfg.STTModel,
			Language: cfg.STTLanguage,
		},
		TTSOptions: tts.SynthesizeOptions{
			Model:  cfg.TTSModel,
			Voice:  cfg.TTSVoice,
			Format: cfg.TTSFormat,
		},
		STTTimeout: cfg.STTTimeout,
		LLMTimeout: cfg.LLMTimeout,
		TTSTimeout: cfg.TTSTimeout,
		TimeZone:   cfg.TimeZone,
		Logger:     logger,
		Observer:   m,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	srv := gatewayserver.New(cfg, logger, gatewayserver.Deps{
		Pipeline:  pipeline,
		Sessions:  store,
		Metrics:   m,
		Lifecycle: &lifecycle.Lifecycle{},
	})
	return &gateway{srv: srv, sessions: store, metrics: m}, nil
}

func newSTTProvider(cfg config.Config, client *http.Client) (stt.Provider, error) {
	switch cfg.STTProvider {
	case config.STTProviderGroq:
		return stt.NewGroq(cfg.GroqAPIKey, stt.WithGroqHTTPClient(client)), nil
	case config.STTProviderCartesia:
		return stt.NewCartesiaWithClient(cfg.CartesiaAPIKey, client), nil
	default:
		return nil, fmt.Errorf("unsupported stt provider %q", cfg.STTProvider)
	}
}

func newTTSProvider(cfg config.Config, client *http.Client) (tts.Provider, error) {
	switch cfg.TTSProvider {
	case config.TTSProviderOpenAI:
		return tts.NewOpenAI(cfg.OpenAIAPIKey, "", client), nil
	case config.TTSProviderCartesia:
		return tts.NewCartesiaWithClient(cfg.CartesiaAPIKey, client), nil
	case config.TTSProviderCartesiaWS:
		return tts.NewCartesiaWithClient(cfg.CartesiaAPIKey, client).WithWebSocket(true), nil
	case config.TTSProviderElevenLabs:
		return tts.NewElevenLabsWithClient(cfg.ElevenLabsAPIKey, client), nil
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", cfg.TTSProvider)
	}
}

func newSessionStore(cfg config.Config, logger *slog.Logger) (session.Store, error) {
	opts := []session.Option{
		session.WithTTL(cfg.SessionTTL),
		session.WithSweepInterval(cfg.SessionSweepInterval),
		session.WithMaxHistory(cfg.MaxHistory),
		session.WithLogger(logger),
	}
	if cfg.SessionStore == session.KindRedis {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse VOICE_REDIS_URL: %w", err)
		}
		opts = append(opts, session.WithRedisClient(redis.NewClient(redisOpts)))
	}
	store, err := session.NewStore(cfg.SessionStore, opts...)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	return store, nil
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logOut io.Writer, deps gatewayDeps) error {
	if deps.loadConfig == nil || deps.loadPersona == nil {
		return errors.New("missing config dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	persona, err := deps.loadPersona(cfg.PersonaFile)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}
	persona.Apply(&cfg)

	logger := newLogger(logOut, cfg)

	gw, err := deps.newGateway(ctx, cfg, persona, logger)
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("close session store", "error", err)
		}
	}()

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	gw.background(bgCtx)

	httpSrv := buildHTTPServer(cfg, gw.srv.Handler())

	logger.Info("starting voice gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"session_store", cfg.SessionStore,
		"stt_provider", cfg.STTProvider,
		"tts_provider", cfg.TTSProvider,
		"llm_model", cfg.LLMModel,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.srv.SetDraining(true)
	logger.Info("draining", "in_flight_turns", gw.srv.InFlightTurns(), "grace_period", cfg.ShutdownGracePeriod)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "voice-gateway: load .env: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "voice-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
