package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/handlers"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// Deps are the collaborators the server routes to. Pipeline is required;
// the rest are optional.
type Deps struct {
	Pipeline  handlers.TurnRunner
	Sessions  session.Store
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps    Deps
	limiter *ratelimit.Limiter
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentTurns:    cfg.LimitMaxConcurrentTurns,
		}),
	}

	s.routes()
	return s
}

// NewUpstreamClient is the HTTP client shared by the STT and TTS providers.
func NewUpstreamClient(cfg config.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.deps.Lifecycle,
		Store:     s.deps.Sessions,
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	turn := handlers.TurnHandler{
		Config:    s.cfg,
		Pipeline:  s.deps.Pipeline,
		Limiter:   s.limiter,
		Lifecycle: s.deps.Lifecycle,
		Logger:    s.logger,
	}
	if s.deps.Metrics != nil {
		turn.RateLimits = s.deps.Metrics
	}
	s.mux.Handle("/api/turn", turn)
	s.mux.Handle("/api", turn)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// SetDraining flips readiness so load balancers stop routing new turns.
func (s *Server) SetDraining(draining bool) {
	s.deps.Lifecycle.SetDraining(draining)
}

// InFlightTurns reports turns still being answered, relays included.
func (s *Server) InFlightTurns() int64 {
	return s.deps.Lifecycle.InFlightTurns()
}

func (s *Server) Handler() http.Handler {
	var rec mw.RateLimitRecorder
	if s.deps.Metrics != nil {
		rec = s.deps.Metrics
	}

	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, rec, h)
	h = mw.Auth(s.cfg, h)
	h = mw.APIVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
