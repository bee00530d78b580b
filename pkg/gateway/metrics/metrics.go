// Package metrics exposes turn, stage and cost metrics for the gateway.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/voice"
)

const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Metrics holds all Prometheus metrics for the gateway. It implements
// voice.Observer.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	TokensTotal        *prometheus.CounterVec
	SpeechSecondsTotal prometheus.Counter
	TTSCharactersTotal prometheus.Counter
	CostUSDTotal       *prometheus.CounterVec

	ErrorsTotal   *prometheus.CounterVec
	RateLimitHits *prometheus.CounterVec

	SessionsActive prometheus.Gauge
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voice"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns by outcome",
		},
		[]string{"outcome", "stage"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent reaching each turn stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total generation tokens",
		},
		[]string{"direction"},
	)

	speechSecondsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_seconds_total",
			Help:      "Total seconds of transcribed audio",
		},
	)

	ttsCharactersTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_characters_total",
			Help:      "Total characters sent to synthesis",
		},
	)

	costUSDTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Total cost in USD",
		},
		[]string{"component"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of failed turns by error type",
		},
		[]string{"error_type"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_type"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions held by the in-memory store",
		},
	)

	registry.MustRegister(
		turnsTotal,
		stageDuration,
		tokensTotal,
		speechSecondsTotal,
		ttsCharactersTotal,
		costUSDTotal,
		errorsTotal,
		rateLimitHits,
		sessionsActive,
	)

	return &Metrics{
		registry:           registry,
		TurnsTotal:         turnsTotal,
		StageDuration:      stageDuration,
		TokensTotal:        tokensTotal,
		SpeechSecondsTotal: speechSecondsTotal,
		TTSCharactersTotal: ttsCharactersTotal,
		CostUSDTotal:       costUSDTotal,
		ErrorsTotal:        errorsTotal,
		RateLimitHits:      rateLimitHits,
		SessionsActive:     sessionsActive,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStage records the time it took to reach stage.
func (m *Metrics) ObserveStage(stage voice.Stage, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage.String()).Observe(elapsed.Seconds())
}

// ObserveTurn records the outcome of a turn and, when it produced a reply,
// its usage and cost.
func (m *Metrics) ObserveTurn(res *voice.TurnResult, err error) {
	if err != nil {
		stage := voice.StageFailed
		var serr *voice.StageError
		if errors.As(err, &serr) {
			stage = serr.Stage
		}
		errType := string(core.ErrAPI)
		var coreErr *core.Error
		if errors.As(err, &coreErr) {
			errType = string(coreErr.Type)
		}
		m.TurnsTotal.WithLabelValues(OutcomeFailed, stage.String()).Inc()
		m.ErrorsTotal.WithLabelValues(errType).Inc()
		return
	}
	if res == nil {
		return
	}

	outcome := OutcomeOK
	if res.SynthesisFailed {
		outcome = OutcomeDegraded
		m.ErrorsTotal.WithLabelValues(string(core.ErrSynthesis)).Inc()
	}
	m.TurnsTotal.WithLabelValues(outcome, res.Stage.String()).Inc()

	c := res.Cost
	if c.InputTokens > 0 {
		m.TokensTotal.WithLabelValues("input").Add(float64(c.InputTokens))
	}
	if c.OutputTokens > 0 {
		m.TokensTotal.WithLabelValues("output").Add(float64(c.OutputTokens))
	}
	if c.SpeechSeconds > 0 {
		m.SpeechSecondsTotal.Add(c.SpeechSeconds)
	}
	if c.TTSCharacters > 0 {
		m.TTSCharactersTotal.Add(float64(c.TTSCharacters))
	}
	m.recordCost("llm", c.TotalLLMCost)
	m.recordCost("stt", c.SpeechCost)
	m.recordCost("tts", c.TTSCost)
}

func (m *Metrics) recordCost(component string, usd float64) {
	if usd > 0 {
		m.CostUSDTotal.WithLabelValues(component).Add(usd)
	}
}

// RecordRateLimitHit records a rejected request.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

// SetSessionsActive reports the current in-memory session count.
func (m *Metrics) SetSessionsActive(n int) {
	m.SessionsActive.Set(float64(n))
}
