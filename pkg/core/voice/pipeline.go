// Package voice drives one spoken (or typed) turn end to end: session
// lookup, transcription, generation, cost accounting and streamed synthesis.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/audio"
	"github.com/vango-go/vai-voice/pkg/core/cost"
	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

const (
	DefaultSTTTimeout = 30 * time.Second
	DefaultLLMTimeout = 30 * time.Second
	DefaultTTSTimeout = 30 * time.Second
)

// errSynthesisTimeout is reported when no audio arrived within TTSTimeout.
var errSynthesisTimeout = errors.New("synthesis did not start in time")

// Persona is the agent's standing instruction and the exchange that seeds
// every new session.
type Persona struct {
	SystemPrompt string
	Priming      []types.Turn
}

// DefaultPriming is the exchange a fresh session starts with.
func DefaultPriming() []types.Turn {
	return []types.Turn{
		types.UserTurn("hi"),
		types.AgentTurn("Understood. I'm ready to assist with the History of World Powers. How may I help you?"),
	}
}

// Observer receives stage timings and turn outcomes, typically for metrics.
type Observer interface {
	ObserveStage(stage Stage, elapsed time.Duration)
	ObserveTurn(res *TurnResult, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(Stage, time.Duration) {}
func (nopObserver) ObserveTurn(*TurnResult, error)    {}

// Config wires a Pipeline. STT, LLM, TTS and Sessions are required.
type Config struct {
	STT      stt.Provider
	LLM      llm.Generator
	TTS      tts.Provider
	Sessions session.Store
	Cost     cost.Calculator
	Persona  Persona

	STTOptions stt.TranscribeOptions
	TTSOptions tts.SynthesizeOptions

	STTTimeout time.Duration
	LLMTimeout time.Duration
	// TTSTimeout bounds the wait for the first audio bytes only; the stream
	// itself lives as long as the request.
	TTSTimeout time.Duration

	// TimeZone renders X-Time when the caller's zone is unknown.
	TimeZone *time.Location
	Clock    func() time.Time
	Logger   *slog.Logger
	Observer Observer
}

// Pipeline handles turns. It is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// NewPipeline validates cfg and fills defaults.
func NewPipeline(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.STT == nil:
		return nil, errors.New("voice: stt provider is required")
	case cfg.LLM == nil:
		return nil, errors.New("voice: generator is required")
	case cfg.TTS == nil:
		return nil, errors.New("voice: tts provider is required")
	case cfg.Sessions == nil:
		return nil, errors.New("voice: session store is required")
	}
	if cfg.Cost == (cost.Calculator{}) {
		cfg.Cost = cost.NewCalculator(cost.DefaultRates)
	}
	if len(cfg.Persona.Priming) == 0 {
		cfg.Persona.Priming = DefaultPriming()
	}
	if cfg.STTTimeout <= 0 {
		cfg.STTTimeout = DefaultSTTTimeout
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = DefaultTTSTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger}, nil
}

// TurnInput is one submission. Exactly one of Text or Audio is used; Audio
// wins when both are set.
type TurnInput struct {
	Text        string
	Audio       []byte
	AudioFormat string // container name or media type hint

	SessionID string
	// LegacyHistory seeds a new session instead of the priming exchange.
	LegacyHistory []types.Turn

	Meta      RequestMeta
	RequestID string
}

// TurnResult is what the caller sends back. Audio is nil when synthesis
// failed; otherwise the caller owns it and must Relay or Close it.
type TurnResult struct {
	SessionID       string
	Transcript      string
	Reply           string
	Cost            cost.Record
	Audio           *audio.Stream
	SynthesisFailed bool
	Location        string
	Time            string
	Stage           Stage
}

type turn struct {
	p      *Pipeline
	res    *TurnResult
	logger *slog.Logger
	mark   time.Time
}

func (t *turn) advance(stage Stage) {
	now := t.p.cfg.Clock()
	elapsed := now.Sub(t.mark)
	t.mark = now
	t.res.Stage = stage
	t.p.cfg.Observer.ObserveStage(stage, elapsed)
	t.logger.Debug("turn stage",
		"stage", stage.String(),
		"session_id", t.res.SessionID,
		"duration_ms", elapsed.Milliseconds(),
	)
}

func (t *turn) fail(err error) (*TurnResult, error) {
	serr := &StageError{Stage: t.res.Stage, Err: err}
	t.res.Stage = StageFailed
	t.p.cfg.Observer.ObserveTurn(t.res, serr)
	t.logger.Warn("turn failed",
		"after", serr.Stage.String(),
		"session_id", t.res.SessionID,
		"error", err,
	)
	return nil, serr
}

// HandleTurn runs one turn. On success the session has gained exactly one
// user turn and one agent turn. A transcription or input failure leaves the
// history untouched. Synthesis failure does not fail the turn; it sets
// SynthesisFailed instead.
//
// Errors are *StageError wrapping a *core.Error.
func (p *Pipeline) HandleTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	t := &turn{
		p:      p,
		res:    &TurnResult{Stage: StageReceived},
		logger: p.logger.With("request_id", in.RequestID),
		mark:   p.cfg.Clock(),
	}

	isAudio := len(in.Audio) > 0
	if !isAudio && strings.TrimSpace(in.Text) == "" {
		return t.fail(core.NewInvalidRequestErrorWithParam("input is required", "input"))
	}

	// 1. Session resolution.
	id, history, err := p.resolveSession(ctx, in)
	if err != nil {
		return t.fail(core.NewAPIError("session store unavailable").WithCause(err))
	}
	t.res.SessionID = id
	t.advance(StageSessionResolved)

	// 2. Transcription, with duration probe and caller metadata alongside.
	var (
		transcript  = strings.TrimSpace(in.Text)
		sttDuration float64
		probed      float64
	)
	g, gctx := errgroup.WithContext(ctx)
	if isAudio {
		format := audio.DetectFormat(in.Audio, in.AudioFormat)
		g.Go(func() error {
			tr, err := p.transcribe(gctx, in.Audio, format)
			if err != nil {
				return err
			}
			transcript, sttDuration = tr.Text, tr.Duration
			return nil
		})
		g.Go(func() error {
			d, err := audio.ProbeDuration(in.Audio, format)
			if err != nil {
				t.logger.Debug("duration probe failed", "format", format, "error", err)
				return nil
			}
			probed = d
			return nil
		})
	}
	g.Go(func() error {
		t.res.Location = in.Meta.Location()
		t.res.Time = in.Meta.LocalTime(p.cfg.Clock(), p.cfg.TimeZone)
		return nil
	})
	if err := g.Wait(); err != nil {
		return t.fail(err)
	}
	t.res.Transcript = transcript
	t.advance(StageTranscribed)

	// 3. History update (user).
	userTurn := types.UserTurn(transcript)
	if err := p.cfg.Sessions.Append(ctx, id, userTurn); err != nil {
		return t.fail(core.NewAPIError("session store unavailable").WithCause(err))
	}
	t.advance(StageHistoryUpdatedUser)

	// 4. Generation.
	gen, err := p.generate(ctx, append(history, userTurn))
	if err != nil {
		return t.fail(core.NewAPIError("generation failed").WithCause(err))
	}
	t.res.Reply = gen.Text
	t.advance(StageGenerated)

	// 5. History update (agent).
	if err := p.cfg.Sessions.Append(ctx, id, types.AgentTurn(gen.Text)); err != nil {
		return t.fail(core.NewAPIError("session store unavailable").WithCause(err))
	}
	t.advance(StageHistoryUpdatedAgent)

	// 6. Cost, from exactly the text handed to synthesis.
	duration := probed
	if duration <= 0 {
		duration = sttDuration
	}
	t.res.Cost = p.cfg.Cost.Compute(gen.InputTokens, gen.OutputTokens, duration, gen.Text)
	t.advance(StageCostComputed)

	// 7. Synthesis.
	stream, err := p.synthesize(ctx, gen.Text)
	if err != nil {
		t.res.SynthesisFailed = true
		t.logger.Warn("synthesis failed",
			"provider", p.cfg.TTS.Name(),
			"session_id", id,
			"error", core.NewSynthesisError(p.cfg.TTS.Name(), err),
		)
	} else {
		t.res.Audio = stream
		t.advance(StageSynthesized)
	}

	p.cfg.Observer.ObserveTurn(t.res, nil)
	return t.res, nil
}

// Relay streams res.Audio to w and marks the turn relayed. It is a no-op
// when synthesis failed. The response headers must already be written.
func (p *Pipeline) Relay(w http.ResponseWriter, res *TurnResult) (int64, error) {
	if res == nil || res.Audio == nil {
		return 0, nil
	}
	start := p.cfg.Clock()
	n, err := audio.Pipe(w, res.Audio)
	elapsed := p.cfg.Clock().Sub(start)
	if err != nil {
		p.logger.Info("audio relay interrupted", "session_id", res.SessionID, "bytes", n, "error", err)
		return n, err
	}
	res.Stage = StageRelayed
	p.cfg.Observer.ObserveStage(StageRelayed, elapsed)
	p.logger.Debug("turn stage",
		"stage", StageRelayed.String(),
		"session_id", res.SessionID,
		"bytes", n,
		"duration_ms", elapsed.Milliseconds(),
	)
	return n, nil
}

func (p *Pipeline) resolveSession(ctx context.Context, in TurnInput) (string, []types.Turn, error) {
	if in.SessionID != "" {
		history, err := p.cfg.Sessions.Get(ctx, in.SessionID)
		if err == nil {
			return in.SessionID, history, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return "", nil, err
		}
	}

	seed := in.LegacyHistory
	if len(seed) == 0 {
		seed = p.cfg.Persona.Priming
	}
	seed = types.CloneTurns(seed)
	id, err := p.cfg.Sessions.Create(ctx, seed)
	if err != nil {
		return "", nil, err
	}
	return id, seed, nil
}

func (p *Pipeline) transcribe(ctx context.Context, clip []byte, format string) (*stt.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.STTTimeout)
	defer cancel()

	opts := p.cfg.STTOptions
	opts.Format = format
	tr, err := p.cfg.STT.Transcribe(ctx, bytes.NewReader(clip), opts)
	if err != nil {
		return nil, core.NewInvalidAudioError("Invalid audio").WithCause(fmt.Errorf("transcribe: %w", err))
	}
	if tr == nil || strings.TrimSpace(tr.Text) == "" {
		return nil, core.NewInvalidAudioError("Invalid audio")
	}
	tr.Text = strings.TrimSpace(tr.Text)
	return tr, nil
}

func (p *Pipeline) generate(ctx context.Context, history []types.Turn) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()

	return p.cfg.LLM.Generate(ctx, llm.Request{
		System:  p.cfg.Persona.SystemPrompt,
		History: history,
	})
}

// synthesize applies TTSTimeout to the start of synthesis only. Once the
// provider hands back a stream, its context is released when the stream is
// closed.
func (p *Pipeline) synthesize(ctx context.Context, text string) (*audio.Stream, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(p.cfg.TTSTimeout, func() { cancel(errSynthesisTimeout) })

	stream, err := p.cfg.TTS.SynthesizeStream(ctx, text, p.cfg.TTSOptions)
	if !timer.Stop() {
		if stream != nil {
			_ = stream.Close()
		}
		cancel(nil)
		return nil, errSynthesisTimeout
	}
	if err != nil {
		cancel(nil)
		return nil, err
	}
	if stream == nil {
		cancel(nil)
		return nil, audio.ErrRelayNotAvailable
	}
	stream.OnClose(func() { cancel(nil) })
	return stream, nil
}
