package voice

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/audio"
	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

type fakeSTTProvider struct {
	text     string
	duration float64
	err      error

	mu         sync.Mutex
	calls      int
	lastFormat string
}

func (f *fakeSTTProvider) Name() string { return "fake-stt" }

func (f *fakeSTTProvider) Transcribe(_ context.Context, r io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	_, _ = io.Copy(io.Discard, r)
	f.mu.Lock()
	f.calls++
	f.lastFormat = opts.Format
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &stt.Transcript{Text: f.text, Duration: f.duration}, nil
}

type fakeGenerator struct {
	reply      string
	in, out    int64
	err        error
	lastReq    llm.Request
	generateFn func(ctx context.Context) error
}

func (f *fakeGenerator) Name() string { return "fake-llm" }

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.lastReq = req
	if f.generateFn != nil {
		if err := f.generateFn(ctx); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.reply, InputTokens: f.in, OutputTokens: f.out}, nil
}

type fakeTTSProvider struct {
	audio    []byte
	err      error
	block    bool
	lastText string
	lastOpts tts.SynthesizeOptions
}

func (f *fakeTTSProvider) Name() string { return "fake-tts" }

func (f *fakeTTSProvider) SynthesizeStream(ctx context.Context, text string, opts tts.SynthesizeOptions) (*audio.Stream, error) {
	f.lastText = text
	f.lastOpts = opts
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return audio.NewStream(io.NopCloser(strings.NewReader(string(f.audio))), "audio/mpeg"), nil
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []Stage
	turns  int
	errs   []error
}

func (o *recordingObserver) ObserveStage(s Stage, _ time.Duration) {
	o.mu.Lock()
	o.stages = append(o.stages, s)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveTurn(_ *TurnResult, err error) {
	o.mu.Lock()
	o.turns++
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

type harness struct {
	pipeline *Pipeline
	store    *session.MemoryStore
	stt      *fakeSTTProvider
	llm      *fakeGenerator
	tts      *fakeTTSProvider
	observer *recordingObserver
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		store:    session.NewMemoryStore(),
		stt:      &fakeSTTProvider{text: "who founded rome?", duration: 2},
		llm:      &fakeGenerator{reply: "Romulus, by legend.", in: 120, out: 8},
		tts:      &fakeTTSProvider{audio: []byte("mp3-bytes")},
		observer: &recordingObserver{},
	}
	cfg := Config{
		STT:        h.stt,
		LLM:        h.llm,
		TTS:        h.tts,
		Sessions:   h.store,
		Persona:    Persona{SystemPrompt: "historian"},
		TTSOptions: tts.SynthesizeOptions{Voice: "nova", Format: "mp3"},
		Observer:   h.observer,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	h.pipeline = p
	return h
}

func (h *harness) history(t *testing.T, id string) []types.Turn {
	t.Helper()
	got, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get(%q) error = %v", id, err)
	}
	return got
}

func wantCoreError(t *testing.T, err error, want core.ErrorType) {
	t.Helper()
	var cerr *core.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *core.Error", err)
	}
	if cerr.Type != want {
		t.Fatalf("error type = %q, want %q", cerr.Type, want)
	}
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	if _, err := NewPipeline(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestHandleTurn_TextCreatesPrimedSession(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Text: "  who founded rome?  "})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("expected a session id")
	}
	if res.Transcript != "who founded rome?" || res.Reply != "Romulus, by legend." {
		t.Fatalf("result = %+v", res)
	}
	if res.SynthesisFailed || res.Audio == nil {
		t.Fatalf("expected audio, got SynthesisFailed=%v", res.SynthesisFailed)
	}
	defer res.Audio.Close()
	if h.stt.calls != 0 {
		t.Fatalf("text input should not be transcribed, calls = %d", h.stt.calls)
	}

	want := append(DefaultPriming(), types.UserTurn("who founded rome?"), types.AgentTurn("Romulus, by legend."))
	if got := h.history(t, res.SessionID); !reflect.DeepEqual(got, want) {
		t.Fatalf("history = %#v, want %#v", got, want)
	}

	// Generation saw the priming exchange plus the new user turn.
	if len(h.llm.lastReq.History) != 3 || h.llm.lastReq.System != "historian" {
		t.Fatalf("generation request = %+v", h.llm.lastReq)
	}
	if h.tts.lastText != "Romulus, by legend." || h.tts.lastOpts.Voice != "nova" {
		t.Fatalf("tts got %q %+v", h.tts.lastText, h.tts.lastOpts)
	}

	if res.Cost.SpeechSeconds != 0 || res.Cost.SpeechCost != 0 {
		t.Fatalf("text turn should have no speech cost: %+v", res.Cost)
	}
	if res.Cost.InputTokens != 120 || res.Cost.OutputTokens != 8 {
		t.Fatalf("tokens = %d/%d", res.Cost.InputTokens, res.Cost.OutputTokens)
	}
	if res.Cost.TTSCharacters != int64(len("Romulus, by legend.")) {
		t.Fatalf("tts characters = %d", res.Cost.TTSCharacters)
	}
	if res.Stage != StageSynthesized {
		t.Fatalf("stage = %v, want synthesized", res.Stage)
	}
}

func TestHandleTurn_ReusesExistingSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.pipeline.HandleTurn(ctx, TurnInput{Text: "one"})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	first.Audio.Close()

	second, err := h.pipeline.HandleTurn(ctx, TurnInput{Text: "two", SessionID: first.SessionID})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	second.Audio.Close()

	if second.SessionID != first.SessionID {
		t.Fatalf("session id changed: %q -> %q", first.SessionID, second.SessionID)
	}
	if got := len(h.history(t, first.SessionID)); got != 6 {
		t.Fatalf("history length = %d, want 6", got)
	}
}

func TestHandleTurn_UnknownSessionGetsNewID(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Text: "hi", SessionID: "expired-or-made-up"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	res.Audio.Close()
	if res.SessionID == "expired-or-made-up" || res.SessionID == "" {
		t.Fatalf("session id = %q, want a fresh one", res.SessionID)
	}
}

func TestHandleTurn_LegacyHistorySeedsNewSession(t *testing.T) {
	h := newHarness(t, nil)

	legacy := []types.Turn{types.UserTurn("earlier"), types.AgentTurn("reply")}
	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Text: "now", LegacyHistory: legacy})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	res.Audio.Close()

	got := h.history(t, res.SessionID)
	if len(got) != 4 || got[0].Content != "earlier" {
		t.Fatalf("history = %#v", got)
	}
}

func TestHandleTurn_EmptyTranscriptLeavesHistoryUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id, err := h.store.Create(ctx, DefaultPriming())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.stt.text = "   "

	_, err = h.pipeline.HandleTurn(ctx, TurnInput{Audio: []byte("not really audio"), SessionID: id})
	if err == nil {
		t.Fatal("expected error")
	}
	wantCoreError(t, err, core.ErrInvalidAudio)

	var serr *StageError
	if !errors.As(err, &serr) || serr.Stage != StageSessionResolved {
		t.Fatalf("err = %v, want StageError after session_resolved", err)
	}
	if got := h.history(t, id); !reflect.DeepEqual(got, DefaultPriming()) {
		t.Fatalf("history mutated: %#v", got)
	}
	if h.llm.lastReq.History != nil {
		t.Fatal("generation must not run after a failed transcription")
	}
}

func TestHandleTurn_TranscriptionErrorIsInvalidAudio(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.err = errors.New("upstream 500")

	_, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Audio: []byte("x")})
	wantCoreError(t, err, core.ErrInvalidAudio)
}

func TestHandleTurn_MissingInputIsInvalidRequest(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Text: "  "})
	wantCoreError(t, err, core.ErrInvalidRequest)
	if h.store.Len() != 0 {
		t.Fatalf("no session should be created for malformed input, have %d", h.store.Len())
	}
}

func TestHandleTurn_AudioUsesProbedDuration(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.duration = 9

	// 16 kHz mono PCM16, 1.5 s.
	wav := audio.EncodeWAV(make([]byte, 48000), 16000, 1)
	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Audio: wav, AudioFormat: "audio/webm"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	res.Audio.Close()

	if res.Cost.SpeechSeconds != 1.5 {
		t.Fatalf("speech seconds = %v, want 1.5", res.Cost.SpeechSeconds)
	}
	if h.stt.lastFormat != audio.FormatWAV {
		t.Fatalf("stt format = %q, want sniffed wav", h.stt.lastFormat)
	}
}

func TestHandleTurn_FallsBackToReportedDuration(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.duration = 4

	webm := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00, 0x01}
	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Audio: webm})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	res.Audio.Close()

	if res.Cost.SpeechSeconds != 4 {
		t.Fatalf("speech seconds = %v, want 4", res.Cost.SpeechSeconds)
	}
}

func TestHandleTurn_UnreadableMP3DefaultsToZeroDuration(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.duration = 0

	header := []byte{0xFF, 0xFB, 0x90, 0xC0}
	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Audio: header, AudioFormat: "audio/mpeg"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	res.Audio.Close()

	if res.Cost.SpeechSeconds != 0 {
		t.Fatalf("speech seconds = %v, want 0", res.Cost.SpeechSeconds)
	}
	if res.Transcript != "who founded rome?" {
		t.Fatalf("transcript = %q", res.Transcript)
	}
}

func TestHandleTurn_CorruptMP3UploadsStillComplete(t *testing.T) {
	h := newHarness(t, nil)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		clip := make([]byte, 64+rng.Intn(2048))
		rng.Read(clip)
		clip[0], clip[1] = 0xFF, 0xFB

		res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Audio: clip, AudioFormat: "audio/mpeg"})
		if err != nil {
			t.Fatalf("iteration %d: HandleTurn() error = %v", i, err)
		}
		res.Audio.Close()
		if res.Cost.SpeechSeconds < 0 {
			t.Fatalf("iteration %d: speech seconds = %v", i, res.Cost.SpeechSeconds)
		}
	}
}

func TestHandleTurn_SynthesisFailureIsDegraded(t *testing.T) {
	h := newHarness(t, nil)
	h.tts.err = &tts.Error{Provider: "fake-tts", Err: audio.ErrRelayNotAvailable}

	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Text: "hello"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !res.SynthesisFailed || res.Audio != nil {
		t.Fatalf("expected synthesis failure, got %+v", res)
	}
	if res.Reply == "" || res.Cost.TotalCost <= 0 {
		t.Fatalf("reply and cost must still be reported: %+v", res)
	}
	if got := len(h.history(t, res.SessionID)); got != 4 {
		t.Fatalf("history length = %d, want 4", got)
	}
	if res.Stage != StageCostComputed {
		t.Fatalf("stage = %v, want cost_computed", res.Stage)
	}
}

func TestHandleTurn_SynthesisTimeoutIsDegraded(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TTSTimeout = 10 * time.Millisecond })
	h.tts.block = true

	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Text: "hello"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !res.SynthesisFailed {
		t.Fatal("expected SynthesisFailed after timeout")
	}
}

func TestHandleTurn_GenerationFailureKeepsUserTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.err = errors.New("quota")
	ctx := context.Background()

	id, _ := h.store.Create(ctx, DefaultPriming())
	_, err := h.pipeline.HandleTurn(ctx, TurnInput{Text: "hello", SessionID: id})
	wantCoreError(t, err, core.ErrAPI)

	got := h.history(t, id)
	if len(got) != 3 || got[2] != types.UserTurn("hello") {
		t.Fatalf("history = %#v, want priming + user turn", got)
	}
}

func TestHandleTurn_GenerationTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.LLMTimeout = 10 * time.Millisecond })
	h.llm.generateFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Text: "hello"})
	wantCoreError(t, err, core.ErrAPI)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded in chain", err)
	}
}

func TestHandleTurn_StagesAndRelay(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.pipeline.HandleTurn(context.Background(), TurnInput{Text: "hello"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	rec := httptest.NewRecorder()
	n, err := h.pipeline.Relay(rec, res)
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	if n != int64(len("mp3-bytes")) || rec.Body.String() != "mp3-bytes" {
		t.Fatalf("relayed %d bytes: %q", n, rec.Body.String())
	}
	if !res.Audio.Closed() {
		t.Fatal("relay must close the stream")
	}

	want := []Stage{
		StageSessionResolved,
		StageTranscribed,
		StageHistoryUpdatedUser,
		StageGenerated,
		StageHistoryUpdatedAgent,
		StageCostComputed,
		StageSynthesized,
		StageRelayed,
	}
	if !reflect.DeepEqual(h.observer.stages, want) {
		t.Fatalf("stages = %v, want %v", h.observer.stages, want)
	}
	if h.observer.turns != 1 || h.observer.errs[0] != nil {
		t.Fatalf("observer turns = %d errs = %v", h.observer.turns, h.observer.errs)
	}
}

func TestRelay_NoAudioIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	n, err := h.pipeline.Relay(httptest.NewRecorder(), &TurnResult{SynthesisFailed: true})
	if n != 0 || err != nil {
		t.Fatalf("Relay() = %d, %v", n, err)
	}
}

func TestStageString(t *testing.T) {
	if StageHistoryUpdatedUser.String() != "history_updated_user" {
		t.Fatalf("got %q", StageHistoryUpdatedUser.String())
	}
	if Stage(200).String() != "Stage(200)" {
		t.Fatalf("got %q", Stage(200).String())
	}
}
