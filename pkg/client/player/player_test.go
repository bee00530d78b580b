package player

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-voice/pkg/core/audio"
)

type fakeVoice struct {
	done      chan struct{}
	once      sync.Once
	paused    atomic.Bool
	closed    atomic.Bool
	finishNow func()
}

func newFakeVoice() *fakeVoice {
	v := &fakeVoice{done: make(chan struct{})}
	v.finishNow = func() { v.once.Do(func() { close(v.done) }) }
	return v
}

func (v *fakeVoice) Done() <-chan struct{} { return v.done }
func (v *fakeVoice) Pause()                { v.paused.Store(true) }
func (v *fakeVoice) Close() error {
	v.closed.Store(true)
	v.finishNow()
	return nil
}

type fakeOutput struct {
	mu     sync.Mutex
	voices []*fakeVoice
	pcms   []PCM
	err    error
}

func (o *fakeOutput) Start(pcm PCM) (Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	v := newFakeVoice()
	o.voices = append(o.voices, v)
	o.pcms = append(o.pcms, pcm)
	return v, nil
}

func (o *fakeOutput) voice(i int) *fakeVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.voices[i]
}

func wavClip() io.ReadCloser {
	pcm := make([]byte, 480) // 10ms of 24kHz mono
	return io.NopCloser(strings.NewReader(string(audio.EncodeWAV(pcm, 24000, 1))))
}

// blockingStream blocks reads until closed.
type blockingStream struct {
	closed chan struct{}
	once   sync.Once
}

func newBlockingStream() *blockingStream { return &blockingStream{closed: make(chan struct{})} }

func (b *blockingStream) Read([]byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingStream) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestPlayer_NaturalEndCallsOnCompleteOnce(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)

	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, p.Play(wavClip(), func() {
		calls.Add(1)
		close(done)
	}))
	assert.Equal(t, StatePlaying, p.State())
	require.Len(t, out.pcms, 1)
	assert.Equal(t, 24000, out.pcms[0].SampleRate)

	out.voice(0).finishNow()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onComplete not called")
	}
	require.Eventually(t, func() bool { return p.State() == StateIdle }, time.Second, 5*time.Millisecond)
	p.Stop()
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, out.voice(0).closed.Load())
}

func TestPlayer_PlayWhilePlayingStopsFirst(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)

	var firstCalls, secondCalls atomic.Int32
	require.NoError(t, p.Play(wavClip(), func() { firstCalls.Add(1) }))
	require.NoError(t, p.Play(wavClip(), func() { secondCalls.Add(1) }))

	first := out.voice(0)
	assert.True(t, first.paused.Load(), "first voice must be paused")
	assert.True(t, first.closed.Load(), "first voice must be closed")
	assert.Equal(t, StatePlaying, p.State())

	out.voice(1).finishNow()
	require.Eventually(t, func() bool { return secondCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), firstCalls.Load(), "superseded play must not complete")
}

func TestPlayer_PlayDuringLoadPreemptsFirst(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)

	var firstCalls, secondCalls atomic.Int32
	first := newBlockingStream()
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Play(first, func() { firstCalls.Add(1) })
	}()
	require.Eventually(t, func() bool { return p.State() == StateLoading }, time.Second, time.Millisecond)

	require.NoError(t, p.Play(wavClip(), func() { secondCalls.Add(1) }))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("first Play did not return")
	}
	out.mu.Lock()
	started := len(out.voices)
	out.mu.Unlock()
	require.Equal(t, 1, started, "only the second clip may reach the output")
	assert.Equal(t, StatePlaying, p.State())

	out.voice(0).finishNow()
	require.Eventually(t, func() bool { return secondCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), firstCalls.Load())
}

func TestPlayer_StopDuringLoadInterrupts(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)

	stream := newBlockingStream()
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Play(stream, func() { t.Error("onComplete must not run") })
	}()

	require.Eventually(t, func() bool { return p.State() == StateLoading }, time.Second, time.Millisecond)
	p.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Stop")
	}
	assert.Equal(t, StateIdle, p.State())
	assert.Empty(t, out.voices)
}

func TestPlayer_DecodeFailureReturnsToIdle(t *testing.T) {
	p := New(&fakeOutput{})

	err := p.Play(io.NopCloser(strings.NewReader("definitely not audio")), func() {
		t.Error("onComplete must not run")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedAudio)
	assert.Equal(t, StateIdle, p.State())
}

type panicDecoder struct{}

func (panicDecoder) Decode([]byte) (PCM, error) { panic("corrupt frame") }

func TestPlayer_DecoderPanicReturnsToIdle(t *testing.T) {
	out := &fakeOutput{}
	p := New(out, WithDecoder(panicDecoder{}))

	var err error
	require.NotPanics(t, func() {
		err = p.Play(wavClip(), func() { t.Error("onComplete must not run") })
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt frame")
	assert.Equal(t, StateIdle, p.State())
	assert.Empty(t, out.voices)
}

func TestPlayer_TruncatedMP3ReturnsToIdle(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)

	err := p.Play(io.NopCloser(strings.NewReader("\xff\xfb\x90\xc0")), nil)
	require.Error(t, err)
	assert.Equal(t, StateIdle, p.State())
	assert.Empty(t, out.voices)
}

func TestPlayer_OutputFailureReturnsToIdle(t *testing.T) {
	p := New(&fakeOutput{err: errors.New("no device")})

	err := p.Play(wavClip(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
	assert.Equal(t, StateIdle, p.State())
}

func TestPlayer_StopIsIdempotent(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)
	p.Stop()

	require.NoError(t, p.Play(wavClip(), func() { t.Error("stopped clip must not complete") }))
	p.Stop()
	p.Stop()
	assert.Equal(t, StateIdle, p.State())
	assert.True(t, out.voice(0).closed.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "playing", StatePlaying.String())
}
