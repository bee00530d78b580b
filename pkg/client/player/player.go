// Package player plays one reply clip at a time. Starting a new clip
// pre-empts whatever is loading or playing.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrInterrupted is returned by Play when Stop or a newer Play superseded it
// before playback began.
var ErrInterrupted = errors.New("player: interrupted")

type State uint8

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Option configures a Player.
type Option func(*Player)

// WithDecoder replaces AutoDecoder.
func WithDecoder(d Decoder) Option {
	return func(p *Player) {
		if d != nil {
			p.dec = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Player is safe for concurrent use.
type Player struct {
	dec    Decoder
	out    Output
	logger *slog.Logger

	mu    sync.Mutex
	state State
	// gen identifies the current play; Stop and Play bump it so stale
	// loads and watchers can tell they were superseded.
	gen     uint64
	cancel  context.CancelFunc
	voice   Voice
	watcher chan struct{}
}

func New(out Output, opts ...Option) *Player {
	p := &Player{dec: AutoDecoder{}, out: out, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Play stops anything in progress, reads stream to the end, decodes it and
// starts playback. It returns once playback has started. onComplete runs
// exactly once when the clip ends naturally, and never if the clip is
// stopped or superseded. stream is always closed.
func (p *Player) Play(stream io.ReadCloser, onComplete func()) error {
	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.state = StateLoading
	p.mu.Unlock()

	// Closing the stream unblocks a read stuck on the network.
	unhook := context.AfterFunc(ctx, func() { _ = stream.Close() })
	data, readErr := io.ReadAll(stream)
	unhook()
	_ = stream.Close()

	var (
		pcm    PCM
		decErr error
	)
	if readErr == nil {
		pcm, decErr = decode(p.dec, data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		cancel()
		return ErrInterrupted
	}

	fail := func(err error) error {
		p.state = StateIdle
		p.cancel = nil
		cancel()
		p.logger.Warn("playback failed", "error", err)
		return err
	}
	if readErr != nil {
		return fail(fmt.Errorf("read audio: %w", readErr))
	}
	if decErr != nil {
		return fail(decErr)
	}

	v, err := p.out.Start(pcm)
	if err != nil {
		return fail(fmt.Errorf("start playback: %w", err))
	}
	watcher := make(chan struct{})
	p.voice = v
	p.watcher = watcher
	p.state = StatePlaying
	p.logger.Debug("playback started", "seconds", pcm.Duration(), "sample_rate", pcm.SampleRate)

	go p.watch(gen, v, watcher, onComplete)
	return nil
}

// decode keeps a decoder panic on a corrupt clip from escaping Play.
func decode(dec Decoder, data []byte) (pcm PCM, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode audio: %v", r)
		}
	}()
	return dec.Decode(data)
}

func (p *Player) watch(gen uint64, v Voice, watcher chan struct{}, onComplete func()) {
	defer close(watcher)
	<-v.Done()

	p.mu.Lock()
	natural := p.gen == gen && p.voice == v
	if natural {
		p.state = StateIdle
		p.voice = nil
		p.watcher = nil
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	}
	p.mu.Unlock()

	if !natural {
		return
	}
	_ = v.Close()
	if onComplete != nil {
		onComplete()
	}
}

// Stop cancels any load in progress and silences the active clip before
// returning. It is safe to call at any time and more than once.
func (p *Player) Stop() {
	p.mu.Lock()
	p.gen++
	cancel, v, watcher := p.cancel, p.voice, p.watcher
	p.cancel, p.voice, p.watcher = nil, nil, nil
	p.state = StateIdle
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if v != nil {
		v.Pause()
		if err := v.Close(); err != nil {
			p.logger.Debug("close voice", "error", err)
		}
	}
	if watcher != nil {
		<-watcher
	}
}
