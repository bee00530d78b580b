package player

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Output starts audible playback of decoded audio.
type Output interface {
	Start(pcm PCM) (Voice, error)
}

// Voice is one playing clip.
type Voice interface {
	// Done is closed once the clip has finished or the voice was closed.
	Done() <-chan struct{}
	Pause()
	Close() error
}

// OtoOutput plays through the system device. oto allows one context per
// process, so the device format is fixed at construction and clips are
// converted to it.
type OtoOutput struct {
	sampleRate int
	channels   int
	bufferSize time.Duration

	once sync.Once
	ctx  *oto.Context
	err  error
}

// NewOtoOutput returns an output for the given device format. The device is
// opened on first use.
func NewOtoOutput(sampleRate, channels int) *OtoOutput {
	return &OtoOutput{sampleRate: sampleRate, channels: channels, bufferSize: 100 * time.Millisecond}
}

func (o *OtoOutput) open() error {
	o.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   o.sampleRate,
			ChannelCount: o.channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   o.bufferSize,
		})
		if err != nil {
			o.err = fmt.Errorf("open audio device: %w", err)
			return
		}
		<-ready
		o.ctx = ctx
	})
	return o.err
}

func (o *OtoOutput) Start(pcm PCM) (Voice, error) {
	if err := o.open(); err != nil {
		return nil, err
	}
	pcm = Convert(pcm, o.sampleRate, o.channels)

	p := o.ctx.NewPlayer(bytes.NewReader(pcm.Data))
	p.Play()
	v := &otoVoice{player: p, done: make(chan struct{}), stop: make(chan struct{})}
	go v.watch()
	return v, nil
}

type otoVoice struct {
	player *oto.Player

	done      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

// watch polls until oto reports the clip drained. oto has no completion
// callback.
func (v *otoVoice) watch() {
	defer close(v.done)
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-t.C:
			if !v.player.IsPlaying() {
				return
			}
		}
	}
}

func (v *otoVoice) Done() <-chan struct{} { return v.done }

func (v *otoVoice) Pause() { v.player.Pause() }

func (v *otoVoice) Close() error {
	var err error
	v.closeOnce.Do(func() {
		close(v.stop)
		<-v.done
		err = v.player.Close()
	})
	return err
}
