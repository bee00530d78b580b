package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-voice/pkg/core/audio"
)

const (
	micSampleRate = 16000
	micChannels   = 1
)

// recorder captures microphone audio between Start and Stop.
type recorder struct {
	ctx *malgo.AllocatedContext

	mu        sync.Mutex
	device    *malgo.Device
	buf       []byte
	recording bool
}

func newRecorder() (*recorder, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &recorder{ctx: ctx}, nil
}

func (r *recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return errors.New("already recording")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = micChannels
	deviceConfig.SampleRate = micSampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	r.buf = r.buf[:0]
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			r.mu.Lock()
			r.buf = append(r.buf, in...)
			r.mu.Unlock()
		},
	}
	device, err := malgo.InitDevice(r.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}
	r.device = device
	r.recording = true
	return nil
}

// Stop ends the capture and returns it as a WAV clip.
func (r *recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	device := r.device
	r.device = nil
	wasRecording := r.recording
	r.recording = false
	r.mu.Unlock()

	if !wasRecording {
		return nil, errors.New("not recording")
	}
	// Stop outside the lock; the data callback takes it.
	_ = device.Stop()
	device.Uninit()

	r.mu.Lock()
	pcm := append([]byte(nil), r.buf...)
	r.mu.Unlock()
	return audio.EncodeWAV(pcm, micSampleRate, micChannels), nil
}

func (r *recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *recorder) Close() {
	if r.Recording() {
		_, _ = r.Stop()
	}
	_ = r.ctx.Uninit()
	r.ctx.Free()
}
