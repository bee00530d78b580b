package player

import (
	"errors"
	"fmt"

	"github.com/vango-go/vai-voice/pkg/core/audio"
)

// ErrUnsupportedAudio is returned for containers no decoder understands.
var ErrUnsupportedAudio = errors.New("player: unsupported audio")

// PCM is interleaved signed 16-bit little-endian audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration is the playback length in seconds.
func (p PCM) Duration() float64 {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	return float64(len(p.Data)) / float64(p.SampleRate*p.Channels*2)
}

// Decoder turns a complete encoded clip into PCM.
type Decoder interface {
	Decode(data []byte) (PCM, error)
}

// MP3Decoder decodes MPEG audio. go-mp3 always yields stereo.
type MP3Decoder struct{}

func (MP3Decoder) Decode(data []byte) (PCM, error) {
	pcm, sampleRate, err := audio.DecodeMP3(data)
	if err != nil {
		return PCM{}, fmt.Errorf("decode mp3: %w", err)
	}
	return PCM{Data: pcm, SampleRate: sampleRate, Channels: 2}, nil
}

// WAVDecoder accepts 16-bit integer PCM WAVE files.
type WAVDecoder struct{}

func (WAVDecoder) Decode(data []byte) (PCM, error) {
	info, err := audio.ParseWAV(data)
	if err != nil {
		return PCM{}, fmt.Errorf("decode wav: %w", err)
	}
	if info.AudioFormat != 1 || info.BitsPerSample != 16 {
		return PCM{}, fmt.Errorf("%w: wav format %d with %d-bit samples", ErrUnsupportedAudio, info.AudioFormat, info.BitsPerSample)
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return PCM{}, fmt.Errorf("%w: wav header", ErrUnsupportedAudio)
	}
	return PCM{Data: info.Data, SampleRate: info.SampleRate, Channels: info.Channels}, nil
}

// AutoDecoder sniffs the container and dispatches to MP3Decoder or WAVDecoder.
type AutoDecoder struct{}

func (AutoDecoder) Decode(data []byte) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, fmt.Errorf("%w: empty clip", ErrUnsupportedAudio)
	}
	switch format := audio.DetectFormat(data, ""); format {
	case audio.FormatMP3:
		return MP3Decoder{}.Decode(data)
	case audio.FormatWAV:
		return WAVDecoder{}.Decode(data)
	default:
		return PCM{}, fmt.Errorf("%w: %q", ErrUnsupportedAudio, format)
	}
}
