package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// ErrMalformedMP3 is returned when the MPEG decoder trips over a corrupt
// frame. go-mp3 panics on some of those; the panic never escapes.
var ErrMalformedMP3 = errors.New("malformed mp3")

// DecodeMP3 decodes a whole clip to 16-bit little-endian stereo PCM.
func DecodeMP3(data []byte) (pcm []byte, sampleRate int, err error) {
	err = guardMP3(func() error {
		dec, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return err
		}
		pcm, err = io.ReadAll(dec)
		if err != nil {
			return err
		}
		sampleRate = dec.SampleRate()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 decoder: %w", err)
	}
	return pcm, sampleRate, nil
}

func mp3Duration(data []byte) (float64, error) {
	var length int64
	var sampleRate int
	err := guardMP3(func() error {
		dec, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return err
		}
		length, sampleRate = dec.Length(), dec.SampleRate()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mp3 decoder: %w", err)
	}
	if length <= 0 || sampleRate <= 0 {
		return 0, errors.New("mp3 length unavailable")
	}
	// go-mp3 always emits 16-bit stereo.
	return float64(length) / float64(4*sampleRate), nil
}

func guardMP3(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedMP3, r)
		}
	}()
	return fn()
}
