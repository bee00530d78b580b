// Package tts provides text-to-speech adapters that stream encoded audio.
package tts

import (
	"context"
	"fmt"

	"github.com/vango-go/vai-voice/pkg/core/audio"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// SynthesizeStream starts synthesis and returns as soon as audio is
	// available to read. The caller owns the returned stream and must close
	// it. Any failure before that point, including an upstream error status,
	// is returned as an error.
	SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*audio.Stream, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Model      string  // Provider-specific model
	Voice      string  // Voice identifier
	Format     string  // Output format: "mp3", "wav" or "pcm"
	Speed      float64 // Speed multiplier, 0 for provider default
	Language   string  // Language code
	SampleRate int     // Sample rate in Hz, 0 for provider default
}

// Error is a synthesis failure reported by the service itself.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s tts: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func getFormat(format string) string {
	switch format {
	case "mp3", "pcm", "raw", "wav":
		return format
	default:
		return "mp3"
	}
}

// contentType maps an output format to the MIME type returned to clients.
func contentType(format string) string {
	switch getFormat(format) {
	case "wav":
		return "audio/wav"
	case "pcm", "raw":
		return "audio/pcm"
	default:
		return audio.DefaultContentType
	}
}
