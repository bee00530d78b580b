// Package stt provides speech-to-text adapters.
package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts a complete audio clip to text.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model    string // Provider-specific model
	Language string // ISO language code, empty for auto-detect
	Format   string // Container hint (wav, mp3, webm, ...)
	Prompt   string // Optional vocabulary hint
}

// Transcript is the result of transcription.
type Transcript struct {
	Text     string  // Full transcribed text, trimmed
	Language string  // Detected or specified language
	Duration float64 // Audio duration in seconds, 0 if unreported
}

// Error is a non-2xx response from an STT service.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stt error %d: %s", e.Provider, e.StatusCode, e.Body)
}

func readError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &Error{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// multipartAudio builds an upload body with the clip under "file" plus the
// given text fields. Empty field values are skipped.
func multipartAudio(audio io.Reader, format string, fields [][2]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+extension(format))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// extension returns the upload file extension for a container name. Services
// sniff content, but some reject unknown extensions outright.
func extension(format string) string {
	switch format {
	case "wav", "mp3", "webm", "ogg", "flac", "m4a", "mp4", "mpeg", "mpga", "oga":
		return format
	default:
		return "webm"
	}
}
