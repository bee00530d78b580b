package audio

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrRelayNotAvailable means the upstream synthesis response carried no
// usable audio. Callers treat it as a synthesis failure, not a hard error.
var ErrRelayNotAvailable = errors.New("audio relay not available")

const pipeBufferSize = 32 * 1024

// Relay exposes a live upstream response body as a Stream without reading
// it. Non-2xx responses and responses without a body are drained, closed and
// reported as ErrRelayNotAvailable.
func Relay(resp *http.Response) (*Stream, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: no response", ErrRelayNotAvailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := ""
		if resp.Body != nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			detail = string(b)
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrRelayNotAvailable, resp.StatusCode, detail)
	}
	if resp.Body == nil || resp.Body == http.NoBody || resp.StatusCode == http.StatusNoContent {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: empty body", ErrRelayNotAvailable)
	}
	return NewStream(resp.Body, resp.Header.Get("Content-Type")), nil
}

// Pipe copies s to w, flushing after every write so the client can start
// decoding before synthesis finishes. It always closes s. A read error other
// than io.EOF, or a write error (client gone), is returned with the number
// of bytes written so far.
func Pipe(w http.ResponseWriter, s *Stream) (int64, error) {
	defer s.Close()

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, pipeBufferSize)

	var written int64
	for {
		n, err := s.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, fmt.Errorf("write audio: %w", writeErr)
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("read audio: %w", err)
		}
	}
}
