// Package audio holds the owned audio byte stream passed from a synthesis
// provider through the relay to the HTTP response, plus helpers for
// detecting formats and probing clip durations.
package audio

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrStreamClosed is returned by Read after Close.
var ErrStreamClosed = errors.New("audio stream closed")

// DefaultContentType is used when a producer does not report one.
const DefaultContentType = "audio/mpeg"

// Stream is a finite, non-restartable sequence of encoded audio bytes.
//
// A Stream has exactly one owner at a time. Ownership moves from the
// synthesis provider to the relay to the response writer; whoever holds it
// last must Close it. Close is idempotent and releases the producer (for an
// HTTP body it closes the connection, for a pipe it stops the writer).
type Stream struct {
	r           io.ReadCloser
	contentType string
	onClose     []func()

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	read      atomic.Int64
}

// NewStream takes ownership of r.
func NewStream(r io.ReadCloser, contentType string) *Stream {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Stream{r: r, contentType: contentType}
}

// NewPipe returns a Stream fed by the returned writer. cancel, if non-nil,
// is invoked once when the Stream is closed so the producer can stop early.
func NewPipe(contentType string, cancel func()) (*Stream, *io.PipeWriter) {
	pr, pw := io.Pipe()
	s := NewStream(pr, contentType)
	if cancel != nil {
		s.onClose = append(s.onClose, cancel)
	}
	return s, pw
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrStreamClosed
	}
	n, err := s.r.Read(p)
	s.read.Add(int64(n))
	return n, err
}

// Close releases the underlying producer. It is safe to call more than once
// and from a goroutine other than the reader.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		for _, fn := range s.onClose {
			fn()
		}
		s.closeErr = s.r.Close()
	})
	return s.closeErr
}

// OnClose registers fn to run when the stream is closed, before the
// producer is released. Only the current owner may call it, and only before
// handing the stream on.
func (s *Stream) OnClose(fn func()) {
	if fn != nil {
		s.onClose = append(s.onClose, fn)
	}
}

// ContentType is the MIME type reported by the producer.
func (s *Stream) ContentType() string {
	return s.contentType
}

// BytesRead reports how many bytes have been consumed so far.
func (s *Stream) BytesRead() int64 {
	return s.read.Load()
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	return s.closed.Load()
}
