// Package client submits turns to the voice gateway and keeps the
// conversation state a front end needs: the session id, a running cost
// total and which submission is the latest.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/cost"
)

const (
	turnPath   = "/api/turn"
	apiVersion = "1"
)

// Input is one submission. Audio wins over Text when both are set.
type Input struct {
	Text string

	Audio io.Reader
	// AudioName is the file name sent with the clip, e.g. "clip.wav".
	AudioName string
	// AudioType is the clip's media type, e.g. "audio/wav".
	AudioType string
}

// Reply is the gateway's answer to one submission. Audio is nil when
// synthesis failed; otherwise the caller must close it.
type Reply struct {
	Seq        uint64
	SessionID  string
	Transcript string
	Text       string
	Location   string
	Time       string
	Cost       cost.Record
	// Total is the running cost after this reply was folded in.
	Total     cost.Record
	TTSFailed bool

	Audio       io.ReadCloser
	ContentType string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	apiKey  string
	logger  *slog.Logger

	seq atomic.Uint64

	mu        sync.Mutex
	sessionID string
	total     cost.Record
}

// New returns a client for the gateway at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsLatest reports whether seq belongs to the most recent Submit. Replies
// that are no longer latest should be discarded, not played.
func (c *Client) IsLatest(seq uint64) bool {
	return c.seq.Load() == seq
}

// SessionID is the session the next Submit continues.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Total is the cost of every reply received so far.
func (c *Client) Total() cost.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Reset forgets the session and the running total.
func (c *Client) Reset() {
	c.mu.Lock()
	c.sessionID = ""
	c.total = cost.Record{}
	c.mu.Unlock()
}

// Submit posts one turn. The returned Reply carries the sequence token
// taken when the call started; check it with IsLatest before using it.
//
// Gateway errors are returned as *core.Error.
func (c *Client) Submit(ctx context.Context, in Input) (*Reply, error) {
	seq := c.seq.Add(1)

	body, contentType, err := c.encodeForm(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+turnPath, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Voice-Version", apiVersion)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit turn: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	reply, err := parseReply(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	reply.Seq = seq

	c.mu.Lock()
	c.total = c.total.Add(reply.Cost)
	reply.Total = c.total
	if reply.SessionID != "" && c.IsLatest(seq) {
		c.sessionID = reply.SessionID
	}
	c.mu.Unlock()

	c.logger.Debug("turn reply",
		"seq", seq,
		"session_id", reply.SessionID,
		"tts_failed", reply.TTSFailed,
		"total_cost", reply.Total.TotalCost,
	)
	return reply, nil
}

func (c *Client) encodeForm(in Input) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	switch {
	case in.Audio != nil:
		name := in.AudioName
		if name == "" {
			name = "clip"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="input"; filename=%q`, name))
		if in.AudioType != "" {
			h.Set("Content-Type", in.AudioType)
		} else {
			h.Set("Content-Type", "application/octet-stream")
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("encode audio: %w", err)
		}
		if _, err := io.Copy(part, in.Audio); err != nil {
			return nil, "", fmt.Errorf("encode audio: %w", err)
		}
	case strings.TrimSpace(in.Text) != "":
		if err := mw.WriteField("input", in.Text); err != nil {
			return nil, "", fmt.Errorf("encode text: %w", err)
		}
	default:
		return nil, "", core.NewInvalidRequestErrorWithParam("input is required", "input")
	}

	if id := c.SessionID(); id != "" {
		if err := mw.WriteField("sessionId", id); err != nil {
			return nil, "", fmt.Errorf("encode session: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func parseReply(resp *http.Response) (*Reply, error) {
	h := resp.Header
	r := &Reply{SessionID: h.Get("X-Session-ID")}

	var err error
	if r.Transcript, err = headerText(h, "X-Transcript"); err != nil {
		return nil, err
	}
	if r.Text, err = headerText(h, "X-Response"); err != nil {
		return nil, err
	}
	if r.Location, err = headerText(h, "X-Location"); err != nil {
		return nil, err
	}
	if r.Time, err = headerText(h, "X-Time"); err != nil {
		return nil, err
	}

	if raw, err := headerText(h, "X-Cost-Data"); err != nil {
		return nil, err
	} else if raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Cost); err != nil {
			return nil, fmt.Errorf("decode X-Cost-Data: %w", err)
		}
	}

	if v := h.Get("X-TTS-Failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("decode X-TTS-Failed: %w", err)
		}
		r.TTSFailed = failed
	}

	if r.TTSFailed {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return r, nil
	}
	r.Audio = resp.Body
	r.ContentType = h.Get("Content-Type")
	return r, nil
}

func headerText(h http.Header, name string) (string, error) {
	v, err := url.PathUnescape(h.Get(name))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}

func decodeError(resp *http.Response) error {
	var env struct {
		Error *core.Error `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		return env.Error
	}
	return &core.Error{
		Type:    core.ErrAPI,
		Message: fmt.Sprintf("gateway returned %s", resp.Status),
	}
}
