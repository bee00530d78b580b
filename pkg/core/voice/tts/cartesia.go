package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core/audio"
)

const (
	cartesiaBaseURL      = "https://api.cartesia.ai"
	cartesiaWSURL        = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion      = "2025-04-16"
	cartesiaDefaultModel = "sonic-3"
)

// Default voice ID - users should provide their own voice IDs
const defaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

var errNoAudio = errors.New("synthesis produced no audio")

// CartesiaProvider implements Provider using Cartesia's API, either over
// HTTP (/tts/bytes, relayed as-is) or over the websocket endpoint with
// base64 chunks decoded into a pipe.
type CartesiaProvider struct {
	apiKey       string
	httpClient   *http.Client
	baseURL      string
	wsURL        string
	useWebSocket bool
	dialer       *websocket.Dialer
}

// NewCartesia creates a new Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return NewCartesiaWithClient(apiKey, &http.Client{})
}

// NewCartesiaWithClient creates a new Cartesia TTS provider with a custom HTTP client.
func NewCartesiaWithClient(apiKey string, client *http.Client) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey:     apiKey,
		httpClient: client,
		baseURL:    cartesiaBaseURL,
		wsURL:      cartesiaWSURL,
		dialer:     websocket.DefaultDialer,
	}
}

// WithWebSocket switches the provider to the websocket endpoint.
func (c *CartesiaProvider) WithWebSocket(enabled bool) *CartesiaProvider {
	c.useWebSocket = enabled
	return c
}

// WithBaseURLs overrides the HTTP and websocket hosts. Empty values keep the
// current setting.
func (c *CartesiaProvider) WithBaseURLs(httpBase, wsURL string) *CartesiaProvider {
	if httpBase != "" {
		c.baseURL = strings.TrimRight(httpBase, "/")
	}
	if wsURL != "" {
		c.wsURL = wsURL
	}
	return c
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	if c.useWebSocket {
		return "cartesia-ws"
	}
	return "cartesia"
}

// SynthesizeStream implements Provider.
func (c *CartesiaProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*audio.Stream, error) {
	if c.useWebSocket {
		return c.synthesizeWS(ctx, text, opts)
	}
	return c.synthesizeHTTP(ctx, text, opts)
}

func (c *CartesiaProvider) synthesizeHTTP(ctx context.Context, text string, opts SynthesizeOptions) (*audio.Stream, error) {
	body, err := json.Marshal(c.buildRequest(text, opts))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Err: err}
	}
	stream, err := audio.Relay(resp)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Err: err}
	}
	return stream, nil
}

// synthesizeWS returns once the first audio chunk has arrived so that an
// upstream error is reported as a synthesis failure rather than a broken
// stream.
func (c *CartesiaProvider) synthesizeWS(ctx context.Context, text string, opts SynthesizeOptions) (*audio.Stream, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Err: fmt.Errorf("websocket connect: %w", err)}
	}

	var closeOnce sync.Once
	stopWatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	closeConn := func() {
		closeOnce.Do(func() {
			stopWatch()
			_ = conn.Close()
		})
	}

	wsReq := c.buildRequest(text, opts)
	wsReq.ContextID = generateContextID()
	if err := conn.WriteJSON(wsReq); err != nil {
		closeConn()
		return nil, &Error{Provider: c.Name(), Err: fmt.Errorf("send request: %w", err)}
	}

	first, done, err := readCartesiaChunk(conn)
	if err == nil && (done || len(first) == 0) {
		err = errNoAudio
	}
	if err != nil {
		closeConn()
		return nil, &Error{Provider: c.Name(), Err: err}
	}

	stream, pw := audio.NewPipe(contentType(opts.Format), closeConn)
	go func() {
		defer closeConn()
		if _, err := pw.Write(first); err != nil {
			return
		}
		for {
			chunk, done, err := readCartesiaChunk(conn)
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if done {
				_ = pw.Close()
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if _, err := pw.Write(chunk); err != nil {
				return
			}
		}
	}()
	return stream, nil
}

// readCartesiaChunk reads messages until an audio chunk, the done marker or
// an error. Timestamp and flush acknowledgements are skipped.
func readCartesiaChunk(conn *websocket.Conn) ([]byte, bool, error) {
	for {
		var msg cartesiaWSResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, true, nil
			}
			return nil, false, err
		}
		switch msg.Type {
		case "chunk":
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return nil, false, fmt.Errorf("decode audio: %w", err)
			}
			return data, false, nil
		case "done":
			return nil, true, nil
		case "error":
			return nil, false, fmt.Errorf("cartesia error: %s", msg.Error)
		}
	}
}

type cartesiaTTSRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	Language         *string                   `json:"language,omitempty"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
	ContextID        string                    `json:"context_id,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

type cartesiaWSResponse struct {
	Type  string `json:"type"` // "chunk", "timestamps", "done", "error"
	Data  string `json:"data,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

func (c *CartesiaProvider) buildRequest(text string, opts SynthesizeOptions) cartesiaTTSRequest {
	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	model := opts.Model
	if model == "" {
		model = cartesiaDefaultModel
	}
	req := cartesiaTTSRequest{
		ModelID:      model,
		Transcript:   text,
		Voice:        cartesiaVoiceSpec{Mode: "id", ID: voiceID},
		OutputFormat: c.buildOutputFormat(opts),
	}
	if opts.Speed != 0 {
		req.GenerationConfig = &cartesiaGenerationConfig{Speed: opts.Speed}
	}
	if opts.Language != "" {
		lang := opts.Language
		req.Language = &lang
	}
	return req
}

func (c *CartesiaProvider) buildOutputFormat(opts SynthesizeOptions) cartesiaOutputFormat {
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 24000
	}

	switch getFormat(opts.Format) {
	case "pcm", "raw":
		return cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		}
	case "wav":
		return cartesiaOutputFormat{
			Container:  "wav",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		}
	default:
		return cartesiaOutputFormat{
			Container:  "mp3",
			SampleRate: sampleRate,
			BitRate:    128000,
		}
	}
}

var contextCounter atomic.Uint64

func generateContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}
