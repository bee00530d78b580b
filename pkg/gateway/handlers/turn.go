package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/principal"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// Response headers carrying the turn metadata. Free-text values are
// percent-encoded so they survive as header bytes.
const (
	HeaderTranscript = "X-Transcript"
	HeaderResponse   = "X-Response"
	HeaderSessionID  = "X-Session-ID"
	HeaderCostData   = "X-Cost-Data"
	HeaderTTSFailed  = "X-TTS-Failed"
	HeaderLocation   = "X-Location"
	HeaderTime       = "X-Time"
)

// maxMultipartMemory bounds how much of a multipart body is held in memory
// before spilling file parts to disk.
const maxMultipartMemory = 8 << 20

// TurnRunner is the part of *voice.Pipeline the handler needs.
type TurnRunner interface {
	HandleTurn(ctx context.Context, in voice.TurnInput) (*voice.TurnResult, error)
	Relay(w http.ResponseWriter, res *voice.TurnResult) (int64, error)
}

// TurnHandler serves POST /api/turn: one spoken or typed turn in, headers
// plus a streamed audio reply out.
type TurnHandler struct {
	Config     config.Config
	Pipeline   TurnRunner
	Limiter    *ratelimit.Limiter
	// RateLimits, when set, counts rejected turns.
	RateLimits mw.RateLimitRecorder
	// Lifecycle, when set, counts the turn as in flight until the relay ends.
	Lifecycle  *lifecycle.Lifecycle
	Logger     *slog.Logger
}

func (h TurnHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if h.Config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	}
	in, err := parseTurnForm(r)
	if err != nil {
		h.writeErr(w, reqID, err)
		return
	}
	in.RequestID = reqID
	in.Meta = voice.MetaFromHeaders(r.Header, h.Config.GeoHeaderPrefix)

	p := principal.Resolve(r, h.Config)
	if h.Limiter != nil && h.Config.LimitMaxConcurrentTurns > 0 {
		dec := h.Limiter.AcquireTurn(p.Key, time.Now())
		if !dec.Allowed {
			logger.Info("turn rejected", "request_id", reqID, "principal", p, "limit", dec.Limit)
			if h.RateLimits != nil {
				h.RateLimits.RecordRateLimitHit(dec.Limit)
			}
			mw.WriteRateLimited(w, reqID, dec, "too many concurrent turns")
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}
	}

	defer h.Lifecycle.BeginTurn()()

	ctx := r.Context()
	if h.Config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.HandlerTimeout)
		defer cancel()
	}

	res, err := h.Pipeline.HandleTurn(ctx, in)
	if err != nil {
		h.writeErr(w, reqID, err)
		return
	}

	if err := writeTurnHeaders(w.Header(), res); err != nil {
		if res.Audio != nil {
			_ = res.Audio.Close()
		}
		h.writeErr(w, reqID, err)
		return
	}
	w.WriteHeader(http.StatusOK)

	if res.Audio == nil {
		return
	}
	if _, err := h.Pipeline.Relay(w, res); err != nil {
		// Headers are gone; the client sees a truncated body.
		logger.Info("turn relay ended early", "request_id", reqID, "session_id", res.SessionID, "principal", p, "error", err)
	}
}

func (h TurnHandler) writeErr(w http.ResponseWriter, reqID string, err error) {
	coreErr, status := coreErrorFrom(err, reqID)
	if coreErr.Type == core.ErrRateLimit && coreErr.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*coreErr.RetryAfter))
	}
	writeCoreErrorJSON(w, reqID, coreErr, status)
}

func writeTurnHeaders(h http.Header, res *voice.TurnResult) error {
	costJSON, err := json.Marshal(res.Cost)
	if err != nil {
		return fmt.Errorf("encode cost: %w", err)
	}

	if res.Audio != nil {
		h.Set("Content-Type", res.Audio.ContentType())
	} else {
		h.Set("Content-Length", "0")
	}
	h.Set("Cache-Control", "no-store")
	h.Set(HeaderSessionID, res.SessionID)
	h.Set(HeaderTranscript, EncodeHeaderValue(res.Transcript))
	h.Set(HeaderResponse, EncodeHeaderValue(res.Reply))
	h.Set(HeaderCostData, EncodeHeaderValue(string(costJSON)))
	h.Set(HeaderTTSFailed, strconv.FormatBool(res.SynthesisFailed))
	h.Set(HeaderLocation, EncodeHeaderValue(res.Location))
	h.Set(HeaderTime, EncodeHeaderValue(res.Time))
	return nil
}

// EncodeHeaderValue percent-encodes s so that spaces become %20, matching
// what browser clients decode with decodeURIComponent.
func EncodeHeaderValue(s string) string {
	return url.PathEscape(s)
}

// DecodeHeaderValue reverses EncodeHeaderValue.
func DecodeHeaderValue(s string) (string, error) {
	return url.PathUnescape(s)
}

func parseTurnForm(r *http.Request) (voice.TurnInput, error) {
	var in voice.TurnInput

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return in, core.NewInvalidRequestErrorWithParam("content type must be multipart/form-data or application/x-www-form-urlencoded", "Content-Type")
	}

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return in, formError(err)
		}
		if r.MultipartForm != nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}
		if fhs := multipartFiles(r, "input"); len(fhs) > 0 {
			clip, format, err := readAudioPart(fhs[0])
			if err != nil {
				return in, err
			}
			in.Audio = clip
			in.AudioFormat = format
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return in, formError(err)
		}
	default:
		return in, core.NewInvalidRequestErrorWithParam("content type must be multipart/form-data or application/x-www-form-urlencoded", "Content-Type")
	}

	if len(in.Audio) == 0 {
		in.Text = strings.TrimSpace(r.PostForm.Get("input"))
		if in.Text == "" {
			return in, core.NewInvalidRequestErrorWithParam("input is required", "input")
		}
	}
	in.SessionID = strings.TrimSpace(r.PostForm.Get("sessionId"))

	history, err := parseLegacyMessages(r.PostForm["message"])
	if err != nil {
		return in, err
	}
	in.LegacyHistory = history
	return in, nil
}

func multipartFiles(r *http.Request, field string) []*multipart.FileHeader {
	if r.MultipartForm == nil || r.MultipartForm.File == nil {
		return nil
	}
	return r.MultipartForm.File[field]
}

func readAudioPart(fh *multipart.FileHeader) ([]byte, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", core.NewInvalidRequestErrorWithParam("unreadable audio part", "input").WithCause(err)
	}
	defer f.Close()

	clip, err := io.ReadAll(f)
	if err != nil {
		return nil, "", core.NewInvalidRequestErrorWithParam("unreadable audio part", "input").WithCause(err)
	}
	if len(clip) == 0 {
		return nil, "", core.NewInvalidAudioError("Invalid audio")
	}

	format := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if format == "" || format == "application/octet-stream" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(fh.Filename)), ".")
	}
	return clip, format, nil
}

// parseLegacyMessages decodes the repeated "message" fields older clients
// send to carry their own history.
func parseLegacyMessages(raw []string) ([]types.Turn, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]types.Turn, 0, len(raw))
	for i, m := range raw {
		var t types.Turn
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("message[%d] is not a valid turn", i), "message").WithCause(err)
		}
		if err := t.Validate(); err != nil {
			return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("message[%d] is not a valid turn", i), "message").WithCause(err)
		}
		out = append(out, t)
	}
	return out, nil
}

func formError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return err
	}
	return core.NewInvalidRequestError("malformed form body").WithCause(err)
}
