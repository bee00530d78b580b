package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-voice/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError maps err to the canonical envelope and its HTTP status.
//
// A *core.Error anywhere in the chain wins over a bare context error, so a
// remote call that timed out keeps the type of the stage it failed in. Only a
// bare deadline or cancellation (the request's own) maps to 504 or 408.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Body over the configured limit.
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "request body too large",
			Code:      "body_too_large",
			RequestID: requestID,
		}, http.StatusRequestEntityTooLarge
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest, core.ErrInvalidAudio:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrSynthesis:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
