package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core"
)

const (
	apiVersionHeader    = "X-Voice-Version"
	supportedAPIVersion = "1"
)

// APIVersion rejects /api requests that pin a protocol version this gateway
// does not speak. A missing header means the current version.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !isAPIPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		for _, version := range parseHeaderCSVValues(r.Header.Values(apiVersionHeader)) {
			if version != supportedAPIVersion {
				reqID, _ := RequestIDFrom(r.Context())
				writeJSONError(w, http.StatusBadRequest, &core.Error{
					Type:      core.ErrInvalidRequest,
					Message:   "unsupported API version",
					Param:     apiVersionHeader,
					Code:      "unsupported_version",
					RequestID: reqID,
				})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

func parseHeaderCSVValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			out = append(out, trimmed)
		}
	}
	return out
}
