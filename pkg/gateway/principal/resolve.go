// Package principal decides who a turn is charged to for rate limiting:
// the API key when the caller authenticated, otherwise the client address.
package principal

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindIP     Kind = "ip"
	KindAnon   Kind = "anonymous"
)

// forwardedHeaders are consulted in order when proxy headers are trusted.
// The edge's own forwarded-for header comes first because hosted
// deployments sit behind it.
var forwardedHeaders = []string{
	"X-Vercel-Forwarded-For",
	"CF-Connecting-IP",
	"X-Real-IP",
	"X-Forwarded-For",
}

type Resolved struct {
	Kind Kind
	// Raw is the API key or IP. It must not be logged.
	Raw string
	// Key buckets the principal in the limiter's maps.
	Key string
}

// LogValue keeps Raw out of logs.
func (p Resolved) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", string(p.Kind))}
	switch p.Kind {
	case KindAPIKey:
		attrs = append(attrs, slog.String("key", (&auth.Principal{APIKey: p.Raw}).Fingerprint()))
	case KindIP:
		attrs = append(attrs, slog.String("ip", p.Raw))
	}
	return slog.GroupValue(attrs...)
}

func Resolve(r *http.Request, cfg config.Config) Resolved {
	anon := Resolved{Kind: KindAnon, Key: "anonymous"}
	if r == nil {
		return anon
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		return Resolved{
			Kind: KindAPIKey,
			Raw:  p.APIKey,
			Key:  ratelimit.PrincipalKeyFromAPIKey(p.APIKey),
		}
	}
	ip := clientIP(r, cfg.TrustProxyHeaders)
	if ip == "" {
		return anon
	}
	return Resolved{Kind: KindIP, Raw: ip, Key: ratelimit.PrincipalKeyFromIP(ip)}
}

func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		for _, h := range forwardedHeaders {
			// Forwarded-for lists read "client, proxy1, proxy2".
			first, _, _ := strings.Cut(r.Header.Get(h), ",")
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}
	}
	return parseIP(r.RemoteAddr)
}

// parseIP normalises an address, with or without a port.
func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
