package voice

import (
	"net/http"
	"testing"
	"time"
)

func TestMetaFromHeaders_Location(t *testing.T) {
	h := http.Header{}
	h.Set("X-Vercel-IP-City", "S%C3%A3o%20Paulo")
	h.Set("X-Vercel-IP-Country-Region", "SP")
	h.Set("X-Vercel-IP-Country", "BR")
	h.Set("X-Vercel-IP-Timezone", "America/Sao_Paulo")

	m := MetaFromHeaders(h, "")
	if got := m.Location(); got != "São Paulo, SP, BR" {
		t.Fatalf("Location() = %q", got)
	}

	h.Del("X-Vercel-IP-Country")
	if got := MetaFromHeaders(h, "").Location(); got != UnknownLocation {
		t.Fatalf("Location() with missing country = %q, want unknown", got)
	}
}

func TestMetaFromHeaders_CustomPrefix(t *testing.T) {
	h := http.Header{}
	h.Set("X-Geo-City", "Lyon")
	h.Set("X-Geo-Country-Region", "ARA")
	h.Set("X-Geo-Country", "FR")

	if got := MetaFromHeaders(h, "X-Geo-").Location(); got != "Lyon, ARA, FR" {
		t.Fatalf("Location() = %q", got)
	}
}

func TestRequestMeta_LocalTime(t *testing.T) {
	now := time.Date(2024, 7, 4, 18, 5, 9, 0, time.UTC)

	m := RequestMeta{Timezone: "America/New_York"}
	if got := m.LocalTime(now, nil); got != "7/4/2024, 2:05:09 PM" {
		t.Fatalf("LocalTime() = %q", got)
	}

	m = RequestMeta{Timezone: "Not/AZone"}
	if got := m.LocalTime(now, nil); got != "7/4/2024, 6:05:09 PM" {
		t.Fatalf("LocalTime() fallback = %q", got)
	}
}
