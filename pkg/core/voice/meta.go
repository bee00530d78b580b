package voice

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGeoHeaderPrefix is the edge-network header family carrying the
// caller's approximate location.
const DefaultGeoHeaderPrefix = "X-Vercel-IP-"

// UnknownLocation is reported when any geo header is missing.
const UnknownLocation = "unknown"

// localeTimeLayout renders like en-US toLocaleString: "1/2/2006, 3:04:05 PM".
const localeTimeLayout = "1/2/2006, 3:04:05 PM"

// RequestMeta is the caller context forwarded by the edge in front of the
// gateway. It is informational and never affects the turn itself.
type RequestMeta struct {
	City     string
	Region   string
	Country  string
	Timezone string
}

// MetaFromHeaders reads the geo headers under prefix (DefaultGeoHeaderPrefix
// when empty). Values are URL-decoded when the edge percent-encodes them.
func MetaFromHeaders(h http.Header, prefix string) RequestMeta {
	if prefix == "" {
		prefix = DefaultGeoHeaderPrefix
	}
	get := func(name string) string {
		v := strings.TrimSpace(h.Get(prefix + name))
		if dec, err := url.QueryUnescape(v); err == nil {
			return dec
		}
		return v
	}
	return RequestMeta{
		City:     get("City"),
		Region:   get("Country-Region"),
		Country:  get("Country"),
		Timezone: get("Timezone"),
	}
}

// Location renders "city, region, country" or UnknownLocation.
func (m RequestMeta) Location() string {
	if m.City == "" || m.Region == "" || m.Country == "" {
		return UnknownLocation
	}
	return m.City + ", " + m.Region + ", " + m.Country
}

// LocalTime renders now in the caller's timezone, falling back to fallback
// (or UTC) when the zone is missing or unknown.
func (m RequestMeta) LocalTime(now time.Time, fallback *time.Location) string {
	loc := fallback
	if loc == nil {
		loc = time.UTC
	}
	if m.Timezone != "" {
		if tz, err := time.LoadLocation(m.Timezone); err == nil {
			loc = tz
		}
	}
	return now.In(loc).Format(localeTimeLayout)
}
