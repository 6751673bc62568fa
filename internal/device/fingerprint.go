package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Hints are optional client-reported properties.
type Hints struct {
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Platform         string `json:"platform,omitempty"`
	Browser          string `json:"browser,omitempty"`
	DeviceType       string `json:"device_type,omitempty"`
}

// Attributes are the fingerprint inputs for one request.
type Attributes struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	IP             string
	Hints          Hints
}

// FromRequest reads fingerprint attributes from standard headers.
func FromRequest(r *http.Request, hints Hints) Attributes {
	return Attributes{
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		IP:             ClientIP(r),
		Hints:          hints,
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Fingerprint hashes the attributes. Equal inputs give equal output; any
// change gives a different fingerprint.
func Fingerprint(a Attributes) string {
	parts := []string{
		a.UserAgent,
		a.AcceptLanguage,
		a.AcceptEncoding,
		a.IP,
		a.Hints.ScreenResolution,
		a.Hints.Timezone,
		a.Hints.Platform,
		a.Hints.Browser,
		a.Hints.DeviceType,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
