// Package device extracts best-effort client device metadata from HTTP
// requests. Nothing in this package fails: missing or unparseable input
// yields the "unknown" classification and empty fields.
package device

import (
	"net"
	"net/http"
	"strings"
)

// Type classifies the client platform a session was created from.
type Type string

const (
	TypeWeb     Type = "web"
	TypeIOS     Type = "ios"
	TypeAndroid Type = "android"
	TypeUnknown Type = "unknown"
)

// ParseType normalizes a client-supplied device type. Unrecognized values
// map to TypeUnknown.
func ParseType(s string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeWeb:
		return TypeWeb
	case TypeIOS:
		return TypeIOS
	case TypeAndroid:
		return TypeAndroid
	default:
		return TypeUnknown
	}
}

// Info is the device metadata recorded with a session.
type Info struct {
	Type      Type
	Name      string
	UserAgent string
	IPAddress string
}

const maxFieldLen = 255

// FromRequest builds Info from request headers. Native clients may send
// X-Device-Type and X-Device-Name explicitly; otherwise both are derived
// from the User-Agent.
func FromRequest(r *http.Request) Info {
	ua := r.Header.Get("User-Agent")

	typ := ParseType(r.Header.Get("X-Device-Type"))
	if typ == TypeUnknown {
		typ = Classify(ua)
	}

	name := strings.TrimSpace(r.Header.Get("X-Device-Name"))
	if name == "" {
		name = Describe(ua)
	}

	return Info{
		Type:      typ,
		Name:      clip(name),
		UserAgent: clip(ua),
		IPAddress: ClientIP(r),
	}
}

// Classify derives a device type from a User-Agent string.
func Classify(ua string) Type {
	if ua == "" {
		return TypeUnknown
	}
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "android"):
		return TypeAndroid
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"),
		strings.Contains(lower, "ios"), strings.Contains(lower, "cfnetwork"):
		return TypeIOS
	case strings.Contains(lower, "mozilla/"):
		return TypeWeb
	default:
		return TypeUnknown
	}
}

// Describe returns a human readable "Browser on OS" label.
func Describe(ua string) string {
	if ua == "" {
		return "Unknown Device"
	}

	browser := "Unknown Browser"
	switch {
	case strings.Contains(ua, "Edg/"):
		browser = "Edge"
	case strings.Contains(ua, "Firefox/"):
		browser = "Firefox"
	case strings.Contains(ua, "Chrome/"):
		browser = "Chrome"
	case strings.Contains(ua, "Safari/"):
		browser = "Safari"
	case strings.Contains(ua, "okhttp/"), strings.Contains(ua, "CFNetwork/"):
		browser = "App"
	}

	if v := majorVersion(ua, browser+"/"); v != "" && browser != "App" {
		browser += " " + v
	}

	os := "Unknown OS"
	switch {
	case strings.Contains(ua, "Android"):
		os = "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "Darwin"):
		os = "iOS"
	case strings.Contains(ua, "Windows"):
		os = "Windows"
	case strings.Contains(ua, "Mac OS X"):
		os = "macOS"
	case strings.Contains(ua, "Linux"):
		os = "Linux"
	}

	return browser + " on " + os
}

func majorVersion(ua, key string) string {
	idx := strings.Index(ua, key)
	if idx == -1 {
		return ""
	}
	start := idx + len(key)
	end := start
	for end < len(ua) && ua[end] >= '0' && ua[end] <= '9' {
		end++
	}
	return ua[start:end]
}

// ClientIP returns the originating client address. X-Forwarded-For (first
// hop) wins over X-Real-IP, which wins over the socket peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clip(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	return s[:maxFieldLen]
}
