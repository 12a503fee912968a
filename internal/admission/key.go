// Package admission decides whether an inbound request proceeds: token-bucket
// rate limiting, load shedding, a request deadline, and a global concurrency
// cap, applied as an explicit ordered stage pipeline.
package admission

import "net/http"

const anonymousTenant = "anonymous"

// Tenant derives the quota identity for a request: the x-api-key header
// when present, otherwise "anonymous". The key is an opaque routing
// identity, never verified.
func Tenant(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	return anonymousTenant
}

// RateLimitKey derives the rate-limit bucket key: the API key when present,
// otherwise the forwarded client address plus path so anonymous callers do
// not share one bucket across routes.
func RateLimitKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return "key:" + key
	}
	ip := r.Header.Get("x-forwarded-for")
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip + ":" + r.URL.Path
}
