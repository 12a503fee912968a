package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req-1", http.StatusTeapot, "test_error", "test_code", "something happened")

	if w.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	if id := w.Header().Get("X-Request-ID"); id != "req-1" {
		t.Errorf("expected X-Request-ID req-1, got %s", id)
	}

	var body APIError
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error.Message != "something happened" || body.Error.Code != "test_code" {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Error.RequestID != "req-1" {
		t.Errorf("expected request_id in body, got %+v", body)
	}
}

func TestWriteHelpers_StatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		code   string
	}{
		{"rate limit", func(w http.ResponseWriter) { WriteRateLimitError(w, "r", "m") }, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"quota", func(w http.ResponseWriter) { WriteQuotaExceededError(w, "r", 5) }, http.StatusTooManyRequests, "quota_exceeded"},
		{"quota backend", func(w http.ResponseWriter) { WriteQuotaBackendError(w, "r") }, http.StatusInternalServerError, "quota_backend_failure"},
		{"timeout", func(w http.ResponseWriter) { WriteTimeoutError(w, "r", "m") }, http.StatusGatewayTimeout, "gateway_timeout"},
		{"overloaded", func(w http.ResponseWriter) { WriteOverloadedError(w, "r", "m") }, http.StatusServiceUnavailable, "overloaded"},
		{"upstream", func(w http.ResponseWriter) { WriteUpstreamError(w, "r", "m") }, http.StatusBadGateway, "upstream_failure"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequestError(w, "r", "m") }, http.StatusBadRequest, "invalid_request"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tc.write(w)
			if w.Code != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, w.Code)
			}
			var body APIError
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON body: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Errorf("expected code %s, got %s", tc.code, body.Error.Code)
			}
		})
	}
}

func TestWriteRateLimitError_RetryHint(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRateLimitError(w, "r", "m")
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on rate limit rejection")
	}
}
