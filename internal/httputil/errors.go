package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError matches the OpenAI error response format.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Error: APIErrorBody{
			Message:   message,
			Type:      errType,
			Code:      code,
			RequestID: requestID,
		},
	})
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", message)
}

func WriteRateLimitError(w http.ResponseWriter, requestID, message string) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", message)
}

// WriteQuotaExceededError reports tenant quota exhaustion, distinct from
// per-second rate limiting.
func WriteQuotaExceededError(w http.ResponseWriter, requestID string, limit int) {
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "quota_exceeded",
		fmt.Sprintf("Tenant quota exceeded (limit=%d)", limit))
}

// WriteQuotaBackendError reports a counter-store failure without leaking
// backend details to the caller.
func WriteQuotaBackendError(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "quota_backend_failure",
		"Quota backend failure")
}

func WriteTimeoutError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusGatewayTimeout, "server_error", "gateway_timeout", message)
}

func WriteOverloadedError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "server_error", "overloaded", message)
}

// WriteUpstreamError summarizes a provider failure; the provider's own
// status and body are logged, not proxied verbatim.
func WriteUpstreamError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadGateway, "upstream_error", "upstream_failure", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "internal_error", message)
}
