package admission

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/veilworks/veil-gateway/internal/httputil"
	"github.com/veilworks/veil-gateway/internal/telemetry"
)

// Middleware drives the pipeline for every request and converts rejections
// to responses. Acquired capacity is released when the handler returns,
// including on panics unwound by the recoverer.
func Middleware(p *Pipeline, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, release, err := p.Admit(r.Context(), r)
			if err != nil {
				writeRejection(w, r, err, metrics)
				return
			}
			defer release()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeRejection(w http.ResponseWriter, r *http.Request, err error, metrics *telemetry.Metrics) {
	reqID := w.Header().Get("X-Request-ID")

	var rej *Rejection
	stage := "unknown"
	if errors.As(err, &rej) {
		stage = rej.Stage
	}
	if metrics != nil {
		metrics.RecordAdmissionEvent(stage)
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		slog.Warn("rate limit exceeded",
			"request_id", reqID, "key", RateLimitKey(r))
		httputil.WriteRateLimitError(w, reqID, "Rate limit exceeded, retry later")
	case errors.Is(err, ErrOverloaded):
		slog.Warn("shed request due to overload", "request_id", reqID)
		httputil.WriteOverloadedError(w, reqID, "Server overloaded")
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		slog.Warn("request timed out in admission", "request_id", reqID, "stage", stage)
		httputil.WriteTimeoutError(w, reqID, "Request timed out")
	case errors.Is(err, context.Canceled):
		// Client went away while queued; nothing useful to write.
	default:
		slog.Error("unhandled admission error", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Internal error")
	}
}
