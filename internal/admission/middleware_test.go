package admission

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMiddleware_RejectionStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"overloaded", ErrOverloaded, http.StatusServiceUnavailable, "overloaded"},
		{"timed out", ErrTimedOut, http.StatusGatewayTimeout, "gateway_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			p := NewPipeline(&stubStage{name: "gate", err: tt.err, order: &order})
			handler := Middleware(p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler must not run on rejection")
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantCode) {
				t.Errorf("body %q missing code %q", w.Body.String(), tt.wantCode)
			}
		})
	}
}

func TestMiddleware_RateLimitSetsRetryAfter(t *testing.T) {
	var order []string
	p := NewPipeline(&stubStage{name: "rate_limit", err: ErrRateLimited, order: &order})
	handler := Middleware(p, nil)(http.NotFoundHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))

	if w.Header().Get("Retry-After") == "" {
		t.Error("429 responses must carry Retry-After")
	}
}

func TestMiddleware_AdmittedRequestSeesStampedContext(t *testing.T) {
	p := NewPipeline(NewTimeoutStage(time.Minute))

	var sawDeadline bool
	handler := Middleware(p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawDeadline = DeadlineAt(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))

	if !sawDeadline {
		t.Error("handler should observe the admission deadline stamp")
	}
}

func TestMiddleware_ReleasesSlotAfterHandler(t *testing.T) {
	pool := NewSlotPool(1, 0)
	p := NewPipeline(NewConcurrencyStage(pool))
	handler := Middleware(p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(pool.sem) != 1 {
			t.Error("slot should be held while the handler runs")
		}
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))

	if len(pool.sem) != 0 {
		t.Error("slot should be released after the handler returns")
	}
}
