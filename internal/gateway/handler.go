package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/veilworks/veil-gateway/internal/admission"
	"github.com/veilworks/veil-gateway/internal/httputil"
	"github.com/veilworks/veil-gateway/internal/provider"
	"github.com/veilworks/veil-gateway/internal/quota"
	"github.com/veilworks/veil-gateway/internal/redact"
	"github.com/veilworks/veil-gateway/internal/telemetry"
	"github.com/veilworks/veil-gateway/internal/types"
)

const chatRoute = "/v1/chat/completions"

const defaultKeepAlive = 10 * time.Second

// LineSource is the lazy line sequence a streaming upstream call returns.
// *provider.LineStream is the production implementation.
type LineSource interface {
	Next() (string, error)
	Close() error
}

// Upstream is the provider collaborator: one buffered call, one lazy line
// stream.
type Upstream interface {
	ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatCompletionResponse, error)
	ChatStream(ctx context.Context, req *types.ChatRequest) (LineSource, error)
}

// ProviderUpstream adapts *provider.Client to the Upstream interface.
type ProviderUpstream struct {
	*provider.Client
}

func (p ProviderUpstream) ChatStream(ctx context.Context, req *types.ChatRequest) (LineSource, error) {
	return p.Client.ChatStream(ctx, req)
}

// Handler serves the chat-completion route: quota check, request-side
// redaction, upstream dispatch, response-side redaction.
type Handler struct {
	upstream  Upstream
	ledger    *quota.Ledger // nil disables quota enforcement
	metrics   *telemetry.Metrics
	keepAlive time.Duration
}

func NewHandler(upstream Upstream, ledger *quota.Ledger, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		upstream:  upstream,
		ledger:    ledger,
		metrics:   metrics,
		keepAlive: defaultKeepAlive,
	}
}

// SetKeepAlive overrides the stream keep-alive interval. Non-positive
// values keep the default.
func (h *Handler) SetKeepAlive(d time.Duration) {
	if d > 0 {
		h.keepAlive = d
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	if h.metrics != nil {
		h.metrics.InflightRequests.Inc()
		defer h.metrics.InflightRequests.Dec()
	}

	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	defer r.Body.Close()

	if req.Model == "" {
		httputil.WriteBadRequestError(w, reqID, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		httputil.WriteBadRequestError(w, reqID, "messages is required")
		return
	}

	tenant := admission.Tenant(r)

	if h.ledger != nil {
		if err := h.ledger.CheckAndIncrement(r.Context(), tenant); err != nil {
			h.writeQuotaError(w, reqID, tenant, err)
			return
		}
	}

	// Redact inbound message contents in place before anything is
	// forwarded upstream.
	var stats redact.Stats
	for i := range req.Messages {
		redacted, s := redact.Text(req.Messages[i].Content)
		req.Messages[i].Content = redacted
		stats.Add(s)
	}
	if h.metrics != nil {
		h.metrics.RecordRedactions(stats.Matches)
	}

	slog.Info("request admitted",
		"request_id", reqID,
		"tenant", tenant,
		"model", req.Model,
		"stream", req.StreamRequested(),
		"redactions", stats.Matches,
	)

	if req.StreamRequested() {
		h.serveStream(w, r, reqID, &req, receivedAt)
		return
	}
	h.serveBuffered(w, r, reqID, &req, receivedAt)
}

// serveBuffered awaits the full upstream response under the admission
// deadline; a failure surfaces as a single error response and no partial
// data ever leaks.
func (h *Handler) serveBuffered(w http.ResponseWriter, r *http.Request, reqID string, req *types.ChatRequest, receivedAt time.Time) {
	ctx, cancel := admission.BoundedContext(r.Context())
	defer cancel()

	resp, err := h.upstream.ChatCompletion(ctx, req)
	if err != nil {
		h.recordRequest(req.Model, upstreamStatus(ctx, err), receivedAt)
		h.writeUpstreamError(w, reqID, ctx, err)
		return
	}

	var stats redact.Stats
	for i := range resp.Choices {
		if m := resp.Choices[i].Message; m != nil {
			redacted, s := redact.Text(m.Content)
			m.Content = redacted
			stats.Add(s)
		}
	}
	if h.metrics != nil {
		h.metrics.RecordRedactions(stats.Matches)
	}

	h.recordRequest(req.Model, http.StatusOK, receivedAt)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", reqID)
	json.NewEncoder(w).Encode(resp)
}

// serveStream opens the upstream stream and drains it through the
// transform. The admission deadline bounds only the connect and the first
// upstream item; a live stream is never killed by it.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, reqID string, req *types.ChatRequest, receivedAt time.Time) {
	streamCtx, cancelStream := context.WithCancel(r.Context())
	defer cancelStream()

	var watchdog *time.Timer
	if dl, ok := admission.DeadlineAt(r.Context()); ok {
		watchdog = time.AfterFunc(time.Until(dl), cancelStream)
	}

	lines, err := h.upstream.ChatStream(streamCtx, req)
	if err != nil {
		if watchdog != nil {
			watchdog.Stop()
		}
		if streamCtx.Err() != nil && r.Context().Err() == nil {
			// The watchdog, not the client, aborted the connect.
			h.recordRequest(req.Model, http.StatusGatewayTimeout, receivedAt)
			httputil.WriteTimeoutError(w, reqID, "Upstream timed out")
			return
		}
		// Exactly one error frame, then close: no partial stream is
		// ever opened with the client.
		slog.Error("upstream stream failed to open", "request_id", reqID, "error", err)
		h.recordRequest(req.Model, http.StatusOK, receivedAt)
		writeSSE(r.Context(), w, reqID, failedTransform(err, h.metrics), h.keepAlive)
		return
	}
	defer lines.Close()

	// The constructor performs the one-item lookahead; it must still run
	// under the watchdog.
	transform := newStreamTransform(lines, h.metrics)
	if watchdog != nil {
		watchdog.Stop()
	}
	if streamCtx.Err() != nil && r.Context().Err() == nil {
		// The watchdog fired while awaiting the first item. No frame has
		// been written yet, so this is a timeout, not a mid-stream error.
		slog.Warn("upstream stream timed out before first item", "request_id", reqID)
		h.recordRequest(req.Model, http.StatusGatewayTimeout, receivedAt)
		httputil.WriteTimeoutError(w, reqID, "Upstream timed out")
		return
	}

	h.recordRequest(req.Model, http.StatusOK, receivedAt)
	writeSSE(r.Context(), w, reqID, transform, h.keepAlive)
}

// failedTransform produces a transform whose only output is one error
// frame.
func failedTransform(err error, metrics *telemetry.Metrics) *streamTransform {
	t := &streamTransform{done: true, metrics: metrics}
	f := errorFrame(summarize(err))
	t.count(f)
	t.pending = []Frame{f}
	return t
}

// summarize strips upstream detail down to what the caller may see.
func summarize(err error) error {
	var ue *provider.UpstreamError
	if errors.As(err, &ue) {
		return errors.New("upstream returned status " + strconv.Itoa(ue.Status))
	}
	return errors.New("upstream unavailable")
}

func (h *Handler) writeQuotaError(w http.ResponseWriter, reqID, tenant string, err error) {
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		slog.Warn("quota exceeded",
			"request_id", reqID,
			"tenant", tenant,
			"limit", exceeded.Limit,
			"current", exceeded.Current,
		)
		if h.metrics != nil {
			h.metrics.RecordQuotaBlock("exceeded")
		}
		httputil.WriteQuotaExceededError(w, reqID, exceeded.Limit)
		return
	}
	slog.Error("quota backend failure", "request_id", reqID, "tenant", tenant, "error", err)
	if h.metrics != nil {
		h.metrics.RecordQuotaBlock("backend")
	}
	httputil.WriteQuotaBackendError(w, reqID)
}

func (h *Handler) writeUpstreamError(w http.ResponseWriter, reqID string, ctx context.Context, err error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		slog.Warn("buffered request timed out", "request_id", reqID)
		httputil.WriteTimeoutError(w, reqID, "Upstream timed out")
		return
	}

	var ue *provider.UpstreamError
	if errors.As(err, &ue) {
		slog.Error("upstream rejected request",
			"request_id", reqID, "status", ue.Status, "body", ue.Body)
		httputil.WriteUpstreamError(w, reqID, "Upstream returned status "+strconv.Itoa(ue.Status))
		return
	}

	slog.Error("upstream request failed", "request_id", reqID, "error", err)
	httputil.WriteUpstreamError(w, reqID, "Upstream request failed")
}

func upstreamStatus(ctx context.Context, err error) int {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (h *Handler) recordRequest(model string, status int, receivedAt time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordRequest(chatRoute, model, strconv.Itoa(status), float64(time.Since(receivedAt).Milliseconds()))
}
