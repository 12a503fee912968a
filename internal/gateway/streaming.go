package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veilworks/veil-gateway/internal/redact"
	"github.com/veilworks/veil-gateway/internal/telemetry"
	"github.com/veilworks/veil-gateway/internal/types"
)

const doneSentinel = "data: [DONE]"

// FrameKind classifies one outbound frame.
type FrameKind string

const (
	FrameDelta       FrameKind = "delta"
	FrameSentinel    FrameKind = "sentinel"
	FramePassthrough FrameKind = "passthrough"
	FrameError       FrameKind = "error"
)

// Frame is one unit of the outbound event-stream protocol, already in wire
// form. Terminal frames end the stream; nothing is pulled upstream after
// one.
type Frame struct {
	Payload  string
	Kind     FrameKind
	Terminal bool
}

// lineSource is the upstream collaborator's lazy line sequence.
type lineSource interface {
	Next() (string, error)
}

// streamTransform turns upstream protocol lines into outbound frames,
// redacting every delta's content independently. It pulls exactly one item
// on construction so an immediate upstream failure becomes a single clean
// error frame instead of an empty or half-open response.
type streamTransform struct {
	src     lineSource
	pending []Frame
	done    bool
	metrics *telemetry.Metrics
}

func newStreamTransform(src lineSource, metrics *telemetry.Metrics) *streamTransform {
	t := &streamTransform{src: src, metrics: metrics}
	if f, ok := t.pull(); ok {
		t.pending = append(t.pending, f)
	}
	return t
}

// Next returns the next outbound frame. ok is false once the stream is
// exhausted.
func (t *streamTransform) Next() (Frame, bool) {
	if len(t.pending) > 0 {
		f := t.pending[0]
		t.pending = t.pending[1:]
		return f, true
	}
	return t.pull()
}

// pull reads upstream items until one produces a frame or the stream ends.
// Blank lines are event-framing artifacts, not items, and are skipped.
func (t *streamTransform) pull() (Frame, bool) {
	for {
		if t.done {
			return Frame{}, false
		}
		line, err := t.src.Next()
		if err == io.EOF {
			t.done = true
			return Frame{}, false
		}
		if err != nil {
			t.done = true
			f := errorFrame(err)
			t.count(f)
			return f, true
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := t.classify(line)
		if f.Terminal {
			t.done = true
		}
		t.count(f)
		return f, true
	}
}

// classify maps one non-blank upstream line to an outbound frame: the
// completion sentinel, a redacted delta, or a verbatim passthrough.
func (t *streamTransform) classify(line string) Frame {
	if strings.TrimSpace(line) == doneSentinel {
		return Frame{Payload: doneSentinel, Kind: FrameSentinel, Terminal: true}
	}

	data, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		return Frame{Payload: line, Kind: FramePassthrough}
	}

	var chunk types.StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return Frame{Payload: line, Kind: FramePassthrough}
	}

	var stats redact.Stats
	for i := range chunk.Choices {
		if d := chunk.Choices[i].Delta; d != nil && d.Content != "" {
			redacted, s := redact.Text(d.Content)
			d.Content = redacted
			stats.Add(s)
		}
	}
	if t.metrics != nil {
		t.metrics.RecordRedactions(stats.Matches)
	}

	out, err := json.Marshal(&chunk)
	if err != nil {
		return Frame{Payload: line, Kind: FramePassthrough}
	}
	return Frame{Payload: "data: " + string(out), Kind: FrameDelta}
}

func (t *streamTransform) count(f Frame) {
	if t.metrics != nil {
		t.metrics.RecordStreamFrame(string(f.Kind))
	}
}

func errorFrame(err error) Frame {
	msg, _ := json.Marshal(map[string]string{"error": "stream error: " + err.Error()})
	return Frame{Payload: "data: " + string(msg), Kind: FrameError, Terminal: true}
}

// writeSSE drains the transform into the response as an event stream,
// flushing per frame and emitting comment keep-alives when the upstream
// goes quiet. It returns when the stream terminates or the client goes
// away.
func writeSSE(ctx context.Context, w http.ResponseWriter, reqID string, t *streamTransform, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		// Should not happen behind chi; degrade to a plain error body.
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames := make(chan Frame)
	go func() {
		defer close(frames)
		for {
			f, ok := t.Next()
			if !ok {
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			fmt.Fprintf(w, "%s\n\n", f.Payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
