// Package stream writes the transport's SSE wire events (spec C11, wire
// format spec §6.3): meta, status, token, cost, done/error, and the
// keep-alive ping. Owned by the HTTP boundary — the core emits events
// through reqcontext.Sink and the HTTP handler forwards them to a Writer.
// A Writer writes each event in the order its methods are called; it does
// not check that the sequence is meta, status, token, cost, then exactly one
// terminal done/error.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Writer writes Server-Sent Events to w, flushing after each event so the
// client observes them as they are produced.
type Writer struct {
	w       io.Writer
	flusher func()
}

// Flusher is satisfied by http.ResponseWriter.
type Flusher interface {
	Flush()
}

// NewWriter builds a Writer. If w also implements Flusher, each event is
// flushed immediately.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(Flusher); ok {
		sw.flusher = f.Flush
	}
	return sw
}

func (s *Writer) write(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	return nil
}

// MetaPayload is the first event on every stream (spec §6.3 step 1).
type MetaPayload struct {
	RequestID   string    `json:"requestId"`
	Synthesizer string    `json:"synthesizer"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

func (s *Writer) Meta(p MetaPayload) error { return s.write("meta", p) }

// StatusPayload is emitted zero or more times; the HTTP handler writes one
// when each pipeline stage starts and one when it completes.
type StatusPayload struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

func (s *Writer) Status(p StatusPayload) error { return s.write("status", p) }

// TokenPayload is emitted only during ultra_synthesis, if the synthesizer
// supports streaming.
type TokenPayload struct {
	Text string `json:"text"`
}

func (s *Writer) Token(p TokenPayload) error { return s.write("token", p) }

// CostPayload is emitted one or more times.
type CostPayload struct {
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	EstimatedCostUsd float64 `json:"estimatedCostUsd"`
	CapExceeded      bool    `json:"capExceeded"`
}

func (s *Writer) Cost(p CostPayload) error { return s.write("cost", p) }

// DonePayload is one of the two possible terminal events.
type DonePayload struct {
	CompletedAt time.Time `json:"completedAt"`
}

func (s *Writer) Done(p DonePayload) error { return s.write("done", p) }

// ErrorCode is the fixed set of codes an error event may carry.
type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	ErrorCapExceeded        ErrorCode = "CAP_EXCEEDED"
	ErrorProviderTimeout    ErrorCode = "PROVIDER_TIMEOUT"
	ErrorRateLimit          ErrorCode = "RATE_LIMIT"
	ErrorInsufficientModels ErrorCode = "INSUFFICIENT_MODELS"
	ErrorInternal           ErrorCode = "INTERNAL"
)

// ErrorPayload is the other possible terminal event.
type ErrorPayload struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

func (s *Writer) Error(p ErrorPayload) error { return s.write("error", p) }

// Ping writes the SSE keep-alive comment line. Call this on a 15s ticker
// while no other event has been emitted (spec §6.3).
func (s *Writer) Ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	return nil
}
