package stream

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriter_EventOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require := func(err error) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require(w.Meta(MetaPayload{RequestID: "r1", Synthesizer: "gpt-4o", ReceivedAt: time.Now()}))
	require(w.Status(StatusPayload{Stage: "initial", Percent: 50}))
	require(w.Cost(CostPayload{InputTokens: 10, OutputTokens: 5, EstimatedCostUsd: 0.01}))
	require(w.Done(DonePayload{CompletedAt: time.Now()}))

	out := buf.String()
	metaIdx := strings.Index(out, "event: meta")
	statusIdx := strings.Index(out, "event: status")
	costIdx := strings.Index(out, "event: cost")
	doneIdx := strings.Index(out, "event: done")

	assert.True(t, metaIdx < statusIdx)
	assert.True(t, statusIdx < costIdx)
	assert.True(t, costIdx < doneIdx)
}

func TestWriter_ErrorPayloadHasFixedCode(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require_ := w.Error(ErrorPayload{Message: "cap exceeded", Code: ErrorCapExceeded})
	if require_ != nil {
		t.Fatal(require_)
	}
	assert.Contains(t, buf.String(), "CAP_EXCEEDED")
}

func TestWriter_Ping(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_ = w.Ping()
	assert.Equal(t, ": ping\n\n", buf.String())
}
