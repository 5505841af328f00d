// Package capture implements the Result Capture component: a one-shot
// state machine that waits for the agent session to submit its
// extraction results via a tool call, with a bounded timeout and a
// text-JSON-fallback path for agents that emit JSON in their final
// message instead of calling the tool.
package capture

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/kgraph/extractor/pkg/model"
)

// Phase is the capture state machine's current state, an explicit
// phase rather than a bare boolean so callers and logs can distinguish
// "never submitted" from "timed out" from "consumed".
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitted
	PhaseConsumed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitted:
		return "submitted"
	case PhaseConsumed:
		return "consumed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Submission is the raw, not-yet-validated payload the agent handed
// back, either via the submit_extraction_results tool call or via the
// text-JSON fallback.
type Submission struct {
	Entities []json.RawMessage
	Metadata map[string]any
}

// Capture is reset once per chunk and consumed exactly once per chunk.
// It is safe for concurrent use, though in practice exactly one worker
// goroutine owns a given Capture at a time.
type Capture struct {
	mu     sync.Mutex
	phase  Phase
	result *Submission
	ready  chan struct{}
}

// New returns a Capture in PhaseIdle.
func New() *Capture {
	c := &Capture{}
	c.Reset()
	return c
}

// Reset discards any previous result and returns the capture to
// PhaseIdle, ready for the next chunk's agent session.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseIdle
	c.result = nil
	c.ready = make(chan struct{})
}

// Phase returns the current phase.
func (c *Capture) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Submit records the agent's result and transitions Idle -> Submitted.
// Calling Submit more than once per Reset is a no-op after the first
// call; only the first submission is kept.
func (c *Capture) Submit(sub *Submission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return
	}
	c.result = sub
	c.phase = PhaseSubmitted
	close(c.ready)
}

// Consume blocks until a submission arrives, ctx is cancelled, or no
// submission arrives at all. It transitions Submitted -> Consumed on
// success, or -> Failed on cancellation. Exactly one call to Consume
// should follow each Reset.
func (c *Capture) Consume(ctx context.Context) (*Submission, error) {
	select {
	case <-c.ready:
		c.mu.Lock()
		defer c.mu.Unlock()
		c.phase = PhaseConsumed
		return c.result, nil
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.phase == PhaseSubmitted {
			// A submission raced in right as the context expired; honor it.
			c.phase = PhaseConsumed
			return c.result, nil
		}
		c.phase = PhaseFailed
		return nil, ctx.Err()
	}
}

// SubmitFallback parses text as a JSON object carrying "entities" and
// "metadata" keys -- the shape a text-only agent response takes -- and
// feeds it through Submit.
func SubmitFallback(c *Capture, text string) error {
	var parsed struct {
		Entities []json.RawMessage `json:"entities"`
		Metadata map[string]any    `json:"metadata"`
	}
	stripped := stripFences(text)
	if err := json.Unmarshal([]byte(stripped), &parsed); err != nil {
		return &model.ParseErr{Cause: err}
	}
	if parsed.Entities == nil {
		return &model.ParseErr{Cause: errNoEntitiesKey}
	}
	c.Submit(&Submission{Entities: parsed.Entities, Metadata: parsed.Metadata})
	return nil
}

var errNoEntitiesKey = errMissingKey("response JSON has no \"entities\" key")

type errMissingKey string

func (e errMissingKey) Error() string { return string(e) }

// stripFences removes a leading/trailing ```json or ``` fence: prefer
// a ```json fenced block, fall back to a generic fenced block, then to
// the first complete {...} value starting at the first '{', else use the
// text as-is.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if block, ok := extractFence(trimmed, "```json"); ok {
		return block
	}
	if block, ok := extractFence(trimmed, "```"); ok {
		return block
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		var span json.RawMessage
		if json.NewDecoder(strings.NewReader(trimmed[start:])).Decode(&span) == nil {
			return string(span)
		}
	}
	return trimmed
}

func extractFence(s, open string) (string, bool) {
	idx := strings.Index(s, open)
	if idx == -1 {
		return "", false
	}
	rest := s[idx+len(open):]
	closeIdx := strings.Index(rest, "```")
	if closeIdx == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:closeIdx]), true
}
