package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/extractor/pkg/capture"
	"github.com/kgraph/extractor/pkg/model"
	"github.com/kgraph/extractor/pkg/ratelimit"
)

// fakeSession is a scriptable agentsession.Session: each call to Run pops
// the next scripted action, letting tests drive every branch of
// Worker.Process without a real LLM backend.
type fakeSession struct {
	calls   int
	actions []func(cap *capture.Capture) (string, error)
}

func (f *fakeSession) withCapture(cap *capture.Capture) func(ctx context.Context, prompt string) (string, error) {
	return func(ctx context.Context, prompt string) (string, error) {
		idx := f.calls
		f.calls++
		if idx >= len(f.actions) {
			return "", nil
		}
		return f.actions[idx](cap)
	}
}

// runnerFunc adapts a closure to agentsession.Session.
type runnerFunc func(ctx context.Context, prompt string) (string, error)

func (r runnerFunc) Run(ctx context.Context, prompt string) (string, error) { return r(ctx, prompt) }

func submitAction(entities ...string) func(*capture.Capture) (string, error) {
	return func(cap *capture.Capture) (string, error) {
		raw := make([]json.RawMessage, len(entities))
		for i, e := range entities {
			raw[i] = json.RawMessage(e)
		}
		cap.Submit(&capture.Submission{Entities: raw, Metadata: map[string]any{"entity_count": len(entities)}})
		return "", nil
	}
}

func newTestWorker(t *testing.T, actions ...func(*capture.Capture) (string, error)) (*Worker, *fakeSession) {
	t.Helper()
	cap := capture.New()
	fs := &fakeSession{actions: actions}
	session := runnerFunc(fs.withCapture(cap))
	rl := ratelimit.New()
	w := New(Options{
		ToolName:         "submit_extraction_results",
		MaxRetries:       2,
		RetryBackoffBase: time.Millisecond,
		ResultTimeout:    time.Second,
		StrictURNFormat:  true,
	}, cap, session, rl, nil)
	return w, fs
}

func TestProcess_ToolSubmission(t *testing.T) {
	w, _ := newTestWorker(t, submitAction(`{"@id":"urn:Service:payment-api","@type":"Service","name":"payment-api","owner":{"@id":"urn:User:alice"}}`))
	chunk := model.Chunk{ChunkID: "chunk-001", Files: []string{"s.yml"}}

	result, err := w.Process(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "urn:Service:payment-api", result.Entities[0].ID)
	v, ok := result.Entities[0].Properties.Get("owner")
	require.True(t, ok)
	assert.Equal(t, "urn:User:alice", v.Reference)
}

func TestProcess_TextFallbackJSON(t *testing.T) {
	w, _ := newTestWorker(t, func(cap *capture.Capture) (string, error) {
		return "```json\n{\"entities\":[{\"@id\":\"urn:Service:x\",\"@type\":\"Service\",\"name\":\"X\"}],\"metadata\":{}}\n```", nil
	})
	chunk := model.Chunk{ChunkID: "chunk-001", Files: []string{"a.yml"}}

	result, err := w.Process(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "urn:Service:x", result.Entities[0].ID)
}

func TestProcess_CorrectiveRetryThenSucceeds(t *testing.T) {
	w, fs := newTestWorker(t,
		func(cap *capture.Capture) (string, error) { return "not json at all", nil },
		submitAction(`{"@id":"urn:Service:x","@type":"Service","name":"X"}`),
	)
	chunk := model.Chunk{ChunkID: "chunk-001", Files: []string{"a.yml"}}

	result, err := w.Process(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, 2, fs.calls)
}

func TestProcess_InvalidEntityDroppedAsIssue(t *testing.T) {
	w, _ := newTestWorker(t, submitAction(
		`{"@id":"urn:Service:good","@type":"Service","name":"Good"}`,
		`{"@type":"Service","name":"Missing ID"}`,
	))
	chunk := model.Chunk{ChunkID: "chunk-001", Files: []string{"a.yml"}}

	result, err := w.Process(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "urn:Service:good", result.Entities[0].ID)
	require.Len(t, result.ValidationIssues, 1)
	assert.Equal(t, model.SeverityError, result.ValidationIssues[0].Severity)
	assert.Contains(t, result.ValidationIssues[0].Message, "@id")
}

func TestProcess_RateLimitedSurfacesDirectly(t *testing.T) {
	w, _ := newTestWorker(t, func(cap *capture.Capture) (string, error) {
		return "", &model.RateLimitedError{RetryAfter: time.Millisecond}
	})
	chunk := model.Chunk{ChunkID: "chunk-001", Files: []string{"a.yml"}}

	_, err := w.Process(context.Background(), chunk)
	var rl *model.RateLimitedError
	require.ErrorAs(t, err, &rl)
}

func TestProcess_PromptTooLongSurfacesDirectly(t *testing.T) {
	w, _ := newTestWorker(t, func(cap *capture.Capture) (string, error) {
		return "", &model.PromptTooLongError{ChunkID: "chunk-001"}
	})
	chunk := model.Chunk{ChunkID: "chunk-001", Files: []string{"a.yml", "b.yml"}}

	_, err := w.Process(context.Background(), chunk)
	var tooLong *model.PromptTooLongError
	require.ErrorAs(t, err, &tooLong)
}

func TestProcess_TransientRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	w, _ := newTestWorker(t,
		func(cap *capture.Capture) (string, error) { attempts++; return "", assertErr{} },
		submitAction(`{"@id":"urn:Service:x","@type":"Service","name":"X"}`),
	)
	chunk := model.Chunk{ChunkID: "chunk-001", Files: []string{"a.yml"}}

	result, err := w.Process(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, 1, attempts)
}

func TestProcess_TransientExhaustsRetries(t *testing.T) {
	w, _ := newTestWorker(t,
		func(cap *capture.Capture) (string, error) { return "", assertErr{} },
		func(cap *capture.Capture) (string, error) { return "", assertErr{} },
		func(cap *capture.Capture) (string, error) { return "", assertErr{} },
	)
	chunk := model.Chunk{ChunkID: "chunk-001", Files: []string{"a.yml"}}

	_, err := w.Process(context.Background(), chunk)
	var transient *model.TransientError
	require.ErrorAs(t, err, &transient)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
