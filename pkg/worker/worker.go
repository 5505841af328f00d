// Package worker implements the Extraction Worker: it drives one agent
// session per chunk, observes the result-capture handoff, retries
// transient failures (rate-limit and prompt-too-long failures are
// returned to the Orchestrator), and validates the entities it gets
// back.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kgraph/extractor/pkg/agentsession"
	"github.com/kgraph/extractor/pkg/capture"
	"github.com/kgraph/extractor/pkg/model"
	"github.com/kgraph/extractor/pkg/ratelimit"
)

// Options configures a Worker's retry and timeout behavior, drawn from
// the llm.* configuration keys.
type Options struct {
	ToolName          string
	MaxRetries        int           // transient-failure retries, exponential back-off
	ResultTimeout     time.Duration // how long to wait on the capture for a submission
	StrictURNFormat   bool
	DefaultRetryAfter time.Duration // used if a RateLimitedError carries no explicit delay
	RetryBackoffBase  time.Duration // unit for 2^attempt backoff; defaults to 1s
	MaxPromptTokens   int           // 0 disables the pre-flight size check
}

// DefaultOptions returns the stock retry/timeout configuration.
func DefaultOptions() Options {
	return Options{
		ToolName:          agentsession.ToolName,
		MaxRetries:        3,
		RetryBackoffBase:  time.Second,
		ResultTimeout:     300 * time.Second,
		StrictURNFormat:   true,
		DefaultRetryAfter: 60 * time.Second,
		MaxPromptTokens:   800000,
	}
}

// Worker converts one Chunk into a validated ExtractionResult. A Worker
// instance owns a dedicated Capture (reset once per chunk) and the
// Session bound to it, and shares only the Coordinator with its sibling
// workers.
type Worker struct {
	opts    Options
	cap     *capture.Capture
	session agentsession.Session
	rl      *ratelimit.Coordinator
	log     arbor.ILogger
}

// New creates a Worker. cap is this worker's own one-shot result slot;
// session is the agent backend; rl is the process-wide Rate-Limit
// Coordinator shared by every worker in the pool.
func New(opts Options, cap *capture.Capture, session agentsession.Session, rl *ratelimit.Coordinator, log arbor.ILogger) *Worker {
	return &Worker{opts: opts, cap: cap, session: session, rl: rl, log: log}
}

// Process runs the full per-chunk extraction procedure. On success it
// returns an ExtractionResult. On failure it
// returns a model.ExtractionFailure the Orchestrator dispatches on:
// RateLimitedError and PromptTooLongError are always returned directly
// (the Orchestrator decides whether to re-enqueue or split); Transient
// failures are retried internally up to opts.MaxRetries before being
// surfaced.
func (w *Worker) Process(ctx context.Context, chunk model.Chunk) (*model.ExtractionResult, error) {
	prompt := RenderPrompt(chunk, w.opts.ToolName)

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := w.attempt(ctx, chunk, prompt)
		if err == nil {
			return result, nil
		}

		var rateLimited *model.RateLimitedError
		if errors.As(err, &rateLimited) {
			return nil, err
		}
		var tooLong *model.PromptTooLongError
		if errors.As(err, &tooLong) {
			return nil, err
		}
		var cancelled *model.CancelledError
		if errors.As(err, &cancelled) {
			return nil, err
		}

		lastErr = err
		if attempt >= w.opts.MaxRetries {
			return nil, lastErr
		}

		base := w.opts.RetryBackoffBase
		if base <= 0 {
			base = time.Second
		}
		backoff := time.Duration(1<<uint(attempt)) * base
		if w.log != nil {
			w.log.Warn().Err(err).
				Str("chunk_id", chunk.ChunkID).
				Str("attempt", fmt.Sprintf("%d/%d", attempt+1, w.opts.MaxRetries)).
				Str("backoff", backoff.String()).
				Msg("extraction attempt failed, retrying")
		}
		select {
		case <-ctx.Done():
			return nil, &model.CancelledError{ChunkID: chunk.ChunkID}
		case <-time.After(backoff):
		}
	}
}

// attempt runs one full agent turn: acquire the rate-limit gate, reset
// the capture, drive the session, and resolve its outcome.
func (w *Worker) attempt(ctx context.Context, chunk model.Chunk, prompt string) (*model.ExtractionResult, error) {
	if w.opts.MaxPromptTokens > 0 && EstimatedTokens(prompt) > w.opts.MaxPromptTokens {
		return nil, &model.PromptTooLongError{ChunkID: chunk.ChunkID}
	}

	if err := w.rl.Acquire(ctx); err != nil {
		return nil, &model.CancelledError{ChunkID: chunk.ChunkID}
	}

	w.cap.Reset()

	finalText, err := w.session.Run(ctx, prompt)
	if err != nil {
		var rateLimited *model.RateLimitedError
		if errors.As(err, &rateLimited) {
			retryAfter := rateLimited.RetryAfter
			if retryAfter <= 0 {
				retryAfter = w.opts.DefaultRetryAfter
			}
			w.rl.Trip(time.Now(), retryAfter)
			return nil, &model.RateLimitedError{RetryAfter: retryAfter}
		}
		var tooLong *model.PromptTooLongError
		if errors.As(err, &tooLong) {
			return nil, &model.PromptTooLongError{ChunkID: chunk.ChunkID}
		}
		return nil, &model.TransientError{Cause: err}
	}

	sub, err := w.resolveSubmission(ctx, chunk, prompt, finalText)
	if err != nil {
		return nil, err
	}

	return w.buildResult(chunk, sub)
}

// resolveSubmission prefers the tool-call Capture; else falls back to
// parsing finalText as JSON (raw, fenced, or first balanced span); else
// issues one corrective retry demanding JSON-only output before giving
// up with a ParseErr.
func (w *Worker) resolveSubmission(ctx context.Context, chunk model.Chunk, prompt, finalText string) (*capture.Submission, error) {
	if w.cap.Phase() == capture.PhaseSubmitted {
		resultCtx, cancel := context.WithTimeout(ctx, w.opts.ResultTimeout)
		defer cancel()
		sub, err := w.cap.Consume(resultCtx)
		if err != nil {
			return nil, &model.CancelledError{ChunkID: chunk.ChunkID}
		}
		return sub, nil
	}

	if err := capture.SubmitFallback(w.cap, finalText); err == nil {
		return w.cap.Consume(ctx)
	}

	// Corrective retry: ask once more for JSON-only output.
	correctivePrompt := prompt + "\n\nYour previous response was not valid JSON and did not call the tool. Respond with ONLY the JSON object described above, no other text."
	w.cap.Reset()
	retryText, err := w.session.Run(ctx, correctivePrompt)
	if err != nil {
		return nil, &model.ParseErr{ChunkID: chunk.ChunkID, Cause: err}
	}
	if w.cap.Phase() == capture.PhaseSubmitted {
		return w.cap.Consume(ctx)
	}
	if err := capture.SubmitFallback(w.cap, retryText); err != nil {
		return nil, &model.ParseErr{ChunkID: chunk.ChunkID, Cause: err}
	}
	return w.cap.Consume(ctx)
}

// buildResult parses and normalizes each submitted entity, drops
// invalid ones as a ValidationIssue, and returns the ExtractionResult
// for the chunk.
func (w *Worker) buildResult(chunk model.Chunk, sub *capture.Submission) (*model.ExtractionResult, error) {
	entities := make([]*model.Entity, 0, len(sub.Entities))
	var issues []model.ValidationIssue

	for _, raw := range sub.Entities {
		e, err := parseEntity(raw, w.opts.StrictURNFormat)
		if err != nil {
			issues = append(issues, model.ValidationIssue{
				EntityID: entityIDForError(raw),
				Field:    "entity",
				Message:  err.Error(),
				Severity: model.SeverityError,
			})
			continue
		}
		entities = append(entities, e)
	}

	return &model.ExtractionResult{
		ChunkID:          chunk.ChunkID,
		Entities:         entities,
		ValidationIssues: issues,
		Metadata:         sub.Metadata,
	}, nil
}

// entityIDForError best-efforts an entity identifier for a validation
// issue about an entity that failed to parse entirely.
func entityIDForError(raw json.RawMessage) string {
	var partial struct {
		ID string `json:"@id"`
	}
	if err := json.Unmarshal(raw, &partial); err == nil && partial.ID != "" {
		return partial.ID
	}
	return "unknown"
}
