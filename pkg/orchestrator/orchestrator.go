// Package orchestrator implements the top-level extraction flow: it
// owns the worker pool, checkpoint commits, progress reporting, and the
// handoff to the final dedup/validate pass.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kgraph/extractor/pkg/checkpoint"
	"github.com/kgraph/extractor/pkg/model"
	"github.com/kgraph/extractor/pkg/planner"
	"github.com/kgraph/extractor/pkg/worker"
)

// CommitPolicy selects when the Orchestrator writes a checkpoint.
type CommitPolicy string

const (
	CommitPerChunk  CommitPolicy = "per_chunk"
	CommitEveryN    CommitPolicy = "every_n"
	CommitTimeBased CommitPolicy = "time_based"
)

// Config configures one Orchestrator run; the chunking/LLM keys live
// with the Chunker and Worker, which own them.
type Config struct {
	Workers             int
	Resume              bool
	ConfigHash          string
	CheckpointEnabled   bool
	CheckpointID        string // conventionally "latest"
	CommitPolicy        CommitPolicy
	CommitEveryNChunks  int
	CommitInterval      time.Duration
	RecordFailedAsDone  bool // record exhausted-retry chunks as completed; default false
	FailOnValidationErr bool
}

// DefaultConfig returns the stock single-worker configuration.
func DefaultConfig() Config {
	return Config{
		Workers:            1,
		CheckpointEnabled:  true,
		CheckpointID:       "latest",
		CommitPolicy:       CommitPerChunk,
		CommitEveryNChunks: 10,
		CommitInterval:     30 * time.Second,
	}
}

// ProgressSnapshot is the point-in-time progress view the CLI/status
// collaborator polls or receives via callback; the core only exposes
// this, never a rendered UI.
type ProgressSnapshot struct {
	ChunksProcessed int
	ChunksFailed    int
	ChunksSkipped   int
	TotalChunks     int
	EntitiesSoFar   int
}

// ProgressCallback is invoked after each chunk resolves.
type ProgressCallback func(ProgressSnapshot)

// Result is what Run returns: the final entity set (the FinalizeFunc's
// output, or the raw accumulated entities when no FinalizeFunc is set),
// accumulated metrics, and every validation issue (worker-level entity rejections
// plus graph-level orphan/broken-reference issues).
type Result struct {
	Entities []*model.Entity
	Metrics  *model.Metrics
	Issues   []model.ValidationIssue
}

// WorkerFactory builds one Worker per pool slot. Each worker owns its
// own Capture/Session pair but all workers share the same Rate-Limit
// Coordinator, which the factory closes over.
type WorkerFactory func() *worker.Worker

// FinalizeFunc runs the Deduplicator and Graph Validator over the
// accumulated entities after all chunks drain. Kept as an injected
// function so Orchestrator does not import pkg/dedup/pkg/validate
// directly -- those are wired by the caller (cmd/kgextract).
type FinalizeFunc func(entities []*model.Entity) (final []*model.Entity, issues []model.ValidationIssue, err error)

// Orchestrator runs one extraction: the pending chunk queue, the worker
// pool, checkpoint commits, and the final finalize pass.
type Orchestrator struct {
	cfg        Config
	store      checkpoint.Store
	factory    WorkerFactory
	finalize   FinalizeFunc
	log        arbor.ILogger
	onProgress ProgressCallback
}

// New creates an Orchestrator. store may be nil, in which case
// checkpointing is disabled regardless of cfg.CheckpointEnabled.
func New(cfg Config, store checkpoint.Store, factory WorkerFactory, finalize FinalizeFunc, log arbor.ILogger, onProgress ProgressCallback) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Orchestrator{cfg: cfg, store: store, factory: factory, finalize: finalize, log: log, onProgress: onProgress}
}

// queueState is the shared pending/in-flight chunk queue every worker
// goroutine pulls from and pushes back into (on rate-limit re-enqueue or
// split), protected by one mutex plus a condition variable so idle
// workers block instead of busy-polling.
type queueState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []model.Chunk
	inFlight int
	cancel   bool
}

func newQueue(initial []model.Chunk) *queueState {
	q := &queueState{pending: initial}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queueState) push(c model.Chunk) {
	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// pop blocks until a chunk is available, the queue has drained (no
// pending work and nothing in flight), or cancel has been requested.
func (q *queueState) pop() (model.Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.cancel {
			return model.Chunk{}, false
		}
		if len(q.pending) > 0 {
			c := q.pending[0]
			q.pending = q.pending[1:]
			q.inFlight++
			return c, true
		}
		if q.inFlight == 0 {
			return model.Chunk{}, false
		}
		q.cond.Wait()
	}
}

func (q *queueState) done() {
	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queueState) requestCancel() {
	q.mu.Lock()
	q.cancel = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// accumulator is the Orchestrator's exclusively-owned run state:
// entities in first-insertion order, the worker-level validation issues,
// the completed-chunk-ID set for checkpoint resume, and the checkpoint
// commit cadence trackers.
type accumulator struct {
	mu                sync.Mutex
	entities          []*model.Entity
	issues            []model.ValidationIssue
	completedChunkIDs map[string]bool
	lastSave          time.Time
	chunksSinceSave   int
}

// Run drives the full extraction over chunks, which the caller has
// already produced via pkg/discovery + pkg/planner (the Orchestrator
// does not itself enumerate files or build chunks).
func (o *Orchestrator) Run(ctx context.Context, chunks []model.Chunk, runID string) (*Result, error) {
	metrics := &model.Metrics{RunID: runID, StartTime: time.Now(), TotalChunks: int64(len(chunks))}

	acc := &accumulator{completedChunkIDs: make(map[string]bool), lastSave: time.Now()}

	pending := chunks
	if o.cfg.Resume && o.cfg.CheckpointEnabled && o.store != nil {
		restored, filtered, ok := o.restore(chunks)
		if ok {
			acc.entities = restored.Entities
			acc.completedChunkIDs = restored.CompletedChunkIDs
			pending = filtered
			metrics.EntitiesExtracted = int64(len(restored.Entities))
			if o.log != nil {
				o.log.Info().Str("checkpoint", o.cfg.CheckpointID).Msg("resumed from checkpoint")
			}
		}
	}

	q := newQueue(pending)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go o.runWorker(ctx, q, acc, metrics, &wg)
	}

	// Watch for cancellation: stop handing out new work and let
	// in-flight workers drain to their next suspension point.
	cancelWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.requestCancel()
		case <-cancelWatch:
		}
	}()

	wg.Wait()
	close(cancelWatch)

	o.commit(acc, metrics, true)

	metrics.EndTime = time.Now()

	acc.mu.Lock()
	snapshot := append([]*model.Entity(nil), acc.entities...)
	issues := append([]model.ValidationIssue(nil), acc.issues...)
	acc.mu.Unlock()

	finalEntities := snapshot
	if o.finalize != nil {
		finalized, graphIssues, err := o.finalize(snapshot)
		if err != nil {
			return nil, err
		}
		finalEntities = finalized
		issues = append(issues, graphIssues...)
	}

	for _, iss := range issues {
		if iss.Severity == model.SeverityError {
			metrics.ValidationErrors++
		}
	}

	if ctx.Err() != nil {
		return &Result{Entities: finalEntities, Metrics: metrics, Issues: issues}, &model.CancelledError{}
	}
	if o.cfg.FailOnValidationErr && metrics.ValidationErrors > 0 {
		return &Result{Entities: finalEntities, Metrics: metrics, Issues: issues}, errTooManyValidationErrors
	}
	return &Result{Entities: finalEntities, Metrics: metrics, Issues: issues}, nil
}

var errTooManyValidationErrors = errors.New("validation errors present and fail_on_validation_errors is set")

// runWorker is one pool slot's lifetime: pop a chunk, process it,
// dispatch on the outcome, repeat until the queue drains or cancel.
func (o *Orchestrator) runWorker(ctx context.Context, q *queueState, acc *accumulator, metrics *model.Metrics, wg *sync.WaitGroup) {
	defer wg.Done()
	w := o.factory()

	for {
		chunk, ok := q.pop()
		if !ok {
			return
		}

		result, err := w.Process(ctx, chunk)

		if err == nil {
			o.onSuccess(acc, metrics, chunk, result)
			o.commit(acc, metrics, false)
			q.done()
			continue
		}

		var rateLimited *model.RateLimitedError
		var tooLong *model.PromptTooLongError
		var cancelled *model.CancelledError

		// Re-enqueues and splits happen before done() so the queue never
		// looks drained to a sibling worker while a push is pending.
		switch {
		case errors.As(err, &rateLimited):
			// No counter advance; the chunk goes right back on the
			// queue. The coordinator gate the worker already tripped
			// keeps every other worker from hammering the agent in
			// the meantime.
			q.push(chunk)
			q.done()
		case errors.As(err, &tooLong):
			o.handlePromptTooLong(q, acc, metrics, chunk)
			q.done()
		case errors.As(err, &cancelled):
			o.markFailed(acc, metrics, chunk, false)
			q.done()
			return
		default:
			o.markFailed(acc, metrics, chunk, true)
			q.done()
		}
	}
}

func (o *Orchestrator) handlePromptTooLong(q *queueState, acc *accumulator, metrics *model.Metrics, chunk model.Chunk) {
	a, b, ok := planner.Split(chunk)
	if !ok {
		o.markFailed(acc, metrics, chunk, false)
		if o.log != nil {
			o.log.Warn().Str("chunk_id", chunk.ChunkID).Msg("prompt too long for an indivisible chunk; skipped")
		}
		return
	}
	// One chunk became two; widen TotalChunks so ProgressPercentage
	// stays meaningful.
	atomic.AddInt64(&metrics.TotalChunks, 1)
	q.push(a)
	q.push(b)
}

func (o *Orchestrator) onSuccess(acc *accumulator, metrics *model.Metrics, chunk model.Chunk, result *model.ExtractionResult) {
	acc.mu.Lock()
	acc.entities = append(acc.entities, result.Entities...)
	acc.issues = append(acc.issues, result.ValidationIssues...)
	acc.completedChunkIDs[chunk.ChunkID] = true
	acc.chunksSinceSave++
	acc.mu.Unlock()

	atomic.AddInt64(&metrics.ProcessedChunks, 1)
	atomic.AddInt64(&metrics.EntitiesExtracted, int64(len(result.Entities)))

	if o.onProgress != nil {
		o.onProgress(o.snapshot(acc, metrics))
	}
}

func (o *Orchestrator) markFailed(acc *accumulator, metrics *model.Metrics, chunk model.Chunk, isFailed bool) {
	acc.mu.Lock()
	if o.cfg.RecordFailedAsDone {
		acc.completedChunkIDs[chunk.ChunkID] = true
	}
	acc.mu.Unlock()

	if isFailed {
		atomic.AddInt64(&metrics.FailedChunks, 1)
	} else {
		atomic.AddInt64(&metrics.SkippedChunks, 1)
	}

	if o.onProgress != nil {
		o.onProgress(o.snapshot(acc, metrics))
	}
}

func (o *Orchestrator) snapshot(acc *accumulator, metrics *model.Metrics) ProgressSnapshot {
	acc.mu.Lock()
	entCount := len(acc.entities)
	acc.mu.Unlock()
	return ProgressSnapshot{
		ChunksProcessed: int(atomic.LoadInt64(&metrics.ProcessedChunks)),
		ChunksFailed:    int(atomic.LoadInt64(&metrics.FailedChunks)),
		ChunksSkipped:   int(atomic.LoadInt64(&metrics.SkippedChunks)),
		TotalChunks:     int(atomic.LoadInt64(&metrics.TotalChunks)),
		EntitiesSoFar:   entCount,
	}
}

// commit saves a checkpoint per the configured commit policy. force is
// set on the final drain so the run's last state is always persisted
// regardless of policy cadence.
func (o *Orchestrator) commit(acc *accumulator, metrics *model.Metrics, force bool) {
	if !o.cfg.CheckpointEnabled || o.store == nil {
		return
	}

	acc.mu.Lock()
	shouldSave := force
	switch o.cfg.CommitPolicy {
	case CommitPerChunk:
		shouldSave = shouldSave || acc.chunksSinceSave > 0
	case CommitEveryN:
		n := o.cfg.CommitEveryNChunks
		if n <= 0 {
			n = 1
		}
		shouldSave = shouldSave || acc.chunksSinceSave >= n
	case CommitTimeBased:
		interval := o.cfg.CommitInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		shouldSave = shouldSave || time.Since(acc.lastSave) >= interval
	}
	if !shouldSave {
		acc.mu.Unlock()
		return
	}

	cp := &model.Checkpoint{
		Version:           model.CurrentCheckpointVersion,
		CheckpointID:      o.cfg.CheckpointID,
		RunID:             metrics.RunID,
		ConfigHash:        o.cfg.ConfigHash,
		ChunksProcessed:   int(atomic.LoadInt64(&metrics.ProcessedChunks)),
		TotalChunks:       int(atomic.LoadInt64(&metrics.TotalChunks)),
		CompletedChunkIDs: completedIDsSorted(acc.completedChunkIDs),
		EntitiesExtracted: len(acc.entities),
		Entities:          append([]*model.Entity(nil), acc.entities...),
		Timestamp:         time.Now(),
	}
	acc.lastSave = time.Now()
	acc.chunksSinceSave = 0
	acc.mu.Unlock()

	if err := o.store.Save(cp); err != nil && o.log != nil {
		o.log.Error().Err(err).Msg("checkpoint save failed; extraction continues without persistence")
	}
}

type restored struct {
	Entities          []*model.Entity
	CompletedChunkIDs map[string]bool
}

// restore loads the checkpoint named by cfg.CheckpointID and, if its
// ConfigHash matches the current run's, filters chunks down to those not
// already completed.
func (o *Orchestrator) restore(chunks []model.Chunk) (restored, []model.Chunk, bool) {
	cp, err := o.store.Load(o.cfg.CheckpointID)
	if err != nil || cp == nil {
		return restored{}, chunks, false
	}
	if cp.ConfigHash != o.cfg.ConfigHash {
		if o.log != nil {
			o.log.Warn().Str("checkpoint_config_hash", cp.ConfigHash).Str("current_config_hash", o.cfg.ConfigHash).
				Msg("checkpoint config hash mismatch; processing from scratch")
		}
		return restored{}, chunks, false
	}

	completed := make(map[string]bool, len(cp.CompletedChunkIDs))
	for _, id := range cp.CompletedChunkIDs {
		completed[id] = true
	}

	var filtered []model.Chunk
	for _, c := range chunks {
		if !completed[c.ChunkID] {
			filtered = append(filtered, c)
		}
	}

	return restored{Entities: cp.Entities, CompletedChunkIDs: completed}, filtered, true
}

func completedIDsSorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortStrings(out)
	return out
}

// sortStrings avoids importing "sort" at the package scope just for this
// one call site's clarity; it is a plain insertion sort, fine for the
// small completed-ID sets a single run accumulates.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
