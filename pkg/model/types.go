// Package model holds the data types shared across the extraction
// pipeline: entities, chunks, checkpoints, validation issues and run
// metrics. Nothing in this package performs I/O; it is pure data plus the
// normalization/serialization rules the rest of the pipeline depends on.
package model

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Entity is one node in the knowledge graph.
type Entity struct {
	ID          string // full URN, e.g. "urn:Service:payment-api"
	Type        string // @type segment, e.g. "Service"
	Name        string
	Description string // empty string means "absent", not "empty but present"
	HasDesc     bool
	Properties  *OrderedProperties
}

// NewEntity creates an Entity with an empty, ready-to-use property bag.
func NewEntity(id, typ, name string) *Entity {
	return &Entity{ID: id, Type: typ, Name: name, Properties: NewOrderedProperties()}
}

// ToJSONLD renders the entity to a JSON-LD node object. Property keys
// never shadow the reserved keys (@id, @type, name, description) because
// entity parsing strips them on ingest.
func (e *Entity) ToJSONLD() map[string]any {
	out := map[string]any{
		"@id":   e.ID,
		"@type": e.Type,
		"name":  e.Name,
	}
	if e.HasDesc {
		out["description"] = e.Description
	}
	for _, k := range e.Properties.Keys() {
		v, _ := e.Properties.Get(k)
		out[k] = v.ToJSONLD()
	}
	return out
}

// Clone returns a deep copy of the entity, safe to mutate independently.
func (e *Entity) Clone() *Entity {
	clone := &Entity{
		ID:          e.ID,
		Type:        e.Type,
		Name:        e.Name,
		Description: e.Description,
		HasDesc:     e.HasDesc,
		Properties:  e.Properties.Clone(),
	}
	return clone
}

// OrderedProperties is an insertion-ordered string-keyed map of
// PropertyValue, used so first-insertion ordering survives dedup and
// checkpoint encoding. ToJSONLD renders into a plain map, so emitted
// JSON-LD lists keys in encoding/json's sorted order, not insertion order.
type OrderedProperties struct {
	keys   []string
	values map[string]PropertyValue
}

// NewOrderedProperties returns an empty property bag.
func NewOrderedProperties() *OrderedProperties {
	return &OrderedProperties{values: make(map[string]PropertyValue)}
}

// Set inserts or overwrites a key. New keys are appended to Keys() order;
// existing keys keep their original position.
func (p *OrderedProperties) Set(key string, v PropertyValue) {
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

// Get returns the value for key and whether it is present.
func (p *OrderedProperties) Get(key string) (PropertyValue, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the property keys in first-insertion order.
func (p *OrderedProperties) Keys() []string {
	return p.keys
}

// Len returns the number of properties.
func (p *OrderedProperties) Len() int {
	return len(p.keys)
}

// Clone returns an independent copy.
func (p *OrderedProperties) Clone() *OrderedProperties {
	clone := NewOrderedProperties()
	for _, k := range p.keys {
		clone.Set(k, p.values[k])
	}
	return clone
}

// orderedProperty is the wire shape one key/value pair takes in
// OrderedProperties' JSON encoding.
type orderedProperty struct {
	Key   string        `json:"key"`
	Value PropertyValue `json:"value"`
}

// MarshalJSON renders the bag as an ordered array of key/value pairs.
// keys/values are unexported so the default struct encoding would emit
// "{}"; this is also the only encoding that preserves Keys() order.
func (p *OrderedProperties) MarshalJSON() ([]byte, error) {
	pairs := make([]orderedProperty, 0, len(p.keys))
	for _, k := range p.keys {
		pairs = append(pairs, orderedProperty{Key: k, Value: p.values[k]})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON restores a bag from its MarshalJSON form, preserving pair
// order via Set.
func (p *OrderedProperties) UnmarshalJSON(data []byte) error {
	var pairs []orderedProperty
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	p.keys = nil
	p.values = make(map[string]PropertyValue, len(pairs))
	for _, pr := range pairs {
		p.Set(pr.Key, pr.Value)
	}
	return nil
}

// ExtractionResult is what one chunk's worker produces on success: the
// entities it extracted, the issues for any submitted entities that were
// rejected, and whatever metadata the agent reported.
type ExtractionResult struct {
	ChunkID          string
	Entities         []*Entity
	ValidationIssues []ValidationIssue
	Metadata         map[string]any
}

// Chunk is one unit of work handed to an Extraction Worker: a set of
// files from the enumerated tree, grouped per the chunking strategy.
type Chunk struct {
	ChunkID        string // "chunk-001", growing to 4+ digits if needed
	Files          []string
	TotalSizeBytes int64
}

// Checkpoint is the persisted state of an in-progress or completed run,
// enough to resume extraction without re-processing committed chunks.
type Checkpoint struct {
	Version           int // schema version; mismatch => treated as absent
	CheckpointID      string
	RunID             string
	ConfigHash        string
	ChunksProcessed   int
	TotalChunks       int
	CompletedChunkIDs []string
	EntitiesExtracted int
	Entities          []*Entity
	Timestamp         time.Time
	Metadata          map[string]string
}

// CurrentCheckpointVersion is bumped whenever the Checkpoint shape changes
// in a way old checkpoints cannot be read as.
const CurrentCheckpointVersion = 1

// Severity classifies a ValidationIssue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ValidationIssue describes one problem found by the Graph Validator,
// either on a single entity or between entities.
type ValidationIssue struct {
	EntityID string
	Field    string
	Message  string
	Severity Severity
}

// Metrics accumulates counters and timings for one extraction run. All
// counter fields are updated via sync/atomic from concurrent workers; see
// pkg/orchestrator for the atomic accessors.
type Metrics struct {
	RunID              string
	TotalChunks        int64
	ProcessedChunks    int64
	FailedChunks       int64
	SkippedChunks      int64
	EntitiesExtracted  int64
	ValidationErrors   int64
	ActualInputTokens  int64
	ActualOutputTokens int64
	ActualCostUSD      float64 // accumulated under a mutex, see Metrics.AddCost
	StartTime          time.Time
	EndTime            time.Time

	costMu sync.Mutex
}

// AddCost atomically accumulates delta into ActualCostUSD. Token counters
// use sync/atomic directly since int64 permits it; float64 does not, so
// cost accumulation is guarded by a dedicated mutex instead.
func (m *Metrics) AddCost(delta float64) {
	m.costMu.Lock()
	defer m.costMu.Unlock()
	m.ActualCostUSD += delta
}

// Cost returns the current accumulated cost.
func (m *Metrics) Cost() float64 {
	m.costMu.Lock()
	defer m.costMu.Unlock()
	return m.ActualCostUSD
}

// AddTokens atomically accumulates input/output token counts.
func (m *Metrics) AddTokens(input, output int64) {
	atomic.AddInt64(&m.ActualInputTokens, input)
	atomic.AddInt64(&m.ActualOutputTokens, output)
}

// Duration returns the elapsed wall time of the run. If the run has not
// finished, it is measured against now.
func (m *Metrics) Duration(now time.Time) time.Duration {
	end := m.EndTime
	if end.IsZero() {
		end = now
	}
	return end.Sub(m.StartTime)
}

// SuccessRate returns ProcessedChunks / (ProcessedChunks + FailedChunks),
// or 0 if no chunks have resolved yet.
func (m *Metrics) SuccessRate() float64 {
	total := m.ProcessedChunks + m.FailedChunks
	if total == 0 {
		return 0
	}
	return float64(m.ProcessedChunks) / float64(total)
}

// ProgressPercentage returns (Processed+Failed+Skipped)/TotalChunks*100.
func (m *Metrics) ProgressPercentage() float64 {
	if m.TotalChunks == 0 {
		return 0
	}
	done := m.ProcessedChunks + m.FailedChunks + m.SkippedChunks
	return float64(done) / float64(m.TotalChunks) * 100
}
