// Package dedup implements the URN-keyed Deduplicator: it collapses
// multiple entity records sharing the same URN into one record, per a
// configurable merge policy, preserving first-insertion order of URNs.
package dedup

import (
	"github.com/kgraph/extractor/pkg/model"
)

// Strategy selects how duplicate URNs are resolved.
type Strategy string

const (
	// StrategyFirst keeps the earliest inserted record verbatim.
	StrategyFirst Strategy = "first"
	// StrategyLast keeps the latest inserted record verbatim.
	StrategyLast Strategy = "last"
	// StrategyMergeProperties merges properties across every occurrence.
	StrategyMergeProperties Strategy = "merge_properties"
)

// AgentHook is the optional semantic-dedup collaborator: a second pass
// that clusters/canonicalizes entities the URN pass alone cannot merge.
// Options.AgentHook is nil by default and deduplication.strategy =
// "agent" or "hybrid" only changes whether Dedupe invokes it after the
// URN pass; it never runs before or instead of the URN pass.
type AgentHook func([]*model.Entity) ([]*model.Entity, error)

// Options configures Dedupe.
type Options struct {
	Strategy  Strategy
	AgentHook AgentHook // nil unless an agent-assisted pass is wired in
	Hybrid    bool      // invoke AgentHook after the URN pass if non-nil
}

// Metrics reports what one Dedupe call did.
type Metrics struct {
	InputCount       int
	OutputCount      int
	DuplicatesFound  int
	DuplicatesMerged int
	MergeOperations  int
}

// Result is the output of Dedupe: the deduplicated, first-insertion
// ordered entity slice plus its metrics.
type Result struct {
	Entities []*model.Entity
	Metrics  Metrics
}

// Dedupe groups entities by URN, preserving first-seen order, and
// resolves each group per opts.Strategy.
func Dedupe(entities []*model.Entity, opts Options) (Result, error) {
	if len(entities) == 0 {
		return Result{Entities: nil, Metrics: Metrics{}}, nil
	}

	order := make([]string, 0)
	groups := make(map[string][]*model.Entity)
	for _, e := range entities {
		if _, ok := groups[e.ID]; !ok {
			order = append(order, e.ID)
		}
		groups[e.ID] = append(groups[e.ID], e)
	}

	out := make([]*model.Entity, 0, len(order))
	metrics := Metrics{InputCount: len(entities)}

	for _, urn := range order {
		group := groups[urn]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}

		metrics.DuplicatesFound += len(group) - 1

		switch opts.Strategy {
		case StrategyFirst:
			out = append(out, group[0])
			metrics.DuplicatesMerged += len(group) - 1
		case StrategyLast:
			out = append(out, group[len(group)-1])
			metrics.DuplicatesMerged += len(group) - 1
		default: // StrategyMergeProperties and any unrecognized value default to merging
			merged := mergeGroup(group)
			out = append(out, merged)
			metrics.DuplicatesMerged += len(group) - 1
			metrics.MergeOperations += len(group) - 1
		}
	}

	if opts.Hybrid && opts.AgentHook != nil {
		hooked, err := opts.AgentHook(out)
		if err != nil {
			return Result{}, err
		}
		out = hooked
	}

	metrics.OutputCount = len(out)
	return Result{Entities: out, Metrics: metrics}, nil
}

// mergeGroup merges entities sharing a URN into one record: start from
// the first entity as the base, take the latest non-empty description
// seen across the group, and for each subsequent entity's properties --
// new key -> set; equal value -> no change; existing value already a
// list -> append if absent; otherwise promote to a two-element list
// [old, new].
func mergeGroup(group []*model.Entity) *model.Entity {
	base := group[0]
	merged := model.NewEntity(base.ID, base.Type, base.Name)
	merged.Description = base.Description
	merged.HasDesc = base.HasDesc
	for _, k := range base.Properties.Keys() {
		v, _ := base.Properties.Get(k)
		merged.Properties.Set(k, v)
	}

	for _, e := range group[1:] {
		if e.HasDesc {
			merged.Description = e.Description
			merged.HasDesc = true
		}
		for _, k := range e.Properties.Keys() {
			incoming, _ := e.Properties.Get(k)
			existing, ok := merged.Properties.Get(k)
			if !ok {
				merged.Properties.Set(k, incoming)
				continue
			}
			merged.Properties.Set(k, combine(existing, incoming))
		}
	}

	return merged
}

// combine resolves a property conflict between an accumulator value and
// an incoming value for the same key, per mergeGroup's rules above.
func combine(existing, incoming model.PropertyValue) model.PropertyValue {
	if propertyValuesEqual(existing, incoming) {
		return existing
	}
	if existing.Kind == model.KindList {
		for _, item := range existing.List {
			if propertyValuesEqual(item, incoming) {
				return existing
			}
		}
		return model.List(append(append([]model.PropertyValue{}, existing.List...), incoming)...)
	}
	return model.List(existing, incoming)
}

// propertyValuesEqual compares two PropertyValues for the "same value,
// no conflict" case. Lists compare element-wise; objects compare
// shallowly by key.
func propertyValuesEqual(a, b model.PropertyValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case model.KindScalar:
		return a.Scalar == b.Scalar
	case model.KindReference:
		return a.Reference == b.Reference
	case model.KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !propertyValuesEqual(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case model.KindObject:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for k, av := range a.Object {
			bv, ok := b.Object[k]
			if !ok || av != bv {
				return false
			}
		}
		return true
	default:
		return false
	}
}
