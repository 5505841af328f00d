// Package validate implements the Graph Validator: per-entity
// well-formedness checks and cross-entity orphan/broken-reference
// detection over a final (deduplicated) entity set.
package validate

import (
	"fmt"

	"github.com/kgraph/extractor/pkg/model"
)

// Options configures which checks run, mirroring the validation.*
// configuration keys.
type Options struct {
	RequiredFields   []string // defaults to {"@id", "@type", "name"} if empty
	AllowMissingName bool
	StrictURNFormat  bool
	DetectOrphans    bool
	DetectBrokenRefs bool
}

// Validate runs per-entity and cross-entity checks over entities, which
// must already be deduplicated: the orphan/broken-reference checks below
// assume one entity per URN.
func Validate(entities []*model.Entity, opts Options) []model.ValidationIssue {
	var issues []model.ValidationIssue

	ids := make(map[string]bool, len(entities))
	for _, e := range entities {
		ids[e.ID] = true
	}

	for _, e := range entities {
		issues = append(issues, validateEntity(e, opts)...)
	}

	for _, e := range entities {
		refs := referencedURNs(e)
		delete(refs, e.ID) // self-references never count as orphan-breaking or broken

		if opts.DetectBrokenRefs {
			for urn := range refs {
				if !ids[urn] {
					issues = append(issues, model.ValidationIssue{
						EntityID: e.ID,
						Field:    "reference",
						Message:  fmt.Sprintf("references non-existent entity: %s", urn),
						Severity: model.SeverityError,
					})
				}
			}
		}

		if opts.DetectOrphans {
			hasResolvedOutgoing := false
			for urn := range refs {
				if ids[urn] {
					hasResolvedOutgoing = true
					break
				}
			}
			if !hasResolvedOutgoing {
				issues = append(issues, model.ValidationIssue{
					EntityID: e.ID,
					Field:    "relationships",
					Message:  "entity has no relationships to other entities (orphaned)",
					Severity: model.SeverityWarning,
				})
			}
		}
	}

	return issues
}

// validateEntity runs the per-entity checks: required fields, URN
// well-formedness, type well-formedness.
func validateEntity(e *model.Entity, opts Options) []model.ValidationIssue {
	var issues []model.ValidationIssue

	required := opts.RequiredFields
	if len(required) == 0 {
		required = []string{"@id", "@type", "name"}
	}
	for _, field := range required {
		present := fieldPresent(e, field)
		if present {
			continue
		}
		if field == "name" && opts.AllowMissingName {
			issues = append(issues, model.ValidationIssue{
				EntityID: e.ID, Field: field,
				Message:  "missing optional field: name",
				Severity: model.SeverityWarning,
			})
			continue
		}
		issues = append(issues, model.ValidationIssue{
			EntityID: e.ID, Field: field,
			Message:  "missing required field: " + field,
			Severity: model.SeverityError,
		})
	}

	if opts.StrictURNFormat && !model.ValidURN(e.ID, true) {
		issues = append(issues, model.ValidationIssue{
			EntityID: e.ID, Field: "@id",
			Message:  "URN must match urn:<Type>:<identifier>",
			Severity: model.SeverityError,
		})
	} else if !opts.StrictURNFormat && !model.ValidURN(e.ID, false) {
		issues = append(issues, model.ValidationIssue{
			EntityID: e.ID, Field: "@id",
			Message:  "URN should preferably start with 'urn:'",
			Severity: model.SeverityWarning,
		})
	}

	if !model.ValidType(e.Type) {
		issues = append(issues, model.ValidationIssue{
			EntityID: e.ID, Field: "@type",
			Message:  "type must start with a capital letter and be alphanumeric/underscore",
			Severity: model.SeverityError,
		})
	}

	return issues
}

func fieldPresent(e *model.Entity, field string) bool {
	switch field {
	case "@id":
		return e.ID != ""
	case "@type":
		return e.Type != ""
	case "name":
		return e.Name != ""
	case "description":
		return e.HasDesc
	default:
		_, ok := e.Properties.Get(field)
		return ok
	}
}

// referencedURNs recursively walks an entity's properties and returns
// the set of URNs reachable as {"@id": urn} references, bare URN
// strings, or anything PropertyValue normalized into KindReference.
func referencedURNs(e *model.Entity) map[string]bool {
	out := make(map[string]bool)
	for _, k := range e.Properties.Keys() {
		v, _ := e.Properties.Get(k)
		collectRefs(v, out)
	}
	return out
}

func collectRefs(v model.PropertyValue, out map[string]bool) {
	switch v.Kind {
	case model.KindReference:
		out[v.Reference] = true
	case model.KindList:
		for _, item := range v.List {
			collectRefs(item, out)
		}
	case model.KindObject:
		for _, raw := range v.Object {
			collectRefsRaw(raw, out)
		}
	}
}

// collectRefsRaw walks an opaque map[string]any/[]any/string value for
// references nested inside a KindObject's pass-through map.
func collectRefsRaw(raw any, out map[string]bool) {
	switch x := raw.(type) {
	case map[string]any:
		if id, ok := x["@id"].(string); ok && looksLikeURN(id) {
			out[id] = true
		}
		for _, v := range x {
			collectRefsRaw(v, out)
		}
	case []any:
		for _, v := range x {
			collectRefsRaw(v, out)
		}
	case string:
		if looksLikeURN(x) {
			out[x] = true
		}
	}
}

func looksLikeURN(s string) bool {
	return len(s) >= 4 && s[:4] == "urn:"
}
