package worker

import (
	"encoding/json"
	"strings"

	"github.com/kgraph/extractor/pkg/model"
)

// reservedKeys are the JSON-LD node fields an entity carries outside
// its property bag; they and every other "@"-prefixed key are never
// stored under Entity.Properties.
var reservedKeys = map[string]bool{
	"@id": true, "@type": true, "name": true, "description": true,
}

// parseEntity converts one raw submission entity (as decoded from the
// agent's tool call or text-JSON fallback) into a model.Entity. It
// returns a non-nil error if the entity is missing @id/@type/name or
// either fails its regex check -- the caller drops the entity and
// records the error as a ValidationIssue rather than failing the whole
// chunk.
func parseEntity(raw json.RawMessage, strictURN bool) (*model.Entity, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	id, _ := fields["@id"].(string)
	if id == "" {
		return nil, errMissingField("@id")
	}
	if !model.ValidURN(id, strictURN) {
		return nil, errInvalidField("@id", id)
	}

	typ, _ := fields["@type"].(string)
	if typ == "" {
		return nil, errMissingField("@type")
	}
	if !model.ValidType(typ) {
		return nil, errInvalidField("@type", typ)
	}

	name, _ := fields["name"].(string)
	if name == "" {
		return nil, errMissingField("name")
	}

	e := model.NewEntity(id, typ, name)
	if desc, ok := fields["description"].(string); ok && desc != "" {
		e.Description = desc
		e.HasDesc = true
	}

	// Property keys in insertion order: json.Unmarshal into map[string]any
	// does not preserve key order, so re-decode against the raw token
	// stream to keep the submission's original property ordering in
	// Entity.Properties.
	for _, key := range orderedKeys(raw) {
		if reservedKeys[key] || strings.HasPrefix(key, "@") {
			continue
		}
		pv, ok := model.NormalizePropertyValue(fields[key])
		if !ok {
			continue
		}
		e.Properties.Set(key, pv)
	}

	return e, nil
}

// orderedKeys walks the raw JSON object's token stream to recover its
// original key order, since encoding/json's map[string]any decode does
// not preserve it.
func orderedKeys(raw json.RawMessage) []string {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	var keys []string

	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return keys
		}
	}
	return keys
}

type errMissingField string

func (e errMissingField) Error() string { return "missing required field: " + string(e) }

type invalidFieldError struct {
	field string
	value string
}

func (e invalidFieldError) Error() string {
	return "invalid " + e.field + ": " + e.value
}

func errInvalidField(field, value string) error {
	return invalidFieldError{field: field, value: value}
}
