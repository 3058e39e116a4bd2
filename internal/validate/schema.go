// Package validate turns loosely typed archive records into trusted canonical
// conversations.
//
// Validation runs in two passes. CheckObject is the structural pass over raw
// decoded values: a value of the wrong JSON kind is a syntax-level failure, a
// missing required key is a schema violation. Conversation and PruneOrphans
// form the semantic pass over the normalized model. Every failure is an
// *archive.SkipError; nothing here stops a stream.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aucontraire/echomine-sub001/pkg/archive"
)

// Kind is the JSON kind a field must have.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
	// KindScalar accepts a string or a number.
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindScalar:
		return "string or number"
	default:
		return "any"
	}
}

// Field describes one key of a record.
type Field struct {
	Name string
	Kind Kind

	// Optional fields may be absent or null, but must have the right kind
	// when present.
	Optional bool

	// Nullable fields must be present but may be null.
	Nullable bool
}

// Schema lists the fields of one record shape.
type Schema struct {
	Fields []Field

	// AnyOf lists key groups of which at least one key must be present.
	AnyOf [][]string

	// IDKeys are tried in order to name the record in skip reports.
	IDKeys []string
}

// KindOf returns the JSON kind of a decoded value.
func KindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case json.Number, float64, int, int64:
		return KindNumber
	case bool:
		return KindBool
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	default:
		return KindAny
	}
}

func kindMatches(want Kind, v any) bool {
	got := KindOf(v)
	switch want {
	case KindAny:
		return true
	case KindScalar:
		return got == KindString || got == KindNumber
	default:
		return got == want
	}
}

func describe(v any) string {
	if v == nil {
		return "null"
	}
	if k := KindOf(v); k != KindAny {
		return k.String()
	}
	return fmt.Sprintf("%T", v)
}

// RecordID returns the first non-empty string or number found under keys,
// or fallback.
func RecordID(m map[string]any, keys []string, fallback string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return fallback
}

// CheckObject verifies that v is an object satisfying schema and returns it.
// fallbackID names the record when none of the schema's IDKeys is usable.
func CheckObject(v any, fallbackID string, schema Schema) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, archive.Skip(fallbackID, archive.CategorySyntax, "expected an object, got %s", describe(v))
	}

	id := RecordID(m, schema.IDKeys, fallbackID)

	// Report kind errors before missing keys: a record with a mangled
	// sub-structure is malformed regardless of what else it lacks.
	var missing []string
	for _, f := range schema.Fields {
		val, present := m[f.Name]
		if !present || val == nil {
			if !f.Optional && !(present && f.Nullable) {
				missing = append(missing, f.Name)
			}
			continue
		}
		if !kindMatches(f.Kind, val) {
			return nil, archive.Skip(id, archive.CategorySyntax, "field %q must be %s, got %s", f.Name, f.Kind, describe(val))
		}
	}
	for _, group := range schema.AnyOf {
		if !slices.ContainsFunc(group, func(k string) bool { _, ok := m[k]; return ok }) {
			missing = append(missing, strings.Join(group, "|"))
		}
	}
	if len(missing) > 0 {
		return nil, archive.Skip(id, archive.CategorySchema, "missing required field(s) %v", missing)
	}
	return m, nil
}

// CheckNested checks an element nested inside the record ownerID, such as
// one message of a conversation. Failures are attributed to the owner and
// name the element by label.
func CheckNested(v any, ownerID, label string, schema Schema) (map[string]any, error) {
	m, err := CheckObject(v, ownerID, Schema{Fields: schema.Fields, AnyOf: schema.AnyOf})
	if err != nil {
		var skip *archive.SkipError
		if errors.As(err, &skip) {
			skip.ID = ownerID
			skip.Reason = label + ": " + skip.Reason
		}
		return nil, err
	}
	return m, nil
}
