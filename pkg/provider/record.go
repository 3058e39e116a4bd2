package provider

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aucontraire/echomine-sub001/pkg/archive"
)

// UntitledConversation replaces empty titles.
const UntitledConversation = "Untitled conversation"

// DecodeRecord re-reads a record that passed the schema check into the
// dialect's typed representation v. Nested values of the wrong JSON kind
// become syntax skips attributed to id.
func DecodeRecord(raw map[string]any, id string, v any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-encoding record %s: %w", id, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return archive.Skip(id, archive.CategorySyntax, "field %q must be %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return archive.Skip(id, archive.CategorySyntax, "%v", err)
	}
	return nil
}
