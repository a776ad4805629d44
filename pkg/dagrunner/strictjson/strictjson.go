// Package strictjson implements the engine's canonical serialization rules
// for external export and event payloads: timestamps become ISO-8601 UTC
// strings at second precision, and opaque backend ids become strings
// regardless of their native representation.
package strictjson

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the canonical timestamp format: ISO-8601, UTC, second
// precision, no offset suffix.
const TimeLayout = "2006-01-02T15:04:05"

// Time wraps a time.Time so it marshals to the canonical ISO-8601 UTC
// string form. The zero value marshals to null.
type Time struct {
	time.Time
	Valid bool
}

// NewTime returns a strict Time wrapping t.
func NewTime(t time.Time) Time {
	return Time{Time: t, Valid: true}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(TimeLayout))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(TimeLayout, s)
	if err != nil {
		return fmt.Errorf("strictjson: parse timestamp %q: %w", s, err)
	}
	*t = Time{Time: parsed.UTC(), Valid: true}
	return nil
}

// ID wraps an opaque backend identifier so it always marshals as a JSON
// string, independent of whether the backend represents ids as integers
// (relational) or hex strings (document store).
type ID string

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

// UnmarshalJSON implements json.Unmarshaler. Accepts either a JSON string
// or a JSON number, normalizing both to their decimal string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("strictjson: parse id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// Normalize walks an arbitrary document built from map[string]any, []any,
// and scalar values and rewrites every time.Time it finds into its
// canonical ISO-8601 UTC string form. It is used to apply the strict export
// rules to documents assembled as plain maps (job/engine Serialize output)
// without requiring every field to be typed as Time up front.
func Normalize(v any) any {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return nil
		}
		return val.UTC().Format(TimeLayout)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Normalize(elem)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Normalize(elem)
		}
		return out
	case [][2]string:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = []any{elem[0], elem[1]}
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = elem
		}
		return out
	default:
		return v
	}
}

// Marshal serializes v using the standard encoder; callers build their
// export documents from Time/ID fields so the canonical rules apply
// automatically through normal json.Marshal recursion.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent is Marshal with indentation, used for pretty CLI output.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return json.MarshalIndent(v, prefix, indent)
}
