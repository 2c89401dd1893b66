// Package declaration models sparse declaration field maps and the typed
// field registry they are validated against.
//
// A key present with JSON null is an explicit clear; an omitted key leaves
// the field untouched. Both survive decoding so aggregation can tell them apart.
package declaration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

var jsonNull = []byte("null")

// Value is a tagged option: either a present raw JSON value or an explicit clear.
type Value struct {
	raw     json.RawMessage
	cleared bool
}

// Present wraps a raw JSON value.
func Present(raw json.RawMessage) Value {
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return Cleared()
	}
	return Value{raw: append(json.RawMessage(nil), raw...)}
}

// Of marshals v into a present value.
func Of(v any) Value {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("declaration: marshal value: %v", err))
	}
	return Present(raw)
}

// Cleared is an explicit "unset" marker.
func Cleared() Value {
	return Value{cleared: true}
}

func (v Value) IsCleared() bool {
	return v.cleared
}

func (v Value) Raw() json.RawMessage {
	return v.raw
}

// Decode unmarshals a present value into dst.
func (v Value) Decode(dst any) error {
	if v.cleared {
		return fmt.Errorf("value is cleared")
	}
	return json.Unmarshal(v.raw, dst)
}

// Any decodes the value into a generic Go value; cleared values are nil.
func (v Value) Any() any {
	if v.cleared {
		return nil
	}
	var out any
	if err := json.Unmarshal(v.raw, &out); err != nil {
		return nil
	}
	return out
}

func (v Value) Equal(other Value) bool {
	if v.cleared || other.cleared {
		return v.cleared == other.cleared
	}
	return bytes.Equal(v.raw, other.raw)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.cleared || len(v.raw) == 0 {
		return jsonNull, nil
	}
	return v.raw, nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	*v = Present(b)
	return nil
}

// Declaration maps dotted field paths to values. Only fields touched by one
// action appear in its declaration.
type Declaration map[string]Value

// UnmarshalJSON keeps keys whose value is null as explicit clears.
func (d *Declaration) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), jsonNull) {
		*d = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Declaration, len(raw))
	for k, v := range raw {
		out[k] = Present(v)
	}
	*d = out
	return nil
}

// Clone returns a shallow copy.
func (d Declaration) Clone() Declaration {
	out := make(Declaration, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Overlay writes every entry of other over d, clears included.
func (d Declaration) Overlay(other Declaration) {
	for k, v := range other {
		d[k] = v
	}
}

// Canonical drops explicit clears, leaving only fields with a value.
func (d Declaration) Canonical() Declaration {
	out := make(Declaration, len(d))
	for k, v := range d {
		if !v.cleared {
			out[k] = v
		}
	}
	return out
}

// Paths returns the keys in sorted order.
func (d Declaration) Paths() []string {
	paths := make([]string, 0, len(d))
	for k := range d {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// Has reports whether path carries a present value.
func (d Declaration) Has(path string) bool {
	v, ok := d[path]
	return ok && !v.cleared
}

// String returns the string value at path.
func (d Declaration) String(path string) (string, bool) {
	v, ok := d[path]
	if !ok || v.cleared {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Name returns the compound name value at path.
func (d Declaration) Name(path string) (NameValue, bool) {
	v, ok := d[path]
	if !ok || v.cleared {
		return NameValue{}, false
	}
	var n NameValue
	if err := json.Unmarshal(v.raw, &n); err != nil {
		return NameValue{}, false
	}
	return n, true
}

// ToMap decodes present values for expression evaluation.
func (d Declaration) ToMap() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		if v.cleared {
			continue
		}
		out[k] = v.Any()
	}
	return out
}

// NameValue is the compound value of a name field.
type NameValue struct {
	Firstname  string `json:"firstname,omitempty"`
	Middlename string `json:"middlename,omitempty"`
	Surname    string `json:"surname,omitempty"`
}

// Full joins the non-empty parts with single spaces.
func (n NameValue) Full() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.Firstname, n.Middlename, n.Surname} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
