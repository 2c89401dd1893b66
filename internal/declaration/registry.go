package declaration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	dErrors "confirmgate/pkg/domain-errors"
)

// FieldType is the value type bound to a field path.
type FieldType string

const (
	TypeName     FieldType = "name"
	TypeDate     FieldType = "date"
	TypeText     FieldType = "text"
	TypeEnum     FieldType = "enum"
	TypeNID      FieldType = "nid"
	TypeLocation FieldType = "location"
)

const (
	// MaxNameLength bounds each part of a name value.
	MaxNameLength = 32
	maxTextLength = 1024
	dateLayout    = "2006-01-02"
)

// FieldSpec binds a field path to a value type.
type FieldSpec struct {
	Path      string    `koanf:"path" yaml:"path"`
	Type      FieldType `koanf:"type" yaml:"type"`
	Values    []string  `koanf:"values" yaml:"values"`
	NotFuture bool      `koanf:"not_future" yaml:"not_future"`
}

type field struct {
	spec   FieldSpec
	schema *jsonschema.Schema
}

// Registry is the closed set of known field paths with compiled value schemas.
type Registry struct {
	fields map[string]field
}

// NewRegistry compiles a schema per field. Duplicate paths and unknown types
// are configuration errors.
func NewRegistry(specs []FieldSpec) (*Registry, error) {
	r := &Registry{fields: make(map[string]field, len(specs))}
	for _, spec := range specs {
		spec.Path = strings.TrimSpace(spec.Path)
		if spec.Path == "" {
			return nil, fmt.Errorf("field path is required")
		}
		if _, dup := r.fields[spec.Path]; dup {
			return nil, fmt.Errorf("duplicate field %q", spec.Path)
		}
		doc, err := schemaFor(spec)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", spec.Path, err)
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := "https://confirmgate.schemas.local/fields/" + spec.Path + ".json"
		if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("field %q: load schema: %w", spec.Path, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("field %q: compile schema: %w", spec.Path, err)
		}
		r.fields[spec.Path] = field{spec: spec, schema: schema}
	}
	return r, nil
}

// Lookup returns the field definition bound to path.
func (r *Registry) Lookup(path string) (FieldSpec, bool) {
	f, ok := r.fields[path]
	return f.spec, ok
}

// Len returns the number of registered fields.
func (r *Registry) Len() int {
	return len(r.fields)
}

// FieldError describes one invalid field.
type FieldError struct {
	Path    string
	Message string
}

// Validate checks every entry of d against the registry. Unknown paths and
// type mismatches are validation errors; explicit clears are always valid.
func (r *Registry) Validate(d Declaration, now time.Time) error {
	var errs []FieldError
	for _, path := range d.Paths() {
		v := d[path]
		f, ok := r.fields[path]
		if !ok {
			errs = append(errs, FieldError{Path: path, Message: "unknown field"})
			continue
		}
		if v.IsCleared() {
			continue
		}
		if msg := f.check(v, now); msg != "" {
			errs = append(errs, FieldError{Path: path, Message: msg})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Path+": "+e.Message)
	}
	return dErrors.Wrap(&ValidationError{Fields: errs}, dErrors.CodeValidation, strings.Join(parts, "; "))
}

func (f field) check(v Value, now time.Time) string {
	var doc any
	if err := json.Unmarshal(v.Raw(), &doc); err != nil {
		return "invalid JSON value"
	}
	if err := f.schema.Validate(doc); err != nil {
		return "invalid " + string(f.spec.Type) + " value"
	}
	if f.spec.Type != TypeDate {
		return ""
	}
	s, _ := doc.(string)
	day, err := time.Parse(dateLayout, s)
	if err != nil {
		return "invalid date"
	}
	if f.spec.NotFuture {
		y, m, dd := now.UTC().Date()
		today := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
		if day.After(today) {
			return "date must not be in the future"
		}
	}
	return ""
}

// ValidationError lists invalid fields.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d invalid field(s)", len(e.Fields))
}

func schemaFor(spec FieldSpec) (string, error) {
	var doc map[string]any
	switch spec.Type {
	case TypeName:
		part := map[string]any{
			"type":      "string",
			"maxLength": MaxNameLength,
			"pattern":   `^[A-Za-z0-9' -]*$`,
		}
		doc = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"firstname":  part,
				"middlename": part,
				"surname":    part,
			},
			"additionalProperties": false,
			"anyOf": []any{
				nonEmpty("firstname"),
				nonEmpty("middlename"),
				nonEmpty("surname"),
			},
		}
	case TypeDate:
		doc = map[string]any{"type": "string", "pattern": `^[0-9]{4}-[0-9]{2}-[0-9]{2}$`}
	case TypeText:
		doc = map[string]any{"type": "string", "maxLength": maxTextLength}
	case TypeEnum:
		if len(spec.Values) == 0 {
			return "", fmt.Errorf("enum field needs values")
		}
		values := append([]string(nil), spec.Values...)
		sort.Strings(values)
		doc = map[string]any{"type": "string", "enum": values}
	case TypeNID:
		doc = map[string]any{"type": "string", "pattern": `^[0-9]{10}$`}
	case TypeLocation:
		doc = map[string]any{"type": "string", "minLength": 1}
	default:
		return "", fmt.Errorf("unknown field type %q", spec.Type)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nonEmpty(part string) map[string]any {
	return map[string]any{
		"required":   []string{part},
		"properties": map[string]any{part: map[string]any{"minLength": 1}},
	}
}
