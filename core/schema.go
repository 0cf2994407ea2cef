package core

import (
	"fmt"
)

// FieldType enumerates the value kinds a schema field can require (§4.5).
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldInteger   FieldType = "integer"
	FieldListStr   FieldType = "list<string>"
	FieldObject    FieldType = "object"
	FieldEnum      FieldType = "enum"
)

// FieldSpec describes validation rules for a single schema field (§4.5).
type FieldSpec struct {
	Type      FieldType `json:"type"`
	Required  bool      `json:"required,omitempty"`
	Default   any       `json:"default,omitempty"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	MinLength *int      `json:"min_length,omitempty"`
	MaxLength *int      `json:"max_length,omitempty"`
	Values    []string  `json:"values,omitempty"`
}

// Schema is a named mapping of field name to FieldSpec (§4.5).
type Schema struct {
	Name      string               `json:"name"`
	Fields    map[string]FieldSpec `json:"fields"`
	UpdatedAt string               `json:"updated_at"`
}

// RegisterBuiltinSchemas installs task_v1, task_v2 and proposal_v1 into dst.
func RegisterBuiltinSchemas(dst map[string]*Schema) {
	f64 := func(v float64) *float64 { return &v }

	dst["task_v1"] = &Schema{Name: "task_v1", Fields: map[string]FieldSpec{
		"title":       {Type: FieldString, Required: true, MaxLength: intp(200)},
		"description": {Type: FieldString, Default: ""},
		"tags":        {Type: FieldListStr, Default: []string{}},
		"reward":      {Type: FieldInteger, Default: int64(0), Min: f64(0)},
		"creator":     {Type: FieldString, Required: true},
	}}

	dst["task_v2"] = &Schema{Name: "task_v2", Fields: map[string]FieldSpec{
		"title":          {Type: FieldString, Required: true, MaxLength: intp(200)},
		"description":    {Type: FieldString, Default: ""},
		"tags":           {Type: FieldListStr, Default: []string{}},
		"reward":         {Type: FieldInteger, Default: int64(0), Min: f64(0)},
		"creator":        {Type: FieldString, Required: true},
		"required_tools": {Type: FieldListStr, Default: []string{}},
	}}

	dst["proposal_v1"] = &Schema{Name: "proposal_v1", Fields: map[string]FieldSpec{
		"title":         {Type: FieldString, Required: true, MaxLength: intp(200)},
		"description":   {Type: FieldString, Default: ""},
		"proposal_type": {Type: FieldEnum, Required: true, Values: []string{
			string(ProposalGeneric), string(ProposalConfigChange), string(ProposalNetworkOp),
			string(ProposalCodeUpgrade), string(ProposalCommand),
		}},
		"tags":     {Type: FieldListStr, Default: []string{}},
		"proposer": {Type: FieldString, Required: true},
	}}
}

func intp(v int) *int { return &v }

// ValidationError is returned by Validate when data fails a schema check.
type ValidationError struct {
	Schema string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q: %s", e.Schema, e.Field, e.Reason)
}

// Validate checks data against the named schema, filling defaults for
// missing optional fields, and returns the augmented data (§4.5). An unknown
// schema name or a validation failure returns an error wrapping
// ErrSchemaInvalid so callers can branch on errors.Is.
func Validate(schemas map[string]*Schema, schemaName string, data map[string]any) (map[string]any, error) {
	schema, ok := schemas[schemaName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown schema %q", ErrSchemaInvalid, schemaName)
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}

	for name, spec := range schema.Fields {
		val, present := out[name]
		if !present {
			if spec.Required {
				return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, &ValidationError{schemaName, name, "required field missing"})
			}
			if spec.Default != nil {
				out[name] = spec.Default
			}
			continue
		}
		if err := validateField(schemaName, name, spec, val); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validateField(schemaName, name string, spec FieldSpec, val any) error {
	invalid := func(reason string) error {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, &ValidationError{schemaName, name, reason})
	}

	switch spec.Type {
	case FieldString:
		s, ok := val.(string)
		if !ok {
			return invalid("expected string")
		}
		if spec.MinLength != nil && len(s) < *spec.MinLength {
			return invalid("below min_length")
		}
		if spec.MaxLength != nil && len(s) > *spec.MaxLength {
			return invalid("exceeds max_length")
		}
	case FieldInteger:
		n, ok := asFloat(val)
		if !ok {
			return invalid("expected integer")
		}
		if spec.Min != nil && n < *spec.Min {
			return invalid("below min")
		}
		if spec.Max != nil && n > *spec.Max {
			return invalid("exceeds max")
		}
	case FieldListStr:
		list, ok := val.([]string)
		if !ok {
			if raw, ok2 := val.([]any); ok2 {
				conv := make([]string, 0, len(raw))
				for _, item := range raw {
					s, ok3 := item.(string)
					if !ok3 {
						return invalid("expected list<string>")
					}
					conv = append(conv, s)
				}
				list = conv
			} else {
				return invalid("expected list<string>")
			}
		}
		_ = list
	case FieldObject:
		if _, ok := val.(map[string]any); !ok {
			return invalid("expected object")
		}
	case FieldEnum:
		s, ok := val.(string)
		if !ok {
			return invalid("expected enum string")
		}
		found := false
		for _, v := range spec.Values {
			if v == s {
				found = true
				break
			}
		}
		if !found {
			return invalid("value not in enum")
		}
	default:
		return invalid("unknown field type in schema definition")
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
