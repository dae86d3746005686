package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Kind is the value type of a settings field.
type Kind string

// Field kinds.
const (
	KindBool      Kind = "bool"
	KindInt       Kind = "int"
	KindString    Kind = "string"
	KindChoice    Kind = "choice"
	KindTupleList Kind = "tuple_list"
)

// Field declares one setting of a module: its name, kind and default.
//
// Values are held in a canonical Go form per kind: bool, int, string, or
// [][]string for tuple lists.
type Field struct {
	Name    string
	Kind    Kind
	Default any

	// Choices lists the allowed values of a KindChoice field.
	Choices []string

	// Elements names the columns of each tuple of a KindTupleList field.
	Elements []string
}

// Bool declares a boolean field.
func Bool(name string, def bool) Field {
	return Field{Name: name, Kind: KindBool, Default: def}
}

// Int declares an integer field.
func Int(name string, def int) Field {
	return Field{Name: name, Kind: KindInt, Default: def}
}

// String declares a free-text field.
func String(name, def string) Field {
	return Field{Name: name, Kind: KindString, Default: def}
}

// Choice declares a string field restricted to choices.
func Choice(name, def string, choices ...string) Field {
	return Field{Name: name, Kind: KindChoice, Default: def, Choices: choices}
}

// TupleList declares a list of fixed-width string tuples whose columns are
// named by elements, e.g. TupleList("to_track", []string{"name", "mac"}, nil).
func TupleList(name string, elements []string, def [][]string) Field {
	if def == nil {
		def = [][]string{}
	}
	return Field{Name: name, Kind: KindTupleList, Default: def, Elements: elements}
}

// validate checks the declaration itself.
func (f Field) validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidField)
	}
	switch f.Kind {
	case KindBool, KindInt, KindString:
	case KindChoice:
		if len(f.Choices) == 0 {
			return fmt.Errorf("%w: %s has no choices", ErrInvalidField, f.Name)
		}
	case KindTupleList:
		if len(f.Elements) == 0 {
			return fmt.Errorf("%w: %s has no element names", ErrInvalidField, f.Name)
		}
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidField, f.Name, f.Kind)
	}
	if _, err := f.Coerce(f.Default); err != nil {
		return fmt.Errorf("%w: default of %s: %w", ErrInvalidField, f.Name, err)
	}
	return nil
}

// Coerce checks v against the field kind and returns it in canonical form.
// JSON-decoded values (float64 numbers, []any lists) are accepted.
func (f Field) Coerce(v any) (any, error) {
	switch f.Kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindInt:
		if n, ok := toInt(v); ok {
			return n, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindChoice:
		if s, ok := v.(string); ok {
			if slices.Contains(f.Choices, s) {
				return s, nil
			}
			return nil, fmt.Errorf("%w: %q is not one of %v", ErrTypeMismatch, s, f.Choices)
		}
	case KindTupleList:
		if tuples, ok := toTuples(v, len(f.Elements)); ok {
			return tuples, nil
		}
		return nil, fmt.Errorf("%w: %s expects a list of %d-element string lists", ErrTypeMismatch, f.Name, len(f.Elements))
	}
	return nil, fmt.Errorf("%w: %s expects %s, got %T", ErrTypeMismatch, f.Name, f.Kind, v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toTuples(v any, width int) ([][]string, bool) {
	switch list := v.(type) {
	case [][]string:
		out := make([][]string, 0, len(list))
		for _, t := range list {
			if len(t) != width {
				return nil, false
			}
			out = append(out, slices.Clone(t))
		}
		return out, true
	case []any:
		out := make([][]string, 0, len(list))
		for _, raw := range list {
			tuple, ok := toTuple(raw, width)
			if !ok {
				return nil, false
			}
			out = append(out, tuple)
		}
		return out, true
	}
	return nil, false
}

func toTuple(v any, width int) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		if len(t) != width {
			return nil, false
		}
		return slices.Clone(t), true
	case []any:
		if len(t) != width {
			return nil, false
		}
		out := make([]string, width)
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// clone returns a copy of a canonical value that callers may mutate.
func clone(v any) any {
	if tuples, ok := v.([][]string); ok {
		out := make([][]string, len(tuples))
		for i, t := range tuples {
			out[i] = slices.Clone(t)
		}
		return out
	}
	return v
}
