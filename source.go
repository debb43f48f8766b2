package dynvoke

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// ValueSource supplies caller values by parameter name.
// TryGet reports false when name is absent or its value does not have type typ.
type ValueSource interface {
	TryGet(name string, typ reflect.Type) (any, bool)
}

// JSONSource exposes the top-level properties of a JSON object.
// Property names match exactly. Each property is decoded into the requested
// type on demand; a value that does not decode as that type is absent.
type JSONSource struct {
	props map[string]json.RawMessage
	used  map[string]bool
}

var nullJSON = []byte("null")

// NewJSONSource parses body. An empty body yields an empty source.
// A body that is valid JSON but not an object yields a bad request error.
func NewJSONSource(body []byte) (*JSONSource, error) {
	src := &JSONSource{used: make(map[string]bool)}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return src, nil
	}
	if trimmed[0] != '{' {
		if json.Valid(trimmed) {
			return nil, NewError(CodeBadRequest, "arguments need to be wrapped in a JSON object")
		}
		return nil, fmt.Errorf("decode body: invalid JSON")
	}
	if err := json.Unmarshal(trimmed, &src.props); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return src, nil
}

// TryGet implements ValueSource.
func (s *JSONSource) TryGet(name string, typ reflect.Type) (any, bool) {
	raw, ok := s.props[name]
	if !ok {
		return nil, false
	}
	s.used[name] = true
	if bytes.Equal(bytes.TrimSpace(raw), nullJSON) {
		if !nillable(typ) {
			return nil, false
		}
		return reflect.Zero(typ).Interface(), true
	}
	if isInteger(typ) {
		return decodeInteger(bytes.TrimSpace(raw), typ)
	}
	ptr := reflect.New(typ)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, false
	}
	return ptr.Elem().Interface(), true
}

// Unused returns the properties that were never requested, sorted.
func (s *JSONSource) Unused() []string {
	var out []string
	for name := range s.props {
		if !s.used[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// MapSource is a ValueSource backed by already-decoded values.
// A value must be assignable to the requested type.
type MapSource map[string]any

// TryGet implements ValueSource.
func (m MapSource) TryGet(name string, typ reflect.Type) (any, bool) {
	v, ok := m[name]
	if !ok {
		return nil, false
	}
	if v == nil {
		return nil, nillable(typ)
	}
	if !reflect.TypeOf(v).AssignableTo(typ) {
		return nil, false
	}
	return v, true
}

func nillable(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func isInteger(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// decodeInteger parses a JSON number literal into an integer type.
// Strings, fractions and values that overflow typ are absent.
func decodeInteger(raw []byte, typ reflect.Type) (any, bool) {
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return nil, false
	}
	v := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(string(raw), 10, typ.Bits())
		if err != nil {
			return nil, false
		}
		v.SetInt(n)
	default:
		n, err := strconv.ParseUint(string(raw), 10, typ.Bits())
		if err != nil {
			return nil, false
		}
		v.SetUint(n)
	}
	return v.Interface(), true
}
