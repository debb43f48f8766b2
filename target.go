package dynvoke

import (
	"reflect"
	"strings"
)

// Param is a named, typed parameter of a target.
type Param struct {
	Name string
	Type reflect.Type
}

// Target describes one callable action. Targets are built by [Registry.Build]
// and never change afterwards.
type Target struct {
	group    string
	action   string
	external []Param
	injected []Param
	order    []string
	types    map[string]reflect.Type // internal name -> handler parameter type
	fn       reflect.Value
	wantsCtx bool
	result   bool // handler returns a value
	errOut   bool // handler returns an error as its last result
}

// Key returns the lookup key "group.action".
func (t *Target) Key() string { return targetKey(t.group, t.action) }

// Group returns the lower-cased group name.
func (t *Target) Group() string { return t.group }

// Action returns the lower-cased action name.
func (t *Target) Action() string { return t.action }

// External returns the parameters a caller supplies, in handler order,
// with replaced parameters shown under their external name and type.
func (t *Target) External() []Param {
	return append([]Param(nil), t.external...)
}

// Injected returns the parameters the server supplies.
func (t *Target) Injected() []Param {
	return append([]Param(nil), t.injected...)
}

// Order returns the internal parameter names in the order the handler takes them.
func (t *Target) Order() []string {
	return append([]string(nil), t.order...)
}

// Void reports whether the handler produces no value.
func (t *Target) Void() bool { return !t.result }

func targetKey(group, action string) string {
	return strings.ToLower(group) + "." + strings.ToLower(action)
}
