package dynvoke

import (
	"log/slog"
	"reflect"
	"strings"
)

// GroupInfo describes how a group value is exposed by [Registry.GroupOf].
type GroupInfo struct {
	// Name overrides the group name. Defaults to the lower-cased type name.
	Name string

	// Params names the parameters of each method, keyed by Go method name.
	// Methods with parameters but no entry are skipped.
	Params map[string][]string

	// Names overrides action names, keyed by Go method name.
	Names map[string]string

	// ListedOnly exposes only methods that appear in Params or Names.
	ListedOnly bool
}

// Describer is implemented by group values that customize their exposure.
type Describer interface {
	DynvokeGroup() GroupInfo
}

const describerMethod = "DynvokeGroup"

// GroupOf declares every exported method of v as an action.
//
// v must be stateless: a struct (or pointer to one) of zero size. Values that
// carry state are skipped with a warning. Actions come from the method set
// of v as passed, so pass a pointer to export pointer-receiver methods.
// DynvokeGroup is honored with either receiver.
func (r *Registry) GroupOf(v any) *Registry {
	logger := r.log()
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		logger.Warn("skipping nil group")
		return r
	}
	rt := rv.Type()
	base := rt
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() != reflect.Struct || base.Size() != 0 {
		logger.Warn("skipping group: type is not a stateless struct",
			slog.String("type", rt.String()))
		return r
	}

	var info GroupInfo
	if d, ok := v.(Describer); ok {
		info = d.DynvokeGroup()
	} else if d, ok := reflect.New(base).Interface().(Describer); ok {
		// DynvokeGroup has a pointer receiver but a value was passed.
		info = d.DynvokeGroup()
	}
	name := info.Name
	if name == "" {
		name = strings.ToLower(base.Name())
	}
	if name == "" {
		logger.Warn("skipping group: anonymous type has no name",
			slog.String("type", rt.String()))
		return r
	}

	g := r.Group(name)
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if m.Name == describerMethod {
			continue
		}
		params, hasParams := info.Params[m.Name]
		alt, hasName := info.Names[m.Name]
		if info.ListedOnly && !hasParams && !hasName {
			continue
		}
		action := m.Name
		if hasName && alt != "" {
			action = alt
		}
		fn := rv.Method(i)
		if !hasParams && takesParams(fn.Type()) {
			logger.Warn("skipping method: parameter names not declared",
				slog.String("group", name),
				slog.String("method", m.Name))
			continue
		}
		g.Action(action, fn.Interface(), params...)
	}
	return r
}

func takesParams(ft reflect.Type) bool {
	n := ft.NumIn()
	if n > 0 && ft.In(0) == contextType {
		n--
	}
	return n > 0
}
