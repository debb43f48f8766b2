package dynvoke

import (
	"log/slog"
	"reflect"
	"sort"
	"strings"
)

// Model is a struct type that callers send as a parameter.
// Client stubs emit a constructor for each model.
type Model struct {
	Name   string
	Fields []string // JSON property names
}

// collectModel records typ as a model if it is, or points to, a named struct
// with exported fields.
func collectModel(models map[string]Model, typ reflect.Type, logger *slog.Logger) {
	for typ.Kind() == reflect.Pointer || typ.Kind() == reflect.Slice {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct || typ.Name() == "" {
		return
	}
	fields := jsonFields(typ)
	if len(fields) == 0 {
		return
	}
	if prev, ok := models[typ.Name()]; ok {
		if strings.Join(prev.Fields, ",") != strings.Join(fields, ",") {
			logger.Warn("model name used by different types, keeping first",
				slog.String("model", typ.Name()),
				slog.String("type", typ.String()))
		}
		return
	}
	models[typ.Name()] = Model{Name: typ.Name(), Fields: fields}
}

// jsonFields lists the property names encoding/json would use for typ.
func jsonFields(typ reflect.Type) []string {
	var fields []string
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		fields = append(fields, name)
	}
	return fields
}

// Models returns the collected models sorted by name.
func (r *Registry) Models() []Model {
	idx := r.index.Load()
	if idx == nil {
		return nil
	}
	out := make([]Model, 0, len(idx.models))
	for _, m := range idx.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
