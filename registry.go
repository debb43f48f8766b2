package dynvoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Registry maps group and action names to targets.
// Declare actions with Group and GroupOf, add rules, then call Build.
// After Build the registry is read-only and safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	logger    *slog.Logger
	rules     *ruleSet
	filter    ParamFilter
	decls     []declaration
	buildOnce sync.Once
	index     atomic.Pointer[index]
}

// declaration is an action as registered, before rules are applied.
type declaration struct {
	group  string
	action string
	fn     any
	params []string
}

// index is the frozen result of Build.
type index struct {
	targets map[string]*Target
	models  map[string]Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rules: newRuleSet(),
	}
}

// WithLogger sets a custom logger for the registry.
// If not set, slog.Default() will be used.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithInjection adds an injection rule. Conflicting rules are logged and dropped.
func (r *Registry) WithInjection(rule InjectionRule) *Registry {
	r.mu.Lock()
	err := r.rules.addInjection(rule)
	r.mu.Unlock()
	if err != nil {
		r.log().Warn("injection rule rejected",
			slog.String("param", rule.key.name),
			slog.Any("error", err))
	}
	return r
}

// WithReplacement adds a replacement rule. Conflicting rules are logged and dropped.
func (r *Registry) WithReplacement(rule ReplacementRule) *Registry {
	r.mu.Lock()
	err := r.rules.addReplacement(rule)
	r.mu.Unlock()
	if err != nil {
		r.log().Warn("replacement rule rejected",
			slog.String("internal", rule.internal.name),
			slog.String("external", rule.external.name),
			slog.Any("error", err))
	}
	return r
}

// WithParamFilter sets a filter applied to every argument when a call is invoked.
// It is ignored with a warning after Build.
func (r *Registry) WithParamFilter(fn ParamFilter) *Registry {
	r.mu.Lock()
	frozen := r.rules.frozen
	if !frozen {
		r.filter = fn
	}
	r.mu.Unlock()
	if frozen {
		r.log().Warn("param filter rejected", slog.Any("error", ErrRegistryBuilt))
	}
	return r
}

func (r *Registry) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// Group returns a handle for declaring actions in the named group.
func (r *Registry) Group(name string) *Group {
	return &Group{
		reg:  r,
		name: name,
	}
}

// Group declares actions under one group name.
type Group struct {
	reg  *Registry
	name string
}

// Action declares fn as the named action of the group.
//
// fn must be a function. An optional leading context.Context parameter receives
// the request context; params names the remaining parameters in order.
// fn may return nothing, a value, an error, or a value and an error.
// Problems are reported when the registry is built.
func (g *Group) Action(name string, fn any, params ...string) *Group {
	r := g.reg
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index.Load() != nil {
		r.log().Warn("registry already built, ignoring action",
			slog.String("group", g.name),
			slog.String("action", name))
		return g
	}
	r.decls = append(r.decls, declaration{
		group:  g.name,
		action: name,
		fn:     fn,
		params: params,
	})
	return g
}

// Build constructs the targets from the declared actions and freezes the
// registry and its rules. Declarations that are malformed or repeat an
// existing key are skipped and logged. Calling Build again does nothing.
func (r *Registry) Build() {
	r.buildOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rules.frozen = true

		logger := r.log()
		idx := &index{
			targets: make(map[string]*Target),
			models:  make(map[string]Model),
		}
		groups := make(map[string]bool)
		for _, d := range r.decls {
			t, err := r.newTarget(d)
			if err != nil {
				logger.Warn("skipping malformed action",
					slog.String("group", d.group),
					slog.String("action", d.action),
					slog.Any("error", err))
				continue
			}
			if _, exists := idx.targets[t.Key()]; exists {
				logger.Warn("duplicate action registration",
					slog.String("group", t.group),
					slog.String("action", t.action),
					slog.String("route", t.Key()))
				continue
			}
			if !groups[t.group] {
				groups[t.group] = true
				logger.Info("registered group", slog.String("group", t.group))
			}
			logger.Info("registered action",
				slog.String("group", t.group),
				slog.String("action", t.action))
			for _, p := range t.external {
				logger.Info("external parameter",
					slog.String("route", t.Key()),
					slog.String("param", p.Name),
					slog.String("type", p.Type.String()))
				collectModel(idx.models, p.Type, logger)
			}
			for _, p := range t.injected {
				logger.Info("injected parameter",
					slog.String("route", t.Key()),
					slog.String("param", p.Name),
					slog.String("type", p.Type.String()))
			}
			idx.targets[t.Key()] = t
		}
		r.decls = nil
		r.index.Store(idx)
	})
}

// newTarget applies the rules to one declaration.
func (r *Registry) newTarget(d declaration) (*Target, error) {
	group := strings.ToLower(strings.TrimSpace(d.group))
	action := strings.ToLower(strings.TrimSpace(d.action))
	if group == "" || action == "" {
		return nil, errors.New("empty group or action name")
	}
	if strings.ContainsAny(group+action, "./ ") {
		return nil, fmt.Errorf("name %q contains a reserved character", group+"."+action)
	}

	fn := reflect.ValueOf(d.fn)
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("handler is %T, not a function", d.fn)
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, errors.New("variadic handlers are not supported")
	}

	t := &Target{
		group:  group,
		action: action,
		types:  make(map[string]reflect.Type),
		fn:     fn,
	}

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		t.wantsCtx = true
		first = 1
	}
	if n := ft.NumIn() - first; n != len(d.params) {
		return nil, fmt.Errorf("handler takes %d parameters, %d names given", n, len(d.params))
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			t.errOut = true
		} else {
			t.result = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, errors.New("second result must be error")
		}
		t.result, t.errOut = true, true
	default:
		return nil, fmt.Errorf("handler returns %d values", ft.NumOut())
	}

	seen := make(map[string]bool)
	for i, raw := range d.params {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			return nil, fmt.Errorf("parameter %d has no name", i)
		}
		typ := ft.In(first + i)
		if _, dup := t.types[name]; dup {
			return nil, fmt.Errorf("parameter %q declared twice", name)
		}
		t.types[name] = typ
		t.order = append(t.order, name)

		if _, ok := r.rules.injection(name, typ); ok {
			t.injected = append(t.injected, Param{Name: name, Type: typ})
			continue
		}
		ext := Param{Name: name, Type: typ}
		if rule, ok := r.rules.replacingInternal(name, typ); ok {
			ext = Param{Name: rule.external.name, Type: rule.external.typ}
		}
		if seen[ext.Name] {
			return nil, fmt.Errorf("external parameter %q declared twice", ext.Name)
		}
		seen[ext.Name] = true
		t.external = append(t.external, ext)
	}
	return t, nil
}

// Lookup returns the target for group and action, ignoring case.
// It reports false for unknown targets and before Build.
func (r *Registry) Lookup(group, action string) (*Target, bool) {
	idx := r.index.Load()
	if idx == nil {
		return nil, false
	}
	t, ok := idx.targets[targetKey(group, action)]
	return t, ok
}

// Targets returns all targets sorted by key.
func (r *Registry) Targets() []*Target {
	idx := r.index.Load()
	if idx == nil {
		return nil
	}
	out := make([]*Target, 0, len(idx.targets))
	for _, t := range idx.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Built reports whether Build has completed.
func (r *Registry) Built() bool {
	return r.index.Load() != nil
}
