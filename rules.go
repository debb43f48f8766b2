package dynvoke

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// ruleKey identifies a parameter by lower-cased name and type.
type ruleKey struct {
	name string
	typ  reflect.Type
}

func (k ruleKey) String() string { return k.name + " " + k.typ.String() }

// InjectionRule supplies a parameter from the server side on every request.
// Create one with [Inject].
type InjectionRule struct {
	key     ruleKey
	produce func(context.Context) reflect.Value
}

// Inject returns a rule that binds every handler parameter called name of type T
// to the value produced for the current request. Callers can never set it.
func Inject[T any](name string, produce func(context.Context) T) InjectionRule {
	return InjectionRule{
		key: ruleKey{strings.ToLower(name), reflect.TypeFor[T]()},
		produce: func(ctx context.Context) reflect.Value {
			v := reflect.New(reflect.TypeFor[T]()).Elem()
			if p := produce(ctx); any(p) != nil {
				v.Set(reflect.ValueOf(p))
			}
			return v
		},
	}
}

// ReplacementRule exposes a handler parameter to callers under another name and type.
// Create one with [Replace].
type ReplacementRule struct {
	internal  ruleKey
	external  ruleKey
	transform func(reflect.Value) reflect.Value
}

// Replace returns a rule that shows the handler parameter internalName of type In
// as externalName of type Ext. Caller values are passed through transform
// before the handler sees them.
func Replace[In, Ext any](internalName, externalName string, transform func(Ext) In) ReplacementRule {
	return ReplacementRule{
		internal: ruleKey{strings.ToLower(internalName), reflect.TypeFor[In]()},
		external: ruleKey{strings.ToLower(externalName), reflect.TypeFor[Ext]()},
		transform: func(v reflect.Value) reflect.Value {
			out := reflect.New(reflect.TypeFor[In]()).Elem()
			ext, _ := v.Interface().(Ext)
			in := transform(ext)
			if any(in) != nil {
				out.Set(reflect.ValueOf(in))
			}
			return out
		},
	}
}

// ruleSet indexes injection and replacement rules. It is frozen by Registry.Build.
type ruleSet struct {
	injections map[ruleKey]InjectionRule
	byInternal map[ruleKey]*ReplacementRule
	byExternal map[ruleKey]*ReplacementRule
	frozen     bool
}

func newRuleSet() *ruleSet {
	return &ruleSet{
		injections: make(map[ruleKey]InjectionRule),
		byInternal: make(map[ruleKey]*ReplacementRule),
		byExternal: make(map[ruleKey]*ReplacementRule),
	}
}

func (s *ruleSet) addInjection(r InjectionRule) error {
	if s.frozen {
		return ErrRegistryBuilt
	}
	if r.produce == nil || r.key.name == "" {
		return fmt.Errorf("dynvoke: injection rule %q has no producer", r.key.name)
	}
	if _, ok := s.injections[r.key]; ok {
		return fmt.Errorf("%w: injection %s", ErrDuplicateRule, r.key)
	}
	s.injections[r.key] = r
	return nil
}

func (s *ruleSet) addReplacement(r ReplacementRule) error {
	if s.frozen {
		return ErrRegistryBuilt
	}
	if r.transform == nil || r.internal.name == "" || r.external.name == "" {
		return fmt.Errorf("dynvoke: replacement rule %q has no transform", r.internal.name)
	}
	if _, ok := s.byInternal[r.internal]; ok {
		return fmt.Errorf("%w: replacement of %s", ErrDuplicateRule, r.internal)
	}
	if _, ok := s.byExternal[r.external]; ok {
		return fmt.Errorf("%w: replacement exposing %s", ErrDuplicateRule, r.external)
	}
	rule := r
	s.byInternal[r.internal] = &rule
	s.byExternal[r.external] = &rule
	return nil
}

func (s *ruleSet) injection(name string, typ reflect.Type) (InjectionRule, bool) {
	r, ok := s.injections[ruleKey{name, typ}]
	return r, ok
}

func (s *ruleSet) replacingInternal(name string, typ reflect.Type) (*ReplacementRule, bool) {
	r, ok := s.byInternal[ruleKey{name, typ}]
	return r, ok
}

func (s *ruleSet) replacingExternal(name string, typ reflect.Type) (*ReplacementRule, bool) {
	r, ok := s.byExternal[ruleKey{name, typ}]
	return r, ok
}
