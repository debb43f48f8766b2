package dynvoke

import (
	"context"
	"fmt"
	"reflect"
)

// ParamFilter may rewrite or reject each argument just before a handler runs.
// name is the internal parameter name.
type ParamFilter func(ctx context.Context, target *Target, name string, value any) (any, error)

// Call holds the arguments resolved for one request to one target.
// It is owned by a single request and is not safe for concurrent use.
type Call struct {
	target   *Target
	filter   ParamFilter
	args     map[string]reflect.Value
	ready    bool
	consumed bool
}

func newCall(t *Target, filter ParamFilter) *Call {
	return &Call{
		target: t,
		filter: filter,
		args:   make(map[string]reflect.Value, len(t.order)),
	}
}

// Target returns the target the call is bound to.
func (c *Call) Target() *Target { return c.target }

// bind stores v under the internal name. A nil v binds the zero value.
func (c *Call) bind(name string, v any) {
	c.args[name] = valueOf(v, c.target.types[name])
}

// Ready reports whether every handler parameter has a value.
// Once true it stays true.
func (c *Call) Ready() bool {
	if c.ready {
		return true
	}
	for _, name := range c.target.order {
		if _, ok := c.args[name]; !ok {
			return false
		}
	}
	c.ready = true
	return true
}

// Missing returns the internal names that have no value, in handler order.
func (c *Call) Missing() []string {
	var out []string
	for _, name := range c.target.order {
		if _, ok := c.args[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Invoke calls the handler once with the bound arguments in handler order.
// It returns the handler's value (nil for void handlers) and error.
func (c *Call) Invoke(ctx context.Context) (any, error) {
	if c.consumed {
		return nil, ErrCallConsumed
	}
	c.consumed = true
	if !c.Ready() {
		return nil, Errorf(CodeMissingArguments, "missing %v", c.Missing())
	}

	t := c.target
	in := make([]reflect.Value, 0, len(t.order)+1)
	if t.wantsCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	for _, name := range t.order {
		arg := c.args[name]
		if c.filter != nil {
			v, err := c.filter(ctx, t, name, arg.Interface())
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", name, err)
			}
			if v != nil && !reflect.TypeOf(v).AssignableTo(t.types[name]) {
				return nil, fmt.Errorf("filter %s: returned %T, want %s", name, v, t.types[name])
			}
			c.bind(name, v)
			arg = c.args[name]
		}
		in = append(in, arg)
	}

	out := t.fn.Call(in)
	var result any
	if t.result {
		result = out[0].Interface()
	}
	if t.errOut {
		if err, _ := out[len(out)-1].Interface().(error); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Resolve binds the caller values from src and the injected values for t.
// Parameters src cannot supply are left unbound; check with [Call.Ready].
func (r *Registry) Resolve(ctx context.Context, t *Target, src ValueSource) *Call {
	c := newCall(t, r.filter)
	for _, p := range t.external {
		v, ok := src.TryGet(p.Name, p.Type)
		if !ok || !assignable(v, p.Type) {
			continue
		}
		if rule, ok := r.rules.replacingExternal(p.Name, p.Type); ok {
			if typ, declared := t.types[rule.internal.name]; declared && typ == rule.internal.typ {
				c.args[rule.internal.name] = rule.transform(valueOf(v, p.Type))
				continue
			}
		}
		c.bind(p.Name, v)
	}
	for _, p := range t.injected {
		rule, ok := r.rules.injection(p.Name, p.Type)
		if !ok {
			continue
		}
		c.args[p.Name] = rule.produce(ctx)
	}
	return c
}

// assignable reports whether v can be bound to a parameter of type typ.
// A ValueSource may return a value of another type; it is then absent.
func assignable(v any, typ reflect.Type) bool {
	if v == nil {
		return nillable(typ)
	}
	return reflect.TypeOf(v).AssignableTo(typ)
}

func valueOf(v any, typ reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(typ)
	}
	rv := reflect.ValueOf(v)
	if rv.Type() != typ {
		conv := reflect.New(typ).Elem()
		conv.Set(rv)
		return conv
	}
	return rv
}
