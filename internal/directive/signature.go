package directive

import (
	"fmt"
	"go/types"
	"strings"

	"golang.org/x/tools/go/packages"
)

// actionParams checks that the function behind an action can be registered
// and returns its parameter names.
//
// Accepted signatures take an optional leading context.Context, named
// non-variadic parameters, and return nothing, a value, an error, or a
// value and an error.
func actionParams(pkg *packages.Package, a Action) ([]string, error) {
	obj := pkg.Types.Scope().Lookup(a.FuncName)
	if obj == nil {
		return nil, fmt.Errorf("%s: function %s not found in package scope", a.Pos, a.FuncName)
	}
	fn, ok := obj.(*types.Func)
	if !ok {
		return nil, fmt.Errorf("%s: %s is not a function", a.Pos, a.FuncName)
	}
	sig := fn.Type().(*types.Signature)

	if sig.TypeParams().Len() > 0 {
		return nil, fmt.Errorf("%s: action %s must not be generic", a.Pos, a.FuncName)
	}
	if sig.Variadic() {
		return nil, fmt.Errorf("%s: action %s must not be variadic", a.Pos, a.FuncName)
	}
	if err := checkResults(sig.Results()); err != nil {
		return nil, fmt.Errorf("%s: action %s %v\n  got: func(%s) %s",
			a.Pos, a.FuncName, err, formatTuple(sig.Params()), formatTuple(sig.Results()))
	}

	params := sig.Params()
	start := 0
	if params.Len() > 0 && isContext(params.At(0).Type()) {
		start = 1
	}

	names := make([]string, 0, params.Len()-start)
	seen := make(map[string]bool)
	for i := start; i < params.Len(); i++ {
		p := params.At(i)
		name := strings.ToLower(p.Name())
		if name == "" || name == "_" {
			return nil, fmt.Errorf("%s: action %s parameter %d must be named", a.Pos, a.FuncName, i+1)
		}
		if isContext(p.Type()) {
			return nil, fmt.Errorf("%s: action %s may only take context.Context as its first parameter", a.Pos, a.FuncName)
		}
		if seen[name] {
			return nil, fmt.Errorf("%s: action %s has parameters differing only in case: %s", a.Pos, a.FuncName, name)
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

func checkResults(results *types.Tuple) error {
	switch results.Len() {
	case 0:
		return nil
	case 1:
		return nil
	case 2:
		if !isError(results.At(1).Type()) {
			return fmt.Errorf("second result must be error")
		}
		if isError(results.At(0).Type()) {
			return fmt.Errorf("must return at most one error")
		}
		return nil
	default:
		return fmt.Errorf("must return at most a value and an error")
	}
}

func isError(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}

func isContext(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == "context" && obj.Name() == "Context"
}

// formatTuple formats a types.Tuple as a comma-separated type list.
func formatTuple(t *types.Tuple) string {
	var parts []string
	for i := 0; i < t.Len(); i++ {
		parts = append(parts, t.At(i).Type().String())
	}
	return strings.Join(parts, ", ")
}
