// Package directive finds dynvoke directives in Go source.
//
// Directives are line comments:
//
//	//dynvoke:group name
//	//dynvoke:action [name]
//
// A group directive applies to every action that follows it in the same
// file. An action directive in the doc comment of a package-level function
// exports that function under the current group, named after the function
// in lower case unless a name is given.
package directive

import (
	"fmt"
	"go/ast"
	"go/token"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

const prefix = "//dynvoke:"

// Kind is the type of a directive.
type Kind string

const (
	KindGroup  Kind = "group"
	KindAction Kind = "action"
)

// Action is a function exported by an action directive.
type Action struct {
	Group    string
	Name     string
	FuncName string
	Params   []string // parameter names, lower-cased, context parameter skipped
	Pos      token.Position
}

// Result contains every action found in a package.
type Result struct {
	Actions     []Action
	PackageName string
	PackagePath string
	Dir         string
}

// Parse scans the package matching pattern for directives.
//
// The pattern follows go command semantics: "." for the current directory,
// an import path, or a directory path. Parse fails if the package does not
// load, a directive is malformed, an action precedes every group directive,
// or an exported function has a signature the registry would reject.
func Parse(pattern string) (*Result, error) {
	return ParseDir(pattern, "")
}

// ParseDir is like Parse but resolves pattern relative to dir.
// If dir is empty, the current directory is used.
func ParseDir(pattern, dir string) (*Result, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax |
			packages.NeedTypes | packages.NeedTypesInfo,
		Dir: dir,
	}

	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, fmt.Errorf("load package: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found matching %q", pattern)
	}
	if len(pkgs) > 1 {
		return nil, fmt.Errorf("multiple packages found matching %q; specify a single package", pattern)
	}

	pkg := pkgs[0]
	if len(pkg.Errors) > 0 {
		return nil, fmt.Errorf("package errors: %v", pkg.Errors[0])
	}

	result := &Result{
		PackageName: pkg.Name,
		PackagePath: pkg.PkgPath,
	}
	if len(pkg.GoFiles) > 0 {
		result.Dir = filepath.Dir(pkg.GoFiles[0])
	}

	seen := make(map[string]token.Position)
	for _, f := range pkg.Syntax {
		actions, err := parseFile(pkg.Fset, f)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			params, err := actionParams(pkg, a)
			if err != nil {
				return nil, err
			}
			a.Params = params

			key := strings.ToLower(a.Group + "." + a.Name)
			if prev, ok := seen[key]; ok {
				return nil, fmt.Errorf("%s: action %s already exported at %s", a.Pos, key, prev)
			}
			seen[key] = a.Pos
			result.Actions = append(result.Actions, a)
		}
	}

	sort.Slice(result.Actions, func(i, j int) bool {
		a, b := result.Actions[i], result.Actions[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Name < b.Name
	})
	return result, nil
}

type comment struct {
	kind Kind
	arg  string
	pos  token.Pos
}

// parseFile matches the directives of one file to function declarations.
func parseFile(fset *token.FileSet, f *ast.File) ([]Action, error) {
	var groups []comment
	actions := make(map[token.Pos]comment) // comment group end -> directive

	for _, cg := range f.Comments {
		for _, c := range cg.List {
			if !strings.HasPrefix(c.Text, prefix) {
				continue
			}
			parts := strings.Fields(strings.TrimPrefix(c.Text, prefix))
			pos := fset.Position(c.Pos())
			if len(parts) == 0 {
				return nil, fmt.Errorf("%s: empty directive", pos)
			}
			if len(parts) > 2 {
				return nil, fmt.Errorf("%s: //dynvoke:%s takes at most one name", pos, parts[0])
			}
			arg := ""
			if len(parts) == 2 {
				arg = parts[1]
				if !validName(arg) {
					return nil, fmt.Errorf("%s: invalid name %q", pos, arg)
				}
			}

			switch Kind(parts[0]) {
			case KindGroup:
				if arg == "" {
					return nil, fmt.Errorf("%s: //dynvoke:group requires a name", pos)
				}
				groups = append(groups, comment{kind: KindGroup, arg: arg, pos: c.Pos()})
			case KindAction:
				actions[cg.End()] = comment{kind: KindAction, arg: arg, pos: c.Pos()}
			default:
				return nil, fmt.Errorf("%s: unknown directive //dynvoke:%s", pos, parts[0])
			}
		}
	}

	var out []Action
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Doc == nil {
			continue
		}
		d, ok := actions[fn.Doc.End()]
		if !ok {
			continue
		}
		delete(actions, fn.Doc.End())

		pos := fset.Position(d.pos)
		if fn.Recv != nil {
			return nil, fmt.Errorf("%s: //dynvoke:action must be on a package-level function, not a method", pos)
		}
		group := groupAt(groups, d.pos)
		if group == "" {
			return nil, fmt.Errorf("%s: //dynvoke:action on %s has no preceding //dynvoke:group", pos, fn.Name.Name)
		}
		name := d.arg
		if name == "" {
			name = strings.ToLower(fn.Name.Name)
		}
		out = append(out, Action{
			Group:    group,
			Name:     name,
			FuncName: fn.Name.Name,
			Pos:      fset.Position(fn.Pos()),
		})
	}

	for _, d := range actions {
		return nil, fmt.Errorf("%s: //dynvoke:action directive must be followed by a function declaration", fset.Position(d.pos))
	}
	return out, nil
}

// groupAt returns the last group declared before pos.
func groupAt(groups []comment, pos token.Pos) string {
	name := ""
	for _, g := range groups {
		if g.pos < pos {
			name = g.arg
		}
	}
	return name
}

// validName reports whether s can be a group or action name in a URL path.
func validName(s string) bool {
	return s != "" && !strings.ContainsAny(s, "./ \t")
}
