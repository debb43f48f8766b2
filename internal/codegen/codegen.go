// Package codegen writes the registration file for a package scanned by
// the directive package.
package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"strconv"

	"github.com/broady/dynvoke/internal/directive"
)

// FileName is the name of the generated file.
const FileName = "dynvoke_gen.go"

const importPath = "github.com/broady/dynvoke"

// Generate returns the gofmt-formatted source of a file declaring
// Register(reg *dynvoke.Registry), which registers every action in res.
func Generate(res *directive.Result) ([]byte, error) {
	if res.PackageName == "" {
		return nil, fmt.Errorf("codegen: package name is empty")
	}

	var buf bytes.Buffer
	buf.WriteString("// Code generated by dynvoke gen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&buf, "package %s\n\n", res.PackageName)
	fmt.Fprintf(&buf, "import %q\n\n", importPath)
	buf.WriteString("// Register adds the actions exported with //dynvoke:action to reg.\n")
	buf.WriteString("func Register(reg *dynvoke.Registry) {\n")

	group := ""
	for i, a := range res.Actions {
		if a.Group != group {
			if i > 0 {
				buf.WriteString("\n")
			}
			fmt.Fprintf(&buf, "\treg.Group(%s).\n", strconv.Quote(a.Group))
			group = a.Group
		}
		fmt.Fprintf(&buf, "\t\tAction(%s, %s", strconv.Quote(a.Name), a.FuncName)
		for _, p := range a.Params {
			fmt.Fprintf(&buf, ", %s", strconv.Quote(p))
		}
		buf.WriteString(")")
		if i+1 < len(res.Actions) && res.Actions[i+1].Group == group {
			buf.WriteString(".")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("codegen: format: %w\n%s", err, buf.Bytes())
	}
	return src, nil
}
