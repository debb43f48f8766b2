package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/broady/dynvoke/internal/codegen"
	"github.com/broady/dynvoke/internal/directive"
)

type CLI struct {
	Version VersionCmd `cmd:"" help:"Print version information."`
	Gen     GenCmd     `cmd:"" help:"Generate dynvoke_gen.go from //dynvoke directives."`
	Check   CheckCmd   `cmd:"" help:"Validate directives without writing files."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run(out io.Writer) error {
	fmt.Fprintln(out, Version())
	return nil
}

type GenCmd struct {
	Package string `help:"Package to scan." short:"p" default:"."`
	Out     string `help:"Output directory (default: the package directory)." short:"o" type:"existingdir"`
}

func (c *GenCmd) Run(ctx context.Context, out io.Writer) error {
	res, err := directive.Parse(c.Package)
	if err != nil {
		return err
	}
	src, err := codegen.Generate(res)
	if err != nil {
		return err
	}
	dir := c.Out
	if dir == "" {
		dir = res.Dir
	}
	if err := (codegen.DirSink{Dir: dir}).WriteFile(ctx, codegen.FileName, src); err != nil {
		return fmt.Errorf("write %s: %w", codegen.FileName, err)
	}
	fmt.Fprintf(out, "✓ Wrote %d actions to %s/%s\n", len(res.Actions), dir, codegen.FileName)
	return nil
}

type CheckCmd struct {
	Package string `help:"Package to scan." short:"p" default:"."`
}

func (c *CheckCmd) Run(out io.Writer) error {
	res, err := directive.Parse(c.Package)
	if err != nil {
		return err
	}
	if _, err := codegen.Generate(res); err != nil {
		return err
	}
	for _, a := range res.Actions {
		fmt.Fprintf(out, "✓ %s.%s -> %s(%v)\n", a.Group, a.Name, a.FuncName, a.Params)
	}
	fmt.Fprintf(out, "✓ %d actions in %s\n", len(res.Actions), res.PackagePath)
	return nil
}

func newParser(ctx context.Context, cli *CLI, out io.Writer) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("dynvoke"),
		kong.Description("Dynvoke CLI for generating action registration code."),
		kong.UsageOnError(),
		kong.Writers(out, os.Stderr),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindTo(out, (*io.Writer)(nil)),
	)
}

func main() {
	parser, err := newParser(context.Background(), &CLI{}, os.Stdout)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}
