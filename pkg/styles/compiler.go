package styles

import (
	"context"
	"os"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/shell"
)

// Compiler turns a stylesheet source file into plain CSS
type Compiler interface {
	Compile(ctx context.Context, file string) ([]byte, error)
}

// PlainCompiler reads CSS files unchanged
type PlainCompiler struct{}

func (PlainCompiler) Compile(ctx context.Context, file string) ([]byte, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &artifact.IOError{Path: file, Op: "read", Err: err}
	}

	return data, nil
}

// SassCompiler runs an external sass command. The command receives the source file as $1 and
// has to print the compiled CSS to stdout.
type SassCompiler struct {
	Command string
	Dir     string
}

func (c SassCompiler) Compile(ctx context.Context, file string) ([]byte, error) {
	result, err := shell.Run(ctx, shell.Command{Script: c.Command, Dir: c.Dir}, nil, file)
	if err != nil {
		return nil, &artifact.CompileError{File: file, Tool: "sass", Err: err}
	}

	return result.Stdout, nil
}
