// Package artifact holds build outputs in memory while they pass through a chain of transform
// steps and only writes them to disk once every step succeeded.
package artifact

import (
	"context"
	"fmt"
)

// Artifact is a single output file. Path is relative to the output root.
type Artifact struct {
	Path string
	Data []byte
	// Map is a source map for Data, if a step produced one
	Map []byte
}

// Step transforms an artifact. Steps must not modify the artifact they're given.
type Step func(ctx context.Context, in Artifact) (Artifact, error)

// Pipeline is an ordered list of steps
type Pipeline []Step

// Run passes in through each step and returns the final artifact
func (p Pipeline) Run(ctx context.Context, in Artifact) (Artifact, error) {
	current := in
	for _, step := range p {
		if err := ctx.Err(); err != nil {
			return Artifact{}, err
		}

		next, err := step(ctx, current)
		if err != nil {
			return Artifact{}, err
		}
		current = next
	}

	return current, nil
}

// If returns step when cond is true and a no-op otherwise
func If(cond bool, step Step) Step {
	if cond {
		return step
	}

	return func(ctx context.Context, in Artifact) (Artifact, error) {
		return in, nil
	}
}

// CompileError is returned when a preprocessor, transpiler or template engine rejects a source file
type CompileError struct {
	File string
	Tool string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.File, e.Tool, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// IOError is returned when a source can't be read or an artifact can't be written
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
