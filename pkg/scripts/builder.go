// Package scripts lints JavaScript sources and bundles them into a single file
package scripts

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/sitelog"
)

// BundleName is the file name of the bundle below the js output directory
const BundleName = "app.js"

// separator is inserted between concatenated files so that a file without a trailing semicolon
// can't merge with the next one into a single statement
const separator = "\n;"

// LintResult summarizes a lint run
type LintResult struct {
	Files      int
	Violations []Violation
}

// BuildResult lists the written bundle relative to the output root
type BuildResult struct {
	Written []string
}

// Builder lints and bundles scripts into js/app.js
type Builder struct {
	Root   string
	Output string
	Config *config.Config
	Linter Linter
}

// NewBuilder returns a builder that uses the shell linter if lintCommand is set and the built-in
// linter otherwise
func NewBuilder(root, output string, cfg *config.Config, lintCommand string, globals []string) *Builder {
	var linter Linter = BuiltinLinter{Root: root, Globals: globals}
	if lintCommand != "" {
		linter = ShellLinter{Command: lintCommand, Dir: root}
	}

	return &Builder{
		Root:   root,
		Output: output,
		Config: cfg,
		Linter: linter,
	}
}

// Lint checks all files matched by patterns and returns a LintError if there's any violation
func (b *Builder) Lint(ctx context.Context, patterns []string) (*LintResult, error) {
	files, err := artifact.Resolve(b.Root, patterns)
	if err != nil {
		return nil, err
	}

	return b.lintFiles(ctx, files)
}

func (b *Builder) lintFiles(ctx context.Context, files []artifact.File) (*LintResult, error) {
	violations, err := b.Linter.Lint(ctx, files)
	if err != nil {
		return nil, err
	}

	result := &LintResult{Files: len(files), Violations: violations}
	for _, v := range violations {
		sitelog.Log(ctx).Error().
			Str("file", v.File).
			Int("line", v.Line).
			Int("column", v.Column).
			Str("rule", v.Rule).
			Msg(v.Message)
	}

	if len(violations) > 0 {
		return result, &LintError{Violations: violations}
	}

	sitelog.Log(ctx).Info().Int("files", len(files)).Msg("lint passed")
	return result, nil
}

// Build lints the matched files and writes the bundle. Nothing is written if lint or any
// transpile step fails.
func (b *Builder) Build(ctx context.Context, patterns []string) (*BuildResult, error) {
	files, err := artifact.Resolve(b.Root, patterns)
	if err != nil {
		return nil, err
	}

	if _, err := b.lintFiles(ctx, files); err != nil {
		return nil, err
	}

	return b.bundle(ctx, files)
}

// Bundle is Build without the lint pass. Callers have to make sure Lint succeeded first, like
// the javascripts task does through its lint dependency.
func (b *Builder) Bundle(ctx context.Context, patterns []string) (*BuildResult, error) {
	files, err := artifact.Resolve(b.Root, patterns)
	if err != nil {
		return nil, err
	}

	return b.bundle(ctx, files)
}

func (b *Builder) bundle(ctx context.Context, files []artifact.File) (*BuildResult, error) {
	var err error
	production := b.Config.Production()
	out := bundle{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		code, sourceMap, err := transpile(file.Path, relName(b.Root, file.Path), production)
		if err != nil {
			sitelog.Log(ctx).Error().Err(err).Str("path", file.Path).Msg("transpile failed")
			return nil, err
		}

		out.add(code, sourceMap)
	}

	bundlePath := path.Join(config.JSDir, BundleName)
	result := artifact.Artifact{Path: bundlePath, Data: out.buf.Bytes()}

	if production {
		result, err = artifact.Pipeline{minifyStep}.Run(ctx, result)
		if err != nil {
			return nil, err
		}
	} else {
		result.Map, err = out.sourceMap(BundleName)
		if err != nil {
			return nil, err
		}
		result.Data = append(result.Data, inlineMapComment(result.Map)...)
	}

	if err := artifact.Write(b.Output, result); err != nil {
		return nil, err
	}

	sitelog.Log(ctx).Info().
		Int("files", len(files)).
		Int("size", len(result.Data)).
		Bool("production", production).
		Msgf("bundled %s", bundlePath)

	return &BuildResult{Written: []string{bundlePath}}, nil
}

func transpile(file, name string, production bool) ([]byte, []byte, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, &artifact.IOError{Path: file, Op: "read", Err: err}
	}

	opts := api.TransformOptions{
		Loader:     api.LoaderJS,
		Target:     api.ES2015,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	}
	if !production {
		opts.Sourcemap = api.SourceMapExternal
		opts.SourcesContent = api.SourcesContentInclude
	}

	result := api.Transform(string(src), opts)
	if len(result.Errors) > 0 {
		return nil, nil, &artifact.CompileError{File: file, Tool: "esbuild", Err: messagesError(result.Errors)}
	}

	return result.Code, result.Map, nil
}

func minifyStep(ctx context.Context, in artifact.Artifact) (artifact.Artifact, error) {
	result := api.Transform(string(in.Data), api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            api.ES2015,
		Sourcefile:        in.Path,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: true,
		LogLevel:          api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return artifact.Artifact{}, &artifact.CompileError{File: in.Path, Tool: "esbuild", Err: messagesError(result.Errors)}
	}

	return artifact.Artifact{Path: in.Path, Data: result.Code}, nil
}

func messagesError(msgs []api.Message) error {
	lines := make([]string, len(msgs))
	for idx, msg := range msgs {
		if msg.Location == nil {
			lines[idx] = msg.Text
			continue
		}
		lines[idx] = fmt.Sprintf("%s:%d:%d: %s", filepath.ToSlash(msg.Location.File), msg.Location.Line, msg.Location.Column, msg.Text)
	}

	return eris.New(strings.Join(lines, "\n"))
}
