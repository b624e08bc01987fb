// Package styles compiles stylesheet sources into CSS artifacts
package styles

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/sitelog"
)

// BuildResult lists the artifacts written by a build, relative to the output root
type BuildResult struct {
	Written []string
}

// Builder compiles every entry stylesheet (files not starting with _) into css/<name>.css
type Builder struct {
	Root      string
	Output    string
	Config    *config.Config
	Compilers map[string]Compiler
}

// NewBuilder returns a builder with the default compilers: sass for .scss/.sass, plain for .css
func NewBuilder(root, output string, cfg *config.Config, sassCommand string) *Builder {
	sass := SassCompiler{Command: sassCommand, Dir: root}

	return &Builder{
		Root:   root,
		Output: output,
		Config: cfg,
		Compilers: map[string]Compiler{
			".scss": sass,
			".sass": sass,
			".css":  PlainCompiler{},
		},
	}
}

// Build compiles all entry files matched by patterns. Artifacts are only written if every entry
// compiled successfully.
func (b *Builder) Build(ctx context.Context, patterns []string) (*BuildResult, error) {
	files, err := artifact.Resolve(b.Root, patterns)
	if err != nil {
		return nil, err
	}

	pipeline := b.pipeline()
	outputs := []artifact.Artifact{}
	var errs error

	for _, file := range files {
		if strings.HasPrefix(filepath.Base(file.Path), "_") {
			continue
		}

		out, err := b.buildFile(ctx, file.Path, pipeline)
		if err != nil {
			sitelog.Log(ctx).Error().Err(err).Str("path", file.Path).Msg("stylesheet failed")
			errs = multierr.Append(errs, err)
			continue
		}

		outputs = append(outputs, out)
	}

	if errs != nil {
		return nil, errs
	}

	result := &BuildResult{}
	for _, out := range outputs {
		if err := artifact.Write(b.Output, out); err != nil {
			return result, err
		}
		result.Written = append(result.Written, out.Path)
	}

	sitelog.Log(ctx).Info().
		Strs("written", result.Written).
		Bool("production", b.Config.Production()).
		Msg("compiled stylesheets")

	return result, nil
}

func (b *Builder) buildFile(ctx context.Context, file string, pipeline artifact.Pipeline) (artifact.Artifact, error) {
	ext := strings.ToLower(filepath.Ext(file))
	compiler, ok := b.Compilers[ext]
	if !ok {
		return artifact.Artifact{}, &artifact.CompileError{File: file, Tool: "styles", Err: eris.Errorf("no compiler for %s files", ext)}
	}

	css, err := compiler.Compile(ctx, file)
	if err != nil {
		return artifact.Artifact{}, err
	}

	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)) + ".css"
	in := artifact.Artifact{
		Path: path.Join(config.CSSDir, name),
		Data: css,
	}

	out, err := pipeline.Run(withSource(ctx, file), in)
	if err != nil {
		return artifact.Artifact{}, err
	}

	return out, nil
}

func (b *Builder) pipeline() artifact.Pipeline {
	engines := Engines(b.Config.Compatibility())
	production := b.Config.Production()
	if production {
		engines = append(engines, api.Engine{Name: api.EngineIE, Version: "9"})
	}

	return artifact.Pipeline{
		transformStep(engines, production),
	}
}

type sourceKey struct{}

func withSource(ctx context.Context, file string) context.Context {
	return context.WithValue(ctx, sourceKey{}, file)
}

func sourceFrom(ctx context.Context, fallback string) string {
	if file, ok := ctx.Value(sourceKey{}).(string); ok {
		return file
	}
	return fallback
}

// transformStep prefixes the CSS for the given engines. Production output is minified and has no
// source map, development output carries an inline source map.
func transformStep(engines []api.Engine, production bool) artifact.Step {
	return func(ctx context.Context, in artifact.Artifact) (artifact.Artifact, error) {
		source := sourceFrom(ctx, in.Path)
		opts := api.TransformOptions{
			Loader:     api.LoaderCSS,
			Sourcefile: filepath.ToSlash(source),
			Engines:    engines,
			LogLevel:   api.LogLevelSilent,
		}

		if production {
			opts.MinifyWhitespace = true
			opts.MinifySyntax = true
			opts.MinifyIdentifiers = true
			opts.Sourcemap = api.SourceMapNone
		} else {
			opts.Sourcemap = api.SourceMapInline
			opts.SourcesContent = api.SourcesContentInclude
		}

		result := api.Transform(string(in.Data), opts)
		if len(result.Errors) > 0 {
			return artifact.Artifact{}, &artifact.CompileError{File: source, Tool: "esbuild", Err: messagesError(result.Errors)}
		}

		for _, msg := range result.Warnings {
			sitelog.Log(ctx).Warn().Str("path", source).Msg(formatMessage(msg))
		}

		in.Data = result.Code
		return in, nil
	}
}
