// Package assets copies static files (fonts, images, misc assets) into the output root
package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/sitelog"
)

// Kind selects one of the copied file sets
type Kind string

const (
	Fonts  Kind = "fonts"
	Images Kind = "images"
	Assets Kind = "assets"
)

var kinds = map[Kind]struct {
	set config.PathSet
	dir string
}{
	Fonts:  {config.Fonts, config.FontDir},
	Images: {config.Images, config.ImageDir},
	Assets: {config.Assets, config.AssetDir},
}

// CopyResult lists what a copy pass did. Written and Failed are relative to the output root.
type CopyResult struct {
	Kind    Kind
	Written []string
	Failed  []string
}

// Copier copies file sets from the project root to the output root
type Copier struct {
	Root       string
	Output     string
	Config     *config.Config
	Compressor *Compressor

	// Progress receives a progress bar while images are compressed. Nil disables it.
	Progress io.Writer
}

// Copy copies every file of the given kind. It's best-effort: a failing file doesn't stop the
// others and all failures are returned together once the pass is done.
func (c *Copier) Copy(ctx context.Context, kind Kind) (*CopyResult, error) {
	meta, ok := kinds[kind]
	if !ok {
		return nil, eris.Errorf("unknown asset kind %s", kind)
	}

	files, err := artifact.Resolve(c.Root, c.Config.Paths(meta.set))
	if err != nil {
		return nil, err
	}

	compress := kind == Images && c.Config.Production() && c.Compressor != nil
	result := &CopyResult{Kind: kind}
	var errs error

	var bar *progressbar.ProgressBar
	if compress && c.Progress != nil && len(files) > 0 {
		bar = c.progressBar(len(files))
		defer bar.Finish()
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}

		dest := path.Join(meta.dir, file.Rel())
		pipeline := artifact.Pipeline{
			artifact.If(compress, c.compressStep),
		}

		out, err := c.copyFile(ctx, file, dest, pipeline)
		if bar != nil {
			bar.Add(1)
		}
		if err != nil {
			sitelog.Log(ctx).Error().Err(err).Str("path", file.Path).Msg("copy failed")
			result.Failed = append(result.Failed, dest)
			errs = multierr.Append(errs, err)
			continue
		}

		result.Written = append(result.Written, out)
	}

	sitelog.Log(ctx).Info().
		Str("kind", string(kind)).
		Int("written", len(result.Written)).
		Int("failed", len(result.Failed)).
		Msg("copied files")

	return result, errs
}

func (c *Copier) copyFile(ctx context.Context, file artifact.File, dest string, pipeline artifact.Pipeline) (string, error) {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return "", &artifact.IOError{Path: file.Path, Op: "read", Err: err}
	}

	out, err := pipeline.Run(ctx, artifact.Artifact{Path: dest, Data: data})
	if err != nil {
		return "", err
	}

	err = artifact.Write(c.Output, out)
	if err != nil {
		return "", err
	}

	return out.Path, nil
}

func (c *Copier) compressStep(ctx context.Context, in artifact.Artifact) (artifact.Artifact, error) {
	data, err := c.Compressor.Compress(in.Path, in.Data)
	if err != nil {
		return artifact.Artifact{}, &artifact.IOError{Path: in.Path, Op: "compress", Err: err}
	}

	in.Data = data
	return in, nil
}

func (c *Copier) progressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(c.Progress),
		progressbar.OptionSetDescription("compressing images"),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(c.Progress, "\n")
		}),
	)
}
