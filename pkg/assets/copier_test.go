package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/config"
)

const testConfig = `
compatibility: [last 2 versions]
port: 8000
paths:
  pages: [src/html/pages/**/*.html]
  stylesheets: [src/scss/app.scss]
  javascripts: [src/js/**/*.js]
  fonts: [src/fonts/**/*]
  images: [src/images/**/*]
  assets: [src/assets/**/*, "!src/assets/**/*.psd"]
`

func writeFile(t *testing.T, root, name string, data []byte) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, data, 0644))
}

func uncompressedPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, encoder.Encode(&buf, img))
	return buf.Bytes()
}

func newCopier(t *testing.T, production bool) (*Copier, string) {
	t.Helper()

	root := t.TempDir()
	cfg, err := config.Parse(strings.NewReader(testConfig))
	require.NoError(t, err)

	compressor, err := NewCompressor(16)
	require.NoError(t, err)

	return &Copier{
		Root:       root,
		Output:     filepath.Join(root, "dist"),
		Config:     cfg.WithProduction(production),
		Compressor: compressor,
	}, root
}

func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()

	files := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestCopyIsIdempotent(t *testing.T) {
	copier, root := newCopier(t, true)
	writeFile(t, root, "src/fonts/sans/regular.woff", []byte("font"))
	writeFile(t, root, "src/images/logo.png", uncompressedPNG(t))
	writeFile(t, root, "src/images/icons/star.svg", []byte(`<svg xmlns="http://www.w3.org/2000/svg">  <rect  width="10" height="10"/>  </svg>`))
	writeFile(t, root, "src/assets/robots.txt", []byte("User-agent: *"))
	writeFile(t, root, "src/assets/design.psd", []byte("psd"))

	ctx := context.Background()
	for _, kind := range []Kind{Fonts, Images, Assets} {
		_, err := copier.Copy(ctx, kind)
		require.NoError(t, err)
	}
	first := snapshot(t, copier.Output)

	for _, kind := range []Kind{Fonts, Images, Assets} {
		_, err := copier.Copy(ctx, kind)
		require.NoError(t, err)
	}
	second := snapshot(t, copier.Output)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "fonts/sans/regular.woff")
	assert.Contains(t, first, "img/logo.png")
	assert.Contains(t, first, "img/icons/star.svg")
	assert.Contains(t, first, "assets/robots.txt")
	assert.NotContains(t, first, "assets/design.psd")
}

func TestCopyCompressesImagesInProduction(t *testing.T) {
	original := uncompressedPNG(t)

	prod, root := newCopier(t, true)
	writeFile(t, root, "src/images/logo.png", original)
	result, err := prod.Copy(context.Background(), Images)
	require.NoError(t, err)
	assert.Equal(t, []string{"img/logo.png"}, result.Written)

	compressed, err := os.ReadFile(filepath.Join(prod.Output, "img", "logo.png"))
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(original))

	_, err = png.Decode(bytes.NewReader(compressed))
	assert.NoError(t, err)

	dev, root := newCopier(t, false)
	writeFile(t, root, "src/images/logo.png", original)
	_, err = dev.Copy(context.Background(), Images)
	require.NoError(t, err)

	verbatim, err := os.ReadFile(filepath.Join(dev.Output, "img", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, original, verbatim)
}

func TestCopyIsBestEffort(t *testing.T) {
	copier, root := newCopier(t, false)
	writeFile(t, root, "src/fonts/a.woff", []byte("a"))
	writeFile(t, root, "src/fonts/b.woff", []byte("b"))
	writeFile(t, root, "src/fonts/c.woff", []byte("c"))

	// a directory in the way of a.woff and c.woff makes those renames fail
	writeFile(t, copier.Output, "fonts/a.woff/keep", []byte("x"))
	writeFile(t, copier.Output, "fonts/c.woff/keep", []byte("x"))

	result, err := copier.Copy(context.Background(), Fonts)
	require.Error(t, err)

	assert.Equal(t, []string{"fonts/b.woff"}, result.Written)
	assert.Equal(t, []string{"fonts/a.woff", "fonts/c.woff"}, result.Failed)
	assert.Len(t, multierr.Errors(err), 2)

	var ioErr *artifact.IOError
	assert.True(t, errors.As(err, &ioErr))
}

func TestCompressorKeepsSmallerResult(t *testing.T) {
	compressor, err := NewCompressor(4)
	require.NoError(t, err)

	text := []byte("plain")
	out, err := compressor.Compress("notes.txt", text)
	require.NoError(t, err)
	assert.Equal(t, text, out)

	_, err = compressor.Compress("broken.png", []byte("not a png"))
	assert.Error(t, err)
}

func TestCopyReportsCompressionProgress(t *testing.T) {
	copier, root := newCopier(t, true)
	writeFile(t, root, "src/images/a.png", uncompressedPNG(t))
	writeFile(t, root, "src/images/b.png", uncompressedPNG(t))
	writeFile(t, root, "src/fonts/a.woff", []byte("a"))

	var progress bytes.Buffer
	copier.Progress = &progress

	_, err := copier.Copy(context.Background(), Fonts)
	require.NoError(t, err)
	assert.Empty(t, progress.String())

	_, err = copier.Copy(context.Background(), Images)
	require.NoError(t, err)
	assert.Contains(t, progress.String(), "compressing images")
	assert.Contains(t, progress.String(), "2/2")
}
