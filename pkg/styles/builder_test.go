package styles

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/config"
)

const testConfig = `
compatibility:
  - last 2 versions
  - ie >= 10
  - safari 8
paths:
  pages: [src/html/pages/**/*.html]
  stylesheets: [src/css/*.css, src/css/*.scss]
  javascripts: [src/js/**/*.js]
  fonts: [src/fonts/**/*]
  images: [src/img/**/*]
  assets: [src/assets/**/*]
`

const testCSS = `
/* layout */
.container {
  display: flex;
  margin: 0px 0px 0px 0px;
}

.container   .item {
  color: #ff0000;
}
`

func setup(t *testing.T, production bool) (*Builder, string) {
	t.Helper()

	root := t.TempDir()
	cfg, err := config.Parse(strings.NewReader("port: 3000\n" + testConfig))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "css"), 0755))
	b := NewBuilder(root, filepath.Join(root, "dist"), cfg.WithProduction(production), `cat "$1"`)
	return b, root
}

func write(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), []byte(content), 0644))
}

func TestBuildSkipsPartials(t *testing.T) {
	b, root := setup(t, false)
	write(t, root, "src/css/app.css", testCSS)
	write(t, root, "src/css/_vars.css", ".x{}")

	result, err := b.Build(context.Background(), []string{"src/css/*.css"})
	require.NoError(t, err)
	assert.Equal(t, []string{"css/app.css"}, result.Written)

	_, err = os.Stat(filepath.Join(b.Output, "css", "_vars.css"))
	assert.True(t, os.IsNotExist(err))
}

func TestProductionOutputIsSmaller(t *testing.T) {
	dev, root := setup(t, false)
	write(t, root, "src/css/app.css", testCSS)
	_, err := dev.Build(context.Background(), []string{"src/css/*.css"})
	require.NoError(t, err)
	devOut, err := os.ReadFile(filepath.Join(dev.Output, "css", "app.css"))
	require.NoError(t, err)

	prod, root := setup(t, true)
	write(t, root, "src/css/app.css", testCSS)
	_, err = prod.Build(context.Background(), []string{"src/css/*.css"})
	require.NoError(t, err)
	prodOut, err := os.ReadFile(filepath.Join(prod.Output, "css", "app.css"))
	require.NoError(t, err)

	assert.Contains(t, string(devOut), "sourceMappingURL=")
	assert.NotContains(t, string(prodOut), "sourceMappingURL")
	assert.Less(t, len(prodOut), len(devOut))
	assert.Contains(t, string(prodOut), ".container .item")
}

func TestSassCompiler(t *testing.T) {
	b, root := setup(t, false)
	write(t, root, "src/css/main.scss", ".a { color: red; }")

	result, err := b.Build(context.Background(), []string{"src/css/*.scss"})
	require.NoError(t, err)
	assert.Equal(t, []string{"css/main.css"}, result.Written)

	out, err := os.ReadFile(filepath.Join(b.Output, "css", "main.css"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "color: red")
}

func TestCompileFailureWritesNothing(t *testing.T) {
	b, root := setup(t, false)
	b.Compilers[".scss"] = SassCompiler{Command: `echo "broken" >&2; exit 1`, Dir: root}
	write(t, root, "src/css/app.css", testCSS)
	write(t, root, "src/css/main.scss", ".a {")

	_, err := b.Build(context.Background(), []string{"src/css/*.css", "src/css/*.scss"})
	require.Error(t, err)

	var compileErr *artifact.CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "sass", compileErr.Tool)

	_, err = os.Stat(filepath.Join(b.Output, "css", "app.css"))
	assert.True(t, os.IsNotExist(err))
}

func TestEngines(t *testing.T) {
	engines := Engines([]string{"last 2 versions", "ie >= 10", "IE 9", "safari 8", "and_chr >= 2.3", "bogus 1", "> 1%"})

	assert.Equal(t, []api.Engine{
		{Name: api.EngineIE, Version: "9"},
		{Name: api.EngineSafari, Version: "8"},
		{Name: api.EngineChrome, Version: "2.3"},
	}, engines)
}
