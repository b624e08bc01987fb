package html

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(content)
}

func newRenderer(t *testing.T) (*Renderer, string) {
	t.Helper()

	root := t.TempDir()
	writeFile(t, root, "src/html/layouts/default.html", `<html><title>{{title}}</title><body>{{> body}}</body></html>`)
	return &Renderer{
		Root:   root,
		Output: filepath.Join(root, "dist"),
		Dirs: Dirs{
			Pages:    "src/html/pages",
			Layouts:  "src/html/layouts",
			Partials: "src/html/partials",
			Helpers:  "src/html/helpers",
			Data:     "src/html/data",
		},
	}, root
}

func TestRenderExpandsBodyIntoLayout(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "index.html", "---\ntitle: Home\n---\n<h1>Welcome</h1>")

	result, err := r.Render(context.Background(), []string{"index.html"})
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, result.Written)

	out := readFile(t, r.Output, "index.html")
	assert.Equal(t, "<html><title>Home</title><body><h1>Welcome</h1></body></html>", out)
	assert.NotContains(t, out, "{{")
}

func TestRenderPreservesStructureAndNormalizesExtension(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "src/html/layouts/plain.hbs", `{{> body}}|{{root}}|{{@page}}`)
	writeFile(t, root, "src/html/partials/nav.html", `<nav>{{#each site.links}}<a>{{this}}</a>{{/each}}</nav>`)
	writeFile(t, root, "src/html/data/site.yml", "links:\n  - one\n  - two\n")
	writeFile(t, root, "src/html/pages/docs/guide.hbs", "---\nlayout: plain\n---\n{{> nav}}")
	writeFile(t, root, "src/html/pages/notes.md", "---\nlayout: plain\nname: World\n---\n# Hello {{name}}\n")

	result, err := r.Render(context.Background(), []string{"src/html/pages/**/*"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"docs/guide.html", "notes.html"}, result.Written)

	assert.Equal(t, "<nav><a>one</a><a>two</a></nav>|../|guide", readFile(t, r.Output, "docs/guide.html"))
	assert.Equal(t, "<h1>Hello World</h1>\n|"+"|notes", readFile(t, r.Output, "notes.html"))
}

func TestRenderIsStable(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "src/html/pages/index.html", "{{#repeat 2}}<p>{{page}}</p>{{/repeat}}")

	_, err := r.Render(context.Background(), []string{"src/html/pages/*.html"})
	require.NoError(t, err)
	first := readFile(t, r.Output, "index.html")

	_, err = r.Render(context.Background(), []string{"src/html/pages/*.html"})
	require.NoError(t, err)
	assert.Equal(t, first, readFile(t, r.Output, "index.html"))
	assert.Contains(t, first, "<p>index</p><p>index</p>")
}

func TestRefreshPicksUpLayoutChanges(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "src/html/pages/index.html", "x")
	ctx := context.Background()

	_, err := r.Render(ctx, []string{"src/html/pages/*.html"})
	require.NoError(t, err)

	writeFile(t, root, "src/html/layouts/default.html", `<main>{{> body}}</main>`)
	_, err = r.Render(ctx, []string{"src/html/pages/*.html"})
	require.NoError(t, err)
	assert.Contains(t, readFile(t, r.Output, "index.html"), "<html>", "layouts are cached until refreshed")

	require.NoError(t, r.Refresh(ctx))
	_, err = r.Render(ctx, []string{"src/html/pages/*.html"})
	require.NoError(t, err)
	assert.Equal(t, "<main>x</main>", readFile(t, r.Output, "index.html"))
}

func TestRenderBestEffort(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "src/html/pages/a.html", "{{> missing}}")
	writeFile(t, root, "src/html/pages/b.html", "fine")
	writeFile(t, root, "src/html/pages/c.html", "---\nlayout: nope\n---\n")

	result, err := r.Render(context.Background(), []string{"src/html/pages/*.html"})
	require.Error(t, err)

	assert.Equal(t, []string{"b.html"}, result.Written)
	assert.Equal(t, []string{"a.html", "c.html"}, result.Failed)
	assert.Len(t, multierr.Errors(err), 2)

	var tplErr *TemplateError
	require.True(t, errors.As(err, &tplErr))
	assert.Contains(t, tplErr.Page, "a.html")

	_, statErr := os.Stat(filepath.Join(r.Output, "a.html"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRenderFailFast(t *testing.T) {
	r, root := newRenderer(t)
	r.Policy = FailFast
	writeFile(t, root, "src/html/pages/a.html", "{{> missing}}")
	writeFile(t, root, "src/html/pages/b.html", "fine")

	result, err := r.Render(context.Background(), []string{"src/html/pages/*.html"})
	require.Error(t, err)
	assert.Empty(t, result.Written)
	assert.Equal(t, []string{"a.html"}, result.Failed)
}

func TestBuiltinHelpers(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "src/html/pages/about.html",
		`{{#ifpage "index,about"}}yes{{else}}no{{/ifpage}}`+
			`{{#unlesspage "about"}}bad{{/unlesspage}}`+
			`{{#ifequal 1 "1"}}eq{{/ifequal}}`+
			`{{#markdown}}*em*{{/markdown}}`)

	_, err := r.Render(context.Background(), []string{"src/html/pages/about.html"})
	require.NoError(t, err)
	assert.Equal(t, "<html><title></title><body>yeseq<p><em>em</em></p>\n</body></html>", readFile(t, r.Output, "about.html"))
}

func TestStarlarkHelpers(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "src/html/helpers/shout.star", "def shout(text, times):\n    return (text.upper() + '!') * times\n")
	writeFile(t, root, "src/html/pages/index.html", `{{shout "hey" 2}}`)

	_, err := r.Render(context.Background(), []string{"src/html/pages/index.html"})
	require.NoError(t, err)
	assert.Contains(t, readFile(t, r.Output, "index.html"), "HEY!HEY!")
}

func TestStarlarkHelperMustDefineFunction(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "src/html/helpers/broken.star", "value = 1\n")

	assert.Error(t, r.Refresh(context.Background()))
}

func TestSplitFrontMatter(t *testing.T) {
	meta, body, err := splitFrontMatter([]byte("---\nlayout: x\n---\nbody\n"))
	require.NoError(t, err)
	assert.Equal(t, "x", meta["layout"])
	assert.Equal(t, "body\n", string(body))

	meta, body, err = splitFrontMatter([]byte("no front matter"))
	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Equal(t, "no front matter", string(body))

	_, _, err = splitFrontMatter([]byte("---\nlayout: x\n"))
	assert.Error(t, err)
}

func TestRenderKeepsEscapedMustaches(t *testing.T) {
	r, root := newRenderer(t)
	writeFile(t, root, "index.html", `<p>Use \{{name}} in your templates</p>`)

	_, err := r.Render(context.Background(), []string{"index.html"})
	require.NoError(t, err)
	assert.Equal(t, "<html><title></title><body><p>Use {{name}} in your templates</p></body></html>", readFile(t, r.Output, "index.html"))
}
