package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root string, files ...string) {
	t.Helper()

	for _, name := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(name), 0644))
	}
}

func rels(files []File) []string {
	out := make([]string, len(files))
	for idx, file := range files {
		out[idx] = file.Rel()
	}
	return out
}

func TestPipelineRunsStepsInOrder(t *testing.T) {
	appendStep := func(suffix string) Step {
		return func(ctx context.Context, in Artifact) (Artifact, error) {
			in.Data = append(append([]byte{}, in.Data...), suffix...)
			return in, nil
		}
	}

	p := Pipeline{appendStep("a"), If(false, appendStep("b")), If(true, appendStep("c"))}
	out, err := p.Run(context.Background(), Artifact{Path: "x", Data: []byte(">")})
	require.NoError(t, err)
	assert.Equal(t, ">ac", string(out.Data))
}

func TestPipelineStopsOnError(t *testing.T) {
	called := false
	p := Pipeline{
		func(ctx context.Context, in Artifact) (Artifact, error) {
			return in, errors.New("boom")
		},
		func(ctx context.Context, in Artifact) (Artifact, error) {
			called = true
			return in, nil
		},
	}

	_, err := p.Run(context.Background(), Artifact{})
	assert.EqualError(t, err, "boom")
	assert.False(t, called)
}

func TestWriteCreatesDirectoriesAndReplaces(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, Write(root, Artifact{Path: "css/app.css", Data: []byte("one")}))
	require.NoError(t, Write(root, Artifact{Path: "css/app.css", Data: []byte("two")}))

	content, err := os.ReadFile(filepath.Join(root, "css", "app.css"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(content))

	entries, err := os.ReadDir(filepath.Join(root, "css"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestWriteReportsIOError(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "blocker")

	err := Write(filepath.Join(root, "blocker"), Artifact{Path: "a.txt"})
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
}

func TestResolveKeepsOrderAndBase(t *testing.T) {
	root := t.TempDir()
	touch(t, root,
		"src/js/vendor/b.js",
		"src/js/vendor/a.js",
		"src/js/app.js",
		"src/js/lib/util.js",
		"src/js/lib/skip.min.js",
	)

	files, err := Resolve(root, []string{
		"src/js/vendor/*.js",
		"src/js/app.js",
		"src/js/**/*.js",
		"!src/js/**/*.min.js",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.js", "b.js", "app.js", "lib/util.js"}, rels(files))
	assert.Equal(t, filepath.Join(root, "src", "js", "vendor", "a.js"), files[0].Path)
}

func TestResolveIgnoresMissing(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "src/img/logo.png")

	files, err := Resolve(root, []string{"src/img/**/*", "src/missing.png", "src/nothing/*.gif"})
	require.NoError(t, err)
	assert.Equal(t, []string{"logo.png"}, rels(files))
}

func TestMatch(t *testing.T) {
	root := t.TempDir()
	patterns := []string{"src/scss/**/*.scss", "!src/scss/vendor/**"}

	assert.True(t, Match(root, patterns, filepath.Join(root, "src", "scss", "app.scss")))
	assert.True(t, Match(root, patterns, filepath.Join(root, "src", "scss", "parts", "_nav.scss")))
	assert.False(t, Match(root, patterns, filepath.Join(root, "src", "scss", "vendor", "x.scss")))
	assert.False(t, Match(root, patterns, filepath.Join(root, "src", "js", "app.js")))
}

func TestDirs(t *testing.T) {
	root := t.TempDir()
	dirs := Dirs(root, []string{"src/scss/**/*.scss", "src/scss/app.scss", "!src/x/*", "src/js/app.js"})

	assert.Equal(t, []string{
		filepath.Join(root, "src", "scss"),
		filepath.Join(root, "src", "js"),
	}, dirs)
}
