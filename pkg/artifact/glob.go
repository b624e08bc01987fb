package artifact

import (
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// File is a source file matched by a glob pattern
type File struct {
	// Path is the absolute path to the file
	Path string
	// Base is the static directory prefix of the pattern that matched the file
	Base string
}

// Rel returns the path of f relative to its pattern base, with forward slashes
func (f File) Rel() string {
	rel, err := filepath.Rel(f.Base, f.Path)
	if err != nil {
		return filepath.ToSlash(filepath.Base(f.Path))
	}

	return filepath.ToSlash(rel)
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	return ioutil.ReadDir(path)
}

func hasMeta(segment string) bool {
	return strings.ContainsAny(segment, "*?[{")
}

// normalizePattern makes pattern absolute relative to root and returns it with forward slashes
func normalizePattern(root, pattern string) string {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(root, pattern)
	}

	return filepath.ToSlash(filepath.Clean(pattern))
}

// patternBase returns the directory part of pattern before the first segment with glob meta characters
func patternBase(pattern string) string {
	parts := strings.Split(pattern, "/")
	for idx, part := range parts {
		if hasMeta(part) {
			base := strings.Join(parts[:idx], "/")
			if base == "" {
				return "/"
			}
			return base
		}
	}

	return path.Dir(pattern)
}

// Resolve expands patterns relative to root in order. Patterns starting with ! remove previous
// matches. Each file is listed once, at the position of its first match. Directories are skipped.
func Resolve(root string, patterns []string) ([]File, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", root)
	}

	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}
	parser := syntax.NewParser()

	result := []File{}
	seen := map[string]bool{}

	for _, item := range patterns {
		if strings.HasPrefix(item, "!") {
			exclude := normalizePattern(root, item[1:])
			filtered := result[:0]
			for _, file := range result {
				matched, err := doublestar.Match(exclude, filepath.ToSlash(file.Path))
				if err != nil {
					return nil, eris.Wrapf(err, "invalid pattern %s", item)
				}

				if matched {
					delete(seen, file.Path)
				} else {
					filtered = append(filtered, file)
				}
			}
			result = filtered
			continue
		}

		pattern := normalizePattern(root, item)
		base := filepath.FromSlash(patternBase(pattern))

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(pattern), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			match = filepath.FromSlash(match)
			if seen[match] {
				continue
			}

			// If a pattern didn't match anything, it's returned as is. Skip those results.
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}

			seen[match] = true
			result = append(result, File{Path: match, Base: base})
		}
	}

	return result, nil
}

// Match reports whether the absolute path p is selected by patterns (relative to root),
// honouring ! exclusions the same way Resolve does.
func Match(root string, patterns []string, p string) bool {
	root, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	p = filepath.ToSlash(p)

	matched := false
	for _, item := range patterns {
		exclude := strings.HasPrefix(item, "!")
		if exclude {
			item = item[1:]
		}

		ok, err := doublestar.Match(normalizePattern(root, item), p)
		if err != nil || !ok {
			continue
		}

		matched = !exclude
	}

	return matched
}

// Dirs returns the static base directory of every include pattern. The watcher uses these to
// know where to listen for changes.
func Dirs(root string, patterns []string) []string {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil
	}

	result := []string{}
	seen := map[string]bool{}
	for _, item := range patterns {
		if strings.HasPrefix(item, "!") {
			continue
		}

		dir := filepath.FromSlash(patternBase(normalizePattern(root, item)))
		if !seen[dir] {
			seen[dir] = true
			result = append(result, dir)
		}
	}

	return result
}
