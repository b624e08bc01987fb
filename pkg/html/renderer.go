// Package html expands page templates into static HTML files. Pages are handlebars templates
// (optionally markdown) wrapped in a layout and may use partials, data files and helpers.
package html

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aymerick/raymond"
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/sitelog"
)

// DefaultLayout is used for pages that don't name a layout in their front matter
const DefaultLayout = "default"

const markdownBodyKey = "__markdown_body"

// Policy decides what happens to the remaining pages once one of them failed
type Policy int

const (
	// BestEffort renders all pages and reports every failure at the end
	BestEffort Policy = iota
	// FailFast stops at the first page that fails
	FailFast
)

// ParsePolicy converts the settings value to a Policy
func ParsePolicy(value string) (Policy, error) {
	switch value {
	case "", "best-effort":
		return BestEffort, nil
	case "fail-fast":
		return FailFast, nil
	}

	return BestEffort, eris.Errorf("unknown render policy %s", value)
}

// TemplateError is returned for a page that couldn't be rendered
type TemplateError struct {
	Page string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("failed to render %s: %v", e.Page, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Dirs lists the directories the renderer reads from
type Dirs struct {
	Pages    string
	Layouts  string
	Partials string
	Helpers  string
	Data     string
}

// RenderResult lists the written and failed pages relative to the output root
type RenderResult struct {
	Written []string
	Failed  []string
}

// Renderer renders pages. Layouts, partials, data and helpers are loaded once and cached until
// Refresh is called.
type Renderer struct {
	Root   string
	Output string
	Dirs   Dirs
	Policy Policy

	lock     sync.RWMutex
	loaded   bool
	layouts  map[string]*raymond.Template
	partials map[string]string
	data     map[string]interface{}
	helpers  map[string]interface{}
}

func (r *Renderer) dir(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.Root, name)
}

// Refresh drops the cached layouts, partials, data and helpers and loads them again
func (r *Renderer) Refresh(ctx context.Context) error {
	layouts, err := loadLayouts(r.dir(r.Dirs.Layouts))
	if err != nil {
		return err
	}

	partials, err := loadPartials(r.dir(r.Dirs.Partials))
	if err != nil {
		return err
	}

	data, err := loadData(r.dir(r.Dirs.Data))
	if err != nil {
		return err
	}

	helpers := builtinHelpers()
	custom, err := loadStarlarkHelpers(ctx, r.dir(r.Dirs.Helpers))
	if err != nil {
		return err
	}
	for name, helper := range custom {
		helpers[name] = helper
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.layouts = layouts
	r.partials = partials
	r.data = data
	r.helpers = helpers
	r.loaded = true

	sitelog.Log(ctx).Debug().
		Int("layouts", len(layouts)).
		Int("partials", len(partials)).
		Int("data", len(data)).
		Int("helpers", len(helpers)).
		Msg("loaded templates")

	return nil
}

func listFiles(dir string, exts ...string) ([]string, error) {
	result := []string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}

		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		for _, allowed := range exts {
			if ext == allowed {
				result = append(result, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list %s", dir)
	}

	return result, nil
}

func baseName(file string) string {
	return strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
}

func loadLayouts(dir string) (map[string]*raymond.Template, error) {
	files, err := listFiles(dir, ".html", ".hbs", ".handlebars")
	if err != nil {
		return nil, err
	}

	layouts := make(map[string]*raymond.Template, len(files))
	for _, file := range files {
		source, err := os.ReadFile(file)
		if err != nil {
			return nil, &artifact.IOError{Path: file, Op: "read", Err: err}
		}

		tpl, err := raymond.Parse(string(source))
		if err != nil {
			return nil, &artifact.CompileError{File: file, Tool: "handlebars", Err: err}
		}

		layouts[baseName(file)] = tpl
	}

	return layouts, nil
}

func loadPartials(dir string) (map[string]string, error) {
	files, err := listFiles(dir, ".html", ".hbs", ".handlebars")
	if err != nil {
		return nil, err
	}

	partials := make(map[string]string, len(files))
	for _, file := range files {
		source, err := os.ReadFile(file)
		if err != nil {
			return nil, &artifact.IOError{Path: file, Op: "read", Err: err}
		}

		partials[baseName(file)] = string(source)
	}

	return partials, nil
}

func loadData(dir string) (map[string]interface{}, error) {
	files, err := listFiles(dir, ".yml", ".yaml", ".json")
	if err != nil {
		return nil, err
	}

	data := make(map[string]interface{}, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, &artifact.IOError{Path: file, Op: "read", Err: err}
		}

		var value interface{}
		if strings.ToLower(filepath.Ext(file)) == ".json" {
			err = json.Unmarshal(content, &value)
		} else {
			err = yaml.Unmarshal(content, &value)
		}
		if err != nil {
			return nil, &artifact.CompileError{File: file, Tool: "data", Err: err}
		}

		data[baseName(file)] = value
	}

	return data, nil
}

// Render renders all pages matched by patterns. Pages inside the page root keep their path below
// it; other pages keep their path below their pattern base. Extensions become .html.
func (r *Renderer) Render(ctx context.Context, patterns []string) (*RenderResult, error) {
	r.lock.RLock()
	loaded := r.loaded
	r.lock.RUnlock()

	if !loaded {
		if err := r.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	files, err := artifact.Resolve(r.Root, patterns)
	if err != nil {
		return nil, err
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	result := &RenderResult{}
	var errs error
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}

		out, err := r.renderPage(file)
		if err == nil {
			err = artifact.Write(r.Output, out)
		}

		if err != nil {
			sitelog.Log(ctx).Error().Err(err).Str("path", file.Path).Msg("page failed")
			result.Failed = append(result.Failed, r.outputPath(file))
			errs = multierr.Append(errs, &TemplateError{Page: file.Path, Err: err})

			if r.Policy == FailFast {
				return result, errs
			}
			continue
		}

		result.Written = append(result.Written, out.Path)
	}

	sitelog.Log(ctx).Info().
		Int("written", len(result.Written)).
		Int("failed", len(result.Failed)).
		Msg("rendered pages")

	return result, errs
}

func (r *Renderer) outputPath(file artifact.File) string {
	rel := file.Rel()
	pageRoot := r.dir(r.Dirs.Pages)
	if inRoot, err := filepath.Rel(pageRoot, file.Path); err == nil && !strings.HasPrefix(inRoot, "..") {
		rel = filepath.ToSlash(inRoot)
	}

	return strings.TrimSuffix(rel, path.Ext(rel)) + ".html"
}

// register runs fn and turns the panics raymond uses to report invalid registrations into errors
func register(fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = eris.Errorf("%v", rec)
		}
	}()

	fn()
	return nil
}

func (r *Renderer) prepare(tpl *raymond.Template) error {
	return register(func() {
		tpl.RegisterHelpers(r.helpers)
		for name, source := range r.partials {
			// body is reserved for the page content
			if name != "body" {
				tpl.RegisterPartial(name, source)
			}
		}
	})
}

func (r *Renderer) renderPage(file artifact.File) (artifact.Artifact, error) {
	outPath := r.outputPath(file)

	content, err := os.ReadFile(file.Path)
	if err != nil {
		return artifact.Artifact{}, &artifact.IOError{Path: file.Path, Op: "read", Err: err}
	}

	meta, body, err := splitFrontMatter(content)
	if err != nil {
		return artifact.Artifact{}, err
	}

	layoutName := DefaultLayout
	if value, ok := meta["layout"].(string); ok && value != "" {
		layoutName = value
	}

	layout, ok := r.layouts[layoutName]
	if !ok {
		return artifact.Artifact{}, eris.Errorf("layout %s not found", layoutName)
	}

	depth := strings.Count(outPath, "/")
	pageName := baseName(outPath)

	tplCtx := make(map[string]interface{}, len(r.data)+len(meta)+3)
	for key, value := range r.data {
		tplCtx[key] = value
	}
	for key, value := range meta {
		tplCtx[key] = value
	}
	tplCtx["page"] = pageName
	tplCtx["layout"] = layoutName
	tplCtx["root"] = strings.Repeat("../", depth)

	frame := raymond.NewDataFrame()
	frame.Set("page", pageName)
	frame.Set("layout", layoutName)
	frame.Set("root", tplCtx["root"])

	pageTpl, err := raymond.Parse(string(body))
	if err != nil {
		return artifact.Artifact{}, err
	}
	if err = r.prepare(pageTpl); err != nil {
		return artifact.Artifact{}, err
	}

	tpl := layout.Clone()
	if err = r.prepare(tpl); err != nil {
		return artifact.Artifact{}, err
	}

	if strings.ToLower(filepath.Ext(file.Path)) == ".md" {
		expanded, err := pageTpl.ExecWith(tplCtx, frame)
		if err != nil {
			return artifact.Artifact{}, err
		}

		converted, err := renderMarkdown(expanded)
		if err != nil {
			return artifact.Artifact{}, err
		}

		tplCtx[markdownBodyKey] = converted
		err = register(func() {
			tpl.RegisterPartial("body", "{{{"+markdownBodyKey+"}}}")
		})
	} else {
		err = register(func() {
			tpl.RegisterPartialTemplate("body", pageTpl)
		})
	}
	if err != nil {
		return artifact.Artifact{}, err
	}

	out, err := tpl.ExecWith(tplCtx, frame)
	if err != nil {
		return artifact.Artifact{}, err
	}

	return artifact.Artifact{Path: outPath, Data: []byte(out)}, nil
}
