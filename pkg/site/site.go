// Package site declares the build tasks of a site and wires them to the builders
package site

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/assets"
	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/devserver"
	"github.com/ngld/sitebuild/pkg/html"
	"github.com/ngld/sitebuild/pkg/scripts"
	"github.com/ngld/sitebuild/pkg/sitelog"
	"github.com/ngld/sitebuild/pkg/styles"
)

// DefaultTask runs if no task was named on the command line
const DefaultTask = "default"

const compressorCacheSize = 256

// Site holds the builders of one project and the task graph that drives them
type Site struct {
	Root     string
	Output   string
	Config   *config.Config
	Settings *config.Settings

	Copier   *assets.Copier
	Renderer *html.Renderer
	Styles   *styles.Builder
	Scripts  *scripts.Builder
	Graph    *buildsys.Graph

	lock       sync.Mutex
	server     *devserver.Server
	lastStyles []string
}

// New builds the task graph for the project in root
func New(root string, cfg *config.Config, settings *config.Settings) (*Site, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", root)
	}

	output := settings.Output
	if !filepath.IsAbs(output) {
		output = filepath.Join(root, output)
	}

	policy, err := html.ParsePolicy(settings.Render.Policy)
	if err != nil {
		return nil, err
	}

	compressor, err := assets.NewCompressor(compressorCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Site{
		Root:     root,
		Output:   output,
		Config:   cfg,
		Settings: settings,
		Copier: &assets.Copier{
			Root:       root,
			Output:     output,
			Config:     cfg,
			Compressor: compressor,
		},
		Renderer: &html.Renderer{
			Root:   root,
			Output: output,
			Policy: policy,
			Dirs: html.Dirs{
				Pages:    config.HTMLRoot,
				Layouts:  config.LayoutRoot,
				Partials: config.PartialRoot,
				Helpers:  config.HelperRoot,
				Data:     config.DataRoot,
			},
		},
		Styles:  styles.NewBuilder(root, output, cfg, settings.Sass.Command),
		Scripts: scripts.NewBuilder(root, output, cfg, settings.Lint.Command, settings.Lint.Globals),
	}

	s.Graph, err = buildsys.NewGraph(s.tasks()...)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Runner returns a runner for the site's graph
func (s *Site) Runner(dryRun bool) *buildsys.Runner {
	return &buildsys.Runner{
		Graph:  s.Graph,
		Jobs:   s.Settings.Jobs,
		DryRun: dryRun,
	}
}

func (s *Site) tasks() []*buildsys.Task {
	copyTask := func(kind assets.Kind) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := s.Copier.Copy(ctx, kind)
			return err
		}
	}

	return []*buildsys.Task{
		{
			Name:   "copy:fonts",
			Desc:   "Copy fonts to " + config.FontDir,
			Action: copyTask(assets.Fonts),
		},
		{
			Name:   "copy:images",
			Desc:   "Copy images to " + config.ImageDir + " (compressed in production)",
			Action: copyTask(assets.Images),
		},
		{
			Name:   "copy:assets",
			Desc:   "Copy misc assets to " + config.AssetDir,
			Action: copyTask(assets.Assets),
		},
		{
			Name: "copy",
			Desc: "Copy fonts, images and assets",
			Deps: []string{"copy:fonts", "copy:images", "copy:assets"},
		},
		{
			Name:   "html:refresh",
			Desc:   "Reload layouts, partials, data and helpers",
			Hidden: true,
			Action: s.Renderer.Refresh,
		},
		{
			Name:  "html",
			Desc:  "Render pages",
			Deps:  []string{"html:refresh"},
			After: []string{"copy"},
			Action: func(ctx context.Context) error {
				_, err := s.Renderer.Render(ctx, s.Config.Paths(config.Pages))
				return err
			},
		},
		{
			Name:   "stylesheets",
			Desc:   "Compile stylesheets",
			After:  []string{"copy"},
			Action: s.buildStyles,
		},
		{
			Name: "lint",
			Desc: "Lint scripts",
			Action: func(ctx context.Context) error {
				_, err := s.Scripts.Lint(ctx, s.Config.Paths(config.Javascripts))
				return err
			},
		},
		{
			Name:  "javascripts",
			Desc:  "Lint and bundle scripts",
			Deps:  []string{"lint"},
			After: []string{"copy"},
			Action: func(ctx context.Context) error {
				// lint already ran as a dependency
				_, err := s.Scripts.Bundle(ctx, s.Config.Paths(config.Javascripts))
				return err
			},
		},
		{
			Name: "build",
			Desc: "Build the whole site",
			Deps: []string{"copy", "html", "stylesheets", "javascripts"},
		},
		{
			Name:   "serve",
			Desc:   "Serve the site with live reload",
			Deps:   []string{"build"},
			Action: s.serve,
		},
		{
			Name:   "browser-sync",
			Desc:   "Alias for serve",
			Deps:   []string{"serve"},
			Hidden: true,
		},
		{
			Name:   "clean",
			Desc:   "Remove the output directory",
			Action: s.clean,
		},
		{
			Name:   DefaultTask,
			Desc:   "Build, serve and rebuild on changes",
			Deps:   []string{"build", "serve"},
			Action: s.watch,
		},
	}
}

func (s *Site) buildStyles(ctx context.Context) error {
	result, err := s.Styles.Build(ctx, s.Config.Paths(config.Stylesheets))
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.lastStyles = append([]string{}, result.Written...)
	s.lock.Unlock()
	return nil
}

// LastStyles returns the stylesheets written by the last successful stylesheets run
func (s *Site) LastStyles() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string{}, s.lastStyles...)
}

func (s *Site) serve(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.server != nil {
		return nil
	}

	// the server outlives the task so it must not stop with the task's context
	server, err := devserver.Serve(sitelog.WithLogger(context.Background(), sitelog.Log(ctx)), s.Output, s.Config.Port())
	if err != nil {
		return err
	}

	s.server = server
	return nil
}

// Server returns the dev server if the serve task ran
func (s *Site) Server() *devserver.Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.server
}

// Wait blocks while the dev server is running. It stops the server once ctx is canceled.
func (s *Site) Wait(ctx context.Context) error {
	server := s.Server()
	if server == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return server.Close()
	case <-server.Done():
		return nil
	}
}

func (s *Site) clean(ctx context.Context) error {
	if s.Output == s.Root || s.Output == filepath.Dir(s.Output) {
		return eris.Errorf("refusing to remove %s", s.Output)
	}

	sitelog.Log(ctx).Info().Str("path", s.Output).Msg("removing output")
	if err := os.RemoveAll(s.Output); err != nil {
		return eris.Wrapf(err, "failed to remove %s", s.Output)
	}
	return nil
}

// Watcher returns a watcher that reruns the affected task whenever a source changes
func (s *Site) Watcher() *devserver.Watcher {
	var notifier devserver.Notifier
	if server := s.Server(); server != nil {
		notifier = server.Hub
	}

	w := devserver.NewWatcher(s.Root, s.Runner(false), notifier, s.Settings.DebounceWindow())
	w.Output = s.Output

	templates := s.Config.Paths(config.Pages)
	for _, dir := range []string{config.LayoutRoot, config.PartialRoot, config.HelperRoot, config.DataRoot} {
		templates = append(templates, dir+"/**/*")
	}
	w.Watch(templates, "html")

	stylesheets := s.Config.Paths(config.Stylesheets)
	// partials are imported by the entry files so any change in their directories counts
	for _, dir := range artifact.Dirs(s.Root, stylesheets) {
		stylesheets = append(stylesheets, filepath.ToSlash(dir)+"/**/*.{scss,sass,css}")
	}
	w.WatchStyles(stylesheets, "stylesheets", s.LastStyles)

	w.Watch(s.Config.Paths(config.Javascripts), "javascripts")
	w.Watch(s.Config.Paths(config.Fonts), "copy:fonts")
	w.Watch(s.Config.Paths(config.Images), "copy:images")
	w.Watch(s.Config.Paths(config.Assets), "copy:assets")

	return w
}

func (s *Site) watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.Watcher().Run(ctx)
	})

	if server := s.Server(); server != nil {
		group.Go(func() error {
			select {
			case <-ctx.Done():
			case <-server.Done():
				// nothing to reload without a server
				cancel()
			}
			return nil
		})
	}

	return group.Wait()
}
