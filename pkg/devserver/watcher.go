package devserver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/sitelog"
)

// TaskRunner runs named tasks
type TaskRunner interface {
	Run(ctx context.Context, targets ...string) (*buildsys.Report, error)
}

// Notifier is told about successful rebuilds
type Notifier interface {
	Reload()
	InjectCSS(path string)
}

type subscription struct {
	patterns []string
	task     string
	// styles returns the stylesheets to swap; nil means full reload
	styles func() []string
}

type runDone struct {
	task string
	err  error
}

// Watcher reruns tasks when their sources change. Events for the same task are coalesced within
// the debounce window and a task never runs twice at the same time; a change during a run
// schedules exactly one more run.
type Watcher struct {
	Root     string
	Runner   TaskRunner
	Notifier Notifier
	Debounce time.Duration
	// Output is never watched
	Output string

	subs  []subscription
	ready chan struct{}
	once  sync.Once
}

// NewWatcher returns a watcher without subscriptions
func NewWatcher(root string, runner TaskRunner, notifier Notifier, debounce time.Duration) *Watcher {
	return &Watcher{
		Root:     root,
		Runner:   runner,
		Notifier: notifier,
		Debounce: debounce,
		ready:    make(chan struct{}),
	}
}

// Watch runs task whenever a file matching patterns changes. Browsers are reloaded after each
// successful run.
func (w *Watcher) Watch(patterns []string, task string) {
	w.subs = append(w.subs, subscription{patterns: patterns, task: task})
}

// WatchStyles is like Watch but a successful run swaps the stylesheets returned by written
// in place instead of reloading the page.
func (w *Watcher) WatchStyles(patterns []string, task string, written func() []string) {
	w.subs = append(w.subs, subscription{patterns: patterns, task: task, styles: written})
}

// Ready is closed once all directories are being watched
func (w *Watcher) Ready() <-chan struct{} {
	w.once.Do(func() {
		if w.ready == nil {
			w.ready = make(chan struct{})
		}
	})
	return w.ready
}

var skipDirs = map[string]struct{}{
	".git":             {},
	"node_modules":     {},
	"bower_components": {},
}

func (w *Watcher) skipDir(path string) bool {
	if _, ok := skipDirs[filepath.Base(path)]; ok {
		return true
	}

	if w.Output != "" {
		if rel, err := filepath.Rel(w.Output, path); err == nil && rel == "." {
			return true
		}
	}
	return false
}

func (w *Watcher) watchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if !info.IsDir() {
			return nil
		}

		if w.skipDir(path) {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

func isWatchEvent(op fsnotify.Op) bool {
	return op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func (w *Watcher) shouldAddWatchDir(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create == 0 {
		return false
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return false
	}

	return info.IsDir() && !w.skipDir(event.Name)
}

// Run watches the sources of all subscriptions until ctx is canceled
func (w *Watcher) Run(ctx context.Context) error {
	w.Ready()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	seen := map[string]bool{}
	for _, sub := range w.subs {
		for _, dir := range artifact.Dirs(w.Root, sub.patterns) {
			if seen[dir] {
				continue
			}
			seen[dir] = true

			if err := w.watchDirs(watcher, dir); err != nil {
				return eris.Wrapf(err, "failed to watch %s", dir)
			}
		}
	}
	close(w.ready)

	sitelog.Log(ctx).Info().Int("dirs", len(seen)).Msg("watching for changes")

	fire := make(chan string)
	done := make(chan runDone)
	timers := map[string]*time.Timer{}
	running := map[string]bool{}
	pending := map[string]bool{}
	inFlight := 0

	start := func(task string) {
		running[task] = true
		inFlight++
		go func() {
			_, err := w.Runner.Run(ctx, task)
			done <- runDone{task: task, err: err}
		}()
	}

	defer func() {
		for _, timer := range timers {
			timer.Stop()
		}
		for inFlight > 0 {
			<-done
			inFlight--
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if w.shouldAddWatchDir(event) {
				if err := w.watchDirs(watcher, event.Name); err != nil {
					sitelog.Log(ctx).Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
			}

			if !isWatchEvent(event.Op) {
				continue
			}

			for _, task := range w.tasksFor(event.Name) {
				sitelog.Log(ctx).Debug().Str("path", event.Name).Str("task", task).Msg("change detected")

				if timer, ok := timers[task]; ok {
					timer.Stop()
				}
				task := task
				timers[task] = time.AfterFunc(w.Debounce, func() {
					select {
					case fire <- task:
					case <-ctx.Done():
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sitelog.Log(ctx).Warn().Err(err).Msg("file watcher error")

		case task := <-fire:
			if running[task] {
				pending[task] = true
			} else {
				start(task)
			}

		case result := <-done:
			inFlight--
			running[result.task] = false

			if result.err != nil {
				sitelog.Log(ctx).Error().Err(result.err).Str("task", result.task).Msg("rebuild failed")
			} else {
				w.notify(result.task)
			}

			if pending[result.task] {
				pending[result.task] = false
				start(result.task)
			}
		}
	}
}

func (w *Watcher) tasksFor(path string) []string {
	result := []string{}
	seen := map[string]bool{}

	for _, sub := range w.subs {
		if seen[sub.task] {
			continue
		}

		if artifact.Match(w.Root, sub.patterns, path) {
			seen[sub.task] = true
			result = append(result, sub.task)
		}
	}

	return result
}

func (w *Watcher) notify(task string) {
	if w.Notifier == nil {
		return
	}

	for _, sub := range w.subs {
		if sub.task == task && sub.styles != nil {
			for _, path := range sub.styles() {
				w.Notifier.InjectCSS(path)
			}
			return
		}
	}

	w.Notifier.Reload()
}
