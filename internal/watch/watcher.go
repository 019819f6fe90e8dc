// Package watch turns filesystem notifications under the protected roots into
// guard.FileEvent values.
package watch

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"medguard/internal/fs"
	"medguard/internal/guard"
)

// DefaultBufferSize is the event channel capacity used when none is configured.
const DefaultBufferSize = 10000

// Options configures a Watcher.
type Options struct {
	Roots      []string
	Filter     *fs.Filter // nil allows every file
	BufferSize int
	Clock      guard.Clock
	Logger     guard.Logger
}

// Watcher watches every root recursively. Subdirectories created after start
// are added as they appear.
type Watcher struct {
	fsw    *fsnotify.Watcher
	filter *fs.Filter
	clock  guard.Clock
	logger guard.Logger

	events chan guard.FileEvent
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates the watch roots if missing, registers them, and starts delivering events.
func New(opts Options) (*Watcher, error) {
	if len(opts.Roots) == 0 {
		return nil, errors.New("no watch paths configured")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Clock == nil {
		opts.Clock = guard.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = guard.NewNopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		fsw:    fsw,
		filter: opts.Filter,
		clock:  opts.Clock,
		logger: opts.Logger,
		events: make(chan guard.FileEvent, opts.BufferSize),
		errors: make(chan error, 16),
		done:   make(chan struct{}),
	}

	for _, root := range opts.Roots {
		if err := os.MkdirAll(root, 0755); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("creating watch path %s: %w", root, err)
		}
		if _, err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
		w.logger.Info("watching directory", "path", root)
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Events returns the channel of filtered file events. It is closed by Close.
func (w *Watcher) Events() <-chan guard.FileEvent { return w.events }

// Errors returns watcher errors. Errors are dropped when nobody reads them.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and closes the event channel.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
		close(w.events)
		close(w.errors)
	})
	return err
}

// addTree registers dir and every allowed subdirectory, returning the
// allowed regular files found along the way.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && w.filter != nil && !w.filter.AllowDir(p) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				return fmt.Errorf("watching %s: %w", p, err)
			}
			return nil
		}
		if d.Type().IsRegular() && w.allow(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adding watch tree %s: %w", dir, err)
	}
	return files, nil
}

func (w *Watcher) allow(path string) bool {
	return w.filter == nil || w.filter.Allow(path)
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.filter != nil && !w.filter.AllowDir(ev.Name) {
				return
			}
			// Files can land in a new directory before it is watched.
			files, err := w.addTree(ev.Name)
			if err != nil {
				w.logger.Warn("watching new directory failed", "path", ev.Name, "error", err)
				return
			}
			for _, f := range files {
				w.emit(f, guard.EventCreated)
			}
			return
		}
		if w.allow(ev.Name) {
			w.emit(ev.Name, guard.EventCreated)
		}
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		if w.allow(ev.Name) {
			w.emit(ev.Name, guard.EventModified)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.allow(ev.Name) {
			w.emit(ev.Name, guard.EventDeleted)
		}
	}
}

func (w *Watcher) emit(path string, kind guard.EventKind) {
	event := guard.FileEvent{Path: path, Kind: kind, Timestamp: w.clock.Now()}
	select {
	case w.events <- event:
	case <-w.done:
	}
}
