// Package watcher is an fsnotify-backed file watcher: it debounces
// rapid-fire edits per path and marshals the debounced result onto a
// single output channel (Events) that the caller drains, rather than
// letting callers run on the OS notify thread. cmd/hotpatchd forwards
// each event to Engine.Apply, which queues it on the per-assembly worker.
package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/hotpatch/logging"
)

// Event is one debounced source-file change ready to compile.
type Event struct {
	Path string
}

// Options configures filtering and debounce behavior.
type Options struct {
	// Debounce is the minimum quiet period per path before an event
	// fires; spec requires >=300ms.
	Debounce time.Duration
	// Extensions, if non-empty, restricts watched files to these
	// suffixes (e.g. ".src").
	Extensions []string
	// SkipSubtrees are directory path prefixes never watched (editor
	// scratch directories, build output).
	SkipSubtrees []string
	// SkipSuffixes are filename suffixes for generated files that
	// should never trigger a reload (e.g. ".designer.src").
	SkipSuffixes []string
}

// Watcher wraps an *fsnotify.Watcher with debounce and filtering.
type Watcher struct {
	fsw     *fsnotify.Watcher
	opts    Options
	logger  logging.Logger
	events  chan Event
	done    chan struct{}
	closeMu sync.Once

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// New creates a Watcher. opts.Debounce is clamped up to 300ms if lower,
// ("debounces >=300ms per path").
func New(opts Options, logger logging.Logger) (*Watcher, error) {
	if opts.Debounce < 300*time.Millisecond {
		opts.Debounce = 300 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:    fsw,
		opts:   opts,
		logger: logging.WithCategory(logger, logging.CategoryWatcher),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		timers: map[string]*time.Timer{},
	}
	go w.loop()
	return w, nil
}

// Add registers a directory (or file) with the underlying fsnotify
// watcher.
func (w *Watcher) Add(path string) error {
	return w.fsw.Add(path)
}

// Events returns the channel of debounced, filtered change events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Close stops the watcher and releases the underlying OS handle.
func (w *Watcher) Close() error {
	var err error
	w.closeMu.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !w.shouldWatch(ev.Name) {
				continue
			}
			w.debounce(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) shouldWatch(path string) bool {
	for _, skip := range w.opts.SkipSubtrees {
		if strings.HasPrefix(filepath.ToSlash(path), filepath.ToSlash(skip)) {
			return false
		}
	}
	for _, suf := range w.opts.SkipSuffixes {
		if strings.HasSuffix(path, suf) {
			return false
		}
	}
	if len(w.opts.Extensions) == 0 {
		return true
	}
	for _, ext := range w.opts.Extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// debounce resets a per-path timer; the event fires only once the path
// has been quiet for opts.Debounce.
func (w *Watcher) debounce(path string) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.timerMu.Lock()
		delete(w.timers, path)
		w.timerMu.Unlock()

		select {
		case w.events <- Event{Path: path}:
		case <-w.done:
		}
	})
}
