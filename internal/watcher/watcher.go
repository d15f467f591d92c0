// Package watcher turns filesystem notifications under the source root
// into debounced change batches for the dev server: cache invalidation
// and browser reload, not recompilation, which stays lazy on the render
// path.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/viewmill/viewmill/internal/logging"
)

// Event is one debounced file change, addressed by virtual path.
type Event struct {
	Type    EventType
	Path    string
	ModTime time.Time
}

// EventType classifies a change.
type EventType int

const (
	Created EventType = iota
	Modified
	Deleted
	Renamed
)

func (e EventType) String() string {
	switch e {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Handler receives each debounced batch.
type Handler func(events []Event)

// Watcher follows template sources under one root.
type Watcher struct {
	root      string
	exts      map[string]bool
	log       logging.Logger
	fw        *fsnotify.Watcher
	debouncer *debouncer

	mu       sync.RWMutex
	handlers []Handler
}

// New builds a watcher for the given root, reacting only to files whose
// extension (without dot) is listed.
func New(root string, exts []string, debounce time.Duration, log logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}

	extSet := make(map[string]bool, len(exts))
	for _, ext := range exts {
		extSet[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		root:      abs,
		exts:      extSet,
		log:       log.WithComponent("watcher"),
		fw:        fw,
		debouncer: newDebouncer(debounce),
	}, nil
}

// OnChange registers a handler for debounced batches.
func (w *Watcher) OnChange(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching the root and every subdirectory. It returns
// after spawning the loops; cancel the context to stop them.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.debouncer.run(ctx)
	go w.dispatch(ctx)
	go w.loop(ctx)

	w.log.Debug(ctx, "watching", "root", w.root)
	return nil
}

// Stop closes the underlying notifier.
func (w *Watcher) Stop() error {
	w.debouncer.stop()
	return w.fw.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if skippableDir(info.Name()) && path != root {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, err, "watch error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	// New subdirectories join the watch; fsnotify does not recurse.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !skippableDir(filepath.Base(event.Name)) {
				if err := w.fw.Add(event.Name); err != nil {
					w.log.Warn(ctx, err, "cannot watch new directory", "path", event.Name)
				}
			}
			return
		}
	}

	vpath, ok := w.toVirtual(event.Name)
	if !ok || !w.wantedExt(event.Name) {
		return
	}

	var modTime time.Time
	if info, err := os.Stat(event.Name); err == nil {
		modTime = info.ModTime()
	}

	var typ EventType
	switch {
	case event.Op&fsnotify.Create != 0:
		typ = Created
	case event.Op&fsnotify.Write != 0:
		typ = Modified
	case event.Op&fsnotify.Remove != 0:
		typ = Deleted
	case event.Op&fsnotify.Rename != 0:
		typ = Renamed
	default:
		return
	}

	w.debouncer.add(Event{Type: typ, Path: vpath, ModTime: modTime})
}

func (w *Watcher) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-w.debouncer.output:
			w.mu.RLock()
			handlers := w.handlers
			w.mu.RUnlock()
			for _, h := range handlers {
				h(events)
			}
		}
	}
}

// toVirtual maps an absolute notification path to the rooted virtual
// form the registry uses.
func (w *Watcher) toVirtual(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func (w *Watcher) wantedExt(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return w.exts[ext]
}

func skippableDir(name string) bool {
	switch name {
	case "node_modules", "vendor", ".git", ".svn", ".hg":
		return true
	}
	return strings.HasPrefix(name, ".") && name != "."
}

// debouncer batches rapid changes: the clock restarts on every event,
// and a quiet period flushes the pending set deduplicated by path.
type debouncer struct {
	delay  time.Duration
	events chan Event
	output chan []Event

	mu      sync.Mutex
	timer   *time.Timer
	pending []Event
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:  delay,
		events: make(chan Event, 100),
		output: make(chan []Event, 10),
	}
}

func (d *debouncer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			d.enqueue(event)
		}
	}
}

func (d *debouncer) add(event Event) {
	select {
	case d.events <- event:
	default:
		// Saturated during an event storm; the batch already pending
		// will trigger the same reload.
	}
}

func (d *debouncer) enqueue(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return
	}

	byPath := make(map[string]Event, len(d.pending))
	for _, event := range d.pending {
		byPath[event.Path] = event
	}
	events := make([]Event, 0, len(byPath))
	for _, event := range byPath {
		events = append(events, event)
	}

	select {
	case d.output <- events:
	default:
	}

	d.pending = d.pending[:0]
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
