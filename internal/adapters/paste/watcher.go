package paste

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/paddock/pkg/logger"
)

// Subdirectories of the inbox that receive handled files.
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// Handler consumes one dropped file.
type Handler func(ctx context.Context, name string, data []byte) error

// Watcher feeds files dropped into an inbox directory to a handler, then
// moves them to done/ or failed/.
type Watcher struct {
	dir     string
	handler Handler
	settle  time.Duration
	log     logger.Logger

	fsw       *fsnotify.Watcher
	ready     chan string
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettle sets how long a file must be quiet before it is read.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher creates the inbox directory and its watcher.
func NewWatcher(dir string, handler Handler, opts ...WatcherOption) (*Watcher, error) {
	for _, d := range []string{dir, filepath.Join(dir, DoneDir), filepath.Join(dir, FailedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create inbox: %w", err)
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("inbox watcher: %w", err)
	}
	w := &Watcher{
		dir:     dir,
		handler: handler,
		settle:  250 * time.Millisecond,
		log:     logger.Named("paste"),
		fsw:     fsw,
		ready:   make(chan string, 64),
		done:    make(chan struct{}),
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run handles files already waiting, then watches until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch inbox %s: %w", w.dir, err)
	}
	w.log.Info(ctx, "watching paste inbox", logger.String("dir", w.dir))

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && wanted(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		w.process(ctx, filepath.Join(w.dir, name))
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "inbox watcher error", logger.Error(err))
		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

func wanted(name string) bool {
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, "~") && !strings.Contains(name, ".tmp")
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !wanted(filepath.Base(event.Name)) {
		return
	}
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[event.Name]; ok {
		t.Reset(w.settle)
		return
	}
	path := event.Name
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.log.Warn(ctx, "read inbox file failed", logger.String("file", path), logger.Error(err))
		}
		return
	}
	name := filepath.Base(path)
	target := DoneDir
	if err := w.handler(ctx, name, data); err != nil {
		target = FailedDir
		w.log.Warn(ctx, "inbox file rejected", logger.String("file", name), logger.Error(err))
	} else {
		w.log.Info(ctx, "inbox file ingested", logger.String("file", name))
	}
	dest := filepath.Join(w.dir, target, time.Now().UTC().Format("20060102T150405.000")+"-"+name)
	if err := os.Rename(path, dest); err != nil {
		w.log.Warn(ctx, "move inbox file failed", logger.String("file", name), logger.Error(err))
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.stopTimers()
		err = w.fsw.Close()
	})
	return err
}
