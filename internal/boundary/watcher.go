// Package boundary watches the run's boundary files, the task backlog
// and the progress log, and warns when something other than the core
// writes them. Agent prompts forbid touching these files; a warning
// here means an agent escaped its workspace or a human edited the
// backlog mid-run.
package boundary

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
)

// selfWriteWindow is how long after an announced core write events on
// the same path are attributed to the core. It must exceed the backlog
// provider's write debounce, which defers rewrites by two seconds.
const selfWriteWindow = 5 * time.Second

// debounceDelay batches filesystem events before they are judged. A
// single atomic save (write temp file, rename over) emits several.
const debounceDelay = 100 * time.Millisecond

// watchedOps are the event kinds that count as touching a file.
const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// Warning records one outside write to a boundary file.
type Warning struct {
	Path string
	Op   string
	At   time.Time
}

// Watcher observes boundary files during a run. Parent directories are
// watched rather than the files themselves, so replace-by-rename writes
// and late file creation are still observed.
type Watcher struct {
	fsw   *fsnotify.Watcher
	paths map[string]bool // absolute boundary file paths
	log   *logging.Logger

	mu         sync.Mutex
	selfWrites map[string]time.Time
	warnings   []Warning

	window   time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the given boundary file paths.
// Call Start to begin observing and Stop to shut down.
func NewWatcher(paths []string, log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating filesystem watcher")
	}

	tracked := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, aerr := filepath.Abs(p)
		if aerr != nil {
			_ = fsw.Close()
			return nil, errors.Wrapf(aerr, "resolving boundary path %s", p)
		}
		tracked[abs] = true
	}

	return &Watcher{
		fsw:        fsw,
		paths:      tracked,
		log:        log,
		selfWrites: make(map[string]time.Time),
		window:     selfWriteWindow,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start adds the directory watches and begins processing events. The
// directories must exist; the boundary files themselves may not yet.
func (w *Watcher) Start() error {
	dirs := make(map[string]bool)
	for p := range w.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := w.fsw.Add(dir); err != nil {
			return errors.Wrapf(err, "watching %s", dir)
		}
	}
	w.started = true
	go w.loop()
	return nil
}

// SelfWrite marks an imminent core write to path. Events on that path
// within the window are not warned about. Deferred writers (the
// debounced backlog rewrite) are covered because the window exceeds
// their delay.
func (w *Watcher) SelfWrite(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.selfWrites[abs] = w.now()
	w.mu.Unlock()
}

// Warnings returns a copy of the outside writes observed so far.
func (w *Watcher) Warnings() []Warning {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Warning, len(w.warnings))
	copy(out, w.warnings)
	return out
}

// Stop shuts the watcher down and waits for the event loop to exit.
// Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.fsw.Close()
		if w.started {
			<-w.doneCh
		}
	})
}

// loop processes filesystem events. Bursts are debounced per path so
// one save is judged once.
func (w *Watcher) loop() {
	defer close(w.doneCh)

	timer := time.NewTimer(0)
	<-timer.C
	pending := make(map[string]fsnotify.Op)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&watchedOps == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !w.paths[abs] {
				continue
			}
			pending[abs] |= event.Op
			timer.Reset(debounceDelay)

		case <-timer.C:
			for path, op := range pending {
				w.judge(path, op)
			}
			clear(pending)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("boundary watcher error", "error", err)
		}
	}
}

// judge records a warning unless the event falls inside an announced
// core write's window.
func (w *Watcher) judge(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if at, ok := w.selfWrites[path]; ok && w.now().Sub(at) < w.window {
		return
	}
	warning := Warning{Path: path, Op: op.String(), At: w.now()}
	w.warnings = append(w.warnings, warning)
	w.log.Warn("boundary file modified outside the run", "path", path, "op", warning.Op)
}
