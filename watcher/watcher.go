// Package watcher provides a debounced, recursive filesystem watcher used to
// drive the outgoing Webmention processor when local content changes
// (spec.md §4.5).
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a ContentChange.
type Kind string

const (
	Added   Kind = "added"
	Edited  Kind = "edited"
	Deleted Kind = "deleted"
)

// Format guesses the monitored file's content format from its extension.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// DefaultExtensions is the set of file suffixes watched when none is
// configured.
var DefaultExtensions = []string{".md", ".markdown", ".txt", ".html", ".htm"}

// DefaultDebounce is the quiet period a path must see no new events for
// before its change is flushed.
const DefaultDebounce = 2 * time.Second

// ContentChange describes one coalesced, debounced change to a monitored
// file.
type ContentChange struct {
	Kind   Kind
	Path   string
	Text   *string
	Format *Format
}

// Watcher recursively watches Root for create/modify/delete/move events on
// files matching Extensions, debounces them per-path, and invokes Sink
// exactly once per settled change.
type Watcher struct {
	Root       string
	Sink       func(ContentChange)
	Extensions map[string]bool
	Debounce   time.Duration

	mu      sync.Mutex
	running bool
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a Watcher with spec.md §4.5's defaults applied where left
// zero-valued.
func New(root string, sink func(ContentChange), extensions []string, debounce time.Duration) *Watcher {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[strings.ToLower(e)] = true
	}
	return &Watcher{
		Root:       root,
		Sink:       sink,
		Extensions: extSet,
		Debounce:   debounce,
	}
}

// Start begins recursive watching. If Root does not exist, Start leaves the
// watcher inactive (no error). Start is idempotent: calling it while already
// running is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if _, err := os.Stat(w.Root); err != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addDirRecursive(fsw, w.Root); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.running = true

	w.wg.Add(1)
	go w.run(fsw, w.stopCh)
	return nil
}

// Stop halts watching and waits for the worker to exit. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	fsw := w.fsw
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	if fsw != nil {
		fsw.Close()
	}
}

type pathState struct {
	lastEventTime time.Time
	lastEventKind Kind
	lastFlushTime time.Time
}

// run is the single worker goroutine that owns all debounce state, per
// spec.md §5.
func (w *Watcher) run(fsw *fsnotify.Watcher, stop <-chan struct{}) {
	defer w.wg.Done()

	pending := map[string]*pathState{}

	tickInterval := w.Debounce / 2
	if tickInterval <= 0 {
		tickInterval = w.Debounce
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.ingest(fsw, ev, pending)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Error("filesystem watcher error", "error", err)
		case <-ticker.C:
			w.flush(pending)
		}
	}
}

// ingest translates one raw fsnotify event and, if accepted, records it in
// the per-path debounce state.
func (w *Watcher) ingest(fsw *fsnotify.Watcher, ev fsnotify.Event, pending map[string]*pathState) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addDirRecursive(fsw, ev.Name); err != nil {
				slog.Error("watching new directory failed", "path", ev.Name, "error", err)
			}
		}
	}

	kind, ok := translateOp(ev.Op)
	if !ok {
		return
	}
	if !w.accept(ev.Name) {
		return
	}

	st := pending[ev.Name]
	if st == nil {
		st = &pathState{}
		pending[ev.Name] = st
	}
	st.lastEventTime = time.Now()
	// A write following a create in the same window (a new file being
	// filled in) keeps the change reported as Added.
	if !(kind == Edited && st.lastEventKind == Added) {
		st.lastEventKind = kind
	}
}

// translateOp maps an fsnotify op to one of {created, modified, deleted}.
// fsnotify reports a move as Rename on the source path (handled here as
// deleted) and, when the destination lands in a watched directory, a
// separate Create event for the destination — which already gives the
// created(dst) half spec.md §4.5 asks for.
func translateOp(op fsnotify.Op) (Kind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return Added, true
	case op&fsnotify.Write != 0:
		return Edited, true
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return Deleted, true
	default:
		return "", false
	}
}

// accept reports whether path should be tracked: it must resolve to a
// non-empty absolute path within Root and carry a monitored extension.
func (w *Watcher) accept(path string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rootAbs, err := filepath.Abs(w.Root)
	if err != nil {
		return false
	}
	if !isWithin(abs, rootAbs) {
		return false
	}
	return w.Extensions[strings.ToLower(filepath.Ext(abs))]
}

// flush coalesces every path whose debounce window has elapsed into a single
// ContentChange, then clears its pending state.
func (w *Watcher) flush(pending map[string]*pathState) {
	now := time.Now()
	for path, st := range pending {
		if now.Sub(st.lastEventTime) < w.Debounce {
			continue
		}
		if !st.lastFlushTime.IsZero() && now.Sub(st.lastFlushTime) < w.Debounce {
			continue
		}

		change, ok := w.buildChange(path, st.lastEventKind)
		delete(pending, path)
		if !ok {
			continue
		}
		w.invokeSink(change)
	}
}

// buildChange materializes the settled ContentChange for path, or reports
// false if the change should be discarded (unrecognized format on a
// non-delete event).
func (w *Watcher) buildChange(path string, kind Kind) (ContentChange, bool) {
	if kind == Deleted {
		return ContentChange{Kind: Deleted, Path: path}, true
	}
	if _, err := os.Stat(path); err != nil {
		return ContentChange{Kind: Deleted, Path: path}, true
	}

	format, ok := guessFormat(path)
	if !ok {
		return ContentChange{}, false
	}

	change := ContentChange{Kind: kind, Path: path, Format: &format}
	body, err := os.ReadFile(path)
	if err != nil {
		return change, true
	}
	text := string(body)
	change.Text = &text
	return change, true
}

func guessFormat(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return FormatHTML, true
	case ".md", ".markdown":
		return FormatMarkdown, true
	case ".txt", ".text":
		return FormatText, true
	default:
		return "", false
	}
}

func (w *Watcher) invokeSink(change ContentChange) {
	if w.Sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("filesystem watcher sink panicked", "path", change.Path, "panic", r)
		}
	}()
	w.Sink(change)
}

func addDirRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fsw.Add(path)
	})
}

func isWithin(path, root string) bool {
	if filepath.Clean(path) == filepath.Clean(root) {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
