package webmention

import (
	"log/slog"
	"time"

	"github.com/cvanloo/gowebmention/watcher"
)

// PathMapper resolves a filesystem path the watcher observed into the
// public sourceURL whose outbound links should be reprocessed.
type PathMapper func(path string) (sourceURL string, ok bool)

// Monitor wires a filesystem watcher to the outgoing processor, per
// spec.md §4.6: a DELETED change resends with text="" so every previously
// recorded target becomes a removal, while ADDED/EDITED reprocess the file's
// current text.
type Monitor struct {
	Outgoing *OutgoingProcessor
	MapPath  PathMapper

	w *watcher.Watcher
}

// NewMonitor builds a Monitor watching root, with the given extensions and
// debounce interval (both zero-valued to accept the watcher package's
// defaults).
func NewMonitor(outgoing *OutgoingProcessor, mapPath PathMapper, root string, extensions []string, debounce time.Duration) *Monitor {
	m := &Monitor{Outgoing: outgoing, MapPath: mapPath}
	m.w = watcher.New(root, m.handleChange, extensions, debounce)
	return m
}

// Start begins watching. See watcher.Watcher.Start for idempotency and the
// missing-root behavior.
func (m *Monitor) Start() error { return m.w.Start() }

// Stop halts watching.
func (m *Monitor) Stop() { m.w.Stop() }

func (m *Monitor) handleChange(change watcher.ContentChange) {
	sourceURL, ok := m.MapPath(change.Path)
	if !ok {
		return
	}

	if change.Kind == watcher.Deleted {
		empty := ""
		if err := m.Outgoing.ProcessOutgoing(sourceURL, &empty, outgoingFormat(change.Format)); err != nil {
			slog.Error("processing outgoing webmentions for deleted file failed", "source", sourceURL, "error", err)
		}
		return
	}

	text := ""
	if change.Text != nil {
		text = *change.Text
	}
	format := outgoingFormat(change.Format)
	if err := m.Outgoing.ProcessOutgoing(sourceURL, &text, format); err != nil {
		slog.Error("processing outgoing webmentions failed", "source", sourceURL, "error", err)
	}
}

func outgoingFormat(f *watcher.Format) TextFormat {
	if f == nil {
		return FormatHTML
	}
	switch *f {
	case watcher.FormatMarkdown:
		return FormatMarkdown
	case watcher.FormatText:
		return FormatText
	default:
		return FormatHTML
	}
}
