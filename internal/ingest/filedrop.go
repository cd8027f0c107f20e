// Package ingest implements the file-drop collaborator the core pipeline
// consumes documents from. The segment-writer binary format and the
// object-storage fetcher are out of scope for this module; file drops are
// the one ingestion surface this repo owns end to end, watched the same
// way the rule loader watches its directory.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/streamgraph/corepipeline/internal/document"
	"github.com/streamgraph/corepipeline/pkg/logging"
)

// debounceWindow mirrors the rule loader's watch debounce: editors and
// batch file drops touch a path more than once in quick succession.
const debounceWindow = 500 * time.Millisecond

// rawRecord is the on-disk shape of one line in a dropped .jsonl file.
// Unrecognized fields flow through untouched via Raw.
type rawRecord struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Fields    map[string]any `json:"fields"`
}

func (r rawRecord) toDocument() document.Document {
	doc := document.Document{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		EventType: r.EventType,
		Fields:    make(map[string]document.Value, len(r.Fields)),
		Raw:       r.Fields,
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now().UTC()
	}
	for name, v := range r.Fields {
		doc.Fields[name] = toValue(v)
	}
	return doc
}

func toValue(v any) document.Value {
	switch t := v.(type) {
	case nil:
		return document.Null
	case string:
		return document.Text(t)
	case bool:
		return document.Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return document.Int(int64(t))
		}
		return document.Float(t)
	default:
		return document.Null
	}
}

// Watcher tails a directory of dropped .jsonl files, decoding one
// document per line and handing completed batches to onBatch. Each file
// is read from its last offset forward, so append-only writers (the
// common case for a file-drop producer) are picked up incrementally; a
// line that fails to parse is logged and skipped rather than aborting
// the rest of the file.
type Watcher struct {
	dir     string
	onBatch func([]document.Document)
	log     *logging.Logger
	offsets map[string]int64
}

// NewWatcher constructs a file-drop watcher rooted at dir. onBatch is
// invoked once per debounce window with every document decoded since the
// last call; it must not block for long, since it runs on the watcher's
// own goroutine.
func NewWatcher(dir string, onBatch func([]document.Document), log *logging.Logger) *Watcher {
	if log == nil {
		log = logging.NewDefault("ingest")
	}
	return &Watcher{dir: dir, onBatch: onBatch, log: log, offsets: make(map[string]int64)}
}

// Run watches dir for created/written .jsonl files until ctx is
// cancelled. It does an initial full scan so documents dropped before
// the watcher started are not missed.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	w.scanExisting()

	pending := make(map[string]bool)
	timer := time.NewTimer(debounceWindow)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	flush := func() {
		var batch []document.Document
		for path := range pending {
			batch = append(batch, w.readNew(path)...)
		}
		pending = make(map[string]bool)
		if len(batch) > 0 && w.onBatch != nil {
			w.onBatch(batch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".jsonl" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[event.Name] = true
			if !timerRunning {
				timer.Reset(debounceWindow)
				timerRunning = true
			}
		case <-timer.C:
			timerRunning = false
			flush()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("file-drop watch error")
		}
	}
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.WithError(err).Warn("file-drop initial scan failed")
		return
	}
	var batch []document.Document
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		batch = append(batch, w.readNew(filepath.Join(w.dir, e.Name()))...)
	}
	if len(batch) > 0 && w.onBatch != nil {
		w.onBatch(batch)
	}
}

// readNew decodes every newline-terminated line appended since the path's
// last recorded offset. Malformed lines are logged and skipped, and the
// offset moves past them; an unterminated trailing line is not consumed
// and is read again on the next pass.
func (w *Watcher) readNew(path string) []document.Document {
	f, err := os.Open(path)
	if err != nil {
		w.log.WithError(err).WithField("path", path).Warn("file-drop open failed, skipping")
		return nil
	}
	defer f.Close()

	offset := w.offsets[path]
	if _, err := f.Seek(offset, 0); err != nil {
		w.log.WithError(err).WithField("path", path).Warn("file-drop seek failed, rescanning from start")
		offset = 0
		f.Seek(0, 0)
	}

	var docs []document.Document
	reader := bufio.NewReader(f)
	read := offset
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		read += int64(len(line))
		line = line[:len(line)-1]
		if len(line) == 0 {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			w.log.WithError(err).WithField("path", path).Warn("file-drop record skipped, malformed JSON")
			continue
		}
		docs = append(docs, rec.toDocument())
	}
	w.offsets[path] = read
	return docs
}
