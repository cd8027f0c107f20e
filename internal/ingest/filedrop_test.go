package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamgraph/corepipeline/internal/document"
)

type collector struct {
	mu    sync.Mutex
	batch []document.Document
}

func (c *collector) onBatch(docs []document.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batch = append(c.batch, docs...)
}

func (c *collector) snapshot() []document.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]document.Document, len(c.batch))
	copy(out, c.batch)
	return out
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.FailNow(t, "condition not met before timeout")
}

func TestWatcher_InitialScanDecodesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch1.jsonl"), []byte(
		`{"id":"d1","event_type":"login","fields":{"memberCode":"m1","deviceId":"dev1"}}`+"\n"+
			`{"id":"d2","event_type":"game_open","fields":{"memberCode":"m1","gameName":"poker"}}`+"\n",
	), 0o644))

	col := &collector{}
	w := NewWatcher(dir, col.onBatch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitUntil(t, 2*time.Second, func() bool { return len(col.snapshot()) == 2 })
	docs := col.snapshot()
	require.Equal(t, "d1", docs[0].ID)
	require.Equal(t, "m1", docs[0].FieldString("memberCode"))
	require.Equal(t, "dev1", docs[0].FieldString("deviceId"))
}

func TestWatcher_AppendedLineIsPickedUpIncrementally(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"d1","event_type":"login","fields":{"memberCode":"m1"}}`+"\n"), 0o644))

	col := &collector{}
	w := NewWatcher(dir, col.onBatch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitUntil(t, 2*time.Second, func() bool { return len(col.snapshot()) == 1 })

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"d2","event_type":"login","fields":{"memberCode":"m2"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	waitUntil(t, 2*time.Second, func() bool { return len(col.snapshot()) == 2 })
	docs := col.snapshot()
	require.Equal(t, "d2", docs[1].ID)
}

func TestWatcher_MalformedLineIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.jsonl"), []byte(
		`{not json}`+"\n"+`{"id":"d1","event_type":"login","fields":{"memberCode":"m1"}}`+"\n",
	), 0o644))

	col := &collector{}
	w := NewWatcher(dir, col.onBatch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitUntil(t, 2*time.Second, func() bool { return len(col.snapshot()) == 1 })
	require.Equal(t, "d1", col.snapshot()[0].ID)
}

func TestToValue_NumericAndBoolCoercion(t *testing.T) {
	require.Equal(t, document.Int(3), toValue(float64(3)))
	require.Equal(t, document.Float(3.5), toValue(3.5))
	require.Equal(t, document.Bool(true), toValue(true))
	require.Equal(t, document.Text("x"), toValue("x"))
	require.Equal(t, document.Null, toValue(nil))
}
