package journal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"main/internal/schema"
)

func writeEvents(t *testing.T, dir string, cfg Config, events []schema.ExecutionEvent) {
	t.Helper()
	cfg.Dir = dir
	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start writer: %v", err)
	}
	for _, ev := range events {
		if err := w.TryAppend(ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

func sampleEvents(n int) []schema.ExecutionEvent {
	out := make([]schema.ExecutionEvent, n)
	for i := range out {
		out[i] = schema.ExecutionEvent{
			OrderID:    uint64(i + 1),
			ClientTag:  uint64(1000 + i),
			StrategyID: 7,
			Instrument: 1,
			Status:     schema.OrderStatusFilled,
			FillPrice:  schema.Price(100 + i),
			FillQty:    5,
			FilledQty:  5,
			AvgPrice:   schema.Price(100 + i),
			Ts:         int64(i) * 1_000_000,
		}
	}
	return out
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	events := sampleEvents(5)
	writeEvents(t, dir, Config{}, events)

	got, err := ReadDir(dir, "exj")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i, ev := range got {
		if ev != events[i] {
			t.Fatalf("event %d = %+v, want %+v", i, ev, events[i])
		}
	}
}

func TestWriterQueueLifecycle(t *testing.T) {
	w, err := NewWriter(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.TryAppend(schema.ExecutionEvent{OrderID: 1}); err != ErrNotStarted {
		t.Fatalf("append before start: %v, want ErrNotStarted", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start writer: %v", err)
	}
	if err := w.TryAppend(schema.ExecutionEvent{OrderID: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := w.TryAppend(schema.ExecutionEvent{OrderID: 2}); err != ErrClosed {
		t.Fatalf("append after close: %v, want ErrClosed", err)
	}
}

func TestJournalSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	// room for two records per segment
	writeEvents(t, dir, Config{SegmentMaxBytes: 2*recordSize + 1}, sampleEvents(5))

	paths, err := filepath.Glob(filepath.Join(dir, "exj-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("segments = %d, want 3", len(paths))
	}

	got, err := ReadDir(dir, "exj")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("events = %d, want 5", len(got))
	}
}

func TestJournalTornTailTolerated(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir, Config{}, sampleEvents(3))

	paths, _ := filepath.Glob(filepath.Join(dir, "exj-*"))
	if len(paths) != 1 {
		t.Fatalf("segments = %d, want 1", len(paths))
	}
	info, err := os.Stat(paths[0])
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(paths[0], info.Size()-10); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	got, err := ReadDir(dir, "exj")
	if err != nil {
		t.Fatalf("read dir with torn tail: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2 full records", len(got))
	}
}

func TestJournalChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir, Config{}, sampleEvents(2))

	paths, _ := filepath.Glob(filepath.Join(dir, "exj-*"))
	raw, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	// corrupt a body byte in the first record
	raw[recordHeaderSize+8] ^= 0xff
	if err := os.WriteFile(paths[0], raw, 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r := NewReader(f)
	if _, _, err := r.Next(); err != ErrChecksumMismatch {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestReaderCleanEOF(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir, Config{}, sampleEvents(1))

	paths, _ := filepath.Glob(filepath.Join(dir, "exj-*"))
	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r := NewReader(f)
	if _, _, err := r.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, _, err := r.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}
