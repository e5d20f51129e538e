package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
)

var (
	ErrQueueFull      = errors.New("journal queue full")
	ErrClosed         = errors.New("journal writer closed")
	ErrNotStarted     = errors.New("journal writer not started")
	ErrAlreadyStarted = errors.New("journal writer already started")
)

// Config controls the execution journal writer.
type Config struct {
	Dir                string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FilePrefix         string
	FlushInterval      time.Duration
	SyncInterval       time.Duration
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = 1 << 30
	}
	if c.SegmentMaxDuration <= 0 {
		c.SegmentMaxDuration = 5 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256 * 1024
	}
	if c.FilePrefix == "" {
		c.FilePrefix = "exj"
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	return c
}

// Writer appends execution events to journal segments from a bounded
// queue. The hot path enqueues; one background goroutine owns the files.
type Writer struct {
	cfg   Config
	queue *bus.Queue[schema.ExecutionEvent]
	wg    sync.WaitGroup
	err   atomic.Value

	seq     uint64
	started uint32
}

// NewWriter creates a journal writer and ensures the directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("journal: Dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg, queue: bus.NewQueue[schema.ExecutionEvent](cfg.QueueSize)}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops the writer and flushes any buffered data.
func (w *Writer) Close() error {
	w.queue.Close()
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// TryAppend enqueues an event without blocking.
func (w *Writer) TryAppend(ev schema.ExecutionEvent) error {
	if atomic.LoadUint32(&w.started) == 0 {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	switch err := w.queue.TryPublish(ev); {
	case errors.Is(err, bus.ErrQueueClosed):
		return ErrClosed
	case errors.Is(err, bus.ErrQueueFull):
		return ErrQueueFull
	default:
		return err
	}
}

// Consume tails an execution stream reader into the journal until ctx is
// done. Lagged reads and full queues are logged, never fatal.
func (w *Writer) Consume(ctx context.Context, reader *bus.Reader[schema.ExecutionEvent]) {
	for ctx.Err() == nil {
		ev, err := reader.Poll()
		if err != nil {
			if errors.Is(err, bus.ErrLagged) {
				logs.Errorf("journal lagged behind execution stream")
				continue
			}
			runtime.Gosched()
			continue
		}
		if err := w.TryAppend(ev); err != nil {
			logs.Errorf("journal append order %d: %+v", ev.OrderID, err)
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	var (
		seg   *segment
		segID uint64
		buf   [recordSize]byte
	)

	flushTicker := time.NewTicker(w.cfg.FlushInterval)
	defer flushTicker.Stop()
	var syncC <-chan time.Time
	if w.cfg.SyncInterval > 0 {
		syncTicker := time.NewTicker(w.cfg.SyncInterval)
		defer syncTicker.Stop()
		syncC = syncTicker.C
	}

	defer func() {
		if err := w.closeSegment(seg); err != nil && w.Err() == nil {
			w.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.drainNonBlocking(&seg, &segID, buf[:])
			return
		case ev, ok := <-w.queue.C():
			if !ok {
				return
			}
			if err := w.writeRecord(&seg, &segID, buf[:], ev); err != nil {
				w.setErr(err)
				return
			}
		case <-flushTicker.C:
			if err := w.flushSegment(seg); err != nil {
				w.setErr(err)
				return
			}
		case <-syncC:
			if err := w.syncSegment(seg); err != nil {
				w.setErr(err)
				return
			}
		}
	}
}

func (w *Writer) drainNonBlocking(seg **segment, segID *uint64, buf []byte) {
	for {
		select {
		case ev, ok := <-w.queue.C():
			if !ok {
				return
			}
			if err := w.writeRecord(seg, segID, buf, ev); err != nil {
				w.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) writeRecord(seg **segment, segID *uint64, buf []byte, ev schema.ExecutionEvent) error {
	now := time.Now().UTC()
	if w.shouldRotate(*seg, now) {
		if err := w.closeSegment(*seg); err != nil {
			return err
		}
		opened, err := w.openSegment(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}

	w.seq++
	encodeHeader(buf[:recordHeaderSize], w.seq)
	encodeBody(buf[recordHeaderSize:recordHeaderSize+recordBodySize], ev)
	sum := checksum(buf[:recordHeaderSize], buf[recordHeaderSize:recordHeaderSize+recordBodySize])
	binary.LittleEndian.PutUint32(buf[recordHeaderSize+recordBodySize:], sum)

	if _, err := (*seg).buf.Write(buf[:recordSize]); err != nil {
		return err
	}
	(*seg).size += recordSize
	return nil
}

func (w *Writer) shouldRotate(seg *segment, now time.Time) bool {
	if seg == nil {
		return true
	}
	if seg.size+recordSize > w.cfg.SegmentMaxBytes {
		return true
	}
	if now.Sub(seg.openedAt) >= w.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (w *Writer) flushSegment(seg *segment) error {
	if seg == nil {
		return nil
	}
	return seg.buf.Flush()
}

func (w *Writer) syncSegment(seg *segment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		return err
	}
	return seg.file.Sync()
}

func (w *Writer) closeSegment(seg *segment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *Writer) openSegment(segID *uint64, now time.Time) (*segment, error) {
	ts := now.Format("20060102-150405")
	for {
		*segID = *segID + 1
		name := fmt.Sprintf("%s-%s-%06d.exj", w.cfg.FilePrefix, ts, *segID)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, err
		}
		return &segment{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

func (w *Writer) setErr(err error) {
	if err == nil || w.err.Load() != nil {
		return
	}
	w.err.Store(err)
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
