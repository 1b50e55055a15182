// Package persist serialises label writes so that rapid edits of one image never race each other.
package persist

import (
	"context"
	"sync"

	"github.com/cyclopcam/logs"
)

// WriteFunc stores the label text of one image
type WriteFunc func(ctx context.Context, imageID, text string) error

// Writer runs at most one write per image at a time. If several writes for the same image
// are submitted while one is in flight, only the most recent text is written afterwards.
// Failures are logged and counted, never returned to the submitter.
type Writer struct {
	log   logs.Log
	write WriteFunc
	ctx   context.Context

	mu       sync.Mutex
	pending  map[string]string // latest text per image, not yet started
	inflight map[string]bool   // images with a running worker
	active   int               // number of running workers
	idle     chan struct{}     // closed whenever active == 0
	closed   bool
	failures int
	written  int
}

// NewWriter creates a writer that stores labels with write
func NewWriter(log logs.Log, write WriteFunc) *Writer {
	idle := make(chan struct{})
	close(idle)
	return &Writer{
		log:      log,
		write:    write,
		ctx:      context.Background(),
		pending:  map[string]string{},
		inflight: map[string]bool{},
		idle:     idle,
	}
}

// Submit queues text to be written for imageID, and returns immediately.
// After Close, the write happens synchronously.
func (w *Writer) Submit(imageID, text string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.do(imageID, text)
		return
	}
	w.pending[imageID] = text
	if !w.inflight[imageID] {
		w.inflight[imageID] = true
		if w.active == 0 {
			w.idle = make(chan struct{})
		}
		w.active++
		go w.worker(imageID)
	}
	w.mu.Unlock()
}

func (w *Writer) worker(imageID string) {
	for {
		w.mu.Lock()
		text, ok := w.pending[imageID]
		if !ok {
			delete(w.inflight, imageID)
			w.active--
			if w.active == 0 {
				close(w.idle)
			}
			w.mu.Unlock()
			return
		}
		delete(w.pending, imageID)
		w.mu.Unlock()

		w.do(imageID, text)
	}
}

func (w *Writer) do(imageID, text string) {
	err := w.write(w.ctx, imageID, text)
	w.mu.Lock()
	if err != nil {
		w.failures++
	} else {
		w.written++
	}
	w.mu.Unlock()
	if err != nil {
		w.log.Warnf("Failed to save labels of %v: %v", imageID, err)
	}
}

// Flush waits until every submitted write has completed, or ctx is done
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	idle := w.idle
	w.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding writes. Later submissions are written synchronously.
func (w *Writer) Close() {
	w.Flush(context.Background())
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Stats returns the number of successful and failed writes so far
func (w *Writer) Stats() (written, failures int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.failures
}
