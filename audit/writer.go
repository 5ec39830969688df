package audit

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joelkehle/tariffline/elimination"
)

const defaultQueueDepth = 256

// Writer drains engine audit records to a Store on a background goroutine.
// Enqueue never blocks the classification path: when the queue is full the
// record is dropped and counted.
type Writer struct {
	store   Store
	dropped atomic.Int64

	mu     sync.Mutex
	queue  chan elimination.AuditRecord
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

func NewWriter(store Store, queueDepth int) *Writer {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	w := &Writer{
		store: store,
		queue: make(chan elimination.AuditRecord, queueDepth),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

// Enqueue implements elimination.AuditSink. Records arriving after Close, or
// while the queue is full, are dropped and counted.
func (w *Writer) Enqueue(rec elimination.AuditRecord) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		n := w.dropped.Add(1)
		log.Printf("[audit] writer closed, dropped run %s (%d dropped total)", rec.RunID, n)
		return
	}
	select {
	case w.queue <- rec:
		w.mu.Unlock()
	default:
		w.mu.Unlock()
		n := w.dropped.Add(1)
		log.Printf("[audit] queue full, dropped run %s (%d dropped total)", rec.RunID, n)
	}
}

// Dropped reports how many records were discarded because the queue was full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close stops accepting records, drains what is queued, and closes the store.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
		<-w.done
	})
	return w.store.Close()
}

func (w *Writer) drain() {
	defer close(w.done)
	for rec := range w.queue {
		w.write(rec)
	}
}

func (w *Writer) write(rec elimination.AuditRecord) {
	payload, err := json.Marshal(rec.Result)
	if err != nil {
		log.Printf("[audit] encode run %s: %v", rec.RunID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.Append(ctx, Record{
		RunID:     rec.RunID,
		ProductID: rec.ProductID,
		Payload:   payload,
		CreatedAt: rec.CreatedAt,
	}); err != nil {
		log.Printf("[audit] %v", err)
	}
}

var _ elimination.AuditSink = (*Writer)(nil)
