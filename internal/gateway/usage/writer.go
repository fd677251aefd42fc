package usage

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/routerlabs/gateway/internal/shared/models"
)

// Recorder is the sink for ledger rows; *database.DB satisfies it.
type Recorder interface {
	InsertUsageRecord(ctx context.Context, rec *models.UsageRecord) error
}

// Writer appends usage records through a bounded worker pool so ledger
// writes never block the response path. The quota counter itself is
// incremented synchronously by the gate; only the detailed ledger row goes
// through here.
type Writer struct {
	recorder Recorder
	jobs     chan *models.UsageRecord
	workers  int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWriter creates a writer with the given worker count and queue size.
func NewWriter(recorder Recorder, workers, queueSize int) *Writer {
	if workers <= 0 {
		workers = 3
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		recorder: recorder,
		jobs:     make(chan *models.UsageRecord, queueSize),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing usage records.
func (w *Writer) Start() {
	log.Printf("Starting usage writer with %d workers", w.workers)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
}

// Stop drains the queue and waits for workers to finish.
func (w *Writer) Stop() {
	close(w.jobs)
	w.wg.Wait()
	w.cancel()
	log.Println("Usage writer stopped")
}

// Submit enqueues a record. Returns false when the queue is full; the
// record is dropped rather than blocking the caller.
func (w *Writer) Submit(rec *models.UsageRecord) bool {
	select {
	case w.jobs <- rec:
		return true
	default:
		log.Printf("Usage writer queue full, dropping record for user %s", rec.UserID)
		return false
	}
}

func (w *Writer) worker(id int) {
	defer w.wg.Done()
	for rec := range w.jobs {
		ctx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
		if err := w.recorder.InsertUsageRecord(ctx, rec); err != nil {
			log.Printf("Usage worker %d: failed to insert usage record: %v", id, err)
		}
		cancel()
	}
}
