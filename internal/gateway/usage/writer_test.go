package usage

import (
	"context"
	"sync"
	"testing"

	"github.com/routerlabs/gateway/internal/shared/models"
)

type memRecorder struct {
	mu   sync.Mutex
	recs []*models.UsageRecord
}

func (m *memRecorder) InsertUsageRecord(ctx context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func TestWriter_DrainsQueueOnStop(t *testing.T) {
	rec := &memRecorder{}
	w := NewWriter(rec, 2, 100)
	w.Start()

	for i := 0; i < 50; i++ {
		if !w.Submit(&models.UsageRecord{UserID: "u1"}) {
			t.Fatalf("submit %d rejected with room in the queue", i)
		}
	}
	w.Stop()

	if got := rec.count(); got != 50 {
		t.Fatalf("inserted %d records, want 50", got)
	}
}

func TestWriter_DropsWhenFull(t *testing.T) {
	// Not started: nothing consumes, so the queue fills.
	w := NewWriter(&memRecorder{}, 1, 2)

	if !w.Submit(&models.UsageRecord{UserID: "u1"}) || !w.Submit(&models.UsageRecord{UserID: "u1"}) {
		t.Fatal("first two submits should fit the queue")
	}
	if w.Submit(&models.UsageRecord{UserID: "u1"}) {
		t.Fatal("a full queue must drop, not block")
	}
}

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(&memRecorder{}, 0, 0)
	if w.workers != 3 {
		t.Fatalf("default workers = %d, want 3", w.workers)
	}
	if cap(w.jobs) != 1000 {
		t.Fatalf("default queue = %d, want 1000", cap(w.jobs))
	}
}
