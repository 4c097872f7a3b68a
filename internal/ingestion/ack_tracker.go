package ingestion

import "sync"

// AckTracker holds broker acknowledgements until the instruction they
// belong to is durable. The persistence worker commits in sequence order,
// so a single committed watermark releases everything at or below it.
type AckTracker struct {
	mu        sync.Mutex
	committed int64
	pending   map[int64]func()
}

func NewAckTracker() *AckTracker {
	return &AckTracker{committed: -1, pending: make(map[int64]func())}
}

// Add registers ack for seq. It runs immediately if seq is already durable.
func (t *AckTracker) Add(seq int64, ack func()) {
	t.mu.Lock()
	if seq <= t.committed {
		t.mu.Unlock()
		ack()
		return
	}
	t.pending[seq] = ack
	t.mu.Unlock()
}

// Committed advances the watermark and runs every ack at or below seq.
func (t *AckTracker) Committed(seq int64) {
	t.mu.Lock()
	if seq > t.committed {
		t.committed = seq
	}
	var ready []func()
	for s, ack := range t.pending {
		if s <= t.committed {
			ready = append(ready, ack)
			delete(t.pending, s)
		}
	}
	t.mu.Unlock()

	for _, ack := range ready {
		ack()
	}
}

// Pending returns the number of acks still waiting.
func (t *AckTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
