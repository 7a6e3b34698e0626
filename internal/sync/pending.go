package sync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation is one recorded sync operation, kept for administrative
// inspection of recent cache activity.
type Operation struct {
	ID             uuid.UUID `json:"id"`
	Type           OpType    `json:"type"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// pendingOps is a bounded FIFO of recent operations. When full, the
// oldest entry is discarded to admit the newest.
type pendingOps struct {
	mu    sync.Mutex
	ops   []Operation
	limit int
}

func newPendingOps(limit int) *pendingOps {
	return &pendingOps{limit: limit}
}

func (p *pendingOps) add(op Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.ops) >= p.limit {
		p.ops = p.ops[1:]
	}
	p.ops = append(p.ops, op)
}

// snapshot returns the recorded operations, oldest first.
func (p *pendingOps) snapshot() []Operation {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Operation, len(p.ops))
	copy(out, p.ops)
	return out
}

// clear discards all recorded operations and returns how many were dropped.
func (p *pendingOps) clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.ops)
	p.ops = nil
	return n
}
