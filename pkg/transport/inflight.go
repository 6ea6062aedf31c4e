package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InFlight tracks running streams so that a separate request can cancel
// them by ID. It is safe for concurrent use.
type InFlight struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewInFlight creates an empty registry.
func NewInFlight() *InFlight {
	return &InFlight{entries: make(map[string]context.CancelFunc)}
}

// Start registers a new stream derived from ctx. The returned context is
// cancelled by Cancel(id) or by done, which also unregisters the stream
// and must be called when the stream ends.
func (f *InFlight) Start(ctx context.Context) (id string, streamCtx context.Context, done func()) {
	streamCtx, cancel := context.WithCancel(ctx)
	id = "strm_" + uuid.NewString()

	f.mu.Lock()
	f.entries[id] = cancel
	f.mu.Unlock()

	return id, streamCtx, func() {
		f.mu.Lock()
		delete(f.entries, id)
		f.mu.Unlock()
		cancel()
	}
}

// Cancel cancels the stream with id. It reports false when no such stream
// is running.
func (f *InFlight) Cancel(id string) bool {
	f.mu.Lock()
	cancel, ok := f.entries[id]
	delete(f.entries, id)
	f.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Len returns the number of running streams.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
