package device

import (
	"fmt"
	"sync"
)

// Budget tracks bytes held by live device buffers against Limits.
type Budget struct {
	limits Limits

	mu   sync.Mutex
	used int64
}

// NewBudget creates a tracker for limits.
func NewBudget(limits Limits) *Budget {
	return &Budget{limits: limits}
}

// Reserve accounts for a buffer of size bytes.
func (b *Budget) Reserve(size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}
	if b.limits.MaxBufferSize > 0 && size > b.limits.MaxBufferSize {
		return fmt.Errorf("%w: %d bytes exceeds max buffer size %d", ErrOutOfMemory, size, b.limits.MaxBufferSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limits.MemoryBudget > 0 && b.used+size > b.limits.MemoryBudget {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, b.used, b.limits.MemoryBudget)
	}
	b.used += size
	return nil
}

// Free returns size bytes to the budget.
func (b *Budget) Free(size int64) {
	b.mu.Lock()
	b.used -= size
	b.mu.Unlock()
}

// Used returns the bytes currently reserved.
func (b *Budget) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
