package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// Ensure AllocationLedger implements placement.Ledger
var _ placement.Ledger = (*AllocationLedger)(nil)

// AllocationLedger is an in-memory allocation history with a lock-free
// round-robin cursor.
type AllocationLedger struct {
	mu      sync.RWMutex
	history []*domain.Allocation
	byVM    map[string]*domain.Allocation
	counts  map[string]int

	cursor atomic.Int64
}

// NewAllocationLedger creates a new in-memory ledger.
func NewAllocationLedger() *AllocationLedger {
	return &AllocationLedger{
		byVM:   make(map[string]*domain.Allocation),
		counts: make(map[string]int),
	}
}

// Record appends an allocation for vmID.
func (l *AllocationLedger) Record(ctx context.Context, vmID, hostID, policy string) (*domain.Allocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byVM[vmID]; ok {
		return nil, domain.ErrAlreadyExists
	}

	a := &domain.Allocation{
		ID:        uuid.New().String(),
		VMID:      vmID,
		HostID:    hostID,
		Policy:    policy,
		CreatedAt: time.Now(),
	}
	l.history = append(l.history, a)
	l.byVM[vmID] = a
	l.counts[hostID]++

	clone := *a
	return &clone, nil
}

// Get returns the allocation recorded for vmID.
func (l *AllocationLedger) Get(ctx context.Context, vmID string) (*domain.Allocation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.byVM[vmID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	clone := *a
	return &clone, nil
}

// List returns allocations in commit order.
func (l *AllocationLedger) List(ctx context.Context, filter domain.AllocationFilter) ([]*domain.Allocation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.Allocation
	for _, a := range l.history {
		if filter.Matches(a) {
			clone := *a
			result = append(result, &clone)
		}
	}

	return result, nil
}

// CountByHost returns the number of allocations recorded for hostID.
func (l *AllocationLedger) CountByHost(ctx context.Context, hostID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.counts[hostID], nil
}

// NextRoundRobinIndex advances the cursor and maps its previous value onto activeCount.
func (l *AllocationLedger) NextRoundRobinIndex(ctx context.Context, activeCount int) (int, error) {
	if activeCount <= 0 {
		return 0, domain.ErrNoHostsAvailable
	}

	previous := l.cursor.Add(1) - 1
	return placement.CursorIndex(previous, activeCount), nil
}

// Cursor returns the raw round-robin cursor.
func (l *AllocationLedger) Cursor() int64 {
	return l.cursor.Load()
}
