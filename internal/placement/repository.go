// Package placement defines the storage contracts used by the placement engine.
package placement

import (
	"context"
	"errors"
	"fmt"

	"github.com/limiquantix/placement/internal/domain"
)

// HostRegistry holds the current resource state of every known host.
// Implementations return copies; callers never share state with the registry.
type HostRegistry interface {
	// Register adds a host. Returns domain.ErrAlreadyExists for a duplicate ID.
	Register(ctx context.Context, host *domain.Host) (*domain.Host, error)

	// Deregister removes a host. Returns domain.ErrNotFound if absent.
	Deregister(ctx context.Context, id string) error

	// UpdateStatus replaces the mutable fields of a host in one step.
	UpdateStatus(ctx context.Context, id string, cpuUsage, ramUsage float64, status domain.HostStatus) (*domain.Host, error)

	// ActiveHosts returns a snapshot of the active hosts in registration order.
	ActiveHosts(ctx context.Context) ([]*domain.Host, error)

	// Get retrieves a host by ID.
	Get(ctx context.Context, id string) (*domain.Host, error)

	// List returns all hosts in registration order.
	List(ctx context.Context) ([]*domain.Host, error)
}

// Ledger records VM to host assignments and the round-robin cursor.
type Ledger interface {
	// Record appends an allocation. Returns domain.ErrAlreadyExists if vmID was already allocated.
	Record(ctx context.Context, vmID, hostID, policy string) (*domain.Allocation, error)

	// Get returns the allocation recorded for vmID.
	Get(ctx context.Context, vmID string) (*domain.Allocation, error)

	// List returns recorded allocations in commit order.
	List(ctx context.Context, filter domain.AllocationFilter) ([]*domain.Allocation, error)

	// CountByHost returns the number of allocations ever recorded for hostID.
	CountByHost(ctx context.Context, hostID string) (int, error)

	// NextRoundRobinIndex returns the current cursor modulo activeCount and
	// advances the cursor by one. Both happen atomically.
	NextRoundRobinIndex(ctx context.Context, activeCount int) (int, error)
}

// Publisher receives allocation events after they are committed.
type Publisher interface {
	Publish(event domain.AllocationEvent) error
}

// Seed registers hosts that are not yet known to registry. Existing hosts
// keep their reported state.
func Seed(ctx context.Context, registry HostRegistry, hosts []*domain.Host) (int, error) {
	added := 0
	for _, h := range hosts {
		if _, err := registry.Register(ctx, h); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			return added, fmt.Errorf("failed to seed host %s: %w", h.ID, err)
		}
		added++
	}
	return added, nil
}
