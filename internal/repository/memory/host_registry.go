// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// Ensure HostRegistry implements placement.HostRegistry
var _ placement.HostRegistry = (*HostRegistry)(nil)

// HostRegistry is an in-memory implementation of the host registry.
// Hosts are kept in registration order.
type HostRegistry struct {
	mu    sync.RWMutex
	data  map[string]*domain.Host
	order []string
}

// NewHostRegistry creates a new in-memory host registry.
func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		data: make(map[string]*domain.Host),
	}
}

// Register stores a new host.
func (r *HostRegistry) Register(ctx context.Context, h *domain.Host) (*domain.Host, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[h.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}

	now := time.Now()
	stored := h.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.data[stored.ID] = stored
	r.order = append(r.order, stored.ID)

	return stored.Clone(), nil
}

// Deregister removes a host by ID.
func (r *HostRegistry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.data, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}

	return nil
}

// UpdateStatus replaces the usage and status of a host.
func (r *HostRegistry) UpdateStatus(ctx context.Context, id string, cpuUsage, ramUsage float64, status domain.HostStatus) (*domain.Host, error) {
	if err := domain.ValidateUsage(cpuUsage, ramUsage, status); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	// Swap in a fresh copy so snapshots handed out earlier never change
	updated := h.Clone()
	updated.CPUUsage = cpuUsage
	updated.RAMUsage = ramUsage
	updated.Status = status
	updated.UpdatedAt = time.Now()
	r.data[id] = updated

	return updated.Clone(), nil
}

// ActiveHosts returns the active hosts in registration order.
func (r *HostRegistry) ActiveHosts(ctx context.Context) ([]*domain.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Host
	for _, id := range r.order {
		if h := r.data[id]; h.IsSchedulable() {
			result = append(result, h.Clone())
		}
	}

	return result, nil
}

// Get retrieves a host by ID.
func (r *HostRegistry) Get(ctx context.Context, id string) (*domain.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return h.Clone(), nil
}

// List returns all hosts in registration order.
func (r *HostRegistry) List(ctx context.Context) ([]*domain.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Host, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.data[id].Clone())
	}

	return result, nil
}
