// Package placement provides tests for the placement engine.
package placement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
)

// MockHostRegistry is a mock implementation of HostRegistry.
type MockHostRegistry struct {
	mu    sync.Mutex
	hosts []*domain.Host
}

func NewMockHostRegistry(hosts ...*domain.Host) *MockHostRegistry {
	return &MockHostRegistry{hosts: hosts}
}

func (m *MockHostRegistry) Register(ctx context.Context, host *domain.Host) (*domain.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hosts {
		if h.ID == host.ID {
			return nil, domain.ErrAlreadyExists
		}
	}
	m.hosts = append(m.hosts, host.Clone())
	return host.Clone(), nil
}

func (m *MockHostRegistry) Deregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.hosts {
		if h.ID == id {
			m.hosts = append(m.hosts[:i:i], m.hosts[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockHostRegistry) UpdateStatus(ctx context.Context, id string, cpu, ram float64, status domain.HostStatus) (*domain.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hosts {
		if h.ID == id {
			h.CPUUsage, h.RAMUsage, h.Status = cpu, ram, status
			return h.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockHostRegistry) ActiveHosts(ctx context.Context) ([]*domain.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Host
	for _, h := range m.hosts {
		if h.IsSchedulable() {
			result = append(result, h.Clone())
		}
	}
	return result, nil
}

func (m *MockHostRegistry) Get(ctx context.Context, id string) (*domain.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hosts {
		if h.ID == id {
			return h.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockHostRegistry) List(ctx context.Context) ([]*domain.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.Host, 0, len(m.hosts))
	for _, h := range m.hosts {
		result = append(result, h.Clone())
	}
	return result, nil
}

// MockLedger is a mock implementation of Ledger.
type MockLedger struct {
	mu          sync.Mutex
	allocations []*domain.Allocation
	cursor      atomic.Int64
	recordErr   error
}

func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

func (m *MockLedger) Record(ctx context.Context, vmID, hostID, policy string) (*domain.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	for _, a := range m.allocations {
		if a.VMID == vmID {
			return nil, domain.ErrAlreadyExists
		}
	}
	a := &domain.Allocation{
		ID:        uuid.New().String(),
		VMID:      vmID,
		HostID:    hostID,
		Policy:    policy,
		CreatedAt: time.Now(),
	}
	m.allocations = append(m.allocations, a)
	return a, nil
}

func (m *MockLedger) Get(ctx context.Context, vmID string) (*domain.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.allocations {
		if a.VMID == vmID {
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockLedger) List(ctx context.Context, filter domain.AllocationFilter) ([]*domain.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Allocation
	for _, a := range m.allocations {
		if filter.Matches(a) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *MockLedger) CountByHost(ctx context.Context, hostID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.allocations {
		if a.HostID == hostID {
			count++
		}
	}
	return count, nil
}

func (m *MockLedger) NextRoundRobinIndex(ctx context.Context, activeCount int) (int, error) {
	if activeCount <= 0 {
		return 0, domain.ErrNoHostsAvailable
	}
	return CursorIndex(m.cursor.Add(1)-1, activeCount), nil
}

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []domain.AllocationEvent
	err    error
}

func (m *MockPublisher) Publish(event domain.AllocationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Events() []domain.AllocationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AllocationEvent(nil), m.events...)
}

var errSubscriberGone = errors.New("subscriber unreachable")

func activeHost(id string, cpu, ram float64) *domain.Host {
	return &domain.Host{ID: id, CPUUsage: cpu, RAMUsage: ram, Status: domain.HostStatusActive}
}

// scenarioHosts returns the A/B/C host set used across tests.
func scenarioHosts() []*domain.Host {
	return []*domain.Host{
		activeHost("A", 20, 40),
		activeHost("B", 50, 60),
		activeHost("C", 10, 25),
	}
}
