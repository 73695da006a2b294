package placement

import (
	"context"
	"fmt"

	"github.com/limiquantix/placement/internal/domain"
)

// Policy picks one host out of a snapshot of active hosts. The slice is in
// registration order and must not be modified.
type Policy interface {
	Name() string
	Select(ctx context.Context, hosts []*domain.Host) (*domain.Host, error)
}

// DefaultPolicies returns the built-in policies keyed by name.
func DefaultPolicies(ledger Ledger) map[string]Policy {
	policies := make(map[string]Policy, 3)
	for _, p := range []Policy{
		NewRoundRobin(ledger),
		NewLeastConnections(ledger),
		NewWeightedResource(),
	} {
		policies[p.Name()] = p
	}
	return policies
}

// =============================================================================
// Round robin
// =============================================================================

// RoundRobin cycles through the active hosts using the ledger's shared cursor.
type RoundRobin struct {
	ledger Ledger
}

// NewRoundRobin creates a round-robin policy.
func NewRoundRobin(ledger Ledger) *RoundRobin {
	return &RoundRobin{ledger: ledger}
}

// Name implements Policy.
func (p *RoundRobin) Name() string { return PolicyRoundRobin }

// Select implements Policy.
func (p *RoundRobin) Select(ctx context.Context, hosts []*domain.Host) (*domain.Host, error) {
	if len(hosts) == 0 {
		return nil, domain.ErrNoHostsAvailable
	}

	index, err := p.ledger.NextRoundRobinIndex(ctx, len(hosts))
	if err != nil {
		return nil, fmt.Errorf("failed to advance round-robin cursor: %w", err)
	}
	if index < 0 || index >= len(hosts) {
		return nil, fmt.Errorf("round-robin cursor returned index %d for %d hosts", index, len(hosts))
	}

	return hosts[index], nil
}

// =============================================================================
// Least connections
// =============================================================================

// LeastConnections picks the host with the fewest recorded allocations.
type LeastConnections struct {
	ledger Ledger
}

// NewLeastConnections creates a least-connections policy.
func NewLeastConnections(ledger Ledger) *LeastConnections {
	return &LeastConnections{ledger: ledger}
}

// Name implements Policy.
func (p *LeastConnections) Name() string { return PolicyLeastConnections }

// Select implements Policy. Ties go to the earliest registered host.
func (p *LeastConnections) Select(ctx context.Context, hosts []*domain.Host) (*domain.Host, error) {
	if len(hosts) == 0 {
		return nil, domain.ErrNoHostsAvailable
	}

	var best *domain.Host
	bestCount := 0
	for _, host := range hosts {
		count, err := p.ledger.CountByHost(ctx, host.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count allocations for host %s: %w", host.ID, err)
		}
		if best == nil || count < bestCount {
			best = host
			bestCount = count
		}
	}

	return best, nil
}

// =============================================================================
// Weighted resource
// =============================================================================

// Resource weights used by WeightedResource.
const (
	CPUWeight = 0.7
	RAMWeight = 0.3
)

// WeightedResource picks the host with the lowest weighted CPU/RAM usage.
type WeightedResource struct{}

// NewWeightedResource creates a weighted-resource policy.
func NewWeightedResource() *WeightedResource {
	return &WeightedResource{}
}

// Name implements Policy.
func (p *WeightedResource) Name() string { return PolicyWeighted }

// Score returns the weighted usage of a host. Lower is better.
func (p *WeightedResource) Score(host *domain.Host) float64 {
	return CPUWeight*host.CPUUsage + RAMWeight*host.RAMUsage
}

// Select implements Policy. Ties go to the earliest registered host.
func (p *WeightedResource) Select(ctx context.Context, hosts []*domain.Host) (*domain.Host, error) {
	if len(hosts) == 0 {
		return nil, domain.ErrNoHostsAvailable
	}

	best := hosts[0]
	bestScore := p.Score(best)
	for _, host := range hosts[1:] {
		if score := p.Score(host); score < bestScore {
			best = host
			bestScore = score
		}
	}

	return best, nil
}
