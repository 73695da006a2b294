package placement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// Recorder receives allocation outcomes for metrics.
type Recorder interface {
	ObserveAllocation(policy, result string, elapsed time.Duration)
	ObserveSelection(policy, hostID string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAllocation(string, string, time.Duration) {}
func (nopRecorder) ObserveSelection(string, string)                 {}

// Allocation results reported to the Recorder.
const (
	ResultSuccess       = "success"
	ResultNoHosts       = "no_hosts"
	ResultUnknownPolicy = "unknown_policy"
	ResultDuplicate     = "duplicate"
	ResultInvalid       = "invalid"
	ResultError         = "error"
)

// unknownPolicyLabel keeps caller-supplied names out of metric labels.
const unknownPolicyLabel = "unknown"

// AllocationResult is returned to the caller of Allocate.
type AllocationResult struct {
	HostID     string             `json:"host_id"`
	Message    string             `json:"message"`
	Allocation *domain.Allocation `json:"allocation"`
}

// Engine assigns VMs to hosts.
type Engine struct {
	registry  HostRegistry
	ledger    Ledger
	publisher Publisher
	recorder  Recorder
	config    Config
	logger    *zap.Logger

	mu       sync.RWMutex
	policies map[string]Policy
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEngine creates an allocation engine with the built-in policies.
func NewEngine(registry HostRegistry, ledger Ledger, publisher Publisher, config Config, logger *zap.Logger, opts ...EngineOption) *Engine {
	if config.DefaultPolicy == "" {
		config.DefaultPolicy = PolicyWeighted
	}

	e := &Engine{
		registry:  registry,
		ledger:    ledger,
		publisher: publisher,
		recorder:  nopRecorder{},
		config:    config,
		logger:    logger.With(zap.String("component", "allocation-engine")),
		policies:  DefaultPolicies(ledger),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RegisterPolicy adds or replaces a policy under its name.
func (e *Engine) RegisterPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name()] = p
}

// Policy resolves a policy name. An empty name selects the default policy.
func (e *Engine) Policy(name string) (Policy, error) {
	if name == "" {
		name = e.config.DefaultPolicy
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPolicy, name)
	}
	return p, nil
}

// Allocate picks a host for vmID using the named policy and records the decision.
func (e *Engine) Allocate(ctx context.Context, vmID, policyName string) (*AllocationResult, error) {
	start := time.Now()
	logger := e.logger.With(zap.String("vm_id", vmID))

	if vmID == "" {
		e.recorder.ObserveAllocation(unknownPolicyLabel, ResultInvalid, time.Since(start))
		return nil, fmt.Errorf("%w: vm_id is required", domain.ErrInvalidArgument)
	}

	// 1. Resolve policy
	policy, err := e.Policy(policyName)
	if err != nil {
		logger.Warn("Unknown placement policy", zap.String("policy", policyName))
		e.recorder.ObserveAllocation(unknownPolicyLabel, ResultUnknownPolicy, time.Since(start))
		return nil, err
	}
	name := policy.Name()
	logger = logger.With(zap.String("policy", name))

	// A vmID is allocated at most once
	if existing, err := e.ledger.Get(ctx, vmID); err == nil {
		logger.Warn("VM already allocated", zap.String("host_id", existing.HostID))
		e.recorder.ObserveAllocation(name, ResultDuplicate, time.Since(start))
		return nil, fmt.Errorf("%w: vm %s is already allocated to %s", domain.ErrAlreadyExists, vmID, existing.HostID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		e.recorder.ObserveAllocation(name, ResultError, time.Since(start))
		return nil, fmt.Errorf("failed to look up allocation: %w", err)
	}

	// 2. Snapshot active hosts
	hosts, err := e.registry.ActiveHosts(ctx)
	if err != nil {
		logger.Error("Failed to list active hosts", zap.Error(err))
		e.recorder.ObserveAllocation(name, ResultError, time.Since(start))
		return nil, fmt.Errorf("failed to list active hosts: %w", err)
	}
	if len(hosts) == 0 {
		logger.Warn("No active hosts available")
		e.recorder.ObserveAllocation(name, ResultNoHosts, time.Since(start))
		return nil, domain.ErrNoActiveHosts
	}

	// 3. Select
	host, err := policy.Select(ctx, hosts)
	if err != nil {
		if errors.Is(err, domain.ErrNoHostsAvailable) {
			e.recorder.ObserveAllocation(name, ResultNoHosts, time.Since(start))
			return nil, domain.ErrNoActiveHosts
		}
		logger.Error("Placement policy failed", zap.Error(err))
		e.recorder.ObserveAllocation(name, ResultError, time.Since(start))
		return nil, fmt.Errorf("placement policy %s failed: %w", name, err)
	}

	// 4. Commit
	allocation, err := e.ledger.Record(ctx, vmID, host.ID, name)
	if err != nil {
		result := ResultError
		if errors.Is(err, domain.ErrAlreadyExists) {
			result = ResultDuplicate
		}
		logger.Error("Failed to record allocation", zap.String("host_id", host.ID), zap.Error(err))
		e.recorder.ObserveAllocation(name, result, time.Since(start))
		return nil, fmt.Errorf("failed to record allocation: %w", err)
	}

	message := domain.AllocationMessage(vmID, host.ID)

	// 5. Notify. The allocation is committed; a publish failure only gets logged.
	if e.publisher != nil {
		event := domain.AllocationEvent{
			ID:        uuid.New().String(),
			HostID:    host.ID,
			VMID:      vmID,
			Policy:    name,
			Message:   message,
			Timestamp: allocation.CreatedAt,
		}
		if err := e.publisher.Publish(event); err != nil {
			logger.Warn("Failed to publish allocation event",
				zap.String("host_id", host.ID),
				zap.Error(err),
			)
		}
	}

	elapsed := time.Since(start)
	e.recorder.ObserveSelection(name, host.ID)
	e.recorder.ObserveAllocation(name, ResultSuccess, elapsed)

	logger.Info("Allocated VM",
		zap.String("host_id", host.ID),
		zap.Int("active_hosts", len(hosts)),
		zap.Duration("duration", elapsed),
	)
	if e.config.SlowAllocationThreshold > 0 && elapsed > e.config.SlowAllocationThreshold {
		logger.Warn("Slow allocation", zap.Duration("duration", elapsed))
	}

	return &AllocationResult{
		HostID:     host.ID,
		Message:    message,
		Allocation: allocation,
	}, nil
}
