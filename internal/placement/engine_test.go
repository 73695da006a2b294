package placement

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

func newTestEngine(hosts ...*domain.Host) (*Engine, *MockHostRegistry, *MockLedger, *MockPublisher) {
	registry := NewMockHostRegistry(hosts...)
	ledger := NewMockLedger()
	publisher := &MockPublisher{}
	engine := NewEngine(registry, ledger, publisher, DefaultConfig(), zap.NewNop())
	return engine, registry, ledger, publisher
}

func TestEngine_Allocate_Scenario(t *testing.T) {
	ctx := context.Background()
	engine, _, _, publisher := newTestEngine(scenarioHosts()...)

	cases := []struct {
		vmID   string
		policy string
		want   string
	}{
		{"vm1", PolicyWeighted, "C"},
		{"vm2", PolicyRoundRobin, "A"},
		// vm1 sits on C and vm2 on A, so B is the only host without allocations
		{"vm3", PolicyLeastConnections, "B"},
	}

	for _, tc := range cases {
		result, err := engine.Allocate(ctx, tc.vmID, tc.policy)
		if err != nil {
			t.Fatalf("Allocate(%s, %s) failed: %v", tc.vmID, tc.policy, err)
		}
		if result.HostID != tc.want {
			t.Errorf("Allocate(%s, %s): expected %s, got %s", tc.vmID, tc.policy, tc.want, result.HostID)
		}
		if result.Message != domain.AllocationMessage(tc.vmID, tc.want) {
			t.Errorf("Unexpected message %q", result.Message)
		}
		if result.Allocation == nil || result.Allocation.Policy != tc.policy {
			t.Errorf("Expected allocation recorded with policy %s, got %+v", tc.policy, result.Allocation)
		}
	}

	events := publisher.Events()
	if len(events) != len(cases) {
		t.Fatalf("Expected %d events, got %d", len(cases), len(events))
	}
	for i, ev := range events {
		if ev.VMID != cases[i].vmID || ev.HostID != cases[i].want {
			t.Errorf("event %d: unexpected %+v", i, ev)
		}
		if ev.ID == "" {
			t.Errorf("event %d: missing ID", i)
		}
	}
}

func TestEngine_Allocate_LeastConnectionsWithoutHistory(t *testing.T) {
	engine, _, _, _ := newTestEngine(scenarioHosts()...)

	result, err := engine.Allocate(context.Background(), "vm3", PolicyLeastConnections)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if result.HostID != "A" {
		t.Errorf("Expected A (earliest registered), got %s", result.HostID)
	}
}

func TestEngine_Allocate_NoActiveHosts(t *testing.T) {
	inactive := &domain.Host{ID: "off", Status: domain.HostStatusInactive}

	for _, policy := range []string{PolicyRoundRobin, PolicyLeastConnections, PolicyWeighted, ""} {
		engine, _, ledger, publisher := newTestEngine(inactive)

		_, err := engine.Allocate(context.Background(), "vm-1", policy)
		if !errors.Is(err, domain.ErrNoActiveHosts) {
			t.Errorf("policy %q: expected ErrNoActiveHosts, got %v", policy, err)
		}
		if n := len(ledger.allocations); n != 0 {
			t.Errorf("policy %q: expected no allocations, got %d", policy, n)
		}
		if n := len(publisher.Events()); n != 0 {
			t.Errorf("policy %q: expected no events, got %d", policy, n)
		}
	}
}

func TestEngine_Allocate_UnknownPolicy(t *testing.T) {
	engine, _, _, _ := newTestEngine(scenarioHosts()...)

	_, err := engine.Allocate(context.Background(), "vm-1", "random")
	if !errors.Is(err, domain.ErrUnknownPolicy) {
		t.Errorf("Expected ErrUnknownPolicy, got %v", err)
	}
}

func TestEngine_Allocate_DefaultsToWeighted(t *testing.T) {
	engine, _, _, _ := newTestEngine(scenarioHosts()...)

	result, err := engine.Allocate(context.Background(), "vm-1", "")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if result.HostID != "C" {
		t.Errorf("Expected weighted choice C, got %s", result.HostID)
	}
	if result.Allocation.Policy != PolicyWeighted {
		t.Errorf("Expected policy %s, got %s", PolicyWeighted, result.Allocation.Policy)
	}
}

func TestEngine_Allocate_EmptyVMID(t *testing.T) {
	engine, _, _, _ := newTestEngine(scenarioHosts()...)

	if _, err := engine.Allocate(context.Background(), "", PolicyWeighted); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestEngine_Allocate_RejectsReusedVMID(t *testing.T) {
	ctx := context.Background()
	engine, _, ledger, _ := newTestEngine(scenarioHosts()...)

	if _, err := engine.Allocate(ctx, "vm-1", PolicyRoundRobin); err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}

	_, err := engine.Allocate(ctx, "vm-1", PolicyRoundRobin)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}

	// The rejected request must not consume a round-robin slot
	if got := ledger.cursor.Load(); got != 1 {
		t.Errorf("Expected cursor 1, got %d", got)
	}
}

func TestEngine_Allocate_PublishFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	engine, _, ledger, publisher := newTestEngine(scenarioHosts()...)
	publisher.err = errSubscriberGone

	result, err := engine.Allocate(ctx, "vm-1", PolicyWeighted)
	if err != nil {
		t.Fatalf("Allocate should succeed despite publish failure: %v", err)
	}
	if _, err := ledger.Get(ctx, "vm-1"); err != nil {
		t.Errorf("Allocation should remain committed: %v", err)
	}
	if result.HostID != "C" {
		t.Errorf("Expected C, got %s", result.HostID)
	}
}

func TestEngine_Allocate_RecordFailure(t *testing.T) {
	engine, _, ledger, publisher := newTestEngine(scenarioHosts()...)
	ledger.recordErr = errors.New("disk full")

	if _, err := engine.Allocate(context.Background(), "vm-1", PolicyWeighted); err == nil {
		t.Fatal("Expected error when ledger cannot record")
	}
	if n := len(publisher.Events()); n != 0 {
		t.Errorf("Expected no events for failed commit, got %d", n)
	}
}

func TestEngine_Allocate_ConcurrentRoundRobinSingleHost(t *testing.T) {
	engine, _, ledger, _ := newTestEngine(activeHost("only", 5, 5))

	var wg sync.WaitGroup
	results := make([]*AllocationResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Allocate(context.Background(), []string{"vm-a", "vm-b"}[i], PolicyRoundRobin)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Allocate %d failed: %v", i, errs[i])
		}
		if results[i].HostID != "only" {
			t.Errorf("Allocate %d: expected only, got %s", i, results[i].HostID)
		}
	}
	if got := ledger.cursor.Load(); got != 2 {
		t.Errorf("Expected cursor to advance by 2, got %d", got)
	}
}

func TestEngine_Allocate_ConcurrentRoundRobinSpreadsEvenly(t *testing.T) {
	engine, _, ledger, _ := newTestEngine(scenarioHosts()...)

	const n = 300
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := engine.Allocate(context.Background(), vmName(i), PolicyRoundRobin); err != nil {
				t.Errorf("Allocate failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range []string{"A", "B", "C"} {
		count, _ := ledger.CountByHost(context.Background(), id)
		if count != n/3 {
			t.Errorf("host %s: expected %d allocations, got %d", id, n/3, count)
		}
	}
}

func TestEngine_DeregisterKeepsHistory(t *testing.T) {
	ctx := context.Background()
	engine, registry, ledger, _ := newTestEngine(scenarioHosts()...)

	if _, err := engine.Allocate(ctx, "vm-1", PolicyWeighted); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := registry.Deregister(ctx, "C"); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}

	a, err := ledger.Get(ctx, "vm-1")
	if err != nil {
		t.Fatalf("allocation lost after deregistration: %v", err)
	}
	if a.HostID != "C" {
		t.Errorf("Expected allocation to still reference C, got %s", a.HostID)
	}

	result, err := engine.Allocate(ctx, "vm-2", PolicyWeighted)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if result.HostID != "A" {
		t.Errorf("Expected A once C is gone, got %s", result.HostID)
	}
}

type firstHostPolicy struct{}

func (firstHostPolicy) Name() string { return "first" }

func (firstHostPolicy) Select(ctx context.Context, hosts []*domain.Host) (*domain.Host, error) {
	if len(hosts) == 0 {
		return nil, domain.ErrNoHostsAvailable
	}
	return hosts[0], nil
}

func TestEngine_RegisterPolicy(t *testing.T) {
	engine, _, _, _ := newTestEngine(scenarioHosts()...)
	engine.RegisterPolicy(firstHostPolicy{})

	result, err := engine.Allocate(context.Background(), "vm-1", "first")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if result.HostID != "A" {
		t.Errorf("Expected A, got %s", result.HostID)
	}
}

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *countingRecorder) ObserveAllocation(policy, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[policy+"/"+result]++
}

func (r *countingRecorder) ObserveSelection(string, string) {}

func TestEngine_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	rec := &countingRecorder{results: map[string]int{}}
	engine := NewEngine(NewMockHostRegistry(scenarioHosts()...), NewMockLedger(), nil, DefaultConfig(), zap.NewNop(), WithRecorder(rec))

	engine.Allocate(ctx, "vm-1", PolicyWeighted)
	engine.Allocate(ctx, "vm-1", PolicyWeighted)
	engine.Allocate(ctx, "vm-2", "bogus")

	want := map[string]int{
		"weighted/success":       1,
		"weighted/duplicate":     1,
		"unknown/unknown_policy": 1,
	}
	for k, v := range want {
		if rec.results[k] != v {
			t.Errorf("%s: expected %d, got %d", k, v, rec.results[k])
		}
	}
}

func vmName(i int) string {
	return "vm-" + strconv.Itoa(i)
}
