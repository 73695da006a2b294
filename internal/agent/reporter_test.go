package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/cli"
)

type fakeSampler struct {
	mu      sync.Mutex
	samples []Usage
	calls   int
}

func (f *fakeSampler) Sample(context.Context) (Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.samples[min(f.calls, len(f.samples)-1)]
	f.calls++
	return u, nil
}

type request struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

type recorder struct {
	mu       sync.Mutex
	requests []request
	conflict bool
}

func (rec *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)

		rec.mu.Lock()
		rec.requests = append(rec.requests, request{Method: r.Method, Path: r.URL.Path, Body: body})
		conflict := rec.conflict
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost && conflict {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"code": "already_exists", "message": "host exists"})
			return
		}
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"host_id": "node-1", "status": body["status"]})
	}
}

func (rec *recorder) snapshot() []request {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]request(nil), rec.requests...)
}

func TestReporter_Register(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	sampler := &fakeSampler{samples: []Usage{{CPUPercent: 12, RAMPercent: 34}}}
	r := NewReporter(cli.NewClient(srv.URL), sampler, "node-1", time.Hour, zap.NewNop())

	if err := r.Register(context.Background()); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	reqs := rec.snapshot()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	got := reqs[0]
	if got.Method != http.MethodPost || got.Path != "/api/v1/hosts" {
		t.Errorf("Expected POST /api/v1/hosts, got %s %s", got.Method, got.Path)
	}
	if got.Body["host_id"] != "node-1" || got.Body["cpu_usage"] != 12.0 || got.Body["ram_usage"] != 34.0 {
		t.Errorf("Unexpected body: %v", got.Body)
	}
	if got.Body["status"] != "active" {
		t.Errorf("Expected active status, got %v", got.Body["status"])
	}
}

func TestReporter_RegisterExisting(t *testing.T) {
	rec := &recorder{conflict: true}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	sampler := &fakeSampler{samples: []Usage{{CPUPercent: 5, RAMPercent: 6}}}
	r := NewReporter(cli.NewClient(srv.URL), sampler, "node-1", time.Hour, zap.NewNop())

	if err := r.Register(context.Background()); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	reqs := rec.snapshot()
	if len(reqs) != 2 {
		t.Fatalf("Expected POST then PUT, got %d requests", len(reqs))
	}
	if reqs[1].Method != http.MethodPut || reqs[1].Path != "/api/v1/hosts/node-1" {
		t.Errorf("Expected PUT /api/v1/hosts/node-1, got %s %s", reqs[1].Method, reqs[1].Path)
	}
}

func TestReporter_RegisterError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sampler := &fakeSampler{samples: []Usage{{}}}
	r := NewReporter(cli.NewClient(srv.URL), sampler, "node-1", time.Hour, zap.NewNop())

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "register host") {
		t.Errorf("Unexpected error %v", err)
	}
}

func TestReporter_Run(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	sampler := &fakeSampler{samples: []Usage{
		{CPUPercent: 10, RAMPercent: 20},
		{CPUPercent: 30, RAMPercent: 40},
	}}
	r := NewReporter(cli.NewClient(srv.URL), sampler, "node-1", 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		puts := 0
		for _, req := range rec.snapshot() {
			if req.Method == http.MethodPut {
				puts++
			}
		}
		if puts >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for status reports")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	reqs := rec.snapshot()
	last := reqs[len(reqs)-1]
	if last.Method != http.MethodPut || last.Body["status"] != "inactive" {
		t.Fatalf("Expected final inactive report, got %s %v", last.Method, last.Body)
	}
	if last.Body["cpu_usage"] != 30.0 {
		t.Errorf("Expected last sample in final report, got %v", last.Body["cpu_usage"])
	}
}

func TestSystemSampler(t *testing.T) {
	usage, err := NewSystemSampler(50 * time.Millisecond).Sample(context.Background())
	if err != nil {
		if strings.Contains(err.Error(), "not implemented yet") {
			t.Skip("Skipping test: CPU metrics not available on this platform")
		}
		t.Fatalf("Sample() error: %v", err)
	}

	if usage.CPUPercent < 0 || usage.CPUPercent > 100 {
		t.Errorf("CPU percent out of range: %v", usage.CPUPercent)
	}
	if usage.RAMPercent <= 0 || usage.RAMPercent > 100 {
		t.Errorf("RAM percent out of range: %v", usage.RAMPercent)
	}
}
