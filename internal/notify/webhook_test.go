package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestWebhookSubscriber_Deliver(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/notify" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := NewWebhookSubscriber(server.URL+"/notify", zap.NewNop())
	if err := w.Deliver(context.Background(), testEvent("vm-1")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if got["pc_id"] != "PC1" || got["vm_id"] != "vm-1" {
		t.Errorf("Unexpected payload %v", got)
	}
	if got["message"] != "VM vm-1 allocated to PC PC1" {
		t.Errorf("Unexpected message %v", got["message"])
	}
}

func TestWebhookSubscriber_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	w := NewWebhookSubscriber(server.URL, zap.NewNop())
	if err := w.Deliver(context.Background(), testEvent("vm-1")); err == nil {
		t.Error("Expected error for HTTP 502")
	}
}

func TestWebhookSubscriber_RecoversOnBus(t *testing.T) {
	var (
		mu        sync.Mutex
		calls     int
		delivered []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		delivered = append(delivered, body["vm_id"].(string))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var lost []DropReason
	bus := NewBus(DefaultConfig(), zap.NewNop(), WithDropHandler(func(_ string, reason DropReason) {
		mu.Lock()
		defer mu.Unlock()
		lost = append(lost, reason)
	}))
	defer bus.Close()

	s, err := bus.Subscribe("orchestrator", NewWebhookSubscriber(server.URL, zap.NewNop()), Persistent())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(testEvent("vm-1"))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lost) == 1
	})

	for _, vm := range []string{"vm-2", "vm-3", "vm-4", "vm-5"} {
		if err := bus.Publish(testEvent(vm)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 4
	})

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(delivered, ",") != "vm-2,vm-3,vm-4,vm-5" {
		t.Errorf("Unexpected deliveries %v", delivered)
	}
	if lost[0] != DropDeliveryFailed {
		t.Errorf("Expected %s, got %s", DropDeliveryFailed, lost[0])
	}
	if bus.Len() != 1 {
		t.Errorf("Expected webhook to stay subscribed, got %d subscriptions", bus.Len())
	}
	select {
	case <-s.Done():
		t.Error("Persistent subscription was removed")
	default:
	}
}
