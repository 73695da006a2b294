package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/placement/internal/notify"
	"github.com/limiquantix/placement/internal/placement"
)

func TestCollector_ObserveAllocation(t *testing.T) {
	c := NewCollector()

	c.ObserveAllocation(placement.PolicyWeighted, placement.ResultSuccess, 3*time.Millisecond)
	c.ObserveAllocation(placement.PolicyWeighted, placement.ResultSuccess, 5*time.Millisecond)
	c.ObserveAllocation(placement.PolicyRoundRobin, placement.ResultNoHosts, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.allocationsTotal.WithLabelValues("weighted", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.allocationsTotal.WithLabelValues("round_robin", "no_hosts")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.allocationsTotal.WithLabelValues("least_connection", "success")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.allocationDuration))
}

func TestCollector_ObserveSelection(t *testing.T) {
	c := NewCollector()

	c.ObserveSelection("weighted", "PC3")
	c.ObserveSelection("weighted", "PC3")
	c.ObserveSelection("round_robin", "PC1")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.hostSelectionsTotal.WithLabelValues("weighted", "PC3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.hostSelectionsTotal.WithLabelValues("round_robin", "PC1")))
}

func TestCollector_NotificationDropped(t *testing.T) {
	c := NewCollector()

	c.NotificationDropped("ws-1", notify.DropQueueFull)
	c.NotificationDropped("orchestrator", notify.DropDeliveryFailed)
	c.NotificationDropped("ws-2", notify.DropQueueFull)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.notificationsDropped.WithLabelValues("queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notificationsDropped.WithLabelValues("delivery_failed")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveAllocation("weighted", "success", time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `placement_allocations_total{policy="weighted",result="success"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
