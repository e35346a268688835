package health

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/touchlink/gateway/internal/domain"
)

type fakeNode struct {
	count int
	start time.Time
}

func (f *fakeNode) RegisterConn(domain.ClientConnection)   {}
func (f *fakeNode) UnregisterConn(domain.ClientConnection) {}
func (f *fakeNode) GetActiveConnectionCount() int64        { return int64(f.count) }
func (f *fakeNode) GetConnectionCount() int                { return f.count }
func (f *fakeNode) GetStartTime() time.Time                { return f.start }

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func TestHealthyWithoutTelemetry(t *testing.T) {
	hc := NewHealthChecker(nil, &fakeNode{count: 5, start: time.Now()}, 100, zap.NewNop(), "test")
	resp := hc.CheckHealth(context.Background())
	if resp.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
}

func TestTelemetryFailureDegrades(t *testing.T) {
	pinger := &fakePinger{err: fmt.Errorf("connection refused")}
	hc := NewHealthChecker(pinger, &fakeNode{start: time.Now()}, 100, zap.NewNop(), "test")
	resp := hc.CheckHealth(context.Background())
	if resp.Status != StatusDegraded {
		t.Errorf("telemetry failure should degrade, not %s", resp.Status)
	}
}

func TestNearConnectionLimitDegrades(t *testing.T) {
	hc := NewHealthChecker(nil, &fakeNode{count: 95, start: time.Now()}, 100, zap.NewNop(), "test")
	resp := hc.CheckHealth(context.Background())
	if resp.Status != StatusDegraded {
		t.Errorf("expected degraded near the limit, got %s", resp.Status)
	}
}

func TestHandleHealthStatusCode(t *testing.T) {
	hc := NewHealthChecker(nil, &fakeNode{start: time.Now()}, 100, zap.NewNop(), "test")
	rec := httptest.NewRecorder()
	hc.HandleHealth(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}
