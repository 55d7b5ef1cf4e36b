package health

import (
	"sync/atomic"
	"testing"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}

	if status.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %s", status.Version)
	}

	if status.UptimeSeconds < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestChecker_SetComponent(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("uplink", true, "connected")

	status := checker.GetStatus()

	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}

	up, ok := status.Components["uplink"]
	if !ok {
		t.Fatal("expected uplink component")
	}

	if !up.Healthy {
		t.Error("expected uplink to be healthy")
	}

	if up.Message != "connected" {
		t.Errorf("expected message 'connected', got %s", up.Message)
	}
}

func TestChecker_Degraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetRequired("source", true, "ok")
	checker.SetComponent("uplink", false, "disconnected")

	status := checker.GetStatus()

	if status.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %s", status.Status)
	}

	if checker.IsHealthy() {
		t.Error("expected IsHealthy() to return false")
	}
}

func TestChecker_UnhealthyWhenRequiredFails(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("uplink", false, "disconnected")
	checker.SetRequired("source", false, "no data")

	status := checker.GetStatus()

	if status.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %s", status.Status)
	}

	names := checker.Unhealthy()
	if len(names) != 2 || names[0] != "source" || names[1] != "uplink" {
		t.Errorf("unexpected unhealthy list %v", names)
	}
}

func TestChecker_Recovery(t *testing.T) {
	checker := NewChecker("1.0.0")

	// Start unhealthy
	checker.SetRequired("source", false, "error")

	if checker.IsHealthy() {
		t.Error("expected unhealthy")
	}

	// Recover, required flag is kept
	checker.SetComponent("source", true, "recovered")

	if !checker.IsHealthy() {
		t.Error("expected healthy after recovery")
	}

	status := checker.GetStatus()
	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
	if !status.Components["source"].Required {
		t.Error("expected source to stay required")
	}
}

func TestChecker_Probes(t *testing.T) {
	checker := NewChecker("1.0.0")

	var healthy atomic.Bool
	healthy.Store(true)

	calls := 0
	checker.Register("source", true, func() (bool, string) {
		calls++
		if healthy.Load() {
			return true, "simulated"
		}
		return false, "stalled"
	})
	checker.Register("tracker", false, func() (bool, string) { return true, "" })

	status := checker.GetStatus()
	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
	if len(status.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(status.Components))
	}

	healthy.Store(false)

	status = checker.GetStatus()
	if status.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %s", status.Status)
	}
	if status.Components["source"].Message != "stalled" {
		t.Errorf("expected message 'stalled', got %s", status.Components["source"].Message)
	}
	if calls != 2 {
		t.Errorf("expected probe evaluated twice, got %d", calls)
	}
}
