package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-mlat/internal/config"
	"github.com/teslashibe/go-mlat/internal/harness"
	"github.com/teslashibe/go-mlat/internal/health"
	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/pathloss"
	"github.com/teslashibe/go-mlat/internal/protocol"
	"github.com/teslashibe/go-mlat/internal/simulator"
	"github.com/teslashibe/go-mlat/internal/tracker"
)

func setupTestServer(t *testing.T) (*Server, *tracker.Tracker, *simulator.Source) {
	t.Helper()

	cfg := config.Default()

	source, err := simulator.NewSource(simulator.Config{
		Scenario: cfg.Scene.Scenario(),
		Motion:   simulator.Motion{Center: mlat.Pt(4, 4)},
	})
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	trackerCfg := tracker.DefaultTrackerConfig()
	trackerCfg.PollInterval = 10 * time.Millisecond

	logger := slog.Default()
	trk := tracker.NewTracker(source, trackerCfg, logger)

	server := New(cfg, trk, health.NewChecker("test"), logger, "test")

	return server, trk, source
}

func runTracker(t *testing.T, trk *tracker.Tracker) {
	t.Helper()

	go func() {
		trk.Run(t.Context())
	}()
	t.Cleanup(trk.Stop)
	time.Sleep(50 * time.Millisecond)
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, data
}

func TestServer_Health(t *testing.T) {
	server, _, source := setupTestServer(t)

	resp, body := doRequest(t, server, "GET", "/health", nil)
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var status health.Status
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if status.Version != "test" {
		t.Errorf("expected version 'test', got %v", status.Version)
	}
	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
	if _, ok := status.Components["source"]; !ok {
		t.Error("expected source component in response")
	}

	source.SetHealthy(false)

	resp, body = doRequest(t, server, "GET", "/health", nil)
	if resp.StatusCode != 503 {
		t.Errorf("expected status 503 with failed source, got %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if status.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %s", status.Status)
	}
}

func TestServer_Position(t *testing.T) {
	server, trk, _ := setupTestServer(t)
	runTracker(t, trk)

	resp, body := doRequest(t, server, "GET", "/api/position", nil)
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var fix tracker.Fix
	if err := json.Unmarshal(body, &fix); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if fix.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if !fix.Valid {
		t.Fatalf("expected valid fix, got error %q", fix.Error)
	}
	if d := mlat.Distance(fix.Estimate.Position, mlat.Pt(4, 4)); d > 1e-6 {
		t.Errorf("estimate %v is %g from (4, 4)", fix.Estimate.Position, d)
	}
}

func TestServer_History(t *testing.T) {
	server, trk, _ := setupTestServer(t)
	runTracker(t, trk)

	resp, body := doRequest(t, server, "GET", "/api/history?limit=2", nil)
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var fixes []tracker.Fix
	if err := json.Unmarshal(body, &fixes); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if len(fixes) != 2 {
		t.Errorf("expected 2 fixes, got %d", len(fixes))
	}
}

func TestServer_Stats(t *testing.T) {
	server, trk, _ := setupTestServer(t)
	runTracker(t, trk)

	resp, body := doRequest(t, server, "GET", "/api/stats", nil)
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var stats tracker.TrackerStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if stats.PollCount == 0 {
		t.Error("expected non-zero poll count")
	}
	if stats.SourceName != "simulated" {
		t.Errorf("expected source 'simulated', got %s", stats.SourceName)
	}
}

func TestServer_Metrics(t *testing.T) {
	server, trk, _ := setupTestServer(t)
	runTracker(t, trk)

	// Populate the estimate counters
	doRequest(t, server, "POST", "/api/estimate", estimateRequest{
		X: []float64{0, 3, 10},
		Y: []float64{0, 8, 5},
		R: []float64{5.657, 4.123, 6.083},
	})

	resp, body := doRequest(t, server, "GET", "/metrics", nil)
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)

	// Check for expected metrics
	expectedMetrics := []string{
		"go_mlat_tracker_polls_total",
		"go_mlat_position_x_meters",
		"go_mlat_position_confidence",
		"go_mlat_source_healthy 1",
		"go_mlat_websocket_clients 0",
		`go_mlat_estimates_total{endpoint="estimate",outcome="ok"} 1`,
		"go_mlat_estimate_duration_seconds_bucket",
		`go_mlat_http_requests_total{method="POST",route="/api/estimate",status="200"} 1`,
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("expected metric %s in response", metric)
		}
	}
}

func TestServer_Config(t *testing.T) {
	server, _, _ := setupTestServer(t)

	resp, body := doRequest(t, server, "GET", "/api/config", nil)
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	serverCfg := result["server"].(map[string]interface{})
	if serverCfg["port"].(float64) != 9000 {
		t.Errorf("expected port 9000, got %v", serverCfg["port"])
	}

	trackerCfg := result["tracker"].(map[string]interface{})
	if trackerCfg["trim_fraction"].(float64) != 0.25 {
		t.Errorf("expected trim_fraction 0.25, got %v", trackerCfg["trim_fraction"])
	}
}

func TestServer_UpdateConfig(t *testing.T) {
	server, trk, _ := setupTestServer(t)

	trim := 0.1
	resp, _ := doRequest(t, server, "PATCH", "/api/config", protocol.ConfigUpdate{TrimFraction: &trim})
	if resp.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if got := trk.Options().TrimFraction; got != 0.1 {
		t.Errorf("expected tracker trim 0.1, got %v", got)
	}

	bad := 2.0
	resp, _ = doRequest(t, server, "PATCH", "/api/config", protocol.ConfigUpdate{TrimFraction: &bad})
	if resp.StatusCode != 400 {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}
	if got := trk.Options().TrimFraction; got != 0.1 {
		t.Errorf("rejected update changed trim to %v", got)
	}
}

func TestServer_Estimate(t *testing.T) {
	server, _, _ := setupTestServer(t)

	resp, body := doRequest(t, server, "POST", "/api/estimate", estimateRequest{
		X: []float64{0, 3, 10},
		Y: []float64{0, 8, 5},
		R: []float64{5.657, 4.123, 6.083},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, body)
	}

	var result mlat.EstimationResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if d := mlat.Distance(result.Position, mlat.Pt(4, 4)); d > 1e-2 {
		t.Errorf("estimate %v is %g from (4, 4)", result.Position, d)
	}
	if result.Pairs != 3 || result.Discarded != 0 {
		t.Errorf("unexpected counters %+v", result)
	}
}

func TestServer_Estimate_Errors(t *testing.T) {
	server, _, _ := setupTestServer(t)

	tests := []struct {
		name   string
		req    estimateRequest
		status int
		field  string
	}{
		{
			name:   "mismatched lengths",
			req:    estimateRequest{X: []float64{0, 1}, Y: []float64{0}, R: []float64{1, 1}},
			status: 400,
			field:  "reference_points",
		},
		{
			name:   "negative range",
			req:    estimateRequest{X: []float64{0, 1}, Y: []float64{0, 0}, R: []float64{1, -1}},
			status: 400,
		},
		{
			name:   "disjoint circles",
			req:    estimateRequest{X: []float64{0, 100}, Y: []float64{0, 0}, R: []float64{1, 1}},
			status: 422,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doRequest(t, server, "POST", "/api/estimate", tt.req)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, resp.StatusCode, body)
			}

			var errResp struct {
				Error  string                 `json:"error"`
				Field  string                 `json:"field"`
				Result *mlat.EstimationResult `json:"result"`
			}
			if err := json.Unmarshal(body, &errResp); err != nil {
				t.Fatalf("failed to parse JSON: %v", err)
			}
			if errResp.Error == "" {
				t.Error("expected error message")
			}
			if tt.field != "" && errResp.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, errResp.Field)
			}
			if tt.status == 422 {
				if errResp.Result == nil || errResp.Result.Discarded != 2 {
					t.Errorf("expected partial result with 2 discarded roots, got %+v", errResp.Result)
				}
			}
		})
	}
}

func TestServer_Distance(t *testing.T) {
	server, _, _ := setupTestServer(t)

	link := pathloss.Link{Wavelength: 0.1}
	pr, err := pathloss.ReceivedPower(link, 10)
	if err != nil {
		t.Fatalf("ReceivedPower() error = %v", err)
	}

	resp, body := doRequest(t, server, "POST", "/api/distance", distanceRequest{Link: link, ReceivedPower: pr})
	if resp.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, body)
	}

	var result distanceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if math.Abs(result.Distance-10) > 1e-9 {
		t.Errorf("expected distance 10, got %v", result.Distance)
	}

	resp, _ = doRequest(t, server, "POST", "/api/distance", distanceRequest{ReceivedPower: pr})
	if resp.StatusCode != 400 {
		t.Errorf("expected status 400 for zero wavelength, got %d", resp.StatusCode)
	}
}

func TestServer_Simulate(t *testing.T) {
	server, _, _ := setupTestServer(t)

	// Empty body runs the configured scene
	resp, body := doRequest(t, server, "POST", "/api/simulate", map[string]interface{}{})
	if resp.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, body)
	}

	var out harness.Outcome
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if out.Exact != mlat.Pt(4, 4) {
		t.Errorf("expected exact (4, 4), got %v", out.Exact)
	}
	if out.DistanceApart > 1e-6 {
		t.Errorf("expected noiseless estimate at the transmitter, off by %g", out.DistanceApart)
	}

	resp, _ = doRequest(t, server, "POST", "/api/simulate", map[string]interface{}{
		"observers": []map[string]interface{}{{"position": map[string]float64{"x": 0, "y": 0}}},
	})
	if resp.StatusCode != 400 {
		t.Errorf("expected status 400 for a single observer, got %d", resp.StatusCode)
	}
}

func TestServer_PositionStream_UpgradeRequired(t *testing.T) {
	server, _, _ := setupTestServer(t)

	// Non-WebSocket request should get 426
	resp, _ := doRequest(t, server, "GET", "/api/position/stream", nil)
	if resp.StatusCode != 426 {
		t.Errorf("expected status 426, got %d", resp.StatusCode)
	}
}

func TestServer_PositionStream(t *testing.T) {
	server, trk, _ := setupTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go server.app.Listener(ln)

	ctx, cancel := context.WithCancel(context.Background())
	go server.WSHub().Run(ctx)
	go trk.Run(ctx)

	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
		cancel()
		trk.Stop()
	})

	url := "ws://" + ln.Addr().String() + "/api/position/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	ping, _ := protocol.NewMessage(protocol.TypePing, nil)
	data, _ := ping.Bytes()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}

	var gotPosition, gotPong bool
	deadline := time.Now().Add(2 * time.Second)
	for !(gotPosition && gotPong) && time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}

		msg, err := protocol.ParseMessage(raw)
		if err != nil {
			t.Fatalf("failed to parse message: %v", err)
		}

		switch msg.Type {
		case protocol.TypePosition:
			pos, err := msg.GetPosition()
			if err != nil {
				t.Fatalf("GetPosition() error = %v", err)
			}
			if d := mlat.Distance(pos.Raw, mlat.Pt(4, 4)); d > 1e-6 {
				t.Errorf("streamed position %v is %g from (4, 4)", pos.Raw, d)
			}
			gotPosition = true
		case protocol.TypePong:
			gotPong = true
		}
	}

	if !gotPosition {
		t.Error("expected a position message")
	}
	if !gotPong {
		t.Error("expected a pong reply")
	}
	if server.WSHub().ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", server.WSHub().ClientCount())
	}
}
