package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}

	if cfg.Tracker.PollHz != 10 {
		t.Errorf("expected poll_hz 10, got %d", cfg.Tracker.PollHz)
	}

	if cfg.Tracker.TrimFraction != 0.25 {
		t.Errorf("expected trim_fraction 0.25, got %f", cfg.Tracker.TrimFraction)
	}

	if len(cfg.Scene.Observers) != 3 {
		t.Errorf("expected 3 observers, got %d", len(cfg.Scene.Observers))
	}

	if cfg.Scene.WavelengthM != 0.1 {
		t.Errorf("expected wavelength 0.1, got %f", cfg.Scene.WavelengthM)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected level info, got %s", cfg.Logging.Level)
	}
}

func TestLoad_NoFile(t *testing.T) {
	// Load with non-existent file should use defaults
	cfg, err := Load("/nonexistent/path.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected default port 9000, got %d", cfg.Server.Port)
	}

	if len(cfg.Scene.Observers) != 3 {
		t.Fatalf("expected 3 default observers, got %d", len(cfg.Scene.Observers))
	}

	if cfg.Scene.Observers[1].X != 3 || cfg.Scene.Observers[1].Y != 8 {
		t.Errorf("unexpected default observer %+v", cfg.Scene.Observers[1])
	}

	if !cfg.Tracker.Disambiguate {
		t.Error("expected disambiguation on by default")
	}

	if cfg.Source.Type != "simulated" {
		t.Errorf("expected simulated source by default, got %s", cfg.Source.Type)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_WithFile(t *testing.T) {
	// Create temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
tracker:
  poll_hz: 30
  ema_alpha: 0.5
  trim_fraction: 0.1
scene:
  wavelength_m: 0.125
  noise_stddev_db: 1.5
  observers:
    - {x: 0, y: 0, gain_dbi: 2}
    - {x: 20, y: 0}
    - {x: 0, y: 20}
    - {x: 20, y: 20}
  motion:
    period: 5s
source:
  type: gateway
  gateway_url: http://gw.local:8000
uplink:
  enabled: true
  url: ws://collector:9100/ws
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Tracker.PollHz != 30 {
		t.Errorf("expected poll_hz 30, got %d", cfg.Tracker.PollHz)
	}

	if cfg.Tracker.TrimFraction != 0.1 {
		t.Errorf("expected trim_fraction 0.1, got %f", cfg.Tracker.TrimFraction)
	}

	if len(cfg.Scene.Observers) != 4 {
		t.Fatalf("expected 4 observers, got %d", len(cfg.Scene.Observers))
	}

	if cfg.Scene.Observers[0].GainDBi != 2 || cfg.Scene.Observers[3].X != 20 {
		t.Errorf("unexpected observers %+v", cfg.Scene.Observers)
	}

	if cfg.Scene.Motion.Period != 5*time.Second {
		t.Errorf("expected motion period 5s, got %v", cfg.Scene.Motion.Period)
	}

	// Untouched nested defaults survive
	if cfg.Scene.Motion.Radius != 2 {
		t.Errorf("expected default motion radius 2, got %f", cfg.Scene.Motion.Radius)
	}

	if cfg.Source.Type != "gateway" || cfg.Source.GatewayURL != "http://gw.local:8000" {
		t.Errorf("unexpected source %+v", cfg.Source)
	}

	if cfg.Source.RateLimitHz != 10 {
		t.Errorf("expected default rate_limit_hz 10, got %d", cfg.Source.RateLimitHz)
	}

	if !cfg.Uplink.Enabled || cfg.Uplink.URL != "ws://collector:9100/ws" {
		t.Errorf("unexpected uplink %+v", cfg.Uplink)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GOMLAT_SERVER_PORT", "7777")
	t.Setenv("GOMLAT_TRACKER_TRIM_FRACTION", "0.4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777 from env, got %d", cfg.Server.Port)
	}

	if cfg.Tracker.TrimFraction != 0.4 {
		t.Errorf("expected trim_fraction 0.4 from env, got %f", cfg.Tracker.TrimFraction)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid port too low",
			modify: func(c *Config) {
				c.Server.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid port too high",
			modify: func(c *Config) {
				c.Server.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "invalid poll_hz too low",
			modify: func(c *Config) {
				c.Tracker.PollHz = 0
			},
			wantErr: true,
		},
		{
			name: "invalid ema_alpha too high",
			modify: func(c *Config) {
				c.Tracker.EMAAlpha = 1.5
			},
			wantErr: true,
		},
		{
			name: "invalid trim_fraction",
			modify: func(c *Config) {
				c.Tracker.TrimFraction = 1
			},
			wantErr: true,
		},
		{
			name: "single observer",
			modify: func(c *Config) {
				c.Scene.Observers = c.Scene.Observers[:1]
			},
			wantErr: true,
		},
		{
			name: "zero wavelength",
			modify: func(c *Config) {
				c.Scene.WavelengthM = 0
			},
			wantErr: true,
		},
		{
			name: "negative noise",
			modify: func(c *Config) {
				c.Scene.NoiseStdDevDB = -1
			},
			wantErr: true,
		},
		{
			name: "unknown source type",
			modify: func(c *Config) {
				c.Source.Type = "usb"
			},
			wantErr: true,
		},
		{
			name: "gateway without url",
			modify: func(c *Config) {
				c.Source.Type = "gateway"
				c.Source.GatewayURL = ""
			},
			wantErr: true,
		},
		{
			name: "gateway source",
			modify: func(c *Config) {
				c.Source.Type = "gateway"
			},
			wantErr: false,
		},
		{
			name: "uplink without url",
			modify: func(c *Config) {
				c.Uplink.Enabled = true
				c.Uplink.URL = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrackerConfig_PollInterval(t *testing.T) {
	cfg := Default()

	if got := cfg.Tracker.PollInterval(); got != 100*time.Millisecond {
		t.Errorf("expected 100ms poll interval, got %v", got)
	}
}

func TestServerConfig_Timeouts(t *testing.T) {
	cfg := Default()

	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Server.ReadTimeout)
	}

	if cfg.Server.WriteTimeout != 10*time.Second {
		t.Errorf("expected write_timeout 10s, got %v", cfg.Server.WriteTimeout)
	}

	if cfg.Server.GracefulTimeout != 5*time.Second {
		t.Errorf("expected graceful_timeout 5s, got %v", cfg.Server.GracefulTimeout)
	}
}

func TestSceneConfig_Scenario(t *testing.T) {
	cfg := Default()
	cfg.Scene.Observers[2].GainDBi = 3

	s := cfg.Scene.Scenario()

	if len(s.Observers) != 3 {
		t.Fatalf("expected 3 observers, got %d", len(s.Observers))
	}

	if s.Observers[2].Position.X != 10 || s.Observers[2].Gain != 3 {
		t.Errorf("unexpected observer %+v", s.Observers[2])
	}

	if s.Transmitter.X != 4 || s.Transmitter.Y != 4 {
		t.Errorf("expected transmitter at motion center, got %v", s.Transmitter)
	}

	if err := s.Validate(); err != nil {
		t.Errorf("default scenario should validate: %v", err)
	}

	opts := cfg.Tracker.Options()
	if opts.TrimFraction != 0.25 || !opts.Disambiguate {
		t.Errorf("unexpected options %+v", opts)
	}
}
