// Package config provides configuration management for go-mlat
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-mlat/internal/harness"
	"github.com/teslashibe/go-mlat/internal/mlat"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Scene   SceneConfig   `mapstructure:"scene"`
	Source  SourceConfig  `mapstructure:"source"`
	Uplink  UplinkConfig  `mapstructure:"uplink"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// TrackerConfig configures position tracking
type TrackerConfig struct {
	PollHz       int     `mapstructure:"poll_hz"`
	EMAAlpha     float64 `mapstructure:"ema_alpha"`
	HistorySize  int     `mapstructure:"history_size"`
	TrimFraction float64 `mapstructure:"trim_fraction"`
	Disambiguate bool    `mapstructure:"disambiguate"`

	Confidence ConfidenceConfig `mapstructure:"confidence"`
}

// ConfidenceConfig configures confidence scoring
type ConfidenceConfig struct {
	Base            float64 `mapstructure:"base"`
	AgreementBonus  float64 `mapstructure:"agreement_bonus"`
	StabilityBonus  float64 `mapstructure:"stability_bonus"`
	StabilityRadius float64 `mapstructure:"stability_radius"`
}

// SceneConfig describes the observation points and the simulated transmitter
type SceneConfig struct {
	Observers     []ObserverConfig `mapstructure:"observers"`
	WavelengthM   float64          `mapstructure:"wavelength_m"`
	TxPowerDBm    float64          `mapstructure:"tx_power_dbm"`
	TxGainDBi     float64          `mapstructure:"tx_gain_dbi"`
	NoiseStdDevDB float64          `mapstructure:"noise_stddev_db"`
	Seed          uint64           `mapstructure:"seed"`

	Motion MotionConfig `mapstructure:"motion"`
}

// SourceConfig selects where ranges come from
type SourceConfig struct {
	Type        string        `mapstructure:"type"` // simulated, gateway
	GatewayURL  string        `mapstructure:"gateway_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimitHz int           `mapstructure:"rate_limit_hz"`
}

// ObserverConfig is one observation point
type ObserverConfig struct {
	X       float64 `mapstructure:"x"`
	Y       float64 `mapstructure:"y"`
	GainDBi float64 `mapstructure:"gain_dbi"`
}

// MotionConfig moves the simulated transmitter on a circle
type MotionConfig struct {
	CenterX float64       `mapstructure:"center_x"`
	CenterY float64       `mapstructure:"center_y"`
	Radius  float64       `mapstructure:"radius"`
	Period  time.Duration `mapstructure:"period"`
}

// UplinkConfig configures fix publishing to a collector
type UplinkConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

func defaultObservers() []ObserverConfig {
	return []ObserverConfig{
		{X: 0, Y: 0},
		{X: 3, Y: 8},
		{X: 10, Y: 5},
	}
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Tracker: TrackerConfig{
			PollHz:       10,
			EMAAlpha:     0.3,
			HistorySize:  100,
			TrimFraction: 0.25,
			Disambiguate: true,
			Confidence: ConfidenceConfig{
				Base:            0.2,
				AgreementBonus:  0.5,
				StabilityBonus:  0.3,
				StabilityRadius: 0.5,
			},
		},
		Scene: SceneConfig{
			Observers:   defaultObservers(),
			WavelengthM: 0.1,
			Motion: MotionConfig{
				CenterX: 4,
				CenterY: 4,
				Radius:  2,
				Period:  20 * time.Second,
			},
		},
		Source: SourceConfig{
			Type:        "simulated",
			GatewayURL:  "http://localhost:8000",
			Timeout:     2 * time.Second,
			RateLimitHz: 10,
		},
		Uplink: UplinkConfig{
			Enabled:          false,
			URL:              "ws://localhost:8080/ws/fixes",
			ReconnectBackoff: 1 * time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Config file not found is okay, use defaults
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				// Only warn, don't fail - we have defaults
				fmt.Fprintf(os.Stderr, "Warning: config file not found at %s, using defaults\n", path)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOMLAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Tracker defaults
	v.SetDefault("tracker.poll_hz", 10)
	v.SetDefault("tracker.ema_alpha", 0.3)
	v.SetDefault("tracker.history_size", 100)
	v.SetDefault("tracker.trim_fraction", 0.25)
	v.SetDefault("tracker.disambiguate", true)

	// Confidence defaults
	v.SetDefault("tracker.confidence.base", 0.2)
	v.SetDefault("tracker.confidence.agreement_bonus", 0.5)
	v.SetDefault("tracker.confidence.stability_bonus", 0.3)
	v.SetDefault("tracker.confidence.stability_radius", 0.5)

	// Scene defaults
	observers := make([]map[string]interface{}, 0, 3)
	for _, o := range defaultObservers() {
		observers = append(observers, map[string]interface{}{"x": o.X, "y": o.Y, "gain_dbi": o.GainDBi})
	}
	v.SetDefault("scene.observers", observers)
	v.SetDefault("scene.wavelength_m", 0.1)
	v.SetDefault("scene.tx_power_dbm", 0.0)
	v.SetDefault("scene.tx_gain_dbi", 0.0)
	v.SetDefault("scene.noise_stddev_db", 0.0)
	v.SetDefault("scene.seed", 0)
	v.SetDefault("scene.motion.center_x", 4.0)
	v.SetDefault("scene.motion.center_y", 4.0)
	v.SetDefault("scene.motion.radius", 2.0)
	v.SetDefault("scene.motion.period", "20s")

	// Source defaults
	v.SetDefault("source.type", "simulated")
	v.SetDefault("source.gateway_url", "http://localhost:8000")
	v.SetDefault("source.timeout", "2s")
	v.SetDefault("source.rate_limit_hz", 10)

	// Uplink defaults
	v.SetDefault("uplink.enabled", false)
	v.SetDefault("uplink.url", "ws://localhost:8080/ws/fixes")
	v.SetDefault("uplink.reconnect_backoff", "1s")
	v.SetDefault("uplink.max_backoff", "30s")
	v.SetDefault("uplink.ping_interval", "10s")
	v.SetDefault("uplink.write_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Tracker.PollHz < 1 || c.Tracker.PollHz > 100 {
		return fmt.Errorf("poll_hz must be between 1 and 100, got %d", c.Tracker.PollHz)
	}

	if c.Tracker.EMAAlpha < 0 || c.Tracker.EMAAlpha > 1 {
		return fmt.Errorf("ema_alpha must be between 0 and 1, got %f", c.Tracker.EMAAlpha)
	}

	if c.Tracker.TrimFraction < 0 || c.Tracker.TrimFraction >= 1 {
		return fmt.Errorf("trim_fraction must be in [0, 1), got %f", c.Tracker.TrimFraction)
	}

	if len(c.Scene.Observers) < 2 {
		return fmt.Errorf("scene needs at least 2 observers, got %d", len(c.Scene.Observers))
	}

	if c.Scene.WavelengthM <= 0 {
		return fmt.Errorf("wavelength_m must be positive, got %f", c.Scene.WavelengthM)
	}

	if c.Scene.NoiseStdDevDB < 0 {
		return fmt.Errorf("noise_stddev_db must not be negative, got %f", c.Scene.NoiseStdDevDB)
	}

	switch c.Source.Type {
	case "simulated":
	case "gateway":
		if c.Source.GatewayURL == "" {
			return fmt.Errorf("gateway source without gateway_url")
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}

	if c.Uplink.Enabled && c.Uplink.URL == "" {
		return fmt.Errorf("uplink enabled without url")
	}

	return nil
}

// PollInterval converts PollHz to a ticker interval
func (t TrackerConfig) PollInterval() time.Duration {
	return time.Second / time.Duration(t.PollHz)
}

// Options returns the estimation options configured for the tracker
func (t TrackerConfig) Options() mlat.Options {
	return mlat.Options{
		TrimFraction: t.TrimFraction,
		Disambiguate: t.Disambiguate,
	}
}

// Scenario builds the observation geometry with the transmitter at the motion center
func (s SceneConfig) Scenario() harness.Scenario {
	observers := make([]harness.Observer, len(s.Observers))
	for i, o := range s.Observers {
		observers[i] = harness.Observer{Position: mlat.Pt(o.X, o.Y), Gain: o.GainDBi}
	}

	return harness.Scenario{
		Transmitter: mlat.Pt(s.Motion.CenterX, s.Motion.CenterY),
		Wavelength:  s.WavelengthM,
		TxPower:     s.TxPowerDBm,
		TxGain:      s.TxGainDBi,
		Observers:   observers,
	}
}
