// Package gateway provides a range source backed by a receiver gateway's HTTP API.
// The gateway reports the signal strength each observation point hears; ranges are
// recovered with the Friis model.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/pathloss"
	"github.com/teslashibe/go-mlat/internal/tracker"
)

// ErrTooFewReadings is returned when the gateway reports fewer than two observers
var ErrTooFewReadings = errors.New("gateway returned fewer than 2 readings")

// Config holds gateway source configuration
type Config struct {
	BaseURL     string        // Base URL of the gateway (e.g. "http://localhost:8000")
	Timeout     time.Duration // HTTP request timeout
	RateLimitHz int           // Max fetches per second (0 = unlimited)

	// Transmitter side of the link; receive gains come with each reading
	Wavelength float64
	TxPower    float64
	TxGain     float64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:8000",
		Timeout:     2 * time.Second,
		RateLimitHz: 10,
		Wavelength:  0.1,
	}
}

// Reading is one observation point's report
type Reading struct {
	Observer string  `json:"observer"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Gain     float64 `json:"gain_dbi"`
	RSSI     float64 `json:"rssi_dbm"`
}

// Snapshot is the body of GET /api/readings
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Readings  []Reading `json:"readings"`
}

// Source polls the gateway for readings
type Source struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	// Rate limiting
	mu          sync.Mutex
	lastFetchAt time.Time
	last        tracker.Observation
	minInterval time.Duration

	healthy atomic.Bool

	// Stats
	fetches     atomic.Uint64
	fetchErrors atomic.Uint64
	cacheHits   atomic.Uint64
}

var _ tracker.Source = (*Source)(nil)

// NewSource creates a gateway source
func NewSource(cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	var minInterval time.Duration
	if cfg.RateLimitHz > 0 {
		minInterval = time.Second / time.Duration(cfg.RateLimitHz)
	}

	return &Source{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		minInterval: minInterval,
	}
}

// Observe fetches the latest readings and converts them to ranges.
// Calls faster than the rate limit return the previous observation.
func (s *Source) Observe(ctx context.Context) (tracker.Observation, error) {
	if s.minInterval > 0 {
		s.mu.Lock()
		if !s.lastFetchAt.IsZero() && time.Since(s.lastFetchAt) < s.minInterval {
			obs := s.last
			s.mu.Unlock()
			s.cacheHits.Add(1)
			return obs, nil
		}
		s.mu.Unlock()
	}

	start := time.Now()
	snap, err := s.Fetch(ctx)
	if err != nil {
		s.healthy.Store(false)
		s.fetchErrors.Add(1)
		return tracker.Observation{}, err
	}

	obs, err := s.convert(snap)
	if err != nil {
		s.fetchErrors.Add(1)
		return tracker.Observation{}, err
	}
	obs.LatencyMs = time.Since(start).Milliseconds()

	s.healthy.Store(true)
	s.fetches.Add(1)

	s.mu.Lock()
	s.lastFetchAt = time.Now()
	s.last = obs
	s.mu.Unlock()

	return obs, nil
}

// Fetch returns the raw gateway snapshot
func (s *Source) Fetch(ctx context.Context) (Snapshot, error) {
	url := s.cfg.BaseURL + "/api/readings"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Snapshot{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode response: %w", err)
	}

	return snap, nil
}

func (s *Source) convert(snap Snapshot) (tracker.Observation, error) {
	if len(snap.Readings) < 2 {
		return tracker.Observation{}, ErrTooFewReadings
	}

	refs := make([]mlat.ReferencePoint, len(snap.Readings))
	powers := make([]float64, len(snap.Readings))
	for i, r := range snap.Readings {
		link := pathloss.Link{
			TxPower:    s.cfg.TxPower,
			TxGain:     s.cfg.TxGain,
			RxGain:     r.Gain,
			Wavelength: s.cfg.Wavelength,
		}
		d, err := pathloss.DistanceFromPower(r.RSSI, link)
		if err != nil {
			return tracker.Observation{}, fmt.Errorf("reading %s: %w", r.Observer, err)
		}
		refs[i] = mlat.ReferencePoint{Position: mlat.Pt(r.X, r.Y), Distance: d}
		powers[i] = r.RSSI
	}

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return tracker.Observation{
		ReferencePoints: refs,
		ReceivedPowers:  powers,
		Timestamp:       ts,
	}, nil
}

// Close releases idle connections
func (s *Source) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// Healthy reports whether the last fetch succeeded
func (s *Source) Healthy() bool {
	return s.healthy.Load()
}

// Name returns the source type name
func (s *Source) Name() string {
	return "gateway"
}

// Stats contains source statistics
type Stats struct {
	Fetches     uint64 `json:"fetches"`
	FetchErrors uint64 `json:"fetch_errors"`
	CacheHits   uint64 `json:"cache_hits"`
}

// GetStats returns source statistics
func (s *Source) GetStats() Stats {
	return Stats{
		Fetches:     s.fetches.Load(),
		FetchErrors: s.fetchErrors.Load(),
		CacheHits:   s.cacheHits.Load(),
	}
}
