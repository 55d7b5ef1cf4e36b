package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-mlat/internal/mlat"
)

// TrackerConfig configures the position tracker
type TrackerConfig struct {
	PollInterval time.Duration
	EMAAlpha     float64
	HistorySize  int
	Estimation   mlat.Options

	Confidence ConfidenceConfig
}

// ConfidenceConfig configures confidence scoring
type ConfidenceConfig struct {
	Base            float64
	AgreementBonus  float64 // Scaled by the share of reference pairs that intersect
	StabilityBonus  float64
	StabilityRadius float64 // Meters; recent fixes within this spread earn the stability bonus
}

// DefaultTrackerConfig returns sensible defaults
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PollInterval: 100 * time.Millisecond, // 10Hz
		EMAAlpha:     0.3,
		HistorySize:  100,
		Estimation:   mlat.DefaultOptions(),
		Confidence: ConfidenceConfig{
			Base:            0.2,
			AgreementBonus:  0.5,
			StabilityBonus:  0.3,
			StabilityRadius: 0.5,
		},
	}
}

// Fix is a processed, smoothed position estimate
type Fix struct {
	Observation

	Estimate   mlat.EstimationResult `json:"estimate"`
	Smoothed   mlat.Point2D          `json:"smoothed"`
	Confidence float64               `json:"confidence"`
	Valid      bool                  `json:"valid"`
	Error      string                `json:"error,omitempty"`
}

// Tracker polls a Source, estimates and smooths positions
type Tracker struct {
	source Source
	cfg    TrackerConfig
	logger *slog.Logger

	mu      sync.RWMutex
	latest  Fix
	history []Fix

	// Metrics
	pollCount      int64
	pollErrorCount int64
	noFixCount     int64
	fallbackCount  int64
	totalLatencyMs int64
	lastError      string

	// Lifecycle
	stopCtx context.Context
	stop    context.CancelFunc
	running atomic.Bool
	done    chan struct{}

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Fix]struct{}
}

// NewTracker creates a new position tracker
func NewTracker(source Source, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	stopCtx, stop := context.WithCancel(context.Background())

	return &Tracker{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		history: make([]Fix, 0, cfg.HistorySize),
		stopCtx: stopCtx,
		stop:    stop,
		done:    make(chan struct{}),
		subs:    make(map[chan Fix]struct{}),
	}
}

// Run starts the polling loop (blocking, use goroutine). It returns when ctx
// ends or Stop is called, including a Stop issued before Run started.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return errors.New("tracker already running")
	}
	defer close(t.done)

	if err := t.stopCtx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(t.stopCtx, cancel)
	defer unlink()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.logger.Info("tracker started",
		"poll_interval", t.cfg.PollInterval,
		"ema_alpha", t.cfg.EMAAlpha,
		"trim_fraction", t.cfg.Estimation.TrimFraction,
		"source", t.source.Name(),
	)

	for {
		select {
		case <-ctx.Done():
			t.mu.RLock()
			t.logger.Info("tracker stopped",
				"polls", t.pollCount,
				"errors", t.pollErrorCount,
				"no_fix", t.noFixCount,
			)
			t.mu.RUnlock()
			return ctx.Err()
		case <-ticker.C:
			if err := t.poll(ctx); err != nil {
				t.logger.Warn("poll failed", "error", err)
			}
		}
	}
}

func (t *Tracker) poll(ctx context.Context) error {
	start := time.Now()

	obs, err := t.source.Observe(ctx)
	if err != nil {
		t.mu.Lock()
		t.pollErrorCount++
		t.lastError = err.Error()
		t.mu.Unlock()
		return err
	}

	latencyMs := time.Since(start).Milliseconds()
	obs.LatencyMs = latencyMs

	t.mu.RLock()
	opts := t.cfg.Estimation
	t.mu.RUnlock()

	est, estErr := mlat.Estimate(obs.ReferencePoints, opts)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.pollCount++
	t.totalLatencyMs += latencyMs

	fix := Fix{
		Observation: obs,
		Estimate:    est,
		Smoothed:    t.latest.Smoothed,
	}

	if estErr != nil {
		var noCandidates *mlat.NoCandidatesError
		if !errors.As(estErr, &noCandidates) {
			t.pollErrorCount++
			t.lastError = estErr.Error()
			return estErr
		}

		// No usable geometry this round; keep the last smoothed position
		t.noFixCount++
		fix.Error = estErr.Error()
		t.latest = fix
		t.notifySubscribers(fix)
		return nil
	}

	if est.Fallback {
		t.fallbackCount++
	}

	// Smooth position with EMA, seeded from the last valid fix so that
	// no-fix polls in between do not restart smoothing
	smoothed := est.Position
	if n := len(t.history); n > 0 {
		smoothed = Lerp(t.history[n-1].Smoothed, est.Position, t.cfg.EMAAlpha)
	}

	fix.Valid = true
	fix.Smoothed = smoothed
	fix.Confidence = t.calculateConfidence(est, smoothed)

	t.latest = fix
	t.appendHistory(fix)

	// Notify subscribers (non-blocking)
	t.notifySubscribers(fix)

	if t.pollCount%10 == 0 {
		t.logger.Debug("position fix",
			"x", smoothed.X,
			"y", smoothed.Y,
			"candidates", est.Candidates,
			"discarded", est.Discarded,
			"confidence", fix.Confidence,
			"latency_ms", latencyMs,
		)
	}

	return nil
}

func (t *Tracker) calculateConfidence(est mlat.EstimationResult, smoothed mlat.Point2D) float64 {
	conf := t.cfg.Confidence.Base

	if est.Pairs > 0 {
		intersecting := 1 - float64(est.Discarded)/float64(2*est.Pairs)
		conf += t.cfg.Confidence.AgreementBonus * intersecting
	}

	// Check position stability over last 5 fixes
	if len(t.history) >= 5 {
		var variance float64
		for i := len(t.history) - 5; i < len(t.history); i++ {
			d := mlat.Distance(t.history[i].Smoothed, smoothed)
			variance += d * d
		}
		variance /= 5

		r := t.cfg.Confidence.StabilityRadius
		if variance < r*r {
			conf += t.cfg.Confidence.StabilityBonus
		}
	}

	return Clamp(conf, 0, 1)
}

func (t *Tracker) appendHistory(fix Fix) {
	t.history = append(t.history, fix)

	// Trim history
	if len(t.history) > t.cfg.HistorySize {
		// Shift instead of slice to avoid memory leak
		copy(t.history, t.history[1:])
		t.history = t.history[:t.cfg.HistorySize]
	}
}

func (t *Tracker) notifySubscribers(fix Fix) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()

	for ch := range t.subs {
		select {
		case ch <- fix:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives fixes
func (t *Tracker) Subscribe() chan Fix {
	ch := make(chan Fix, 10) // Buffer to avoid blocking

	t.subsMu.Lock()
	t.subs[ch] = struct{}{}
	t.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (t *Tracker) Unsubscribe(ch chan Fix) {
	t.subsMu.Lock()
	if _, exists := t.subs[ch]; exists {
		delete(t.subs, ch)
		close(ch)
	}
	t.subsMu.Unlock()
}

// GetLatest returns the most recent fix
func (t *Tracker) GetLatest() Fix {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// History returns a copy of the retained valid fixes, oldest first
func (t *Tracker) History() []Fix {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Fix(nil), t.history...)
}

// Options returns the estimation options currently in use
func (t *Tracker) Options() mlat.Options {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.Estimation
}

// SetTrimFraction changes the aggregator trim for subsequent polls
func (t *Tracker) SetTrimFraction(f float64) error {
	if err := mlat.ValidateTrimFraction(f); err != nil {
		return err
	}

	t.mu.Lock()
	t.cfg.Estimation.TrimFraction = f
	t.mu.Unlock()

	t.logger.Info("trim fraction updated", "trim_fraction", f)
	return nil
}

// SetEMAAlpha changes the smoothing factor for subsequent polls
func (t *Tracker) SetEMAAlpha(alpha float64) {
	alpha = Clamp(alpha, 0, 1)

	t.mu.Lock()
	t.cfg.EMAAlpha = alpha
	t.mu.Unlock()

	t.logger.Info("ema alpha updated", "ema_alpha", alpha)
}

// EMAAlpha returns the smoothing factor currently in use
func (t *Tracker) EMAAlpha() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.EMAAlpha
}

// Stats returns tracker statistics
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	avgLatency := float64(0)
	if t.pollCount > 0 {
		avgLatency = float64(t.totalLatencyMs) / float64(t.pollCount)
	}

	t.subsMu.RLock()
	subscribers := len(t.subs)
	t.subsMu.RUnlock()

	return TrackerStats{
		PollCount:         t.pollCount,
		ErrorCount:        t.pollErrorCount,
		NoFixCount:        t.noFixCount,
		FallbackCount:     t.fallbackCount,
		AvgLatencyMs:      avgLatency,
		HistorySize:       len(t.history),
		SubscriberCount:   subscribers,
		SourceHealthy:     t.source.Healthy(),
		SourceName:        t.source.Name(),
		HasFix:            t.latest.Valid,
		CurrentPosition:   t.latest.Smoothed,
		CurrentConfidence: t.latest.Confidence,
		LastError:         t.lastError,
	}
}

// TrackerStats contains tracker statistics
type TrackerStats struct {
	PollCount         int64        `json:"poll_count"`
	ErrorCount        int64        `json:"error_count"`
	NoFixCount        int64        `json:"no_fix_count"`
	FallbackCount     int64        `json:"fallback_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	HistorySize       int          `json:"history_size"`
	SubscriberCount   int          `json:"subscriber_count"`
	SourceHealthy     bool         `json:"source_healthy"`
	SourceName        string       `json:"source_name"`
	HasFix            bool         `json:"has_fix"`
	CurrentPosition   mlat.Point2D `json:"current_position"`
	CurrentConfidence float64      `json:"current_confidence"`
	LastError         string       `json:"last_error,omitempty"`
}

// Stop stops the tracker gracefully and waits for a running poll loop to exit
func (t *Tracker) Stop() {
	t.stop()
	if t.running.Load() {
		<-t.done
	}

	// Close all subscriber channels
	t.subsMu.Lock()
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
	t.subsMu.Unlock()
}
