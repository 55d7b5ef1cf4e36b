// Package health provides health check functionality
package health

import (
	"sort"
	"sync"
	"time"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded, unhealthy
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Required  bool      `json:"required"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports the current health of a component
type Probe func() (healthy bool, message string)

type probeEntry struct {
	probe    Probe
	required bool
}

// Checker tracks health of system components.
// A failing required component makes the system unhealthy, a failing
// optional one only degrades it.
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]Check
	probes     map[string]probeEntry
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]probeEntry),
	}
}

// Register attaches a probe that is evaluated on every GetStatus
func (c *Checker) Register(name string, required bool, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probes[name] = probeEntry{probe: probe, required: required}
}

// SetComponent updates a component's health status
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	required := false
	if prev, ok := c.components[name]; ok {
		required = prev.Required
	}
	c.components[name] = Check{
		Healthy:   healthy,
		Required:  required,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// SetRequired marks a manually reported component as required
func (c *Checker) SetRequired(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = Check{
		Healthy:   healthy,
		Required:  true,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// refresh runs registered probes; caller holds the write lock
func (c *Checker) refresh() {
	now := time.Now()
	for name, entry := range c.probes {
		healthy, msg := entry.probe()
		c.components[name] = Check{
			Healthy:   healthy,
			Required:  entry.required,
			Message:   msg,
			LastCheck: now,
		}
	}
}

// GetStatus returns the overall health status
func (c *Checker) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refresh()

	status := "ok"
	for _, check := range c.components {
		if check.Healthy {
			continue
		}
		if check.Required {
			status = "unhealthy"
			break
		}
		status = "degraded"
	}

	// Copy components map
	components := make(map[string]Check, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	return c.GetStatus().Status == "ok"
}

// Unhealthy lists the names of failing components in sorted order
func (c *Checker) Unhealthy() []string {
	status := c.GetStatus()

	var names []string
	for name, check := range status.Components {
		if !check.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
