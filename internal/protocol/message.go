// Package protocol defines the WebSocket message types exchanged with position
// stream clients and the uplink collector.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/tracker"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Daemon → client messages
	TypePosition MessageType = "position" // Smoothed position fix
	TypeNoFix    MessageType = "no_fix"   // Poll without usable geometry
	TypeStats    MessageType = "stats"    // Tracker statistics

	// Client → daemon messages
	TypeConfig   MessageType = "config"    // Estimation tuning update
	TypeGetStats MessageType = "get_stats" // Request a stats message

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// PositionData contains one position fix
type PositionData struct {
	Position   mlat.Point2D  `json:"position"`
	Raw        mlat.Point2D  `json:"raw"`
	Truth      *mlat.Point2D `json:"truth,omitempty"`
	Confidence float64       `json:"confidence"`
	Candidates int           `json:"candidates"`
	Discarded  int           `json:"discarded"`
	Fallback   bool          `json:"fallback"`
	Observed   int64         `json:"observed_ms"`
}

// NewPositionMessage creates a position message
func NewPositionMessage(data PositionData) (*Message, error) {
	return NewMessage(TypePosition, data)
}

// NoFixData explains why a poll produced no position
type NoFixData struct {
	Reason    string `json:"reason"`
	Pairs     int    `json:"pairs"`
	Discarded int    `json:"discarded"`
	Observed  int64  `json:"observed_ms"`
}

// NewNoFixMessage creates a no_fix message
func NewNoFixMessage(data NoFixData) (*Message, error) {
	return NewMessage(TypeNoFix, data)
}

// NewFixMessage creates a position or no_fix message from a tracker fix
func NewFixMessage(fix tracker.Fix) (*Message, error) {
	observed := fix.Timestamp.UnixMilli()

	if !fix.Valid {
		return NewNoFixMessage(NoFixData{
			Reason:    fix.Error,
			Pairs:     fix.Estimate.Pairs,
			Discarded: fix.Estimate.Discarded,
			Observed:  observed,
		})
	}

	return NewPositionMessage(PositionData{
		Position:   fix.Smoothed,
		Raw:        fix.Estimate.Position,
		Truth:      fix.Truth,
		Confidence: fix.Confidence,
		Candidates: fix.Estimate.Candidates,
		Discarded:  fix.Estimate.Discarded,
		Fallback:   fix.Estimate.Fallback,
		Observed:   observed,
	})
}

// ConfigUpdate contains estimation tuning changes. Nil fields are left unchanged.
type ConfigUpdate struct {
	TrimFraction *float64 `json:"trim_fraction,omitempty"`
	EMAAlpha     *float64 `json:"ema_alpha,omitempty"`
}

// Apply pushes the non-nil fields into a running tracker
func (u ConfigUpdate) Apply(t *tracker.Tracker) error {
	if u.TrimFraction != nil {
		if err := t.SetTrimFraction(*u.TrimFraction); err != nil {
			return err
		}
	}
	if u.EMAAlpha != nil {
		t.SetEMAAlpha(*u.EMAAlpha)
	}
	return nil
}

// GetConfigUpdate extracts config update from a message
func (m *Message) GetConfigUpdate() (*ConfigUpdate, error) {
	var data ConfigUpdate
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPosition extracts position data from a message
func (m *Message) GetPosition() (*PositionData, error) {
	var data PositionData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
