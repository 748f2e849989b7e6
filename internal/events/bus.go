// Package events publishes learning lifecycle events over NATS.
//
// Events are published to subjects of the form:
//
//	learning.{stream_id}.{event}
//
// where stream_id is a session, experiment or optimization result ID and
// event is one of the EventType constants. The HTTP layer bridges these
// subjects to Server-Sent Events so clients can follow long-running work.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// EventType identifies the kind of lifecycle event being published.
type EventType string

const (
	// EventTrainingStatus reports a session status transition.
	EventTrainingStatus EventType = "training_status"

	// EventTrainingProgress reports in-flight session progress.
	EventTrainingProgress EventType = "training_progress"

	// EventExperimentResult reports a completed or failed experiment.
	EventExperimentResult EventType = "experiment_result"

	// EventOptimizationResult reports a completed or failed optimization run.
	EventOptimizationResult EventType = "optimization_result"
)

// Publisher is the event emission surface learning components depend on.
type Publisher interface {
	// Publish emits an event for the given stream. The payload is JSON
	// encoded onto the wire.
	Publish(streamID string, event EventType, payload any) error
}

// Bus publishes events to NATS.
type Bus struct {
	nc *nats.Conn
}

// NewBus creates a NATS-backed event bus.
func NewBus(nc *nats.Conn) (*Bus, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	return &Bus{nc: nc}, nil
}

// Subject returns the NATS subject for a stream/event pair.
func Subject(streamID string, event EventType) string {
	return fmt.Sprintf("learning.%s.%s", streamID, event)
}

// StreamSubject returns the wildcard subject matching all events for a stream.
func StreamSubject(streamID string) string {
	return fmt.Sprintf("learning.%s.*", streamID)
}

// Publish emits an event for the given stream.
func (b *Bus) Publish(streamID string, event EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if err := b.nc.Publish(Subject(streamID, event), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event, err)
	}
	return nil
}

// Nop is a Publisher that discards all events. Used in tests and when the
// daemon runs without a broker.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(streamID string, event EventType, payload any) error {
	return nil
}

// Ensure implementations satisfy Publisher.
var (
	_ Publisher = (*Bus)(nil)
	_ Publisher = Nop{}
)
