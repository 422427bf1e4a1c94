// Package events defines the typed events exchanged over the gateway event bus.
package events

import "officegateway/internal/models"

// RegisterRequestEvent is raised when a device asks to be registered
type RegisterRequestEvent struct {
	Registration models.Registration
}

// TelemetryEvent carries one telemetry sample from a device
type TelemetryEvent struct {
	DeviceID  int
	Timestamp int64
	Data      map[string]any
}

// ControlResponseEvent is raised for every control response received from a device
type ControlResponseEvent struct {
	DeviceID int
	Response models.ControlResponse
	// Matched is false when no command was waiting for this request id
	Matched bool
}

// InvalidMessageEvent keeps an undecodable message visible instead of dropping it
type InvalidMessageEvent struct {
	Topic   string
	Payload string
	Error   string
}

// TestEvent is the diagnostic event raised for traffic on the test channel
type TestEvent struct {
	Topic   string
	Payload string
}
