package services

import (
	"context"

	"officegateway/internal/eventbus"
	"officegateway/internal/events"

	"go.uber.org/zap"
)

// Diagnostics logs traffic that no other service consumes
type Diagnostics struct {
	log *zap.Logger
}

// NewDiagnostics creates the diagnostics subscriber
func NewDiagnostics(log *zap.Logger) *Diagnostics {
	return &Diagnostics{log: log.Named("diagnostics")}
}

// Subscribe attaches the loggers to the bus
func (s *Diagnostics) Subscribe(bus *eventbus.Bus) []eventbus.Subscription {
	return []eventbus.Subscription{
		eventbus.Subscribe(bus, func(_ context.Context, e events.TestEvent) error {
			s.log.Info("Test message", zap.String("topic", e.Topic), zap.String("payload", e.Payload))
			return nil
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.InvalidMessageEvent) error {
			s.log.Warn("Invalid message", zap.String("topic", e.Topic), zap.String("payload", e.Payload),
				zap.String("error", e.Error))
			return nil
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.ControlResponseEvent) error {
			if !e.Matched {
				s.log.Warn("Unsolicited control response", zap.Int("device_id", e.DeviceID),
					zap.String("request_id", e.Response.RequestID), zap.String("status", e.Response.Status))
			}
			return nil
		}),
	}
}
