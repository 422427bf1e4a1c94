package services

import (
	"context"
	"time"

	"officegateway/internal/cache"
	"officegateway/internal/eventbus"
	"officegateway/internal/events"
	"officegateway/internal/models"

	"go.uber.org/zap"
)

// SensorError is the value firmware reports for a failed sensor read
const SensorError = "E"

var sentinelKeys = []string{KeyTemperature, KeyHumidity, KeyLuminousity, KeyLuminosity}

// Telemetry tracks device health from telemetry, forwards samples to the
// cloud and drives the auto-actuation loop
type Telemetry struct {
	cache   *cache.Cache
	backend Backend
	cloud   CloudBridge
	auto    *AutoActuator
	history HistorySink
	log     *zap.Logger
}

// NewTelemetry creates the telemetry service. history may be nil.
func NewTelemetry(c *cache.Cache, backend Backend, cloud CloudBridge, auto *AutoActuator, history HistorySink, log *zap.Logger) *Telemetry {
	return &Telemetry{cache: c, backend: backend, cloud: cloud, auto: auto, history: history, log: log.Named("telemetry")}
}

// Subscribe attaches the service to the bus
func (s *Telemetry) Subscribe(bus *eventbus.Bus) eventbus.Subscription {
	return eventbus.Subscribe(bus, s.Handle)
}

// Handle processes one sample
func (s *Telemetry) Handle(ctx context.Context, ev events.TelemetryEvent) error {
	d, err := s.cache.GetDeviceByID(ctx, ev.DeviceID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.Int("device_id", ev.DeviceID))
	if d == nil {
		log.Warn("Telemetry from unknown device")
		return nil
	}
	if d.Status == models.StatusDisabled || d.Status == models.StatusMaintenance {
		log.Debug("Dropping telemetry", zap.String("status", string(d.Status)))
		return nil
	}

	faulty := sensorFault(ev.Data)
	next := d.Status
	switch {
	case faulty:
		next = models.StatusError
	case d.Status == models.StatusOffline, d.Status == models.StatusError:
		next = models.StatusOnline
	}
	if next != d.Status {
		s.transition(ctx, d, next, log)
	}

	at := time.Now()
	ts := ev.Timestamp
	if ts > 0 {
		at = time.UnixMilli(ts)
	} else {
		ts = at.UnixMilli()
	}
	if err := s.cloud.SendTelemetry(d, ts, ev.Data); err != nil {
		log.Warn("Failed to forward telemetry", zap.Error(err))
	}
	if s.history != nil {
		if err := s.history.WriteTelemetry(ctx, d, at, ev.Data); err != nil {
			log.Warn("Failed to record telemetry", zap.Error(err))
		}
	}

	if faulty {
		log.Warn("Sensor fault reported, skipping auto-actuation", zap.Any("data", ev.Data))
		return nil
	}
	if s.auto != nil {
		s.auto.Actuate(ctx, d, ev.Data)
	}
	return nil
}

func (s *Telemetry) transition(ctx context.Context, d *models.Device, next models.DeviceStatus, log *zap.Logger) {
	prev := d.Status
	if _, err := s.cache.UpdateDevice(ctx, d.ID, models.StatusUpdate(next)); err != nil {
		log.Error("Failed to update cached status", zap.Error(err))
		return
	}
	d.Status = next
	if err := s.backend.SetDeviceStatus(ctx, d.ID, next); err != nil {
		log.Error("Failed to propagate status", zap.Error(err))
	}
	if prev == models.StatusOffline {
		// the liveness service disconnected it on the cloud side
		if err := s.cloud.ConnectDevice(d); err != nil {
			log.Warn("Failed to reconnect device to cloud", zap.Error(err))
		}
	}
	log.Info("Device status changed", zap.String("from", string(prev)), zap.String("to", string(next)))
}

func sensorFault(data map[string]any) bool {
	for _, k := range sentinelKeys {
		if v, ok := data[k].(string); ok && v == SensorError {
			return true
		}
	}
	return false
}
