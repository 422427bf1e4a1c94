package services

import (
	"context"

	"officegateway/internal/cache"
	"officegateway/internal/cloudbridge"
	"officegateway/internal/eventbus"
	"officegateway/internal/events"
	"officegateway/internal/models"
	"officegateway/internal/utils"

	"go.uber.org/zap"
)

// Registration admits devices announcing themselves on the register channel
type Registration struct {
	cache   *cache.Cache
	backend Backend
	local   LocalBridge
	cloud   CloudBridge
	log     *zap.Logger
}

// NewRegistration creates the registration service
func NewRegistration(c *cache.Cache, backend Backend, local LocalBridge, cloud CloudBridge, log *zap.Logger) *Registration {
	return &Registration{cache: c, backend: backend, local: local, cloud: cloud, log: log.Named("registration")}
}

// Subscribe attaches the service to the bus
func (s *Registration) Subscribe(bus *eventbus.Bus) eventbus.Subscription {
	return eventbus.Subscribe(bus, s.Handle)
}

// Handle registers a new device or reconnects a known one. Every step after
// the device is known is attempted even when an earlier one failed.
func (s *Registration) Handle(ctx context.Context, ev events.RegisterRequestEvent) error {
	reg := ev.Registration
	if err := reg.Validate(); err != nil {
		s.log.Warn("Rejecting registration", zap.String("mac", reg.MACAddr), zap.Error(err))
		return nil
	}
	log := s.log.With(zap.String("mac", utils.NormalizeMAC(reg.MACAddr)))

	known, err := s.cache.GetDeviceByMAC(ctx, reg.MACAddr)
	if err != nil {
		return err
	}
	if known != nil {
		s.reconnect(ctx, known, reg, log.With(zap.Int("device_id", known.ID)))
		return nil
	}

	d, err := s.backend.CreateDevice(ctx, deviceFromRegistration(reg))
	if err != nil {
		log.Error("Backend registration failed", zap.Error(err))
		return nil
	}
	log = log.With(zap.Int("device_id", d.ID))
	d.Status = models.StatusOnline

	if err := s.cache.AddDevice(ctx, d); err != nil {
		log.Error("Failed to cache device", zap.Error(err))
	}
	if err := s.cloud.ConnectDevice(d); err != nil {
		log.Error("Failed to connect device to cloud", zap.Error(err))
	}
	if err := s.cloud.SendAttributes(ctx, d, cloudbridge.DeviceAttributes(d)); err != nil {
		log.Warn("Failed to send device attributes", zap.Error(err))
	}
	if err := s.local.RegisterDevice(d); err != nil {
		log.Error("Failed to acknowledge device", zap.Error(err))
		return nil
	}
	log.Info("Device registered", zap.String("name", d.Name),
		zap.Int("sensors", len(d.Sensors)), zap.Int("actuators", len(d.Actuators)))
	return nil
}

func (s *Registration) reconnect(ctx context.Context, d *models.Device, reg models.Registration, log *zap.Logger) {
	if d.Status == models.StatusDisabled {
		// A disabled device keeps its id but gets no subscriptions
		if err := s.local.Acknowledge(d); err != nil {
			log.Error("Failed to acknowledge device", zap.Error(err))
		}
		log.Info("Disabled device re-announced")
		return
	}

	if err := s.backend.ConnectDevice(ctx, d.ID); err != nil {
		log.Error("Backend reconnect failed", zap.Error(err))
	}
	online := models.StatusOnline
	upd := models.DeviceUpdate{Status: &online}
	if reg.FWVersion != "" && reg.FWVersion != d.FWVersion {
		upd.FWVersion = &reg.FWVersion
	}
	if _, err := s.cache.UpdateDevice(ctx, d.ID, upd); err != nil {
		log.Error("Failed to update cached device", zap.Error(err))
	}
	upd.Apply(d)
	if err := s.cloud.ConnectDevice(d); err != nil {
		log.Error("Failed to connect device to cloud", zap.Error(err))
	}
	if err := s.local.RegisterDevice(d); err != nil {
		log.Error("Failed to acknowledge device", zap.Error(err))
		return
	}
	log.Info("Device reconnected")
}

func deviceFromRegistration(reg models.Registration) *models.Device {
	d := &models.Device{
		Name:        reg.Name,
		MACAddr:     utils.NormalizeMAC(reg.MACAddr),
		FWVersion:   reg.FWVersion,
		Model:       reg.Model,
		Description: reg.Description,
		OfficeID:    reg.OfficeID,
		GatewayID:   reg.GatewayID,
		Status:      models.StatusOnline,
	}
	for _, s := range reg.Sensors {
		d.Sensors = append(d.Sensors, models.Sensor{Name: s.Name, Type: s.Type, Unit: s.Unit})
	}
	for _, a := range reg.Actuators {
		d.Actuators = append(d.Actuators, models.Actuator{Name: a.Name, Type: a.Type, Mode: models.ModeManual})
	}
	return d
}
