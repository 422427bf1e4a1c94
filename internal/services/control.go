package services

import (
	"context"
	"errors"
	"fmt"

	"officegateway/internal/cache"
	"officegateway/internal/correlation"
	"officegateway/internal/eventbus"
	"officegateway/internal/events"
	"officegateway/internal/models"

	"go.uber.org/zap"
)

// Reply messages sent back to the cloud
const (
	MsgDeviceDisconnected   = "Device disconnected"
	MsgDeviceDeletionFailed = "Device deletion failed"
	MsgDeviceNotFound       = "Device not found"
	MsgDeviceUpdated        = "Device updated"
	MsgActuatorUpdated      = "Actuator updated"
	MsgActuatorNotFound     = "Actuator not found"
	MsgActuatorModeMismatch = "Actuator mode does not allow this change"
	MsgLightingUpdated      = "Lighting updated"
	MsgLightingFailed       = "Failed to set lighting"
	MsgFanUpdated           = "Fan state updated"
	MsgFanFailed            = "Failed to set fan state"
	MsgTestReceived         = "Test event received"
	MsgNoResponse           = "No response from device"
	MsgInvalidRPC           = "Invalid RPC event"
	MsgUnknownRPC           = "Unknown RPC event"
	MsgInternalError        = "Internal gateway error"
)

// Control carries out control intents and answers cloud RPCs
type Control struct {
	cache *cache.Cache
	local LocalBridge
	cloud CloudBridge
	log   *zap.Logger
}

// NewControl creates the control service
func NewControl(c *cache.Cache, local LocalBridge, cloud CloudBridge, log *zap.Logger) *Control {
	return &Control{cache: c, local: local, cloud: cloud, log: log.Named("control")}
}

// Subscribe attaches a handler for every intent type
func (s *Control) Subscribe(bus *eventbus.Bus) []eventbus.Subscription {
	return []eventbus.Subscription{
		onIntent[events.DeleteDeviceEvent](bus, s),
		onIntent[events.UpdateDeviceEvent](bus, s),
		onIntent[events.UpdateActuatorEvent](bus, s),
		onIntent[events.SetLightingEvent](bus, s),
		onIntent[events.SetFanStateEvent](bus, s),
		onIntent[events.RPCTestEvent](bus, s),
		onIntent[events.InvalidRPCEvent](bus, s),
		onIntent[events.UnknownRPCEvent](bus, s),
	}
}

func onIntent[T events.RPCIntent](bus *eventbus.Bus, s *Control) eventbus.Subscription {
	return eventbus.Subscribe(bus, func(ctx context.Context, intent T) error {
		s.Handle(ctx, intent)
		return nil
	})
}

// Handle executes intent and, for cloud intents, sends exactly one reply,
// also when execution panics
func (s *Control) Handle(ctx context.Context, intent events.RPCIntent) {
	meta := events.MetaOf(intent)
	log := s.log.With(zap.String("request_id", meta.RequestID), zap.Stringer("origin", meta.Origin),
		zap.String("intent", fmt.Sprintf("%T", intent)))

	resp := models.RPCError(MsgInternalError)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Intent handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			resp = models.RPCError(MsgInternalError)
		}
		if meta.Origin != events.OriginCloud {
			log.Debug("Intent done", zap.String("status", resp.Status), zap.String("message", resp.Message()))
			return
		}
		if err := s.cloud.SendRPCReply(meta.RequestID, resp); err != nil {
			log.Error("Failed to send RPC reply", zap.Error(err))
			return
		}
		log.Info("RPC answered", zap.String("status", resp.Status), zap.String("message", resp.Message()))
	}()

	resp = s.Execute(ctx, intent)
}

// Execute performs the local action of an intent and returns the reply it
// earns without sending it
func (s *Control) Execute(ctx context.Context, intent events.RPCIntent) models.RPCResponse {
	switch e := intent.(type) {
	case events.DeleteDeviceEvent:
		return s.deleteDevice(ctx, e)
	case events.UpdateDeviceEvent:
		return s.updateDevice(ctx, e)
	case events.UpdateActuatorEvent:
		return s.updateActuator(ctx, e)
	case events.SetLightingEvent:
		return s.setActuator(ctx, e.Meta, e.ActuatorID, e.Setting(), MsgLightingUpdated, MsgLightingFailed,
			func(await bool) (bool, error) {
				return s.local.SetLighting(ctx, e.ActuatorID, e.Color, e.Brightness, e.RequestID, await)
			})
	case events.SetFanStateEvent:
		return s.setActuator(ctx, e.Meta, e.ActuatorID, e.Setting(), MsgFanUpdated, MsgFanFailed,
			func(await bool) (bool, error) {
				return s.local.SetFanState(ctx, e.ActuatorID, e.State, e.Speed, e.RequestID, await)
			})
	case events.RPCTestEvent:
		return s.test(ctx, e)
	case events.InvalidRPCEvent:
		s.log.Warn("Invalid RPC", zap.String("method", e.Method), zap.String("error", e.Error))
		return models.RPCError(MsgInvalidRPC)
	case events.UnknownRPCEvent:
		s.log.Warn("Unknown RPC method", zap.String("method", e.Method))
		return models.RPCError(MsgUnknownRPC)
	}
	return models.RPCError(MsgUnknownRPC)
}

func (s *Control) deleteDevice(ctx context.Context, e events.DeleteDeviceEvent) models.RPCResponse {
	d, err := s.cache.GetDeviceByID(ctx, e.DeviceID)
	if err != nil {
		s.log.Error("Cache lookup failed", zap.Int("device_id", e.DeviceID), zap.Error(err))
		return models.RPCError(MsgDeviceDeletionFailed)
	}
	if d == nil {
		return models.RPCError(MsgDeviceNotFound)
	}
	ok, err := s.cache.DeleteDevice(ctx, d.ID)
	if err != nil || !ok {
		s.log.Error("Device deletion failed", zap.Int("device_id", d.ID), zap.Error(err))
		return models.RPCError(MsgDeviceDeletionFailed)
	}
	if err := s.local.DisconnectDevice(d.ID); err != nil {
		s.log.Warn("Failed to unsubscribe deleted device", zap.Int("device_id", d.ID), zap.Error(err))
	}
	return models.RPCSuccess(MsgDeviceDisconnected)
}

func (s *Control) updateDevice(ctx context.Context, e events.UpdateDeviceEvent) models.RPCResponse {
	d, err := s.cache.GetDeviceByID(ctx, e.DeviceID)
	if err != nil {
		s.log.Error("Cache lookup failed", zap.Int("device_id", e.DeviceID), zap.Error(err))
		return models.RPCError(MsgInternalError)
	}
	if d == nil {
		return models.RPCError(MsgDeviceNotFound)
	}
	if st := e.Update.Status; st != nil && *st != d.Status {
		switch *st {
		case models.StatusDisabled:
			err = s.local.DisconnectDevice(d.ID)
		case models.StatusOnline:
			err = s.local.ConnectDevice(d.ID)
		}
		if err != nil {
			s.log.Warn("Failed to update device subscriptions", zap.Int("device_id", d.ID), zap.Error(err))
		}
	}
	ok, err := s.cache.UpdateDevice(ctx, d.ID, e.Update)
	if err != nil {
		s.log.Error("Device update failed", zap.Int("device_id", d.ID), zap.Error(err))
		return models.RPCError(MsgInternalError)
	}
	if !ok {
		return models.RPCError(MsgDeviceNotFound)
	}
	return models.RPCSuccess(MsgDeviceUpdated)
}

func (s *Control) updateActuator(ctx context.Context, e events.UpdateActuatorEvent) models.RPCResponse {
	ok, err := s.cache.UpdateActuator(ctx, e.ActuatorID, e.Update, e.Origin.Writer())
	switch {
	case errors.Is(err, cache.ErrModeGuard):
		s.log.Warn("Actuator update rejected", zap.Error(err))
		return models.RPCError(MsgActuatorModeMismatch)
	case err != nil:
		s.log.Error("Actuator update failed", zap.Int("actuator_id", e.ActuatorID), zap.Error(err))
		return models.RPCError(MsgInternalError)
	case !ok:
		return models.RPCError(MsgActuatorNotFound)
	}
	return models.RPCSuccess(MsgActuatorUpdated)
}

// setActuator writes the setting through the mode guard, then commands the
// device. A command that fails restores the previous setting.
func (s *Control) setActuator(ctx context.Context, meta events.Meta, actuatorID int, setting *models.ActuatorSetting,
	okMsg, failMsg string, dispatch func(await bool) (bool, error)) models.RPCResponse {
	log := s.log.With(zap.Int("actuator_id", actuatorID), zap.String("request_id", meta.RequestID))
	writer := meta.Origin.Writer()

	prev, err := s.cache.GetActuator(ctx, actuatorID)
	if err != nil {
		log.Error("Cache lookup failed", zap.Error(err))
		return models.RPCError(failMsg)
	}
	if prev == nil {
		return models.RPCError(MsgActuatorNotFound)
	}

	_, err = s.cache.UpdateActuator(ctx, actuatorID, models.ActuatorUpdate{Setting: setting}, writer)
	if errors.Is(err, cache.ErrModeGuard) {
		log.Debug("Setting rejected by mode", zap.String("mode", string(prev.Mode)), zap.String("writer", string(writer)))
		return models.RPCError(MsgActuatorModeMismatch)
	}
	if err != nil {
		log.Error("Failed to store setting", zap.Error(err))
		return models.RPCError(failMsg)
	}

	ok, err := dispatch(meta.Origin.AwaitsResponse())
	if err == nil && ok {
		return models.RPCSuccess(okMsg)
	}

	restore := prev.Setting.Clone()
	if restore == nil {
		restore = &models.ActuatorSetting{}
	}
	if _, rerr := s.cache.UpdateActuator(ctx, actuatorID, models.ActuatorUpdate{Setting: restore}, writer); rerr != nil {
		log.Warn("Failed to restore previous setting", zap.Error(rerr))
	}
	if errors.Is(err, correlation.ErrNoResponse) {
		return models.RPCError(MsgNoResponse)
	}
	log.Warn("Command failed", zap.Bool("device_ok", ok), zap.Error(err))
	return models.RPCError(failMsg)
}

func (s *Control) test(ctx context.Context, e events.RPCTestEvent) models.RPCResponse {
	d, err := s.cache.GetDeviceByID(ctx, e.DeviceID)
	if err != nil || d == nil {
		return models.RPCError(MsgDeviceNotFound)
	}
	ok, err := s.local.SendTestCommand(ctx, d.ID, e.Message, e.RequestID, e.Origin.AwaitsResponse())
	switch {
	case errors.Is(err, correlation.ErrNoResponse):
		return models.RPCError(MsgNoResponse)
	case err != nil || !ok:
		s.log.Warn("Test command failed", zap.Int("device_id", d.ID), zap.Error(err))
		return models.RPCError(MsgDeviceNotFound)
	}
	return models.RPCSuccess(MsgTestReceived)
}
