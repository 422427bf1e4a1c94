package localbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"officegateway/internal/models"

	"go.uber.org/zap"
)

// SetLighting sends setLighting to the device owning actuatorID. With await
// set it blocks until the device answers or the response timeout passes.
func (c *Client) SetLighting(ctx context.Context, actuatorID int, color [][3]int, brightness *int, requestID string, await bool) (bool, error) {
	return c.actuatorCommand(ctx, actuatorID, models.ControlCommand{
		Method: models.MethodSetLighting,
		Params: models.CommandParams{
			RequestID:  requestID,
			ActuatorID: actuatorID,
			Color:      color,
			Brightness: brightness,
		},
	}, await)
}

// SetFanState sends setFanState to the device owning actuatorID
func (c *Client) SetFanState(ctx context.Context, actuatorID int, state bool, speed *int, requestID string, await bool) (bool, error) {
	return c.actuatorCommand(ctx, actuatorID, models.ControlCommand{
		Method: models.MethodSetFanState,
		Params: models.CommandParams{
			RequestID:  requestID,
			ActuatorID: actuatorID,
			State:      &state,
			Speed:      speed,
		},
	}, await)
}

// SendTestCommand sends a test command straight to a device
func (c *Client) SendTestCommand(ctx context.Context, deviceID int, message, requestID string, await bool) (bool, error) {
	return c.Dispatch(ctx, deviceID, models.ControlCommand{
		Method: models.MethodTest,
		Params: models.CommandParams{RequestID: requestID, Message: message},
	}, await)
}

func (c *Client) actuatorCommand(ctx context.Context, actuatorID int, cmd models.ControlCommand, await bool) (bool, error) {
	deviceID, ok, err := c.cache.GetDeviceIDByActuatorID(ctx, actuatorID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrActuatorNotFound, actuatorID)
	}
	return c.Dispatch(ctx, deviceID, cmd, await)
}

// Dispatch publishes cmd on the device's command topic. Without await it
// reports success once the broker accepted the publish.
func (c *Client) Dispatch(ctx context.Context, deviceID int, cmd models.ControlCommand, await bool) (bool, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return false, err
	}
	topic := c.topics.ControlCommands.Format("device_id", strconv.Itoa(deviceID))
	send := func() error {
		return c.transport.Publish(topic, c.topics.ControlCommands.QoS, c.topics.ControlCommands.Retain, payload)
	}

	log := c.log.With(zap.Int("device_id", deviceID), zap.String("method", cmd.Method),
		zap.String("request_id", cmd.Params.RequestID))

	if !await {
		if err := send(); err != nil {
			return false, err
		}
		log.Debug("Command sent")
		return true, nil
	}

	ok, err := c.pending.Wait(ctx, cmd.Params.RequestID, c.timeout, send)
	if err != nil {
		log.Warn("Command failed", zap.Error(err))
		return false, err
	}
	log.Info("Command answered", zap.Bool("success", ok))
	return ok, nil
}
