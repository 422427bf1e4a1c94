// Package services holds the gateway's business logic: registration,
// telemetry with auto-actuation, control of devices on behalf of the cloud,
// the scheduler's intents and device liveness. Services react to events on
// the bus and act through the cache and the two bridges.
package services

import (
	"context"
	"time"

	"officegateway/internal/localbridge"
	"officegateway/internal/models"
)

// Backend is the management backend the gateway reports to
type Backend interface {
	GetAllDevices(ctx context.Context, withComponents bool) ([]models.Device, error)
	CreateDevice(ctx context.Context, d *models.Device) (*models.Device, error)
	ConnectDevice(ctx context.Context, id int) error
	UpdateDevice(ctx context.Context, id int, upd models.DeviceUpdate) (bool, error)
	DeleteDevice(ctx context.Context, id int) (bool, error)
	SetDeviceStatus(ctx context.Context, id int, status models.DeviceStatus) error
}

// LocalBridge is the device facing bridge
type LocalBridge interface {
	Topics() localbridge.Topics
	OnTopic(topic string, cb localbridge.TopicCallback)
	ConnectDevice(deviceID int) error
	DisconnectDevice(deviceID int) error
	RegisterDevice(d *models.Device) error
	Acknowledge(d *models.Device) error
	SetLighting(ctx context.Context, actuatorID int, color [][3]int, brightness *int, requestID string, await bool) (bool, error)
	SetFanState(ctx context.Context, actuatorID int, state bool, speed *int, requestID string, await bool) (bool, error)
	SendTestCommand(ctx context.Context, deviceID int, message, requestID string, await bool) (bool, error)
}

// CloudBridge is the cloud platform side of the gateway
type CloudBridge interface {
	ConnectDevice(d *models.Device) error
	DisconnectDevice(d *models.Device) error
	SendTelemetry(d *models.Device, ts int64, values map[string]any) error
	SendAttributes(ctx context.Context, d *models.Device, attrs map[string]any) error
	SendRPCReply(requestID string, resp models.RPCResponse) error
}

// Publisher emits events on the bus
type Publisher interface {
	Publish(ctx context.Context, event any)
}

// HistorySink stores telemetry samples for later analysis
type HistorySink interface {
	WriteTelemetry(ctx context.Context, d *models.Device, at time.Time, values map[string]any) error
}
