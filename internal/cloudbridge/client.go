// Package cloudbridge is the cloud facing side of the gateway. It speaks the
// platform's gateway MQTT API for device lifecycle, telemetry and RPC, and
// its REST API for attributes.
package cloudbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"officegateway/internal/models"
	"officegateway/internal/mqtt"

	"go.uber.org/zap"
)

// Gateway API topics
const (
	TopicConnect     = "v1/gateway/connect"
	TopicDisconnect  = "v1/gateway/disconnect"
	TopicTelemetry   = "v1/gateway/telemetry"
	TopicAttributes  = "v1/gateway/attributes"
	TopicRPCRequest  = "v1/devices/me/rpc/request/+"
	TopicRPCResponse = "v1/devices/me/rpc/response/"
	TopicMyAttrs     = "v1/devices/me/attributes"

	rpcRequestPrefix = "v1/devices/me/rpc/request/"
	cloudQoS         = 1
)

// ErrClosed is returned once the bridge has been closed
var ErrClosed = errors.New("cloudbridge: closed")

// Transport is the broker session to the platform
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Publisher receives decoded RPC intents
type Publisher interface {
	Publish(ctx context.Context, event any)
}

// Client is the cloud bridge
type Client struct {
	transport Transport
	rest      *RESTClient
	bus       Publisher
	log       *zap.Logger

	rpcQueue  chan rpcRequest
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cloud bridge. rest may be nil when no REST API is configured;
// attributes then go over the gateway MQTT API.
func New(transport Transport, rest *RESTClient, bus Publisher, queueSize int, log *zap.Logger) *Client {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Client{
		transport: transport,
		rest:      rest,
		bus:       bus,
		log:       log.Named("cloudbridge"),
		rpcQueue:  make(chan rpcRequest, queueSize),
		done:      make(chan struct{}),
	}
}

// Start registers the RPC and attribute callbacks
func (c *Client) Start() error {
	if err := c.transport.Subscribe(TopicRPCRequest, cloudQoS, c.onRPC); err != nil {
		return fmt.Errorf("cloudbridge: subscribe rpc: %w", err)
	}
	if err := c.transport.Subscribe(TopicMyAttrs, cloudQoS, c.onAttributes); err != nil {
		return fmt.Errorf("cloudbridge: subscribe attributes: %w", err)
	}
	return nil
}

// Close stops accepting RPC requests
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) onAttributes(msg mqtt.Message) error {
	c.log.Info("Attributes changed", zap.ByteString("payload", msg.Payload))
	return nil
}

func (c *Client) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.transport.Publish(topic, cloudQoS, false, payload)
}

// ConnectDevice announces a device behind the gateway
func (c *Client) ConnectDevice(d *models.Device) error {
	body := map[string]string{"device": d.CloudName()}
	if d.Model != "" {
		body["type"] = d.Model
	}
	if err := c.publishJSON(TopicConnect, body); err != nil {
		return fmt.Errorf("cloudbridge: connect %s: %w", d.CloudName(), err)
	}
	c.log.Info("Device connected to cloud", zap.String("device", d.CloudName()))
	return nil
}

// DisconnectDevice tells the platform a device went away
func (c *Client) DisconnectDevice(d *models.Device) error {
	if err := c.publishJSON(TopicDisconnect, map[string]string{"device": d.CloudName()}); err != nil {
		return fmt.Errorf("cloudbridge: disconnect %s: %w", d.CloudName(), err)
	}
	c.log.Info("Device disconnected from cloud", zap.String("device", d.CloudName()))
	return nil
}

type telemetrySample struct {
	TS     int64          `json:"ts"`
	Values map[string]any `json:"values"`
}

// SendTelemetry forwards one sample for a device
func (c *Client) SendTelemetry(d *models.Device, ts int64, values map[string]any) error {
	body := map[string][]telemetrySample{d.CloudName(): {{TS: ts, Values: values}}}
	if err := c.publishJSON(TopicTelemetry, body); err != nil {
		return fmt.Errorf("cloudbridge: telemetry %s: %w", d.CloudName(), err)
	}
	return nil
}

// SendAttributes stores device attributes on the platform: as server-scope
// attributes through REST when available, else as gateway client attributes.
func (c *Client) SendAttributes(ctx context.Context, d *models.Device, attrs map[string]any) error {
	if c.rest == nil {
		if err := c.publishJSON(TopicAttributes, map[string]any{d.CloudName(): attrs}); err != nil {
			return fmt.Errorf("cloudbridge: attributes %s: %w", d.CloudName(), err)
		}
		return nil
	}
	id, err := c.rest.DeviceUUID(ctx, d.CloudName())
	if err != nil {
		return err
	}
	return c.rest.SaveServerAttributes(ctx, id, attrs)
}

// SendRPCReply answers an RPC request
func (c *Client) SendRPCReply(requestID string, resp models.RPCResponse) error {
	if err := c.publishJSON(TopicRPCResponse+requestID, resp); err != nil {
		return fmt.Errorf("cloudbridge: rpc reply %s: %w", requestID, err)
	}
	c.log.Info("RPC reply sent",
		zap.String("request_id", requestID),
		zap.String("status", resp.Status),
		zap.String("message", resp.Message()))
	return nil
}

// DeviceAttributes is the attribute set published for a registered device
func DeviceAttributes(d *models.Device) map[string]any {
	attrs := map[string]any{
		"device_id":  d.ID,
		"mac_addr":   d.MACAddr,
		"fw_version": d.FWVersion,
		"status":     string(d.Status),
	}
	if d.Model != "" {
		attrs["model"] = d.Model
	}
	if d.OfficeID != nil {
		attrs["office_id"] = *d.OfficeID
	}
	actuators := make([]map[string]any, 0, len(d.Actuators))
	for _, a := range d.Actuators {
		actuators = append(actuators, map[string]any{"id": a.ID, "name": a.Name, "type": a.Type, "mode": string(a.Mode)})
	}
	attrs["actuators"] = actuators
	return attrs
}
