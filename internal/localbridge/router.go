package localbridge

import (
	"context"
	"encoding/json"
	"time"

	"officegateway/internal/events"
	"officegateway/internal/models"
	"officegateway/internal/mqtt"
	"officegateway/internal/utils"

	"go.uber.org/zap"
)

// route turns one inbound message into exactly one outcome: a per-topic
// callback, a typed event, a correlation resolution or an InvalidMessageEvent.
func (c *Client) route(ctx context.Context, msg mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Message routing panic recovered", zap.String("topic", msg.Topic), zap.Any("panic", r))
		}
	}()

	if cb, ok := c.callback(msg.Topic); ok {
		cb(ctx, msg)
		return
	}

	if msg.Topic == c.topics.Test.Template {
		c.bus.Publish(ctx, events.TestEvent{Topic: msg.Topic, Payload: string(msg.Payload)})
		return
	}

	if !json.Valid(msg.Payload) {
		c.invalid(ctx, msg, "payload is not valid JSON")
		return
	}

	switch {
	case msg.Topic == c.topics.RegisterRequest.Template:
		c.routeRegistration(ctx, msg)
	case hasSuffix(c.topics.Telemetry, msg.Topic):
		c.routeTelemetry(ctx, msg)
	case hasSuffix(c.topics.ControlResponse, msg.Topic):
		c.routeControlResponse(ctx, msg)
	default:
		c.invalid(ctx, msg, "no route for topic")
	}
}

func hasSuffix(t mqtt.Topic, topic string) bool {
	s, ok := t.Suffix(topic)
	return ok && s != ""
}

func (c *Client) routeRegistration(ctx context.Context, msg mqtt.Message) {
	var reg models.Registration
	if err := json.Unmarshal(msg.Payload, &reg); err != nil {
		c.invalid(ctx, msg, err.Error())
		return
	}
	if err := reg.Validate(); err != nil {
		c.invalid(ctx, msg, err.Error())
		return
	}
	reg.MACAddr = utils.NormalizeMAC(reg.MACAddr)
	c.log.Info("Registration request", zap.String("mac", reg.MACAddr), zap.String("name", reg.Name))
	c.bus.Publish(ctx, events.RegisterRequestEvent{Registration: reg})
}

func (c *Client) routeTelemetry(ctx context.Context, msg mqtt.Message) {
	id, ok := utils.ParseDeviceID(msg.Topic)
	if !ok {
		c.invalid(ctx, msg, "telemetry topic has no device id")
		return
	}
	var data map[string]any
	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		c.invalid(ctx, msg, err.Error())
		return
	}
	c.bus.Publish(ctx, events.TelemetryEvent{DeviceID: id, Timestamp: time.Now().UnixMilli(), Data: data})
}

func (c *Client) routeControlResponse(ctx context.Context, msg mqtt.Message) {
	id, ok := utils.ParseDeviceID(msg.Topic)
	if !ok {
		c.invalid(ctx, msg, "control response topic has no device id")
		return
	}
	var resp models.ControlResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		c.invalid(ctx, msg, err.Error())
		return
	}
	if resp.RequestID == "" {
		c.invalid(ctx, msg, "control response without request_id")
		return
	}
	matched := c.pending.Resolve(resp.RequestID, resp.Succeeded())
	if !matched {
		c.log.Debug("Control response without waiter",
			zap.Int("device_id", id), zap.String("request_id", resp.RequestID))
	}
	c.bus.Publish(ctx, events.ControlResponseEvent{DeviceID: id, Response: resp, Matched: matched})
}

func (c *Client) invalid(ctx context.Context, msg mqtt.Message, reason string) {
	c.log.Warn("Invalid message", zap.String("topic", msg.Topic), zap.String("error", reason))
	c.bus.Publish(ctx, events.InvalidMessageEvent{
		Topic:   msg.Topic,
		Payload: string(msg.Payload),
		Error:   reason,
	})
}
