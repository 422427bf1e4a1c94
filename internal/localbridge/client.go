// Package localbridge is the device facing side of the gateway: it owns the
// local broker subscriptions, turns inbound traffic into bus events and
// publishes acknowledgements and control commands to devices.
package localbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"officegateway/internal/correlation"
	"officegateway/internal/models"
	"officegateway/internal/mqtt"
	"officegateway/internal/utils"

	"go.uber.org/zap"
)

var (
	// ErrActuatorNotFound is returned when a command targets an unknown actuator
	ErrActuatorNotFound = errors.New("localbridge: actuator not found")
	// ErrClosed is returned once the bridge has been closed
	ErrClosed = errors.New("localbridge: closed")
)

// Transport is the broker session the bridge runs on
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// DeviceLookup is the part of the device cache the bridge reads
type DeviceLookup interface {
	GetAllDevices(ctx context.Context) ([]models.Device, error)
	GetDeviceIDByActuatorID(ctx context.Context, actuatorID int) (int, bool, error)
}

// Publisher receives decoded events
type Publisher interface {
	Publish(ctx context.Context, event any)
}

// TopicCallback handles messages on one exact topic in place of the router
type TopicCallback func(ctx context.Context, msg mqtt.Message)

// Options tunes the bridge
type Options struct {
	Topics          Topics
	ResponseTimeout time.Duration
	InboxSize       int
}

// Client is the local bridge
type Client struct {
	transport Transport
	cache     DeviceLookup
	bus       Publisher
	pending   *correlation.Table
	topics    Topics
	timeout   time.Duration
	log       *zap.Logger

	inbox     chan mqtt.Message
	done      chan struct{}
	closeOnce sync.Once

	cbMu      sync.RWMutex
	callbacks map[string]TopicCallback
}

// New creates a bridge over an established transport
func New(transport Transport, cache DeviceLookup, bus Publisher, pending *correlation.Table, opts Options, log *zap.Logger) *Client {
	size := opts.InboxSize
	if size <= 0 {
		size = 256
	}
	return &Client{
		transport: transport,
		cache:     cache,
		bus:       bus,
		pending:   pending,
		topics:    opts.Topics,
		timeout:   opts.ResponseTimeout,
		log:       log.Named("localbridge"),
		inbox:     make(chan mqtt.Message, size),
		done:      make(chan struct{}),
		callbacks: make(map[string]TopicCallback),
	}
}

// Topics returns the channel table
func (c *Client) Topics() Topics {
	return c.topics
}

// OnTopic routes every message on topic to cb instead of the generic router.
// Callbacks registered before Start are subscribed by Start.
func (c *Client) OnTopic(topic string, cb TopicCallback) {
	c.cbMu.Lock()
	c.callbacks[topic] = cb
	c.cbMu.Unlock()
}

func (c *Client) callback(topic string) (TopicCallback, bool) {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	cb, ok := c.callbacks[topic]
	return cb, ok
}

// Start subscribes the device topics of every ONLINE cached device, then the
// fixed channels and any per-topic callbacks.
func (c *Client) Start(ctx context.Context) error {
	devices, err := c.cache.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("localbridge: list devices: %w", err)
	}
	resubscribed := 0
	for _, d := range devices {
		if d.Status != models.StatusOnline {
			continue
		}
		if err := c.ConnectDevice(d.ID); err != nil {
			c.log.Error("Failed to resubscribe device", zap.Int("device_id", d.ID), zap.Error(err))
			continue
		}
		resubscribed++
	}
	c.log.Info("Device topics resubscribed", zap.Int("devices", resubscribed))

	fixed := []mqtt.Topic{c.topics.Test, c.topics.RegisterRequest}
	c.cbMu.RLock()
	for topic := range c.callbacks {
		qos := byte(1)
		if topic == c.topics.LWT.Template {
			qos = c.topics.LWT.QoS
		}
		fixed = append(fixed, mqtt.Topic{Template: topic, QoS: qos})
	}
	c.cbMu.RUnlock()

	for _, t := range fixed {
		if err := c.transport.Subscribe(t.Template, t.QoS, c.enqueue); err != nil {
			return fmt.Errorf("localbridge: subscribe %s: %w", t.Template, err)
		}
	}
	return nil
}

// Run is the message loop. It processes one inbound message at a time until
// ctx is done or the bridge is closed.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case msg := <-c.inbox:
			c.route(ctx, msg)
		}
	}
}

// Close stops accepting messages
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue is the transport handler for every subscription
func (c *Client) enqueue(msg mqtt.Message) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) deviceTopics(deviceID int) (telemetry, response string) {
	id := strconv.Itoa(deviceID)
	return c.topics.Telemetry.Format("device_id", id), c.topics.ControlResponse.Format("device_id", id)
}

// ConnectDevice subscribes the device's telemetry and control response topics
func (c *Client) ConnectDevice(deviceID int) error {
	telemetry, response := c.deviceTopics(deviceID)
	if err := c.transport.Subscribe(telemetry, c.topics.Telemetry.QoS, c.enqueue); err != nil {
		return err
	}
	if err := c.transport.Subscribe(response, c.topics.ControlResponse.QoS, c.enqueue); err != nil {
		return err
	}
	c.log.Debug("Device connected", zap.Int("device_id", deviceID))
	return nil
}

// DisconnectDevice unsubscribes the device's topics
func (c *Client) DisconnectDevice(deviceID int) error {
	telemetry, response := c.deviceTopics(deviceID)
	err := errors.Join(c.transport.Unsubscribe(telemetry), c.transport.Unsubscribe(response))
	if err == nil {
		c.log.Debug("Device disconnected", zap.Int("device_id", deviceID))
	}
	return err
}

// RegisterDevice subscribes the device topics and acknowledges the device
func (c *Client) RegisterDevice(d *models.Device) error {
	if err := c.ConnectDevice(d.ID); err != nil {
		return fmt.Errorf("localbridge: subscribe device %d: %w", d.ID, err)
	}
	return c.Acknowledge(d)
}

// Acknowledge publishes the registration ack on the device's MAC topic
func (c *Client) Acknowledge(d *models.Device) error {
	payload, err := json.Marshal(models.NewRegistrationAck(d))
	if err != nil {
		return err
	}
	topic := c.topics.RegisterResponse.Format("mac", utils.CompactMAC(d.MACAddr))
	if err := c.transport.Publish(topic, c.topics.RegisterResponse.QoS, c.topics.RegisterResponse.Retain, payload); err != nil {
		return fmt.Errorf("localbridge: acknowledge device %d: %w", d.ID, err)
	}
	c.log.Info("Registration acknowledged", zap.Int("device_id", d.ID), zap.String("topic", topic))
	return nil
}
