// Package mqtt wraps paho.mqtt.golang with subscription tracking, restore on
// reconnect and handler panic recovery. Both gateway bridges use it.
package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Message is an inbound MQTT message
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// MessageHandler handles one inbound message. Errors are logged.
type MessageHandler func(msg Message) error

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is a connected broker session
type Client struct {
	client pahomqtt.Client
	name   string
	log    *zap.Logger

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	callbackMu sync.RWMutex
	onConnect  func()
}

// Connect dials the broker and blocks until the first connection succeeds or
// the connect timeout passes. Later drops are handled by paho's reconnect
// loop and subscriptions are restored on every reconnect.
func Connect(o Options, log *zap.Logger) (*Client, error) {
	c := &Client{
		name:          o.ClientID,
		log:           log.Named("mqtt").With(zap.String("broker", o.Broker)),
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(o)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.log.Warn("Connection lost", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log.Info("Reconnecting")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.log.Info("Connected", zap.String("client_id", o.ClientID))
	return c, nil
}

func (c *Client) handleConnect() {
	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	n := len(c.subscriptions)
	c.subMu.RUnlock()
	if n > 0 {
		c.log.Info("Subscriptions restored", zap.Int("count", n))
	}

	c.callbackMu.RLock()
	cb := c.onConnect
	c.callbackMu.RUnlock()
	if cb != nil {
		cb()
	}
}

// SetOnConnect registers a callback run after every (re)connect
func (c *Client) SetOnConnect(cb func()) {
	c.callbackMu.Lock()
	c.onConnect = cb
	c.callbackMu.Unlock()
}

// IsConnected reports the live connection state
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// Publish sends payload to topic and waits for the broker acknowledgement
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription is tracked and
// restored after reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultOperationTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	c.log.Debug("Subscribed", zap.String("topic", topic), zap.Uint8("qos", qos))
	return nil
}

// Unsubscribe removes the subscription for topic
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	c.forget(topic)
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	c.log.Debug("Unsubscribed", zap.String("topic", topic))
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Close disconnects after letting in-flight work drain
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.log.Info("Disconnected")
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, m pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("MQTT handler panic recovered", zap.String("topic", m.Topic()), zap.Any("panic", r))
			}
		}()
		msg := Message{Topic: m.Topic(), Payload: m.Payload(), Retained: m.Retained()}
		if err := handler(msg); err != nil {
			c.log.Warn("MQTT handler returned error", zap.String("topic", msg.Topic), zap.Error(err))
		}
	}
}
