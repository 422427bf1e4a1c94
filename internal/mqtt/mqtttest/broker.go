// Package mqtttest provides an in-memory stand-in for a broker session.
package mqtttest

import (
	"sync"

	"officegateway/internal/mqtt"
)

// Published is a message captured by the fake broker
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Broker records publishes and delivers injected messages to matching
// subscriptions. It satisfies the transport interfaces of both bridges.
type Broker struct {
	mu        sync.Mutex
	subs      map[string]mqtt.MessageHandler
	published []Published
	// OnPublish, if set, runs after a publish is recorded
	OnPublish  func(p Published)
	PublishErr error
}

// NewBroker creates an empty fake broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]mqtt.MessageHandler)}
}

func (b *Broker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b.mu.Lock()
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}
	p := Published{Topic: topic, QoS: qos, Retained: retained, Payload: append([]byte(nil), payload...)}
	b.published = append(b.published, p)
	hook := b.OnPublish
	b.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (b *Broker) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = h
	return nil
}

func (b *Broker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

// Deliver hands msg to every subscription whose filter matches. It reports
// whether any handler received it.
func (b *Broker) Deliver(msg mqtt.Message) bool {
	b.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range b.subs {
		if mqtt.Match(filter, msg.Topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()
	for _, h := range handlers {
		_ = h(msg)
	}
	return len(handlers) > 0
}

// Subscribed reports whether topic has a subscription
func (b *Broker) Subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[topic]
	return ok
}

// Published returns every recorded publish on topic, or all when topic is empty
func (b *Broker) Published(topic string) []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Published
	for _, p := range b.published {
		if topic == "" || p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}
