package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultOperationTimeout  = 5 * time.Second
	defaultDisconnectQuiesce = 500 // milliseconds
	defaultKeepAlive         = 30 * time.Second
	defaultMaxReconnect      = time.Minute
	maxQoS                   = 2
	maxPayloadSize           = 1 << 20
)

// Options describes one broker connection
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// ReconnectDelay is the first retry interval; paho backs off from here
	ReconnectDelay time.Duration
	// Will is published by the broker if the connection drops unexpectedly
	Will *Will
}

// Will is a last-will message
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// buildClientOptions translates Options into paho options
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().AddBroker(o.Broker).SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if o.ReconnectDelay > 0 {
		opts.SetConnectRetryInterval(o.ReconnectDelay)
	}
	opts.SetMaxReconnectInterval(defaultMaxReconnect)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	// handlers only enqueue, so in-order delivery costs nothing
	opts.SetOrderMatters(true)
	if o.Will != nil {
		opts.SetBinaryWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retained)
	}
	return opts
}
