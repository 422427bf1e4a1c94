package localbridge

import (
	"officegateway/internal/config"
	"officegateway/internal/mqtt"
)

// Topics is the local channel table
type Topics struct {
	Test             mqtt.Topic
	RegisterRequest  mqtt.Topic
	RegisterResponse mqtt.Topic
	Telemetry        mqtt.Topic
	ControlCommands  mqtt.Topic
	ControlResponse  mqtt.Topic
	LWT              mqtt.Topic
}

// TopicsFromConfig builds the table from the local.topics section
func TopicsFromConfig(cfg map[string]config.TopicConfig) Topics {
	get := func(ch string) mqtt.Topic {
		t := cfg[ch]
		return mqtt.Topic{Template: t.Topic, QoS: t.QoS, Retain: t.Retain}
	}
	return Topics{
		Test:             get(config.ChannelTest),
		RegisterRequest:  get(config.ChannelRegisterRequest),
		RegisterResponse: get(config.ChannelRegisterResponse),
		Telemetry:        get(config.ChannelTelemetry),
		ControlCommands:  get(config.ChannelControlCommands),
		ControlResponse:  get(config.ChannelControlResponse),
		LWT:              get(config.ChannelLWT),
	}
}
