package localbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"officegateway/internal/config"
	"officegateway/internal/correlation"
	"officegateway/internal/events"
	"officegateway/internal/models"
	"officegateway/internal/mqtt"
	"officegateway/internal/mqtt/mqtttest"

	"go.uber.org/zap/zaptest"
)

type fakeCache struct {
	devices   []models.Device
	actuators map[int]int
}

func (f *fakeCache) GetAllDevices(context.Context) ([]models.Device, error) {
	return f.devices, nil
}

func (f *fakeCache) GetDeviceIDByActuatorID(_ context.Context, id int) (int, bool, error) {
	d, ok := f.actuators[id]
	return d, ok, nil
}

type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Publish(_ context.Context, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func defaultTopics() Topics {
	return TopicsFromConfig(map[string]config.TopicConfig{
		config.ChannelTest:             {Topic: "test/topic"},
		config.ChannelRegisterRequest:  {Topic: "gateway/register/request", QoS: 1},
		config.ChannelRegisterResponse: {Topic: "gateway/register/response/{mac}", QoS: 1},
		config.ChannelTelemetry:        {Topic: "gateway/telemetry/{device_id}"},
		config.ChannelControlCommands:  {Topic: "gateway/control/command/{device_id}", QoS: 1},
		config.ChannelControlResponse:  {Topic: "gateway/control/response/{device_id}", QoS: 1},
		config.ChannelLWT:              {Topic: "gateway/lwt", QoS: 1},
	})
}

func newTestClient(t *testing.T, cache *fakeCache) (*Client, *mqtttest.Broker, *recorder) {
	t.Helper()
	broker := mqtttest.NewBroker()
	rec := &recorder{}
	c := New(broker, cache, rec, correlation.NewTable(), Options{
		Topics:          defaultTopics(),
		ResponseTimeout: 200 * time.Millisecond,
	}, zaptest.NewLogger(t))
	t.Cleanup(c.Close)
	return c, broker, rec
}

func TestStartResubscribesOnlineDevices(t *testing.T) {
	cache := &fakeCache{devices: []models.Device{
		{ID: 1, Status: models.StatusOnline},
		{ID: 2, Status: models.StatusOffline},
		{ID: 3, Status: models.StatusDisabled},
	}}
	c, broker, _ := newTestClient(t, cache)
	c.OnTopic("gateway/lwt", func(context.Context, mqtt.Message) {})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for topic, want := range map[string]bool{
		"gateway/telemetry/1":        true,
		"gateway/control/response/1": true,
		"gateway/telemetry/2":        false,
		"gateway/telemetry/3":        false,
		"test/topic":                 true,
		"gateway/register/request":   true,
		"gateway/lwt":                true,
	} {
		if got := broker.Subscribed(topic); got != want {
			t.Errorf("Subscribed(%q) = %v, want %v", topic, got, want)
		}
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		body  string
		check func(t *testing.T, ev any)
	}{
		{
			name: "test channel accepts any payload", topic: "test/topic", body: "hello",
			check: func(t *testing.T, ev any) {
				if e, ok := ev.(events.TestEvent); !ok || e.Payload != "hello" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "invalid json", topic: "gateway/telemetry/4", body: "{oops",
			check: func(t *testing.T, ev any) {
				if e, ok := ev.(events.InvalidMessageEvent); !ok || e.Topic != "gateway/telemetry/4" || e.Payload != "{oops" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "registration", topic: "gateway/register/request",
			body: `{"name":"desk","mac_addr":"aa:bb:cc:dd:ee:ff","fw_version":"1.0","sensors":[{"name":"t","type":"temperature"}],"actuators":[{"name":"fan","type":"fan"}]}`,
			check: func(t *testing.T, ev any) {
				e, ok := ev.(events.RegisterRequestEvent)
				if !ok || e.Registration.MACAddr != "AA:BB:CC:DD:EE:FF" || len(e.Registration.Actuators) != 1 {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "registration without mac", topic: "gateway/register/request", body: `{"name":"desk"}`,
			check: func(t *testing.T, ev any) {
				if _, ok := ev.(events.InvalidMessageEvent); !ok {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "telemetry", topic: "gateway/telemetry/5", body: `{"temperature":21.5}`,
			check: func(t *testing.T, ev any) {
				e, ok := ev.(events.TelemetryEvent)
				if !ok || e.DeviceID != 5 || e.Data["temperature"] != 21.5 {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "telemetry with bad id", topic: "gateway/telemetry/abc", body: `{}`,
			check: func(t *testing.T, ev any) {
				if _, ok := ev.(events.InvalidMessageEvent); !ok {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "unmatched control response", topic: "gateway/control/response/5", body: `{"request_id":"x","status":"success"}`,
			check: func(t *testing.T, ev any) {
				e, ok := ev.(events.ControlResponseEvent)
				if !ok || e.Matched || e.DeviceID != 5 {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "unknown topic", topic: "somewhere/else", body: `{}`,
			check: func(t *testing.T, ev any) {
				if _, ok := ev.(events.InvalidMessageEvent); !ok {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, rec := newTestClient(t, &fakeCache{})
			c.route(context.Background(), mqtt.Message{Topic: tt.topic, Payload: []byte(tt.body)})
			tt.check(t, rec.last())
		})
	}
}

func TestTopicCallbackTakesPrecedence(t *testing.T) {
	c, _, rec := newTestClient(t, &fakeCache{})
	var got []string
	c.OnTopic("gateway/telemetry/9", func(_ context.Context, msg mqtt.Message) {
		got = append(got, string(msg.Payload))
	})

	c.route(context.Background(), mqtt.Message{Topic: "gateway/telemetry/9", Payload: []byte(`{"a":1}`)})

	if len(got) != 1 {
		t.Fatalf("callback calls = %d, want 1", len(got))
	}
	if ev := rec.last(); ev != nil {
		t.Fatalf("router also handled message: %#v", ev)
	}
}

func TestDispatchAwaitsCorrelatedResponse(t *testing.T) {
	cache := &fakeCache{actuators: map[int]int{11: 3}}
	c, broker, _ := newTestClient(t, cache)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	if err := c.ConnectDevice(3); err != nil {
		t.Fatal(err)
	}

	broker.OnPublish = func(p mqtttest.Published) {
		if p.Topic != "gateway/control/command/3" {
			return
		}
		var cmd models.ControlCommand
		if err := json.Unmarshal(p.Payload, &cmd); err != nil {
			t.Errorf("bad command payload: %v", err)
			return
		}
		resp, _ := json.Marshal(models.ControlResponse{RequestID: cmd.Params.RequestID, Status: "success"})
		go broker.Deliver(mqtt.Message{Topic: "gateway/control/response/3", Payload: resp})
	}

	ok, err := c.SetFanState(ctx, 11, true, nil, "req-1", true)
	if err != nil || !ok {
		t.Fatalf("SetFanState() = %v, %v; want true, nil", ok, err)
	}

	sent := broker.Published("gateway/control/command/3")
	if len(sent) != 1 {
		t.Fatalf("published %d commands, want 1", len(sent))
	}
	var cmd models.ControlCommand
	_ = json.Unmarshal(sent[0].Payload, &cmd)
	if cmd.Method != models.MethodSetFanState || cmd.Params.State == nil || !*cmd.Params.State || cmd.Params.ActuatorID != 11 {
		t.Fatalf("command = %+v", cmd)
	}
	if c.pending.Len() != 0 {
		t.Fatalf("pending = %d, want 0", c.pending.Len())
	}
}

func TestDispatchTimesOut(t *testing.T) {
	cache := &fakeCache{actuators: map[int]int{12: 3}}
	c, _, _ := newTestClient(t, cache)

	ok, err := c.SetLighting(context.Background(), 12, [][3]int{{1, 2, 3}}, nil, "req-2", true)
	if ok || !errors.Is(err, correlation.ErrNoResponse) {
		t.Fatalf("SetLighting() = %v, %v; want false, ErrNoResponse", ok, err)
	}
	if c.pending.Len() != 0 {
		t.Fatalf("pending = %d, want 0", c.pending.Len())
	}
}

func TestFireAndForgetAndUnknownActuator(t *testing.T) {
	cache := &fakeCache{actuators: map[int]int{12: 3}}
	c, broker, _ := newTestClient(t, cache)

	ok, err := c.SetLighting(context.Background(), 12, [][3]int{{1, 2, 3}}, nil, "auto-1", false)
	if err != nil || !ok {
		t.Fatalf("SetLighting() = %v, %v", ok, err)
	}
	if n := len(broker.Published("gateway/control/command/3")); n != 1 {
		t.Fatalf("published %d commands, want 1", n)
	}

	_, err = c.SetLighting(context.Background(), 99, [][3]int{{1, 2, 3}}, nil, "auto-2", false)
	if !errors.Is(err, ErrActuatorNotFound) {
		t.Fatalf("error = %v, want ErrActuatorNotFound", err)
	}
}

func TestRegisterDeviceAcknowledges(t *testing.T) {
	c, broker, _ := newTestClient(t, &fakeCache{})
	d := &models.Device{
		ID: 8, MACAddr: "AA:BB:CC:00:11:22",
		Sensors:   []models.Sensor{{ID: 1, Name: "temp"}},
		Actuators: []models.Actuator{{ID: 2, Name: "fan"}},
	}

	if err := c.RegisterDevice(d); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if !broker.Subscribed("gateway/telemetry/8") || !broker.Subscribed("gateway/control/response/8") {
		t.Fatal("device topics not subscribed")
	}
	acks := broker.Published("gateway/register/response/AABBCC001122")
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	var ack models.RegistrationAck
	if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != "OK" || ack.DeviceID != 8 || ack.Actuators[0].ID != 2 || ack.Sensors[0].Name != "temp" {
		t.Fatalf("ack = %+v", ack)
	}

	if err := c.DisconnectDevice(8); err != nil {
		t.Fatal(err)
	}
	if broker.Subscribed("gateway/telemetry/8") {
		t.Fatal("telemetry still subscribed after disconnect")
	}
}
