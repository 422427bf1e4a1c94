package cloudbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"officegateway/internal/events"
	"officegateway/internal/models"
	"officegateway/internal/mqtt"
	"officegateway/internal/mqtt/mqtttest"

	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []any
	got    chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 16)} }

func (r *recorder) Publish(_ context.Context, event any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T) any {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func TestRPCHandOff(t *testing.T) {
	broker := mqtttest.NewBroker()
	rec := newRecorder()
	c := New(broker, nil, rec, 4, zaptest.NewLogger(t))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	broker.Deliver(mqtt.Message{
		Topic:   "v1/devices/me/rpc/request/42",
		Payload: []byte(`{"method":"setFanState","params":{"actuator_id":3,"state":true}}`),
	})

	ev, ok := rec.wait(t).(events.SetFanStateEvent)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if ev.RequestID != "42" || ev.Origin != events.OriginCloud || ev.ActuatorID != 3 || !ev.State {
		t.Fatalf("event = %+v", ev)
	}

	broker.Deliver(mqtt.Message{Topic: "v1/devices/me/rpc/request/43", Payload: []byte(`{"method":"reboot"}`)})
	if un, ok := rec.wait(t).(events.UnknownRPCEvent); !ok || un.Method != "reboot" || un.RequestID != "43" {
		t.Fatalf("event = %#v", un)
	}

	broker.Deliver(mqtt.Message{Topic: "v1/devices/me/rpc/request/44", Payload: []byte(`not json`)})
	if inv, ok := rec.wait(t).(events.InvalidRPCEvent); !ok || inv.RequestID != "44" {
		t.Fatalf("event = %#v", inv)
	}
}

func TestRPCQueueFullRepliesImmediately(t *testing.T) {
	broker := mqtttest.NewBroker()
	c := New(broker, nil, newRecorder(), 1, zaptest.NewLogger(t))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}

	// Run is not started, so the second request finds the queue full
	broker.Deliver(mqtt.Message{Topic: "v1/devices/me/rpc/request/1", Payload: []byte(`{"method":"test"}`)})
	broker.Deliver(mqtt.Message{Topic: "v1/devices/me/rpc/request/2", Payload: []byte(`{"method":"test"}`)})

	replies := broker.Published("v1/devices/me/rpc/response/2")
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	var resp models.RPCResponse
	_ = json.Unmarshal(replies[0].Payload, &resp)
	if resp.Status != models.RPCStatusError {
		t.Fatalf("reply = %+v", resp)
	}
	if len(broker.Published("v1/devices/me/rpc/response/1")) != 0 {
		t.Fatal("queued request answered early")
	}
}

func TestGatewayAPIPayloads(t *testing.T) {
	broker := mqtttest.NewBroker()
	c := New(broker, nil, newRecorder(), 1, zaptest.NewLogger(t))
	d := &models.Device{ID: 5, Name: "desk", Model: "esp32"}

	if err := c.ConnectDevice(d); err != nil {
		t.Fatal(err)
	}
	if err := c.SendTelemetry(d, 1700000000000, map[string]any{"temperature": 22.0}); err != nil {
		t.Fatal(err)
	}
	if err := c.SendRPCReply("9", models.RPCSuccess("Device updated")); err != nil {
		t.Fatal(err)
	}
	if err := c.SendAttributes(context.Background(), d, map[string]any{"fw_version": "1.2"}); err != nil {
		t.Fatal(err)
	}

	var connect map[string]string
	_ = json.Unmarshal(broker.Published(TopicConnect)[0].Payload, &connect)
	if connect["device"] != "desk-5" || connect["type"] != "esp32" {
		t.Errorf("connect = %v", connect)
	}

	var telemetry map[string][]telemetrySample
	_ = json.Unmarshal(broker.Published(TopicTelemetry)[0].Payload, &telemetry)
	if s := telemetry["desk-5"]; len(s) != 1 || s[0].TS != 1700000000000 || s[0].Values["temperature"] != 22.0 {
		t.Errorf("telemetry = %v", telemetry)
	}

	var reply models.RPCResponse
	_ = json.Unmarshal(broker.Published("v1/devices/me/rpc/response/9")[0].Payload, &reply)
	if reply.Status != "success" || reply.Message() != "Device updated" {
		t.Errorf("reply = %+v", reply)
	}

	var attrs map[string]map[string]any
	_ = json.Unmarshal(broker.Published(TopicAttributes)[0].Payload, &attrs)
	if attrs["desk-5"]["fw_version"] != "1.2" {
		t.Errorf("attributes = %v", attrs)
	}
}
