package services

import (
	"context"
	"encoding/json"
	"testing"

	"officegateway/internal/cloudbridge"
	"officegateway/internal/events"
	"officegateway/internal/models"

	"go.uber.org/zap/zaptest"
)

func registration() models.Registration {
	return models.Registration{
		Name:      "desk",
		MACAddr:   "aa:bb:cc:00:11:22",
		FWVersion: "1.0.3",
		Model:     "esp32",
		Sensors:   []models.ComponentSpec{{Name: "temperature", Unit: "C"}, {Name: "humidity", Unit: "%"}},
		Actuators: []models.ComponentSpec{{Name: "fan", Type: models.ActuatorFan}},
	}
}

func TestRegisterUnseenDevice(t *testing.T) {
	h := newHarness(t)
	svc := NewRegistration(h.cache, h.backend, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := svc.Handle(ctx, events.RegisterRequestEvent{Registration: registration()}); err != nil {
		t.Fatal(err)
	}

	if len(h.backend.created) != 1 {
		t.Fatalf("backend creates = %d, want 1", len(h.backend.created))
	}
	d, _ := h.cache.GetDeviceByMAC(ctx, "AA:BB:CC:00:11:22")
	if d == nil || d.ID != 41 || len(d.Actuators) != 1 {
		t.Fatalf("cached device = %+v", d)
	}
	if n := len(h.cloudBroker.Published(cloudbridge.TopicConnect)); n != 1 {
		t.Errorf("cloud connects = %d, want 1", n)
	}

	acks := h.localBroker.Published("gateway/register/response/AABBCC001122")
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	var ack models.RegistrationAck
	if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != "OK" || ack.DeviceID != 41 || len(ack.Sensors) != 2 || len(ack.Actuators) != 1 {
		t.Fatalf("ack = %+v", ack)
	}
	if ack.Sensors[0].ID == 0 || ack.Actuators[0].ID == 0 {
		t.Errorf("ack without component ids: %+v", ack)
	}
	if !h.localBroker.Subscribed("gateway/telemetry/41") {
		t.Error("telemetry topic not subscribed")
	}
}

func TestRegisterKnownDeviceReconnects(t *testing.T) {
	h := newHarness(t)
	svc := NewRegistration(h.cache, h.backend, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()

	d := officeDevice()
	d.Status = models.StatusOffline
	d.FWVersion = "1.0.0"
	if err := h.cache.AddDevice(ctx, d); err != nil {
		t.Fatal(err)
	}

	reg := registration()
	if err := svc.Handle(ctx, events.RegisterRequestEvent{Registration: reg}); err != nil {
		t.Fatal(err)
	}

	if len(h.backend.created) != 0 {
		t.Errorf("known device re-created in backend")
	}
	if len(h.backend.connects) != 1 || h.backend.connects[0] != 7 {
		t.Errorf("backend connects = %v", h.backend.connects)
	}
	got, _ := h.cache.GetDeviceByID(ctx, 7)
	if got.Status != models.StatusOnline || got.FWVersion != "1.0.3" {
		t.Errorf("cached device = %+v", got)
	}
	if n := len(h.localBroker.Published("gateway/register/response/AABBCC001122")); n != 1 {
		t.Errorf("acks = %d, want 1", n)
	}
}

func TestRegisterDisabledDeviceOnlyAcknowledged(t *testing.T) {
	h := newHarness(t)
	svc := NewRegistration(h.cache, h.backend, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()

	d := officeDevice()
	d.Status = models.StatusDisabled
	if err := h.cache.AddDevice(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := svc.Handle(ctx, events.RegisterRequestEvent{Registration: registration()}); err != nil {
		t.Fatal(err)
	}

	if len(h.backend.connects) != 0 || len(h.cloudBroker.Published(cloudbridge.TopicConnect)) != 0 {
		t.Error("disabled device was reconnected")
	}
	if h.localBroker.Subscribed("gateway/telemetry/7") {
		t.Error("disabled device subscribed")
	}
	if n := len(h.localBroker.Published("gateway/register/response/AABBCC001122")); n != 1 {
		t.Errorf("acks = %d, want 1", n)
	}
}

func TestRegisterRejectsInvalidPayload(t *testing.T) {
	h := newHarness(t)
	svc := NewRegistration(h.cache, h.backend, h.local, h.cloud, zaptest.NewLogger(t))

	reg := registration()
	reg.MACAddr = ""
	if err := svc.Handle(context.Background(), events.RegisterRequestEvent{Registration: reg}); err != nil {
		t.Fatal(err)
	}
	if len(h.backend.created) != 0 || len(h.localBroker.Published("")) != 0 {
		t.Error("invalid registration had side effects")
	}
}
