package services

import (
	"context"
	"testing"
	"time"

	"officegateway/internal/cloudbridge"
	"officegateway/internal/models"
	"officegateway/internal/mqtt"

	"go.uber.org/zap/zaptest"
)

func newLiveness(t *testing.T, h *harness, grace time.Duration) *Liveness {
	s := NewLiveness(h.cache, h.backend, h.local, h.cloud, grace, zaptest.NewLogger(t))
	s.Register()
	return s
}

func lwt(payload string) mqtt.Message {
	return mqtt.Message{Topic: "gateway/lwt", Payload: []byte(payload)}
}

func TestLivenessMarksOnlineDeviceOffline(t *testing.T) {
	h := newHarness(t)
	s := newLiveness(t, h, 0)
	ctx := context.Background()
	h.addDevice(t, officeDevice())

	s.Handle(ctx, lwt("aa:bb:cc:00:11:22\n"))

	if st, _, _ := h.cache.GetStatus(ctx, 7); st != models.StatusOffline {
		t.Fatalf("status = %q, want offline", st)
	}
	if calls := h.backend.statusCalls(); len(calls) != 1 || calls[0] != (statusCall{ID: 7, Status: models.StatusOffline}) {
		t.Errorf("backend calls = %+v", calls)
	}
	if len(h.cloudBroker.Published(cloudbridge.TopicDisconnect)) != 1 {
		t.Error("cloud not told about the disconnect")
	}
	if !h.localBroker.Subscribed("gateway/telemetry/7") {
		t.Error("offline device must stay subscribed to be promoted by telemetry")
	}
}

func TestLivenessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := newLiveness(t, h, 0)
	ctx := context.Background()
	d := officeDevice()
	d.Status = models.StatusOffline
	h.addDevice(t, d)

	s.Handle(ctx, lwt("AA:BB:CC:00:11:22"))
	s.Handle(ctx, lwt("AA:BB:CC:00:11:22"))

	if len(h.backend.statusCalls()) != 0 {
		t.Errorf("backend calls = %+v, want none", h.backend.statusCalls())
	}
	if len(h.cloudBroker.Published("")) != 0 {
		t.Error("cloud notified for an already offline device")
	}
}

func TestLivenessIgnoresRetainedAndGrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addDevice(t, officeDevice())

	s := newLiveness(t, h, time.Hour)
	s.Handle(ctx, lwt("AA:BB:CC:00:11:22"))
	if st, _, _ := h.cache.GetStatus(ctx, 7); st != models.StatusOnline {
		t.Fatalf("status changed during grace: %q", st)
	}

	s.grace = 0
	retained := lwt("AA:BB:CC:00:11:22")
	retained.Retained = true
	s.Handle(ctx, retained)
	if st, _, _ := h.cache.GetStatus(ctx, 7); st != models.StatusOnline {
		t.Fatalf("status changed on retained message: %q", st)
	}
}

func TestLivenessRegistersTopicCallback(t *testing.T) {
	h := newHarness(t)
	newLiveness(t, h, 0)
	if err := h.local.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !h.localBroker.Subscribed("gateway/lwt") {
		t.Error("liveness topic not subscribed")
	}
}
