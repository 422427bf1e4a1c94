package services

import (
	"context"
	"testing"

	"officegateway/internal/cloudbridge"
	"officegateway/internal/events"
	"officegateway/internal/models"

	"go.uber.org/zap/zaptest"
)

func cloudMeta(id string) events.Meta {
	return events.Meta{RequestID: id, Origin: events.OriginCloud}
}

func TestControlModeGuardRejectsSetting(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()
	h.addDevice(t, officeDevice())

	on := true
	svc.Handle(ctx, events.UpdateActuatorEvent{
		Meta:       cloudMeta("r1"),
		ActuatorID: 11,
		Update:     models.ActuatorUpdate{Setting: &models.ActuatorSetting{State: &on}},
	})

	if resp := h.reply(t, "r1"); resp.Status != models.RPCStatusError {
		t.Errorf("reply = %+v, want error", resp)
	}
	a, _ := h.cache.GetActuator(ctx, 11)
	if a.Setting != nil || a.Mode != models.ModeAuto {
		t.Errorf("actuator mutated: %+v", a)
	}
}

func TestControlUpdateActuator(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()
	h.addDevice(t, officeDevice())

	scheduled := models.ModeScheduled
	svc.Handle(ctx, events.UpdateActuatorEvent{Meta: cloudMeta("r1"), ActuatorID: 11, Update: models.ActuatorUpdate{Mode: &scheduled}})
	if resp := h.reply(t, "r1"); resp.Message() != MsgActuatorUpdated {
		t.Errorf("reply = %+v", resp)
	}
	if mode, _, _ := h.cache.GetMode(ctx, 11); mode != models.ModeScheduled {
		t.Errorf("mode = %q", mode)
	}

	svc.Handle(ctx, events.UpdateActuatorEvent{Meta: cloudMeta("r2"), ActuatorID: 999, Update: models.ActuatorUpdate{Mode: &scheduled}})
	if resp := h.reply(t, "r2"); resp.Message() != MsgActuatorNotFound {
		t.Errorf("reply = %+v", resp)
	}
}

func TestControlSetLightingAwaitsDevice(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()
	h.addDevice(t, officeDevice())
	h.answerCommands(models.RPCStatusSuccess)

	brightness := 80
	svc.Handle(ctx, events.SetLightingEvent{
		Meta:       cloudMeta("r1"),
		ActuatorID: 12,
		Color:      [][3]int{{255, 0, 0}},
		Brightness: &brightness,
	})

	if resp := h.reply(t, "r1"); resp.Status != models.RPCStatusSuccess || resp.Message() != MsgLightingUpdated {
		t.Fatalf("reply = %+v", resp)
	}
	a, _ := h.cache.GetActuator(ctx, 12)
	if a.Setting == nil || *a.Setting.Brightness != 80 {
		t.Errorf("setting = %+v", a.Setting)
	}
}

func TestControlTimeoutRestoresSetting(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()
	d := officeDevice()
	off := false
	d.Actuators[0].Mode = models.ModeManual
	d.Actuators[0].Setting = &models.ActuatorSetting{State: &off}
	h.addDevice(t, d)

	svc.Handle(ctx, events.SetFanStateEvent{Meta: cloudMeta("r1"), ActuatorID: 11, State: true})

	if resp := h.reply(t, "r1"); resp.Message() != MsgNoResponse {
		t.Fatalf("reply = %+v", resp)
	}
	a, _ := h.cache.GetActuator(ctx, 11)
	if a.Setting == nil || a.Setting.State == nil || *a.Setting.State {
		t.Errorf("setting = %+v, want previous state restored", a.Setting)
	}
	if n := len(h.localBroker.Published("gateway/control/command/7")); n != 1 {
		t.Errorf("commands = %d, want 1", n)
	}
}

func TestControlAutoIntentIsFireAndForget(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()
	h.addDevice(t, officeDevice())

	svc.Handle(ctx, events.SetFanStateEvent{Meta: events.Meta{RequestID: "a1", Origin: events.OriginAuto}, ActuatorID: 11, State: true})

	if n := len(h.localBroker.Published("gateway/control/command/7")); n != 1 {
		t.Fatalf("commands = %d, want 1", n)
	}
	if n := len(h.cloudBroker.Published("")); n != 0 {
		t.Errorf("cloud publishes = %d, want none", n)
	}
	a, _ := h.cache.GetActuator(ctx, 11)
	if a.Setting == nil || !*a.Setting.State {
		t.Errorf("setting = %+v", a.Setting)
	}

	// the scheduler may not drive an actuator in auto mode
	svc.Handle(ctx, events.SetFanStateEvent{Meta: events.Meta{RequestID: "s1", Origin: events.OriginSchedule}, ActuatorID: 11})
	if n := len(h.localBroker.Published("gateway/control/command/7")); n != 1 {
		t.Errorf("commands = %d, want guard to block the second", n)
	}
}

func TestControlDeleteDevice(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()
	h.addDevice(t, officeDevice())

	svc.Handle(ctx, events.DeleteDeviceEvent{Meta: cloudMeta("r1"), DeviceID: 7})
	if resp := h.reply(t, "r1"); resp.Message() != MsgDeviceDisconnected {
		t.Fatalf("reply = %+v", resp)
	}
	if d, _ := h.cache.GetDeviceByID(ctx, 7); d != nil {
		t.Error("device still cached")
	}
	if h.localBroker.Subscribed("gateway/telemetry/7") {
		t.Error("device still subscribed")
	}

	svc.Handle(ctx, events.DeleteDeviceEvent{Meta: cloudMeta("r2"), DeviceID: 7})
	if resp := h.reply(t, "r2"); resp.Message() != MsgDeviceNotFound {
		t.Errorf("reply = %+v", resp)
	}
}

func TestControlUpdateDeviceStatusSubscriptions(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()
	h.addDevice(t, officeDevice())

	disabled := models.StatusDisabled
	svc.Handle(ctx, events.UpdateDeviceEvent{Meta: cloudMeta("r1"), DeviceID: 7, Update: models.DeviceUpdate{Status: &disabled}})
	if resp := h.reply(t, "r1"); resp.Message() != MsgDeviceUpdated {
		t.Fatalf("reply = %+v", resp)
	}
	if h.localBroker.Subscribed("gateway/telemetry/7") {
		t.Error("disabled device still subscribed")
	}

	online := models.StatusOnline
	svc.Handle(ctx, events.UpdateDeviceEvent{Meta: cloudMeta("r2"), DeviceID: 7, Update: models.DeviceUpdate{Status: &online}})
	if !h.localBroker.Subscribed("gateway/telemetry/7") {
		t.Error("enabled device not subscribed")
	}
	if st, _, _ := h.cache.GetStatus(ctx, 7); st != models.StatusOnline {
		t.Errorf("status = %q", st)
	}
}

func TestControlRepliesToEveryCloudIntent(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	ctx := context.Background()

	svc.Handle(ctx, events.UnknownRPCEvent{Meta: cloudMeta("u1"), Method: "reboot"})
	svc.Handle(ctx, events.InvalidRPCEvent{Meta: cloudMeta("i1"), Method: "setLighting", Error: "actuator_id is required"})
	svc.Handle(ctx, events.RPCTestEvent{Meta: cloudMeta("t1"), DeviceID: 99})

	want := map[string]string{"u1": MsgUnknownRPC, "i1": MsgInvalidRPC, "t1": MsgDeviceNotFound}
	for id, msg := range want {
		if resp := h.reply(t, id); resp.Status != models.RPCStatusError || resp.Message() != msg {
			t.Errorf("%s: reply = %+v, want %q", id, resp, msg)
		}
	}
}

func TestControlRepliesAfterPanic(t *testing.T) {
	h := newHarness(t)
	// a nil cache makes the handler panic on first use
	svc := NewControl(nil, h.local, h.cloud, zaptest.NewLogger(t))

	svc.Handle(context.Background(), events.DeleteDeviceEvent{Meta: cloudMeta("p1"), DeviceID: 1})
	if resp := h.reply(t, "p1"); resp.Message() != MsgInternalError {
		t.Errorf("reply = %+v", resp)
	}
}

func TestControlSubscribesThroughBus(t *testing.T) {
	h := newHarness(t)
	svc := NewControl(h.cache, h.local, h.cloud, zaptest.NewLogger(t))
	subs := svc.Subscribe(h.bus)
	if len(subs) != 8 {
		t.Fatalf("subscriptions = %d", len(subs))
	}

	h.bus.Publish(context.Background(), events.UnknownRPCEvent{Meta: cloudMeta("b1"), Method: "x"})
	h.bus.Wait()
	if len(h.cloudBroker.Published(cloudbridge.TopicRPCResponse+"b1")) != 1 {
		t.Error("bus intent not answered")
	}
}
