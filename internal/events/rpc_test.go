package events

import (
	"encoding/json"
	"testing"

	"officegateway/internal/models"
)

func TestDecodeRPC(t *testing.T) {
	tests := []struct {
		name   string
		method string
		params string
		check  func(t *testing.T, intent RPCIntent)
	}{
		{
			name:   "delete device",
			method: MethodDeleteDevice,
			params: `{"device_id": 7}`,
			check: func(t *testing.T, intent RPCIntent) {
				e, ok := intent.(DeleteDeviceEvent)
				if !ok || e.DeviceID != 7 {
					t.Fatalf("got %#v, want DeleteDeviceEvent{DeviceID: 7}", intent)
				}
			},
		},
		{
			name:   "update device status",
			method: MethodUpdateDevice,
			params: `{"device_id": 2, "device_update": {"status": "disabled"}}`,
			check: func(t *testing.T, intent RPCIntent) {
				e, ok := intent.(UpdateDeviceEvent)
				if !ok {
					t.Fatalf("got %T, want UpdateDeviceEvent", intent)
				}
				if e.Update.Status == nil || *e.Update.Status != models.StatusDisabled {
					t.Fatalf("Update.Status = %v, want disabled", e.Update.Status)
				}
				if e.Update.Name != nil {
					t.Fatalf("Update.Name = %v, want nil", *e.Update.Name)
				}
			},
		},
		{
			name:   "update device rejects unknown field",
			method: MethodUpdateDevice,
			params: `{"device_id": 2, "device_update": {"colour": "red"}}`,
			check:  wantInvalid,
		},
		{
			name:   "update device rejects unknown status",
			method: MethodUpdateDevice,
			params: `{"device_id": 2, "device_update": {"status": "sleeping"}}`,
			check:  wantInvalid,
		},
		{
			name:   "update actuator mode",
			method: MethodUpdateActuator,
			params: `{"actuator_id": 4, "actuator_update": {"mode": "auto"}}`,
			check: func(t *testing.T, intent RPCIntent) {
				e, ok := intent.(UpdateActuatorEvent)
				if !ok || e.ActuatorID != 4 || e.Update.Mode == nil || *e.Update.Mode != models.ModeAuto {
					t.Fatalf("got %#v, want mode auto for actuator 4", intent)
				}
			},
		},
		{
			name:   "set lighting",
			method: MethodSetLighting,
			params: `{"actuator_id": 5, "color": [[255,0,0],[0,255,0],[0,0,255],[1,2,3]]}`,
			check: func(t *testing.T, intent RPCIntent) {
				e, ok := intent.(SetLightingEvent)
				if !ok || len(e.Color) != 4 || e.Color[1] != [3]int{0, 255, 0} {
					t.Fatalf("got %#v, want 4 colours", intent)
				}
			},
		},
		{
			name:   "set lighting rejects out of range colour",
			method: MethodSetLighting,
			params: `{"actuator_id": 5, "color": [[256,0,0]]}`,
			check:  wantInvalid,
		},
		{
			name:   "set fan state from string params",
			method: MethodSetFanState,
			params: `"{\"actuator_id\": 6, \"state\": true}"`,
			check: func(t *testing.T, intent RPCIntent) {
				e, ok := intent.(SetFanStateEvent)
				if !ok || !e.State || e.ActuatorID != 6 {
					t.Fatalf("got %#v, want fan 6 on", intent)
				}
			},
		},
		{
			name:   "set fan state accepts fan_state",
			method: MethodSetFanState,
			params: `{"actuator_id": 6, "fan_state": false}`,
			check: func(t *testing.T, intent RPCIntent) {
				e, ok := intent.(SetFanStateEvent)
				if !ok || e.State {
					t.Fatalf("got %#v, want fan off", intent)
				}
			},
		},
		{
			name:   "set fan state requires state",
			method: MethodSetFanState,
			params: `{"actuator_id": 6}`,
			check:  wantInvalid,
		},
		{
			name:   "missing device id",
			method: MethodDeleteDevice,
			params: `{}`,
			check:  wantInvalid,
		},
		{
			name:   "unknown method",
			method: "reboot",
			params: `{"device_id": 1}`,
			check: func(t *testing.T, intent RPCIntent) {
				e, ok := intent.(UnknownRPCEvent)
				if !ok || e.Method != "reboot" {
					t.Fatalf("got %#v, want UnknownRPCEvent", intent)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := DecodeRPC("42", tt.method, json.RawMessage(tt.params))
			meta := MetaOf(intent)
			if meta.RequestID != "42" {
				t.Fatalf("RequestID = %q, want 42", meta.RequestID)
			}
			if meta.Origin != OriginCloud {
				t.Fatalf("Origin = %v, want cloud", meta.Origin)
			}
			tt.check(t, intent)
		})
	}
}

func wantInvalid(t *testing.T, intent RPCIntent) {
	t.Helper()
	e, ok := intent.(InvalidRPCEvent)
	if !ok {
		t.Fatalf("got %T, want InvalidRPCEvent", intent)
	}
	if e.Error == "" {
		t.Fatal("InvalidRPCEvent.Error is empty")
	}
}

func TestOriginWriter(t *testing.T) {
	if OriginCloud.Writer() != models.ModeManual {
		t.Error("cloud origin must write as manual")
	}
	if OriginAuto.Writer() != models.ModeAuto {
		t.Error("auto origin must write as auto")
	}
	if OriginSchedule.Writer() != models.ModeScheduled {
		t.Error("schedule origin must write as scheduled")
	}
	if OriginAuto.AwaitsResponse() || OriginSchedule.AwaitsResponse() || !OriginCloud.AwaitsResponse() {
		t.Error("only cloud intents wait for device responses")
	}
}
