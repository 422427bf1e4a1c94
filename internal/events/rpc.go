package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"officegateway/internal/models"
)

// Cloud RPC method names
const (
	MethodDeleteDevice   = "deleteDevice"
	MethodUpdateDevice   = "updateDevice"
	MethodUpdateActuator = "updateActuator"
	MethodSetLighting    = "setLighting"
	MethodSetFanState    = "setFanState"
	MethodTest           = "test"
)

// Origin tells who raised a control intent
type Origin int

const (
	// OriginCloud intents come from cloud RPCs and always get a reply
	OriginCloud Origin = iota
	// OriginAuto intents come from the telemetry control loop
	OriginAuto
	// OriginSchedule intents come from the scheduler
	OriginSchedule
)

func (o Origin) String() string {
	switch o {
	case OriginCloud:
		return "cloud"
	case OriginAuto:
		return "auto"
	case OriginSchedule:
		return "schedule"
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// Writer is the actuator mode allowed to apply settings from this origin
func (o Origin) Writer() models.DeviceMode {
	switch o {
	case OriginAuto:
		return models.ModeAuto
	case OriginSchedule:
		return models.ModeScheduled
	default:
		return models.ModeManual
	}
}

// AwaitsResponse reports whether commands raised from this origin wait for the device
func (o Origin) AwaitsResponse() bool {
	return o == OriginCloud
}

// Meta is embedded in every RPC intent
type Meta struct {
	RequestID string
	Origin    Origin
}

func (m Meta) meta() Meta { return m }

// RPCIntent is the closed set of control intents handled by the control service.
// Every intent carries the request id its reply must be tagged with.
type RPCIntent interface {
	meta() Meta
}

// MetaOf returns the request metadata of an intent
func MetaOf(i RPCIntent) Meta {
	return i.meta()
}

// DeleteDeviceEvent removes a device from the gateway
type DeleteDeviceEvent struct {
	Meta
	DeviceID int
}

// UpdateDeviceEvent applies a partial device update
type UpdateDeviceEvent struct {
	Meta
	DeviceID int
	Update   models.DeviceUpdate
}

// UpdateActuatorEvent applies a partial actuator update
type UpdateActuatorEvent struct {
	Meta
	ActuatorID int
	Update     models.ActuatorUpdate
}

// SetLightingEvent drives a lighting actuator
type SetLightingEvent struct {
	Meta
	ActuatorID int
	Color      [][3]int
	Brightness *int
}

// Setting returns the actuator setting this intent asks for
func (e SetLightingEvent) Setting() *models.ActuatorSetting {
	return &models.ActuatorSetting{Color: e.Color, Brightness: e.Brightness}
}

// SetFanStateEvent switches a fan actuator
type SetFanStateEvent struct {
	Meta
	ActuatorID int
	State      bool
	Speed      *int
}

// Setting returns the actuator setting this intent asks for
func (e SetFanStateEvent) Setting() *models.ActuatorSetting {
	state := e.State
	return &models.ActuatorSetting{State: &state, Speed: e.Speed}
}

// RPCTestEvent sends a test command to a device
type RPCTestEvent struct {
	Meta
	DeviceID int
	Message  string
}

// InvalidRPCEvent is raised when a known method carries unusable params
type InvalidRPCEvent struct {
	Meta
	Method string
	Params string
	Error  string
}

// UnknownRPCEvent is raised for methods outside the supported set
type UnknownRPCEvent struct {
	Meta
	Method string
}

type deviceParams struct {
	DeviceID *int            `json:"device_id"`
	Update   json.RawMessage `json:"device_update"`
	Message  string          `json:"message"`
}

type actuatorParams struct {
	ActuatorID *int            `json:"actuator_id"`
	Update     json.RawMessage `json:"actuator_update"`
	Color      [][3]int        `json:"color"`
	Brightness *int            `json:"brightness"`
	State      *bool           `json:"state"`
	FanState   *bool           `json:"fan_state"`
	Speed      *int            `json:"speed"`
}

var (
	errMissingDeviceID   = errors.New("device_id is required")
	errMissingActuatorID = errors.New("actuator_id is required")
)

// DecodeRPC turns a cloud RPC request into its typed intent. Unknown methods
// yield UnknownRPCEvent and unusable params yield InvalidRPCEvent, so a reply
// can always be produced.
func DecodeRPC(requestID, method string, params json.RawMessage) RPCIntent {
	meta := Meta{RequestID: requestID, Origin: OriginCloud}
	params = unwrapParams(params)

	invalid := func(err error) RPCIntent {
		return InvalidRPCEvent{Meta: meta, Method: method, Params: string(params), Error: err.Error()}
	}

	switch method {
	case MethodDeleteDevice, MethodUpdateDevice, MethodTest:
		var p deviceParams
		if err := json.Unmarshal(params, &p); err != nil {
			return invalid(err)
		}
		if p.DeviceID == nil {
			return invalid(errMissingDeviceID)
		}
		switch method {
		case MethodDeleteDevice:
			return DeleteDeviceEvent{Meta: meta, DeviceID: *p.DeviceID}
		case MethodTest:
			return RPCTestEvent{Meta: meta, DeviceID: *p.DeviceID, Message: p.Message}
		}
		var upd models.DeviceUpdate
		if err := decodeStrict(p.Update, &upd); err != nil {
			return invalid(fmt.Errorf("device_update: %w", err))
		}
		if upd.Status != nil && !upd.Status.Valid() {
			return invalid(fmt.Errorf("device_update: unknown status %q", *upd.Status))
		}
		return UpdateDeviceEvent{Meta: meta, DeviceID: *p.DeviceID, Update: upd}

	case MethodUpdateActuator, MethodSetLighting, MethodSetFanState:
		var p actuatorParams
		if err := json.Unmarshal(params, &p); err != nil {
			return invalid(err)
		}
		if p.ActuatorID == nil {
			return invalid(errMissingActuatorID)
		}
		switch method {
		case MethodUpdateActuator:
			var upd models.ActuatorUpdate
			if err := decodeStrict(p.Update, &upd); err != nil {
				return invalid(fmt.Errorf("actuator_update: %w", err))
			}
			if upd.Mode != nil && !upd.Mode.Valid() {
				return invalid(fmt.Errorf("actuator_update: unknown mode %q", *upd.Mode))
			}
			return UpdateActuatorEvent{Meta: meta, ActuatorID: *p.ActuatorID, Update: upd}
		case MethodSetLighting:
			if err := ValidateColor(p.Color); err != nil {
				return invalid(err)
			}
			if p.Brightness != nil && (*p.Brightness < 0 || *p.Brightness > 100) {
				return invalid(fmt.Errorf("brightness %d out of range 0-100", *p.Brightness))
			}
			return SetLightingEvent{Meta: meta, ActuatorID: *p.ActuatorID, Color: p.Color, Brightness: p.Brightness}
		default:
			state := p.State
			if state == nil {
				state = p.FanState
			}
			if state == nil {
				return invalid(errors.New("state is required"))
			}
			return SetFanStateEvent{Meta: meta, ActuatorID: *p.ActuatorID, State: *state, Speed: p.Speed}
		}
	}

	return UnknownRPCEvent{Meta: meta, Method: method}
}

// ValidateColor checks a non-empty list of RGB triples in 0-255
func ValidateColor(color [][3]int) error {
	if len(color) == 0 {
		return errors.New("color is required")
	}
	for i, rgb := range color {
		for _, c := range rgb {
			if c < 0 || c > 255 {
				return fmt.Errorf("color[%d] component %d out of range 0-255", i, c)
			}
		}
	}
	return nil
}

// unwrapParams accepts params sent as a JSON encoded string
func unwrapParams(params json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return json.RawMessage("{}")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return json.RawMessage(s)
		}
	}
	return trimmed
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("update is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
