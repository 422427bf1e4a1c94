package models

import "errors"

// ComponentSpec describes a sensor or actuator announced at registration
type ComponentSpec struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// Registration is the payload a device publishes on the register request topic
type Registration struct {
	Name        string          `json:"name"`
	MACAddr     string          `json:"mac_addr"`
	FWVersion   string          `json:"fw_version"`
	Model       string          `json:"model,omitempty"`
	Description string          `json:"description,omitempty"`
	OfficeID    *int            `json:"office_id,omitempty"`
	GatewayID   *int            `json:"gateway_id,omitempty"`
	Sensors     []ComponentSpec `json:"sensors"`
	Actuators   []ComponentSpec `json:"actuators"`
}

// Validate checks the fields a device identity cannot be built without
func (r *Registration) Validate() error {
	if r.MACAddr == "" {
		return errors.New("registration: mac_addr is required")
	}
	if r.Name == "" {
		return errors.New("registration: name is required")
	}
	for _, s := range r.Sensors {
		if s.Name == "" {
			return errors.New("registration: sensor name is required")
		}
	}
	for _, a := range r.Actuators {
		if a.Name == "" {
			return errors.New("registration: actuator name is required")
		}
	}
	return nil
}

// ComponentRef pairs a component name with its assigned id
type ComponentRef struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// RegistrationAck is sent back to the device on its MAC-addressed response topic
type RegistrationAck struct {
	Status    string         `json:"status"`
	DeviceID  int            `json:"device_id"`
	Sensors   []ComponentRef `json:"sensors"`
	Actuators []ComponentRef `json:"actuators"`
}

// NewRegistrationAck enumerates the component ids of d
func NewRegistrationAck(d *Device) RegistrationAck {
	ack := RegistrationAck{
		Status:    "OK",
		DeviceID:  d.ID,
		Sensors:   make([]ComponentRef, 0, len(d.Sensors)),
		Actuators: make([]ComponentRef, 0, len(d.Actuators)),
	}
	for _, s := range d.Sensors {
		ack.Sensors = append(ack.Sensors, ComponentRef{Name: s.Name, ID: s.ID})
	}
	for _, a := range d.Actuators {
		ack.Actuators = append(ack.Actuators, ComponentRef{Name: a.Name, ID: a.ID})
	}
	return ack
}

// Command methods understood by the firmware
const (
	MethodSetLighting = "setLighting"
	MethodSetFanState = "setFanState"
	MethodTest        = "test"
)

// ControlCommand is the envelope published on a device command topic
type ControlCommand struct {
	Method string        `json:"method"`
	Params CommandParams `json:"params"`
}

// CommandParams carries the method specific parameters
type CommandParams struct {
	RequestID  string   `json:"request_id"`
	ActuatorID int      `json:"actuator_id,omitempty"`
	Color      [][3]int `json:"color,omitempty"`
	Brightness *int     `json:"brightness,omitempty"`
	State      *bool    `json:"state,omitempty"`
	Speed      *int     `json:"speed,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// ControlResponse is published by a device after executing a command
type ControlResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Succeeded reports whether the device executed the command
func (r ControlResponse) Succeeded() bool {
	return r.Status == RPCStatusSuccess
}

// RPC reply statuses
const (
	RPCStatusSuccess = "success"
	RPCStatusError   = "error"
)

// RPCResponse is the reply sent back to the cloud for an RPC request
type RPCResponse struct {
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// RPCSuccess builds a success reply
func RPCSuccess(message string) RPCResponse {
	return RPCResponse{Status: RPCStatusSuccess, Data: map[string]any{"message": message}}
}

// RPCError builds an error reply
func RPCError(message string) RPCResponse {
	return RPCResponse{Status: RPCStatusError, Data: map[string]any{"message": message}}
}

// Message returns data.message
func (r RPCResponse) Message() string {
	s, _ := r.Data["message"].(string)
	return s
}
