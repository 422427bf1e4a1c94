package models

import (
	"strconv"
	"time"
)

// DeviceStatus is the lifecycle state of a device
type DeviceStatus string

const (
	StatusOnline      DeviceStatus = "online"
	StatusOffline     DeviceStatus = "offline"
	StatusError       DeviceStatus = "error"
	StatusMaintenance DeviceStatus = "maintenance"
	StatusDisabled    DeviceStatus = "disabled"
)

// Valid reports whether s is a known status
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusError, StatusMaintenance, StatusDisabled:
		return true
	}
	return false
}

// DeviceMode decides which subsystem may write an actuator setting
type DeviceMode string

const (
	ModeAuto      DeviceMode = "auto"
	ModeManual    DeviceMode = "manual"
	ModeScheduled DeviceMode = "scheduled"
)

// Valid reports whether m is a known mode
func (m DeviceMode) Valid() bool {
	switch m {
	case ModeAuto, ModeManual, ModeScheduled:
		return true
	}
	return false
}

// Actuator types reported by the firmware
const (
	ActuatorFan       = "fan"
	ActuatorLED4RGB   = "led4RGB"
	ActuatorIndicator = "indicator"
)

// Sensor represents a sensor owned by a device
type Sensor struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Unit     string `json:"unit,omitempty"`
	DeviceID int    `json:"device_id"`
}

// ActuatorSetting is the last commanded output of an actuator
type ActuatorSetting struct {
	Color      [][3]int `json:"color,omitempty"`
	Brightness *int     `json:"brightness,omitempty"`
	State      *bool    `json:"state,omitempty"`
	Speed      *int     `json:"speed,omitempty"`
}

// Clone returns a deep copy of the setting
func (s *ActuatorSetting) Clone() *ActuatorSetting {
	if s == nil {
		return nil
	}
	out := &ActuatorSetting{}
	if s.Color != nil {
		out.Color = append([][3]int(nil), s.Color...)
	}
	if s.Brightness != nil {
		v := *s.Brightness
		out.Brightness = &v
	}
	if s.State != nil {
		v := *s.State
		out.State = &v
	}
	if s.Speed != nil {
		v := *s.Speed
		out.Speed = &v
	}
	return out
}

// Actuator represents an actuator owned by a device
type Actuator struct {
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	Type     string           `json:"type,omitempty"`
	DeviceID int              `json:"device_id"`
	Mode     DeviceMode       `json:"mode"`
	Setting  *ActuatorSetting `json:"setting,omitempty"`
}

// Device represents a device as known to the gateway
type Device struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	MACAddr      string       `json:"mac_addr"`
	FWVersion    string       `json:"fw_version,omitempty"`
	Model        string       `json:"model,omitempty"`
	Description  string       `json:"description,omitempty"`
	OfficeID     *int         `json:"office_id,omitempty"`
	GatewayID    *int         `json:"gateway_id,omitempty"`
	Status       DeviceStatus `json:"status"`
	RegisteredAt time.Time    `json:"registered_at"`
	LastSeenAt   time.Time    `json:"last_seen_at"`
	AccessToken  string       `json:"access_token,omitempty"`
	Sensors      []Sensor     `json:"sensors,omitempty"`
	Actuators    []Actuator   `json:"actuators,omitempty"`
}

// CloudName is the unique name the device is known by on the cloud platform
func (d *Device) CloudName() string {
	return d.Name + "-" + strconv.Itoa(d.ID)
}

// Actuator returns the actuator with the given id
func (d *Device) Actuator(id int) *Actuator {
	for i := range d.Actuators {
		if d.Actuators[i].ID == id {
			return &d.Actuators[i]
		}
	}
	return nil
}

// DeviceUpdate carries a partial device update; nil fields are left unchanged
type DeviceUpdate struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	FWVersion   *string       `json:"fw_version,omitempty"`
	Model       *string       `json:"model,omitempty"`
	OfficeID    *int          `json:"office_id,omitempty"`
	Status      *DeviceStatus `json:"status,omitempty"`
	LastSeenAt  *time.Time    `json:"last_seen_at,omitempty"`
}

// Apply merges the non-nil fields into d
func (u DeviceUpdate) Apply(d *Device) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Description != nil {
		d.Description = *u.Description
	}
	if u.FWVersion != nil {
		d.FWVersion = *u.FWVersion
	}
	if u.Model != nil {
		d.Model = *u.Model
	}
	if u.OfficeID != nil {
		v := *u.OfficeID
		d.OfficeID = &v
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.LastSeenAt != nil {
		d.LastSeenAt = *u.LastSeenAt
	}
}

// StatusUpdate builds an update that only changes the status
func StatusUpdate(s DeviceStatus) DeviceUpdate {
	return DeviceUpdate{Status: &s}
}

// ActuatorUpdate carries a partial actuator update
type ActuatorUpdate struct {
	Name    *string          `json:"name,omitempty"`
	Type    *string          `json:"type,omitempty"`
	Mode    *DeviceMode      `json:"mode,omitempty"`
	Setting *ActuatorSetting `json:"setting,omitempty"`
}

// Apply merges the non-nil fields into a
func (u ActuatorUpdate) Apply(a *Actuator) {
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Type != nil {
		a.Type = *u.Type
	}
	if u.Mode != nil {
		a.Mode = *u.Mode
	}
	if u.Setting != nil {
		a.Setting = u.Setting.Clone()
	}
}
