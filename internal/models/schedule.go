package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleType selects which setting shape a schedule carries
type ScheduleType string

const (
	ScheduleLighting ScheduleType = "lighting"
	ScheduleFan      ScheduleType = "fan"
)

// DayOfWeek counts from Monday=0 to Sunday=6
type DayOfWeek int

const (
	Monday DayOfWeek = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Workdays and Weekend are the day sets used by the preset helpers
var (
	Workdays = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday}
	Weekend  = []DayOfWeek{Saturday, Sunday}
)

// DayOf converts a time.Weekday (Sunday=0) to DayOfWeek (Monday=0)
func DayOf(t time.Time) DayOfWeek {
	return DayOfWeek((int(t.Weekday()) + 6) % 7)
}

// TimeOfDay is a wall clock time in minutes since midnight, encoded as "HH:MM"
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// Clock builds a TimeOfDay from hour and minute
func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// TimeOfDayOf truncates t to minute precision
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MarshalJSON encodes the time as "HH:MM"
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes "HH:MM"
func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalYAML encodes the time as "HH:MM"
func (t TimeOfDay) MarshalYAML() (any, error) {
	return t.String(), nil
}

// UnmarshalYAML decodes "HH:MM"
func (t *TimeOfDay) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ScheduleSetting holds the setting for either schedule type
type ScheduleSetting struct {
	Color      [][3]int `json:"color,omitempty" yaml:"color,omitempty"`
	Brightness *int     `json:"brightness,omitempty" yaml:"brightness,omitempty"`
	State      *bool    `json:"state,omitempty" yaml:"state,omitempty"`
	Speed      *int     `json:"speed,omitempty" yaml:"speed,omitempty"`
}

// Schedule is a time window that drives an actuator in scheduled mode
type Schedule struct {
	ID           int             `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	ActuatorID   int             `json:"actuator_id" yaml:"actuator_id"`
	ScheduleType ScheduleType    `json:"schedule_type" yaml:"schedule_type"`
	DaysOfWeek   []DayOfWeek     `json:"days_of_week" yaml:"days_of_week"`
	StartTime    TimeOfDay       `json:"start_time" yaml:"start_time"`
	EndTime      TimeOfDay       `json:"end_time" yaml:"end_time"`
	Setting      ScheduleSetting `json:"setting" yaml:"setting"`
	Priority     int             `json:"priority" yaml:"priority"`
	IsActive     bool            `json:"is_active" yaml:"is_active"`
	CreatedAt    time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time       `json:"updated_at" yaml:"-"`
}

// IsActiveAt reports whether the schedule covers t: active flag set, weekday
// included and time of day inside [start, end]. A window whose start is after
// its end wraps past midnight.
func (s *Schedule) IsActiveAt(t time.Time) bool {
	if !s.IsActive {
		return false
	}
	day := DayOf(t)
	included := false
	for _, d := range s.DaysOfWeek {
		if d == day {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	now := TimeOfDayOf(t)
	if s.StartTime <= s.EndTime {
		return now >= s.StartTime && now <= s.EndTime
	}
	return now >= s.StartTime || now <= s.EndTime
}

// RequestID is the synthetic request id attached to intents emitted for s
func (s *Schedule) RequestID() string {
	return fmt.Sprintf("schedule_%d", s.ID)
}
