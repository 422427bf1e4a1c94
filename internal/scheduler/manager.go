package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"officegateway/internal/events"
	"officegateway/internal/models"

	"go.uber.org/zap"
)

// ErrInvalidSchedule is returned for schedules that fail validation
var ErrInvalidSchedule = errors.New("scheduler: invalid schedule")

// Store persists schedules
type Store interface {
	ScheduleSource
	NextID(ctx context.Context) (int, error)
	Save(ctx context.Context, sched *models.Schedule) error
	Get(ctx context.Context, id int) (*models.Schedule, error)
	Delete(ctx context.Context, id int) (bool, error)
	ForActuator(ctx context.Context, actuatorID int) ([]models.Schedule, error)
}

// Manager creates and maintains schedules
type Manager struct {
	store Store
	now   func() time.Time
	log   *zap.Logger
}

// NewManager creates a schedule manager over store
func NewManager(store Store, log *zap.Logger) *Manager {
	return &Manager{store: store, now: time.Now, log: log.Named("schedules")}
}

// Validate checks a schedule before it is stored
func Validate(s *models.Schedule) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSchedule, fmt.Sprintf(format, args...))
	}
	if s.Name == "" {
		return invalid("name is required")
	}
	if s.ActuatorID <= 0 {
		return invalid("actuator_id must be positive")
	}
	if len(s.DaysOfWeek) == 0 {
		return invalid("days_of_week is empty")
	}
	for _, d := range s.DaysOfWeek {
		if d < models.Monday || d > models.Sunday {
			return invalid("day %d out of range", d)
		}
	}
	if s.StartTime < 0 || s.StartTime >= models.Clock(24, 0) || s.EndTime < 0 || s.EndTime >= models.Clock(24, 0) {
		return invalid("time of day out of range")
	}
	if s.Setting.Speed != nil && (*s.Setting.Speed < 0 || *s.Setting.Speed > 100) {
		return invalid("speed must be within 0-100")
	}
	switch s.ScheduleType {
	case models.ScheduleLighting:
		if len(s.Setting.Color) == 0 {
			return invalid("lighting schedule needs a color")
		}
		if err := events.ValidateColor(s.Setting.Color); err != nil {
			return invalid("%v", err)
		}
		if b := s.Setting.Brightness; b != nil && (*b < 0 || *b > 100) {
			return invalid("brightness must be within 0-100")
		}
	case models.ScheduleFan:
		if s.Setting.State == nil {
			return invalid("fan schedule needs a state")
		}
	default:
		return invalid("unknown schedule type %q", s.ScheduleType)
	}
	return nil
}

// Create validates and stores a new schedule, assigning its id
func (m *Manager) Create(ctx context.Context, s models.Schedule) (*models.Schedule, error) {
	if err := Validate(&s); err != nil {
		return nil, err
	}
	id, err := m.store.NextID(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	s.ID = id
	s.CreatedAt, s.UpdatedAt = now, now
	if err := m.store.Save(ctx, &s); err != nil {
		return nil, err
	}
	m.log.Info("Schedule created", zap.Int("schedule_id", s.ID), zap.String("name", s.Name),
		zap.Int("actuator_id", s.ActuatorID), zap.String("type", string(s.ScheduleType)))
	return &s, nil
}

// CreateLighting creates an active lighting schedule
func (m *Manager) CreateLighting(ctx context.Context, name string, actuatorID int, days []models.DayOfWeek,
	start, end models.TimeOfDay, color [][3]int, brightness, priority int) (*models.Schedule, error) {
	return m.Create(ctx, models.Schedule{
		Name:         name,
		ActuatorID:   actuatorID,
		ScheduleType: models.ScheduleLighting,
		DaysOfWeek:   days,
		StartTime:    start,
		EndTime:      end,
		Setting:      models.ScheduleSetting{Color: color, Brightness: &brightness},
		Priority:     priority,
		IsActive:     true,
	})
}

// CreateFan creates an active fan schedule; speed may be nil
func (m *Manager) CreateFan(ctx context.Context, name string, actuatorID int, days []models.DayOfWeek,
	start, end models.TimeOfDay, state bool, speed *int, priority int) (*models.Schedule, error) {
	return m.Create(ctx, models.Schedule{
		Name:         name,
		ActuatorID:   actuatorID,
		ScheduleType: models.ScheduleFan,
		DaysOfWeek:   days,
		StartTime:    start,
		EndTime:      end,
		Setting:      models.ScheduleSetting{State: &state, Speed: speed},
		Priority:     priority,
		IsActive:     true,
	})
}

// CreateWorkdayLighting creates a Monday to Friday lighting schedule
func (m *Manager) CreateWorkdayLighting(ctx context.Context, name string, actuatorID int,
	start, end models.TimeOfDay, color [][3]int, brightness, priority int) (*models.Schedule, error) {
	return m.CreateLighting(ctx, name, actuatorID, models.Workdays, start, end, color, brightness, priority)
}

// CreateWeekendLighting creates a Saturday and Sunday lighting schedule
func (m *Manager) CreateWeekendLighting(ctx context.Context, name string, actuatorID int,
	start, end models.TimeOfDay, color [][3]int, brightness, priority int) (*models.Schedule, error) {
	return m.CreateLighting(ctx, name, actuatorID, models.Weekend, start, end, color, brightness, priority)
}

// Update replaces a schedule's definition. It returns nil when the schedule
// does not exist.
func (m *Manager) Update(ctx context.Context, id int, s models.Schedule) (*models.Schedule, error) {
	old, err := m.store.Get(ctx, id)
	if err != nil || old == nil {
		return nil, err
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	s.ID = id
	s.CreatedAt = old.CreatedAt
	s.UpdatedAt = m.now().UTC()
	if err := m.store.Save(ctx, &s); err != nil {
		return nil, err
	}
	m.log.Info("Schedule updated", zap.Int("schedule_id", id))
	return &s, nil
}

// SetActive enables or disables a schedule
func (m *Manager) SetActive(ctx context.Context, id int, active bool) (bool, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil || s == nil {
		return false, err
	}
	s.IsActive = active
	s.UpdatedAt = m.now().UTC()
	return true, m.store.Save(ctx, s)
}

// Delete removes a schedule
func (m *Manager) Delete(ctx context.Context, id int) (bool, error) {
	ok, err := m.store.Delete(ctx, id)
	if ok {
		m.log.Info("Schedule removed", zap.Int("schedule_id", id))
	}
	return ok, err
}

// Get returns a schedule or nil
func (m *Manager) Get(ctx context.Context, id int) (*models.Schedule, error) {
	return m.store.Get(ctx, id)
}

// List returns all schedules
func (m *Manager) List(ctx context.Context) ([]models.Schedule, error) {
	return m.store.List(ctx)
}

// ForActuator returns the schedules of one actuator
func (m *Manager) ForActuator(ctx context.Context, actuatorID int) ([]models.Schedule, error) {
	return m.store.ForActuator(ctx, actuatorID)
}
