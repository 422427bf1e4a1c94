package scheduler

import (
	"context"
	"fmt"
	"os"

	"officegateway/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Schedules []seedEntry `yaml:"schedules"`
}

type seedEntry struct {
	ID         int                    `yaml:"id"`
	Name       string                 `yaml:"name"`
	ActuatorID int                    `yaml:"actuator_id"`
	Type       models.ScheduleType    `yaml:"type"`
	Days       []models.DayOfWeek     `yaml:"days_of_week"`
	Preset     string                 `yaml:"days"`
	Start      models.TimeOfDay       `yaml:"start_time"`
	End        models.TimeOfDay       `yaml:"end_time"`
	Setting    models.ScheduleSetting `yaml:"setting"`
	Priority   int                    `yaml:"priority"`
	Active     *bool                  `yaml:"is_active"`
}

func (e seedEntry) schedule() (models.Schedule, error) {
	s := models.Schedule{
		ID:           e.ID,
		Name:         e.Name,
		ActuatorID:   e.ActuatorID,
		ScheduleType: e.Type,
		DaysOfWeek:   e.Days,
		StartTime:    e.Start,
		EndTime:      e.End,
		Setting:      e.Setting,
		Priority:     e.Priority,
		IsActive:     e.Active == nil || *e.Active,
	}
	switch e.Preset {
	case "":
	case "workdays":
		s.DaysOfWeek = models.Workdays
	case "weekend":
		s.DaysOfWeek = models.Weekend
	case "daily":
		s.DaysOfWeek = append(append([]models.DayOfWeek(nil), models.Workdays...), models.Weekend...)
	default:
		return s, fmt.Errorf("%w: unknown days preset %q", ErrInvalidSchedule, e.Preset)
	}
	return s, Validate(&s)
}

// ParseSeed decodes a YAML seed document
func ParseSeed(data []byte) ([]models.Schedule, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("scheduler: parse seed: %w", err)
	}
	out := make([]models.Schedule, 0, len(f.Schedules))
	for i, e := range f.Schedules {
		s, err := e.schedule()
		if err != nil {
			return nil, fmt.Errorf("scheduler: seed entry %d (%s): %w", i, e.Name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Seed loads schedules from a YAML file. Entries already stored, by id or
// else by name and actuator, are left alone so edits made at runtime survive
// a restart.
func (m *Manager) Seed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("scheduler: read seed: %w", err)
	}
	schedules, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}
	stored, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	type nameKey struct {
		name     string
		actuator int
	}
	known := make(map[nameKey]bool, len(stored))
	for _, s := range stored {
		known[nameKey{s.Name, s.ActuatorID}] = true
	}

	added := 0
	for _, s := range schedules {
		if s.ID > 0 {
			existing, err := m.store.Get(ctx, s.ID)
			if err != nil {
				return added, err
			}
			if existing != nil {
				continue
			}
			now := m.now().UTC()
			s.CreatedAt, s.UpdatedAt = now, now
			if err := m.store.Save(ctx, &s); err != nil {
				return added, err
			}
		} else {
			if known[nameKey{s.Name, s.ActuatorID}] {
				continue
			}
			if _, err := m.Create(ctx, s); err != nil {
				return added, err
			}
		}
		added++
	}
	m.log.Info("Schedules seeded", zap.String("file", path), zap.Int("added", added), zap.Int("entries", len(schedules)))
	return added, nil
}
