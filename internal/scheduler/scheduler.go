// Package scheduler drives actuators in scheduled mode from time windows.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"officegateway/internal/events"
	"officegateway/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSpec fires at the start of every minute
const DefaultSpec = "* * * * *"

// ScheduleSource lists the known schedules
type ScheduleSource interface {
	List(ctx context.Context) ([]models.Schedule, error)
}

// ModeSource reports the current mode of an actuator
type ModeSource interface {
	GetMode(ctx context.Context, actuatorID int) (models.DeviceMode, bool, error)
}

// Publisher emits intents on the bus
type Publisher interface {
	Publish(ctx context.Context, event any)
}

// Scheduler evaluates every schedule on each cron tick
type Scheduler struct {
	cron      *cron.Cron
	schedules ScheduleSource
	modes     ModeSource
	bus       Publisher
	spec      string
	now       func() time.Time
	log       *zap.Logger

	mu    sync.Mutex
	entry cron.EntryID
	ctx   context.Context
}

// NewScheduler creates a scheduler ticking on spec (DefaultSpec when empty)
func NewScheduler(schedules ScheduleSource, modes ModeSource, bus Publisher, spec string, log *zap.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	return &Scheduler{
		cron:      cron.New(),
		schedules: schedules,
		modes:     modes,
		bus:       bus,
		spec:      spec,
		now:       time.Now,
		log:       log.Named("scheduler"),
	}
}

// Start registers the tick and starts the cron loop. Intents are published
// with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	id, err := s.cron.AddFunc(s.spec, s.tick)
	if err != nil {
		return err
	}
	s.entry = id
	s.cron.Start()
	s.log.Info("Cron scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop stops the cron loop and waits for a running tick
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Cron scheduler stopped")
}

// Next is the time of the next tick, zero before Start
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Evaluate(ctx, s.now()); err != nil {
		s.log.Error("Schedule evaluation failed", zap.Error(err))
	}
}

// Evaluate applies the winning active schedule of every actuator in
// scheduled mode at now and returns the intents it emitted
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time) ([]events.RPCIntent, error) {
	all, err := s.schedules.List(ctx)
	if err != nil {
		return nil, err
	}

	active := make(map[int][]models.Schedule)
	for _, sched := range all {
		if sched.IsActiveAt(now) {
			active[sched.ActuatorID] = append(active[sched.ActuatorID], sched)
		}
	}

	actuators := make([]int, 0, len(active))
	for id := range active {
		actuators = append(actuators, id)
	}
	sort.Ints(actuators)

	var emitted []events.RPCIntent
	for _, actuatorID := range actuators {
		log := s.log.With(zap.Int("actuator_id", actuatorID))
		mode, ok, err := s.modes.GetMode(ctx, actuatorID)
		if err != nil {
			log.Error("Failed to read actuator mode", zap.Error(err))
			continue
		}
		if !ok {
			log.Debug("Schedule targets unknown actuator")
			continue
		}
		if mode != models.ModeScheduled {
			log.Debug("Actuator not in scheduled mode", zap.String("mode", string(mode)))
			continue
		}

		winner := Winner(active[actuatorID])
		intent := Intent(winner)
		if intent == nil {
			log.Warn("Schedule has unknown type", zap.Int("schedule_id", winner.ID),
				zap.String("type", string(winner.ScheduleType)))
			continue
		}
		s.bus.Publish(ctx, intent)
		emitted = append(emitted, intent)
		log.Debug("Schedule applied", zap.Int("schedule_id", winner.ID), zap.String("name", winner.Name),
			zap.Int("priority", winner.Priority))
	}
	return emitted, nil
}

// Winner picks the schedule with the highest priority, breaking ties by the
// most recent update. candidates must not be empty.
func Winner(candidates []models.Schedule) models.Schedule {
	sorted := append([]models.Schedule(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	return sorted[0]
}

// Intent builds the control intent carrying a schedule's setting
func Intent(sched models.Schedule) events.RPCIntent {
	meta := events.Meta{RequestID: sched.RequestID(), Origin: events.OriginSchedule}
	switch sched.ScheduleType {
	case models.ScheduleLighting:
		return events.SetLightingEvent{
			Meta:       meta,
			ActuatorID: sched.ActuatorID,
			Color:      sched.Setting.Color,
			Brightness: sched.Setting.Brightness,
		}
	case models.ScheduleFan:
		state := sched.Setting.State != nil && *sched.Setting.State
		return events.SetFanStateEvent{
			Meta:       meta,
			ActuatorID: sched.ActuatorID,
			State:      state,
			Speed:      sched.Setting.Speed,
		}
	}
	return nil
}
