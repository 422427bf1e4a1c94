package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"officegateway/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	scheduleKeyPrefix      = "schedule:id:"
	scheduleActuatorPrefix = "schedule:actuator:"
	scheduleSeqKey         = "schedule:seq"
)

func scheduleKey(id int) string         { return scheduleKeyPrefix + strconv.Itoa(id) }
func actuatorScheduleKey(id int) string { return scheduleActuatorPrefix + strconv.Itoa(id) }

// ScheduleStore persists schedules next to the device cache
type ScheduleStore struct {
	rdb *redis.Client
}

// NewScheduleStore creates a store over rdb
func NewScheduleStore(rdb *redis.Client) *ScheduleStore {
	return &ScheduleStore{rdb: rdb}
}

// NextID allocates a schedule id
func (s *ScheduleStore) NextID(ctx context.Context) (int, error) {
	id, err := s.rdb.Incr(ctx, scheduleSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: allocate schedule id: %w", err)
	}
	return int(id), nil
}

// Save stores sched and keeps the per-actuator index in sync
func (s *ScheduleStore) Save(ctx context.Context, sched *models.Schedule) error {
	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("cache: encode schedule %d: %w", sched.ID, err)
	}
	key := scheduleKey(sched.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		old, err := getSchedule(ctx, tx, sched.ID)
		if err != nil && !errors.Is(err, errNotFound) {
			return err
		}
		seq, err := tx.Get(ctx, scheduleSeqKey).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("cache: read schedule seq: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil && old.ActuatorID != sched.ActuatorID {
				pipe.SRem(ctx, actuatorScheduleKey(old.ActuatorID), sched.ID)
			}
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, actuatorScheduleKey(sched.ActuatorID), sched.ID)
			// seeded schedules carry their own ids
			if sched.ID > seq {
				pipe.Set(ctx, scheduleSeqKey, sched.ID, 0)
			}
			return nil
		})
		return err
	}, key, scheduleSeqKey)
	if err != nil {
		return fmt.Errorf("cache: save schedule %d: %w", sched.ID, err)
	}
	return nil
}

// Get returns the schedule or nil
func (s *ScheduleStore) Get(ctx context.Context, id int) (*models.Schedule, error) {
	sched, err := getSchedule(ctx, s.rdb, id)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	return sched, err
}

// Delete removes a schedule; it reports false when it did not exist
func (s *ScheduleStore) Delete(ctx context.Context, id int) (bool, error) {
	sched, err := s.Get(ctx, id)
	if err != nil || sched == nil {
		return false, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, scheduleKey(id))
		pipe.SRem(ctx, actuatorScheduleKey(sched.ActuatorID), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cache: delete schedule %d: %w", id, err)
	}
	return true, nil
}

// List returns every schedule ordered by id
func (s *ScheduleStore) List(ctx context.Context) ([]models.Schedule, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, scheduleKeyPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: scan schedules: %w", err)
	}
	return s.load(ctx, keys)
}

// ForActuator returns the schedules targeting an actuator ordered by id
func (s *ScheduleStore) ForActuator(ctx context.Context, actuatorID int) ([]models.Schedule, error) {
	ids, err := s.rdb.SMembers(ctx, actuatorScheduleKey(actuatorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: schedules for actuator %d: %w", actuatorID, err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = scheduleKeyPrefix + id
	}
	return s.load(ctx, keys)
}

func (s *ScheduleStore) load(ctx context.Context, keys []string) ([]models.Schedule, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: load schedules: %w", err)
	}
	out := make([]models.Schedule, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var sched models.Schedule
		if err := json.Unmarshal([]byte(str), &sched); err != nil {
			return nil, fmt.Errorf("cache: decode schedule: %w", err)
		}
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func getSchedule(ctx context.Context, r redis.Cmdable, id int) (*models.Schedule, error) {
	data, err := r.Get(ctx, scheduleKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get schedule %d: %w", id, err)
	}
	var sched models.Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("cache: decode schedule %d: %w", id, err)
	}
	return &sched, nil
}
