// Package cache is the device state cache: the gateway's authoritative view
// of devices, sensors and actuators, persisted in Redis.
//
// Layout:
//
//	device:id:<id>        JSON device with its sensors and actuators
//	device:mac:<MAC>      device id
//	actuator:id:<id>      owning device id
//
// Mutations are optimistic read-modify-write transactions (WATCH/MULTI), so
// readers never wait on a lock held by a writer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"officegateway/internal/models"
	"officegateway/internal/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	deviceKeyPrefix   = "device:id:"
	macKeyPrefix      = "device:mac:"
	actuatorKeyPrefix = "actuator:id:"

	// maxTxRetries bounds optimistic retries when a watched key changes
	maxTxRetries = 16
	scanCount    = 100
)

var (
	// ErrModeGuard is returned when a setting write comes from a source that
	// does not own the actuator in its current mode
	ErrModeGuard = errors.New("cache: actuator mode does not accept this write")
	// ErrConflict is returned when a transaction kept losing races
	ErrConflict = errors.New("cache: too many concurrent updates")

	errNotFound = errors.New("cache: not found")
)

func deviceKey(id int) string   { return deviceKeyPrefix + strconv.Itoa(id) }
func macKey(mac string) string  { return macKeyPrefix + utils.NormalizeMAC(mac) }
func actuatorKey(id int) string { return actuatorKeyPrefix + strconv.Itoa(id) }

// Cache is the Redis backed device state cache
type Cache struct {
	rdb *redis.Client
	log *zap.Logger
}

// New creates a cache over an existing Redis client
func New(rdb *redis.Client, log *zap.Logger) *Cache {
	return &Cache{rdb: rdb, log: log.Named("cache")}
}

// GetAllDevices returns every cached device
func (c *Cache) GetAllDevices(ctx context.Context) ([]models.Device, error) {
	keys, err := c.scan(ctx, deviceKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: load devices: %w", err)
	}
	devices := make([]models.Device, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		var d models.Device
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			c.log.Warn("Skipping undecodable device", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// GetDeviceByID returns the device or nil if it is not cached
func (c *Cache) GetDeviceByID(ctx context.Context, id int) (*models.Device, error) {
	d, err := getDevice(ctx, c.rdb, id)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	return d, err
}

// GetDeviceByMAC returns the device registered with mac or nil
func (c *Cache) GetDeviceByMAC(ctx context.Context, mac string) (*models.Device, error) {
	id, err := c.rdb.Get(ctx, macKey(mac)).Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: mac index: %w", err)
	}
	return c.GetDeviceByID(ctx, id)
}

// AddDevice stores d and its indexes, replacing any previous copy
func (c *Cache) AddDevice(ctx context.Context, d *models.Device) error {
	stored := *d
	stored.MACAddr = utils.NormalizeMAC(d.MACAddr)
	if stored.Status == "" {
		stored.Status = models.StatusOnline
	}
	stored.Actuators = append([]models.Actuator(nil), d.Actuators...)
	for i := range stored.Actuators {
		stored.Actuators[i].DeviceID = stored.ID
		if stored.Actuators[i].Mode == "" {
			stored.Actuators[i].Mode = models.ModeManual
		}
	}
	stored.Sensors = append([]models.Sensor(nil), d.Sensors...)
	for i := range stored.Sensors {
		stored.Sensors[i].DeviceID = stored.ID
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("cache: encode device %d: %w", d.ID, err)
	}

	key := deviceKey(stored.ID)
	return c.transact(ctx, key, func(tx *redis.Tx) error {
		old, err := getDevice(ctx, tx, stored.ID)
		if err != nil && !errors.Is(err, errNotFound) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil {
				if utils.NormalizeMAC(old.MACAddr) != stored.MACAddr {
					pipe.Del(ctx, macKey(old.MACAddr))
				}
				for _, a := range old.Actuators {
					if stored.Actuator(a.ID) == nil {
						pipe.Del(ctx, actuatorKey(a.ID))
					}
				}
			}
			pipe.Set(ctx, key, data, 0)
			pipe.Set(ctx, macKey(stored.MACAddr), stored.ID, 0)
			for _, a := range stored.Actuators {
				pipe.Set(ctx, actuatorKey(a.ID), stored.ID, 0)
			}
			return nil
		})
		return err
	})
}

// DeleteDevice removes a device and its index entries. It reports false when
// the device was not cached.
func (c *Cache) DeleteDevice(ctx context.Context, id int) (bool, error) {
	key := deviceKey(id)
	deleted := false
	err := c.transact(ctx, key, func(tx *redis.Tx) error {
		d, err := getDevice(ctx, tx, id)
		if errors.Is(err, errNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, macKey(d.MACAddr))
			for _, a := range d.Actuators {
				pipe.Del(ctx, actuatorKey(a.ID))
			}
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	})
	return deleted, err
}

// GetDeviceIDByActuatorID resolves the device owning an actuator
func (c *Cache) GetDeviceIDByActuatorID(ctx context.Context, actuatorID int) (int, bool, error) {
	id, err := c.rdb.Get(ctx, actuatorKey(actuatorID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache: actuator index: %w", err)
	}
	return id, true, nil
}

// GetActuator returns a copy of the actuator or nil
func (c *Cache) GetActuator(ctx context.Context, actuatorID int) (*models.Actuator, error) {
	deviceID, ok, err := c.GetDeviceIDByActuatorID(ctx, actuatorID)
	if err != nil || !ok {
		return nil, err
	}
	d, err := c.GetDeviceByID(ctx, deviceID)
	if err != nil || d == nil {
		return nil, err
	}
	a := d.Actuator(actuatorID)
	if a == nil {
		return nil, nil
	}
	out := *a
	out.Setting = a.Setting.Clone()
	return &out, nil
}

// GetStatus returns the status of a cached device
func (c *Cache) GetStatus(ctx context.Context, deviceID int) (models.DeviceStatus, bool, error) {
	d, err := c.GetDeviceByID(ctx, deviceID)
	if err != nil || d == nil {
		return "", false, err
	}
	return d.Status, true, nil
}

// GetMode returns the mode of a cached actuator
func (c *Cache) GetMode(ctx context.Context, actuatorID int) (models.DeviceMode, bool, error) {
	a, err := c.GetActuator(ctx, actuatorID)
	if err != nil || a == nil {
		return "", false, err
	}
	return a.Mode, true, nil
}

// Reset deletes every device and actuator key. Other keys in the database,
// such as schedules and task queue state, are left alone.
func (c *Cache) Reset(ctx context.Context) error {
	for _, pattern := range []string{deviceKeyPrefix + "*", macKeyPrefix + "*", actuatorKeyPrefix + "*"} {
		keys, err := c.scan(ctx, pattern)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			continue
		}
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache: reset %s: %w", pattern, err)
		}
	}
	return nil
}

// Load resets the cache and fills it with devices. Actuators that were
// already cached keep their mode and last setting, which the backend does
// not track.
func (c *Cache) Load(ctx context.Context, devices []models.Device) error {
	previous, err := c.GetAllDevices(ctx)
	if err != nil {
		return err
	}
	kept := make(map[int]models.Actuator)
	for _, d := range previous {
		for _, a := range d.Actuators {
			kept[a.ID] = a
		}
	}

	if err := c.Reset(ctx); err != nil {
		return err
	}
	for i := range devices {
		for j := range devices[i].Actuators {
			a := &devices[i].Actuators[j]
			if old, ok := kept[a.ID]; ok {
				a.Mode = old.Mode
				if a.Setting == nil {
					a.Setting = old.Setting.Clone()
				}
			}
		}
		if err := c.AddDevice(ctx, &devices[i]); err != nil {
			return err
		}
	}
	c.log.Info("Cache loaded", zap.Int("devices", len(devices)), zap.Int("kept_actuators", len(kept)))
	return nil
}

func (c *Cache) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: scan %s: %w", pattern, err)
	}
	return keys, nil
}

// transact runs fn in a WATCH on key, retrying when another writer won
func (c *Cache) transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := c.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrConflict, key)
}

func getDevice(ctx context.Context, r redis.Cmdable, id int) (*models.Device, error) {
	data, err := r.Get(ctx, deviceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get device %d: %w", id, err)
	}
	var d models.Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("cache: decode device %d: %w", id, err)
	}
	return &d, nil
}
