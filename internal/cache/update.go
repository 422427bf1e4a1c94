package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"officegateway/internal/models"

	"github.com/redis/go-redis/v9"
)

// UpdateDevice merges the supplied fields into a cached device. It reports
// false when the device does not exist.
func (c *Cache) UpdateDevice(ctx context.Context, id int, upd models.DeviceUpdate) (bool, error) {
	return c.mutateDevice(ctx, id, func(d *models.Device) error {
		upd.Apply(d)
		return nil
	})
}

// UpdateActuator merges the supplied fields into a cached actuator. A setting
// change is only accepted when writer matches the actuator's current mode:
// telemetry writes as auto, the scheduler as scheduled and direct commands as
// manual. A rejected write returns ErrModeGuard and changes nothing.
func (c *Cache) UpdateActuator(ctx context.Context, actuatorID int, upd models.ActuatorUpdate, writer models.DeviceMode) (bool, error) {
	deviceID, ok, err := c.GetDeviceIDByActuatorID(ctx, actuatorID)
	if err != nil || !ok {
		return false, err
	}
	return c.mutateDevice(ctx, deviceID, func(d *models.Device) error {
		a := d.Actuator(actuatorID)
		if a == nil {
			return errNotFound
		}
		if upd.Setting != nil && a.Mode != writer {
			return fmt.Errorf("%w: actuator %d is in %s mode, write from %s", ErrModeGuard, actuatorID, a.Mode, writer)
		}
		upd.Apply(a)
		return nil
	})
}

// mutateDevice applies fn to the stored device inside an optimistic transaction
func (c *Cache) mutateDevice(ctx context.Context, id int, fn func(d *models.Device) error) (bool, error) {
	key := deviceKey(id)
	found := false
	err := c.transact(ctx, key, func(tx *redis.Tx) error {
		found = false
		d, err := getDevice(ctx, tx, id)
		if errors.Is(err, errNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			if errors.Is(err, errNotFound) {
				return nil
			}
			return err
		}
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("cache: encode device %d: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			found = true
		}
		return err
	})
	return found, err
}
