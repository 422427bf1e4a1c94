package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"officegateway/internal/models"
	"officegateway/internal/utils"

	"github.com/jackc/pgx/v5"
)

const deviceColumns = `id, name, mac_addr, COALESCE(description, ''), COALESCE(fw_version, ''),
COALESCE(model, ''), office_id, gateway_id, status, registered_at, last_seen_at, COALESCE(access_token, '')`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	var status string
	err := row.Scan(&d.ID, &d.Name, &d.MACAddr, &d.Description, &d.FWVersion, &d.Model,
		&d.OfficeID, &d.GatewayID, &status, &d.RegisteredAt, &d.LastSeenAt, &d.AccessToken)
	if err != nil {
		return nil, err
	}
	d.Status = models.DeviceStatus(status)
	return &d, nil
}

// GetAllDevices fetches every device, with sensors and actuators when withComponents is set
func (d *DB) GetAllDevices(ctx context.Context, withComponents bool) ([]models.Device, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+deviceColumns+" FROM device ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("db: query devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	index := make(map[int]int)
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan device: %w", err)
		}
		index[dev.ID] = len(devices)
		devices = append(devices, *dev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !withComponents || len(devices) == 0 {
		return devices, nil
	}

	sensors, err := d.sensors(ctx, d.pool, nil)
	if err != nil {
		return nil, err
	}
	for _, s := range sensors {
		if i, ok := index[s.DeviceID]; ok {
			devices[i].Sensors = append(devices[i].Sensors, s)
		}
	}
	actuators, err := d.actuators(ctx, d.pool, nil)
	if err != nil {
		return nil, err
	}
	for _, a := range actuators {
		if i, ok := index[a.DeviceID]; ok {
			devices[i].Actuators = append(devices[i].Actuators, a)
		}
	}
	return devices, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (d *DB) sensors(ctx context.Context, q querier, deviceID *int) ([]models.Sensor, error) {
	sql := "SELECT id, device_id, name, type, unit FROM sensor"
	var args []any
	if deviceID != nil {
		sql += " WHERE device_id = $1"
		args = append(args, *deviceID)
	}
	rows, err := q.Query(ctx, sql+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("db: query sensors: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Sensor, error) {
		var s models.Sensor
		err := row.Scan(&s.ID, &s.DeviceID, &s.Name, &s.Type, &s.Unit)
		return s, err
	})
}

func (d *DB) actuators(ctx context.Context, q querier, deviceID *int) ([]models.Actuator, error) {
	sql := "SELECT id, device_id, name, type, mode FROM actuator"
	var args []any
	if deviceID != nil {
		sql += " WHERE device_id = $1"
		args = append(args, *deviceID)
	}
	rows, err := q.Query(ctx, sql+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("db: query actuators: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Actuator, error) {
		var a models.Actuator
		var mode string
		err := row.Scan(&a.ID, &a.DeviceID, &a.Name, &a.Type, &mode)
		a.Mode = models.DeviceMode(mode)
		return a, err
	})
}

// CreateDevice registers a device with its components and returns it with
// the assigned ids. A device whose MAC is already known is refreshed and
// returned with its existing components.
func (d *DB) CreateDevice(ctx context.Context, dev *models.Device) (*models.Device, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	mac := utils.NormalizeMAC(dev.MACAddr)
	gatewayID := dev.GatewayID
	if gatewayID == nil && d.gatewayID != 0 {
		gatewayID = &d.gatewayID
	}

	var id int
	var created bool
	err = tx.QueryRow(ctx, `
INSERT INTO device (name, mac_addr, description, fw_version, model, office_id, gateway_id, status, last_seen_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, 'online', now())
ON CONFLICT (mac_addr) DO UPDATE SET
  fw_version   = EXCLUDED.fw_version,
  gateway_id   = EXCLUDED.gateway_id,
  status       = 'online',
  last_seen_at = now()
RETURNING id, (xmax = 0)`,
		dev.Name, mac, dev.Description, dev.FWVersion, dev.Model, dev.OfficeID, gatewayID,
	).Scan(&id, &created)
	if err != nil {
		return nil, fmt.Errorf("db: insert device: %w", err)
	}

	if created {
		for _, s := range dev.Sensors {
			if _, err := tx.Exec(ctx, "INSERT INTO sensor (device_id, name, type, unit) VALUES ($1, $2, $3, $4)",
				id, s.Name, s.Type, s.Unit); err != nil {
				return nil, fmt.Errorf("db: insert sensor %s: %w", s.Name, err)
			}
		}
		for _, a := range dev.Actuators {
			mode := a.Mode
			if mode == "" {
				mode = models.ModeManual
			}
			if _, err := tx.Exec(ctx, "INSERT INTO actuator (device_id, name, type, mode) VALUES ($1, $2, $3, $4)",
				id, a.Name, a.Type, string(mode)); err != nil {
				return nil, fmt.Errorf("db: insert actuator %s: %w", a.Name, err)
			}
		}
	}

	out, err := scanDevice(tx.QueryRow(ctx, "SELECT "+deviceColumns+" FROM device WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("db: reload device %d: %w", id, err)
	}
	if out.Sensors, err = d.sensors(ctx, tx, &id); err != nil {
		return nil, err
	}
	if out.Actuators, err = d.actuators(ctx, tx, &id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("db: commit: %w", err)
	}
	return out, nil
}

// ConnectDevice marks a known device online and bumps last_seen_at
func (d *DB) ConnectDevice(ctx context.Context, id int) error {
	return d.SetDeviceStatus(ctx, id, models.StatusOnline)
}

// UpdateDevice applies the non-nil fields of upd. It reports false when the
// device does not exist.
func (d *DB) UpdateDevice(ctx context.Context, id int, upd models.DeviceUpdate) (bool, error) {
	sql, args := buildDeviceUpdate(id, upd)
	if sql == "" {
		var exists bool
		err := d.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM device WHERE id = $1)", id).Scan(&exists)
		return exists, err
	}
	tag, err := d.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("db: update device %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// buildDeviceUpdate renders the UPDATE for the supplied fields only
func buildDeviceUpdate(id int, upd models.DeviceUpdate) (string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.FWVersion != nil {
		add("fw_version", *upd.FWVersion)
	}
	if upd.Model != nil {
		add("model", *upd.Model)
	}
	if upd.OfficeID != nil {
		add("office_id", *upd.OfficeID)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.LastSeenAt != nil {
		add("last_seen_at", *upd.LastSeenAt)
	}
	if len(sets) == 0 {
		return "", nil
	}
	args = append(args, id)
	return "UPDATE device SET " + strings.Join(sets, ", ") + " WHERE id = $" + strconv.Itoa(len(args)), args
}

// DeleteDevice removes a device; sensors and actuators cascade
func (d *DB) DeleteDevice(ctx context.Context, id int) (bool, error) {
	tag, err := d.pool.Exec(ctx, "DELETE FROM device WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("db: delete device %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ErrDeviceNotFound is returned by status updates on unknown devices
var ErrDeviceNotFound = errors.New("db: device not found")

// SetDeviceStatus updates the status; going online also bumps last_seen_at
func (d *DB) SetDeviceStatus(ctx context.Context, id int, status models.DeviceStatus) error {
	var upd models.DeviceUpdate
	upd.Status = &status
	if status == models.StatusOnline {
		now := time.Now().UTC()
		upd.LastSeenAt = &now
	}
	ok, err := d.UpdateDevice(ctx, id, upd)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrDeviceNotFound, id)
	}
	return nil
}
