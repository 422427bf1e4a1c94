package db

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS device (
  id            SERIAL PRIMARY KEY,
  mode          TEXT        NOT NULL DEFAULT 'manual',
  name          TEXT        NOT NULL,
  registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  mac_addr      TEXT        NOT NULL UNIQUE,
  description   TEXT,
  fw_version    TEXT,
  last_seen_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  model         TEXT,
  office_id     INTEGER,
  gateway_id    INTEGER,
  status        TEXT        NOT NULL DEFAULT 'online',
  access_token  TEXT        UNIQUE
);

CREATE TABLE IF NOT EXISTS sensor (
  id         SERIAL PRIMARY KEY,
  device_id  INTEGER NOT NULL REFERENCES device(id) ON DELETE CASCADE,
  unit       TEXT    NOT NULL DEFAULT '',
  name       TEXT    NOT NULL,
  type       TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS actuator (
  id         SERIAL PRIMARY KEY,
  device_id  INTEGER NOT NULL REFERENCES device(id) ON DELETE CASCADE,
  name       TEXT    NOT NULL,
  type       TEXT    NOT NULL DEFAULT '',
  mode       TEXT    NOT NULL DEFAULT 'manual'
);
`

// Migrate creates the device tables when they do not exist
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
