package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps pgxpool.Pool for the management backend
type DB struct {
	pool      *pgxpool.Pool
	gatewayID int
}

// NewDB creates a connection pool and checks it with a ping. Devices created
// through this DB are assigned to gatewayID.
func NewDB(ctx context.Context, url string, gatewayID int) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return &DB{pool: pool, gatewayID: gatewayID}, nil
}

// Close closes the connection pool
func (d *DB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pgxpool.Pool
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Ping checks the database connection
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}
