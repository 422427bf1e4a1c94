package services

import (
	"context"
	"fmt"

	"officegateway/internal/cache"

	"go.uber.org/zap"
)

// WarmCache replaces the cached devices with the backend's list. Actuator
// modes and settings already in the cache survive.
func WarmCache(ctx context.Context, backend Backend, c *cache.Cache, log *zap.Logger) error {
	devices, err := backend.GetAllDevices(ctx, true)
	if err != nil {
		return fmt.Errorf("services: fetch devices: %w", err)
	}
	if err := c.Load(ctx, devices); err != nil {
		return fmt.Errorf("services: load cache: %w", err)
	}
	log.Info("Device cache warmed", zap.Int("devices", len(devices)))
	return nil
}
