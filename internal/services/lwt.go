package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"officegateway/internal/cache"
	"officegateway/internal/models"
	"officegateway/internal/mqtt"
	"officegateway/internal/utils"

	"go.uber.org/zap"
)

// Liveness turns last-will messages into OFFLINE transitions
type Liveness struct {
	cache   *cache.Cache
	backend Backend
	local   LocalBridge
	cloud   CloudBridge
	grace   time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu      sync.Mutex
	started time.Time
}

// NewLiveness creates the liveness service. Notifications arriving within
// grace of Register are ignored.
func NewLiveness(c *cache.Cache, backend Backend, local LocalBridge, cloud CloudBridge, grace time.Duration, log *zap.Logger) *Liveness {
	return &Liveness{cache: c, backend: backend, local: local, cloud: cloud, grace: grace, now: time.Now, log: log.Named("lwt")}
}

// Register claims the liveness topic on the local bridge. It must run before
// the bridge starts.
func (s *Liveness) Register() {
	s.mu.Lock()
	s.started = s.now()
	s.mu.Unlock()
	s.local.OnTopic(s.local.Topics().LWT.Template, s.Handle)
}

func (s *Liveness) inGrace() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.started.Add(s.grace))
}

// Handle processes one liveness notification carrying a device MAC
func (s *Liveness) Handle(ctx context.Context, msg mqtt.Message) {
	if msg.Retained {
		s.log.Debug("Ignoring retained last will", zap.String("topic", msg.Topic))
		return
	}
	if s.inGrace() {
		s.log.Debug("Ignoring last will during startup grace")
		return
	}
	mac := utils.NormalizeMAC(strings.Trim(string(msg.Payload), "\" \r\n"))
	if mac == "" {
		s.log.Warn("Empty last will")
		return
	}
	log := s.log.With(zap.String("mac", mac))

	d, err := s.cache.GetDeviceByMAC(ctx, mac)
	if err != nil {
		log.Error("Cache lookup failed", zap.Error(err))
		return
	}
	if d == nil {
		log.Warn("Last will from unknown device")
		return
	}
	if d.Status != models.StatusOnline {
		log.Debug("Device already not online", zap.String("status", string(d.Status)))
		return
	}

	if _, err := s.cache.UpdateDevice(ctx, d.ID, models.StatusUpdate(models.StatusOffline)); err != nil {
		log.Error("Failed to mark device offline", zap.Error(err))
		return
	}
	if err := s.backend.SetDeviceStatus(ctx, d.ID, models.StatusOffline); err != nil {
		log.Error("Failed to propagate offline status", zap.Error(err))
	}
	if err := s.cloud.DisconnectDevice(d); err != nil {
		log.Warn("Failed to disconnect device from cloud", zap.Error(err))
	}
	log.Info("Device went offline", zap.Int("device_id", d.ID), zap.String("name", d.Name))
}
