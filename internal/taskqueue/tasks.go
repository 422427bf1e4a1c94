package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"officegateway/internal/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeDeviceStatus propagates a device status change to the backend
const TypeDeviceStatus = "device:status"

const (
	statusMaxRetry = 3
	statusTimeout  = 10 * time.Second
)

// StatusWriter persists device status changes
type StatusWriter interface {
	SetDeviceStatus(ctx context.Context, id int, status models.DeviceStatus) error
}

// DeviceStatusPayload is the body of a TypeDeviceStatus task
type DeviceStatusPayload struct {
	DeviceID int                 `json:"device_id"`
	Status   models.DeviceStatus `json:"status"`
	At       time.Time           `json:"at"`
}

// NewDeviceStatusTask builds a status propagation task
func NewDeviceStatusTask(id int, status models.DeviceStatus, at time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(DeviceStatusPayload{DeviceID: id, Status: status, At: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeviceStatus, payload, asynq.MaxRetry(statusMaxRetry), asynq.Timeout(statusTimeout)), nil
}

// Enqueuer is the part of asynq.Client the queue needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// StatusQueue defers backend status writes to the task queue so a slow or
// unavailable backend is retried instead of blocking the caller.
type StatusQueue struct {
	client Enqueuer
	log    *zap.Logger
}

// NewStatusQueue creates a StatusQueue over an asynq client
func NewStatusQueue(client Enqueuer, log *zap.Logger) *StatusQueue {
	return &StatusQueue{client: client, log: log.Named("taskqueue")}
}

// SetDeviceStatus enqueues the change; it returns once the task is stored
func (q *StatusQueue) SetDeviceStatus(ctx context.Context, id int, status models.DeviceStatus) error {
	task, err := NewDeviceStatusTask(id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("taskqueue: enqueue status for device %d: %w", id, err)
	}
	q.log.Debug("Enqueued status update",
		zap.String("task_id", info.ID), zap.Int("device_id", id), zap.String("status", string(status)))
	return nil
}

// statusHandler applies status tasks to the backend
type statusHandler struct {
	writer StatusWriter
	log    *zap.Logger
}

func (h *statusHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p DeviceStatusPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.log.Error("Dropping malformed status task", zap.Error(err))
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}
	if !p.Status.Valid() {
		h.log.Error("Dropping status task with unknown status", zap.String("status", string(p.Status)))
		return fmt.Errorf("%w: unknown status %q", asynq.SkipRetry, p.Status)
	}
	if err := h.writer.SetDeviceStatus(ctx, p.DeviceID, p.Status); err != nil {
		h.log.Warn("Status update failed", zap.Int("device_id", p.DeviceID), zap.Error(err))
		return err
	}
	h.log.Info("Device status propagated",
		zap.Int("device_id", p.DeviceID), zap.String("status", string(p.Status)), zap.Time("at", p.At))
	return nil
}
