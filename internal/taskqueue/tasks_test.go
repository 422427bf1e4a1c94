package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"officegateway/internal/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	calls []DeviceStatusPayload
	err   error
}

func (f *fakeWriter) SetDeviceStatus(_ context.Context, id int, status models.DeviceStatus) error {
	f.calls = append(f.calls, DeviceStatusPayload{DeviceID: id, Status: status})
	return f.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func TestStatusQueueEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	q := NewStatusQueue(enq, zaptest.NewLogger(t))

	if err := q.SetDeviceStatus(context.Background(), 3, models.StatusOffline); err != nil {
		t.Fatal(err)
	}
	if len(enq.tasks) != 1 || enq.tasks[0].Type() != TypeDeviceStatus {
		t.Fatalf("tasks = %v", enq.tasks)
	}
	var p DeviceStatusPayload
	if err := json.Unmarshal(enq.tasks[0].Payload(), &p); err != nil {
		t.Fatal(err)
	}
	if p.DeviceID != 3 || p.Status != models.StatusOffline {
		t.Errorf("payload = %+v", p)
	}

	enq.err = errors.New("redis down")
	if err := q.SetDeviceStatus(context.Background(), 3, models.StatusOnline); err == nil {
		t.Fatal("expected enqueue error")
	}
}

func TestStatusHandler(t *testing.T) {
	w := &fakeWriter{}
	h := &statusHandler{writer: w, log: zaptest.NewLogger(t)}

	task, _ := NewDeviceStatusTask(8, models.StatusError, time.Now())
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	if len(w.calls) != 1 || w.calls[0].DeviceID != 8 || w.calls[0].Status != models.StatusError {
		t.Fatalf("calls = %+v", w.calls)
	}

	w.err = errors.New("backend down")
	if err := h.ProcessTask(context.Background(), task); err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Errorf("backend failure should be retried, got %v", err)
	}

	bad := asynq.NewTask(TypeDeviceStatus, []byte(`{"device_id":1,"status":"sleeping"}`))
	if err := h.ProcessTask(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("unknown status error = %v, want SkipRetry", err)
	}
}
