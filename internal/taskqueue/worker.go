package taskqueue

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Worker runs the asynq server that drains gateway tasks
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *zap.Logger
}

// RedisOpt builds the asynq connection options for the shared Redis
func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

// NewWorker registers the task handlers
func NewWorker(opt asynq.RedisConnOpt, writer StatusWriter, log *zap.Logger) *Worker {
	log = log.Named("taskqueue")
	mux := asynq.NewServeMux()
	mux.Handle(TypeDeviceStatus, &statusHandler{writer: writer, log: log})
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Logger:      log.Sugar(),
	})
	return &Worker{srv: srv, mux: mux, log: log}
}

// Run starts the workers and stops them when ctx is done
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting workers")
	if err := w.srv.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.log.Info("Stopping workers")
	w.srv.Shutdown()
	return nil
}
