package scheduler

import (
	"context"
	"fmt"

	"crmguard_backend/internal/reconcile"
	"crmguard_backend/platform/config"
	"crmguard_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes deferred reconciliation tasks.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	service *reconcile.Service
	log     *logger.Logger
}

// NewWorker builds the asynq worker around the reconciliation service.
func NewWorker(cfg config.SchedulerConfig, service *reconcile.Service, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		service: service,
		log:     log,
	}

	mux.HandleFunc(TaskOrphanSweep, w.handleOrphanSweep)

	return w, nil
}

func (w *Worker) handleOrphanSweep(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOrphanSweepPayload(task)
	if err != nil {
		return err
	}

	meta := reconcile.RequestMeta{Method: "TASK"}
	result, err := w.service.CleanOrphans(ctx, payload.INN, meta)
	if err != nil {
		return err
	}

	w.log.Info("deferred orphan sweep done", "inn", payload.INN, "cleaned", result.CleanedCount)
	return nil
}

// Run starts the worker and blocks until shutdown.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown stops the worker gracefully.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
