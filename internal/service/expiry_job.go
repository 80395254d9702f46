package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpiryJob sweeps orders whose rate lock has lapsed on a cron schedule.
type ExpiryJob struct {
	orders   *OrderStore
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

func NewExpiryJob(orders *OrderStore, schedule string) *ExpiryJob {
	logger := slog.Default().With(slog.String("module", "expiry_job"))
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &ExpiryJob{
		orders:   orders,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		logger:   logger,
	}
}

// Start registers the sweep and starts the scheduler.
func (j *ExpiryJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.Run); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("Scheduled order expiry sweep", slog.String("schedule", j.schedule))
	return nil
}

// Run performs one sweep.
func (j *ExpiryJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := j.orders.ExpireStale(ctx)
	if err != nil {
		j.logger.Error("Order expiry sweep failed", slog.Int("expired", n), slog.Any("error", err))
		return
	}
	if n > 0 {
		j.logger.Info("Expired stale orders", slog.Int("count", n))
	}
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *ExpiryJob) Stop() {
	<-j.cron.Stop().Done()
}
