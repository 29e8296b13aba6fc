package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type Purger interface {
	DeletePublishedJobs(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob periodically removes published outbox jobs older than the retention window.
type CleanupJob struct {
	repo      Purger
	schedule  string
	retention time.Duration
	metrics   *Metrics
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
}

func NewCleanupJob(repo Purger, schedule string, retention time.Duration, metrics *Metrics, logger *slog.Logger) *CleanupJob {
	if schedule == "" {
		schedule = "@hourly"
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		repo:      repo,
		schedule:  schedule,
		retention: retention,
		metrics:   metrics,
		cron:      cron.New(),
		logger:    logger.With("component", "outbox_cleanup_job"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (j *CleanupJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.logger.Error("outbox cleanup failed", "error", err)
		}
	}); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("outbox cleanup job started", "schedule", j.schedule, "retention", j.retention.String())
	return nil
}

func (j *CleanupJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("outbox cleanup job stopped")
}

func (j *CleanupJob) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.repo.DeletePublishedJobs(ctx, j.now().Add(-j.retention))
	if err != nil {
		return 0, err
	}
	if j.metrics != nil {
		j.metrics.Purged.Add(float64(n))
	}
	if n > 0 {
		j.logger.Info("purged published jobs", "count", n)
	}
	return n, nil
}
