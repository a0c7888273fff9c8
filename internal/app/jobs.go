package app

import (
	"context"
	"time"

	"chemquest_backend/internal/repository"
	"chemquest_backend/pkg/logger"
	"chemquest_backend/pkg/monitoring"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const ledgerPurgeInterval = 10 * time.Minute

// job 周期任务，interval <= 0 时不启动
type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (a *App) jobs() []job {
	p := a.Config.Progression
	jobs := []job{
		{
			name:     "leaderboard_compact",
			interval: p.Jobs.LeaderboardCompactInterval,
			run:      a.Progression.Leaderboards.RebuildAll,
		},
		{
			name:     "metrics_warm",
			interval: p.Jobs.MetricsWarmInterval,
			run: func(ctx context.Context) error {
				n, err := a.Progression.Performance.WarmMetrics(ctx, a.clock.Now().Add(-p.Jobs.MetricsWarmWindow))
				if n > 0 {
					logger.Log.Debug("metrics warmed", zap.Int("users", n))
				}
				return err
			},
		},
	}

	if p.Jobs.StateIdleTTL > 0 {
		jobs = append(jobs, job{
			name:     "state_evict",
			interval: max(p.Jobs.StateIdleTTL/4, time.Minute),
			run: func(context.Context) error {
				if n := a.Progression.Performance.EvictIdle(p.Jobs.StateIdleTTL); n > 0 {
					logger.Log.Info("idle performance state evicted", zap.Int("users", n))
				}
				return nil
			},
		})
	}

	if ledger, ok := a.stores.ledger.(*repository.MemoryLedger); ok {
		jobs = append(jobs, job{
			name:     "ledger_purge",
			interval: ledgerPurgeInterval,
			run: func(context.Context) error {
				ledger.Purge()
				return nil
			},
		})
	}
	return jobs
}

// runJobs 每个任务一个 ticker，ctx 结束后等待正在执行的任务返回
func runJobs(ctx context.Context, jobs []job) {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		g.Go(func() error {
			runEvery(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
}

func runEvery(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, j)
		}
	}
}

func runOnce(ctx context.Context, j job) {
	timer := prometheus.NewTimer(monitoring.JobDuration.WithLabelValues(j.name))
	defer timer.ObserveDuration()

	if err := j.run(ctx); err != nil && ctx.Err() == nil {
		logger.Named("jobs").Warn("background job failed", zap.String("job", j.name), zap.Error(err))
	}
}
