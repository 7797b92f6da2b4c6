package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bobbrain/internal/app/scheduler"
)

const usageRetention = 90 * 24 * time.Hour

var errIndexUnavailable = errors.New("index not ready")

// Jobs 周期任务。索引同步在每个副本上都要执行；用量清理只需一个副本。
func (a *App) Jobs() []scheduler.Job {
	syncEvery := a.Config.Index.SyncIntervalSeconds
	if syncEvery <= 0 {
		syncEvery = 300
	}
	jobs := []scheduler.Job{
		{
			Name:    "index-sync",
			Spec:    fmt.Sprintf("@every %ds", syncEvery),
			Timeout: 2 * time.Minute,
			Run: func(ctx context.Context) error {
				if !a.Index.SyncIncremental(ctx) {
					return errIndexUnavailable
				}
				return nil
			},
		},
		{
			Name:    "index-refresh",
			Spec:    "@hourly",
			Timeout: 15 * time.Minute,
			Run: func(ctx context.Context) error {
				if !a.Index.RefreshIfStale(ctx) {
					return errIndexUnavailable
				}
				return nil
			},
		},
	}

	if a.Dedup != nil {
		sweepEvery := a.Config.Dedup.SweepIntervalSeconds
		if sweepEvery <= 0 {
			sweepEvery = 30
		}
		jobs = append(jobs, scheduler.Job{
			Name: "dedup-sweep",
			Spec: fmt.Sprintf("@every %ds", sweepEvery),
			Run: func(context.Context) error {
				a.Dedup.Sweep()
				return nil
			},
		})
	}

	if a.Usage != nil {
		jobs = append(jobs, scheduler.Job{
			Name:      "usage-prune",
			Spec:      "30 3 * * *",
			Timeout:   5 * time.Minute,
			Exclusive: true,
			Run: func(ctx context.Context) error {
				_, err := a.Usage.Prune(ctx, time.Now().Add(-usageRetention))
				return err
			},
		})
	}
	return jobs
}

// NewScheduler 注册全部周期任务。配置了 Redis 时独占任务跨副本加锁。
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	var locker scheduler.Locker
	if a.JobLock != nil {
		locker = a.JobLock
	}
	s := scheduler.New(locker)
	for _, job := range a.Jobs() {
		if err := s.Add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}
