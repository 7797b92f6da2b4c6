package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	applog "bobbrain/internal/platform/log"
)

// Locker 跨实例互斥。Acquire 返回释放函数；锁被他人持有时 ok=false。
type Locker interface {
	Acquire(ctx context.Context, job string) (release func(), ok bool, err error)
}

// Job 一个周期任务。Exclusive 的任务在多副本间只由拿到锁的实例执行。
type Job struct {
	Name      string
	Spec      string // cron 表达式或 @every 5m
	Timeout   time.Duration
	Exclusive bool
	Run       func(ctx context.Context) error
}

// Scheduler 包装 robfig/cron，上一轮未结束时跳过本轮。
type Scheduler struct {
	cron   *cron.Cron
	locker Locker
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

func New(locker Locker) *Scheduler {
	log := applog.Named("Scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log}))),
		locker: locker,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no Run func", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, s.wrap(job)); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.log.Info("job scheduled", "job", job.Name, "spec", job.Spec, "exclusive", job.Exclusive)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待运行中的任务结束，ctx 到期则取消它们。
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
	}
	s.cancel()
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		ctx := s.ctx
		if job.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, job.Timeout)
			defer cancel()
		}

		if job.Exclusive && s.locker != nil {
			release, ok, err := s.locker.Acquire(ctx, job.Name)
			if err != nil {
				s.log.Warn("lock unavailable, skipping run", "job", job.Name, "error", err)
				return
			}
			if !ok {
				s.log.Debug("job running elsewhere, skipping", "job", job.Name)
				return
			}
			defer release()
		}

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.log.Error("job failed", "job", job.Name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
			return
		}
		s.log.Debug("job finished", "job", job.Name, "elapsed_ms", time.Since(start).Milliseconds())
	}
}

// cronLogger 把 cron 内部日志接到 slog
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
