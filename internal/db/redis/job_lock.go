package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	applog "bobbrain/internal/platform/log"
)

const lockPrefix = "bob:lock:"

// 只删除自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLock 基于 SETNX 的分布式锁，多副本部署时保证定时任务只在一个实例上执行。
type JobLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewJobLock(client *redis.Client, ttl time.Duration) *JobLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JobLock{client: client, ttl: ttl}
}

// Acquire 成功时返回释放函数；锁被占用时返回 (nil, false, nil)。
func (l *JobLock) Acquire(ctx context.Context, job string) (func(), bool, error) {
	key := lockPrefix + job
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		applog.Warn("[JobLock] failed to acquire lock", "job", job, "error", err)
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !acquired {
		applog.Debug("[JobLock] lock already held", "job", job)
		return nil, false, nil
	}
	applog.Debug("[JobLock] lock acquired", "job", job)

	release := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			applog.Warn("[JobLock] failed to release lock", "job", job, "error", err)
		}
	}
	return release, true, nil
}
