package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	applog "bobbrain/internal/platform/log"
	"bobbrain/internal/platform/metrics"
)

const (
	DefaultTTL            = time.Hour
	DefaultComputeTimeout = 60 * time.Second
)

// ComputeFunc 缓存未命中时产生结果。ctx 带有 compute 超时。
// 返回 ErrSkipStore 表示结果可用但不应缓存。
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Options ResponseCache 配置。
type Options struct {
	DefaultTTL     time.Duration
	ComputeTimeout time.Duration
	Now            func() time.Time
}

// Stats 运行计数。
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Computes      int64 `json:"computes"`
	Shared        int64 `json:"shared"`
	BackendErrors int64 `json:"backend_errors"`
}

// ResponseCache 以归一化查询指纹为键的回答缓存。
// 同一指纹同一时刻最多一个 compute 在执行，其余调用方阻塞等待同一结果。
type ResponseCache struct {
	backend        Backend
	defaultTTL     time.Duration
	computeTimeout time.Duration
	now            func() time.Time
	group          singleflight.Group
	metrics        *metrics.Metrics

	hits, misses, computes, shared, backendErrs atomic.Int64
}

func New(backend Backend, opts Options) *ResponseCache {
	c := &ResponseCache{
		backend:        backend,
		defaultTTL:     opts.DefaultTTL,
		computeTimeout: opts.ComputeTimeout,
		now:            opts.Now,
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultTTL
	}
	if c.computeTimeout <= 0 {
		c.computeTimeout = DefaultComputeTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// SetMetrics 注入指标（可选）。
func (c *ResponseCache) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Get 查询缓存。不存在、已过期或后端故障都视为未命中。
func (c *ResponseCache) Get(ctx context.Context, query string) ([]byte, bool) {
	v, ok := c.load(ctx, Fingerprint(query))
	if ok {
		c.hits.Add(1)
		c.metrics.CacheHit()
	} else {
		c.misses.Add(1)
		c.metrics.CacheMiss()
	}
	return v, ok
}

// Set 写入缓存，ttl<=0 使用默认 TTL。后端故障只记录日志。
func (c *ResponseCache) Set(ctx context.Context, query string, value []byte, ttl time.Duration) {
	c.store(ctx, Fingerprint(query), value, ttl)
}

// Invalidate 删除单条缓存。
func (c *ResponseCache) Invalidate(ctx context.Context, query string) {
	fp := Fingerprint(query)
	if err := c.backend.Delete(ctx, fp); err != nil {
		c.backendFailed("delete", fp, err)
	}
}

// Clear 清空全部缓存。
func (c *ResponseCache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		c.backendFailed("clear", "*", err)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

type computeOptions struct {
	timeout time.Duration
}

// ComputeOption 单次 GetOrCompute 的可选参数。
type ComputeOption func(*computeOptions)

// WithComputeTimeout 覆盖本次调用的 compute 超时。
func WithComputeTimeout(d time.Duration) ComputeOption {
	return func(o *computeOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Result Fetch 的返回值。
type Result struct {
	Value []byte
	// Hit 值来自已存储的条目，本次没有执行 compute。
	Hit bool
	// Shared 与其他并发调用方共享了同一次 flight。
	Shared bool
}

// GetOrCompute 命中直接返回；未命中时对同一指纹只执行一次 compute，
// 并发调用方共享结果。compute 失败返回 ErrComputeFailed 且不缓存；
// 超时返回 ErrComputeTimeout 并清除 in-flight 标记，下次调用重新计算。
// 返回的切片在调用方之间共享，只读。
func (c *ResponseCache) GetOrCompute(ctx context.Context, query string, ttl time.Duration, compute ComputeFunc, opts ...ComputeOption) ([]byte, error) {
	res, err := c.Fetch(ctx, query, ttl, compute, opts...)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Fetch 与 GetOrCompute 语义相同，额外返回结果来源。
func (c *ResponseCache) Fetch(ctx context.Context, query string, ttl time.Duration, compute ComputeFunc, opts ...ComputeOption) (Result, error) {
	fp := Fingerprint(query)
	if v, ok := c.load(ctx, fp); ok {
		c.hits.Add(1)
		c.metrics.CacheHit()
		return Result{Value: v, Hit: true}, nil
	}
	c.misses.Add(1)
	c.metrics.CacheMiss()

	co := computeOptions{timeout: c.computeTimeout}
	for _, opt := range opts {
		opt(&co)
	}

	// 超时在 flight 内部判定，flight 返回后 singleflight 自行清除 key
	ch := c.group.DoChan(fp, func() (any, error) {
		return c.flight(context.WithoutCancel(ctx), fp, ttl, co.timeout, compute)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
			c.metrics.CacheCompute("shared")
		}
		if res.Err != nil {
			return Result{}, res.Err
		}
		out, _ := res.Val.(Result)
		out.Shared = res.Shared
		return out, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type computeOutcome struct {
	value []byte
	err   error
}

func (c *ResponseCache) flight(ctx context.Context, fp string, ttl, timeout time.Duration, compute ComputeFunc) (Result, error) {
	// 上一轮 flight 可能刚写入
	if v, ok := c.load(ctx, fp); ok {
		return Result{Value: v, Hit: true}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.computes.Add(1)
	done := make(chan computeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- computeOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := compute(cctx)
		done <- computeOutcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err == nil:
			c.metrics.CacheCompute("ok")
			c.store(ctx, fp, out.value, ttl)
			return Result{Value: out.value}, nil
		case errors.Is(out.err, ErrSkipStore):
			c.metrics.CacheCompute("uncached")
			return Result{Value: out.value}, nil
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			return Result{}, c.timedOut(fp, timeout)
		default:
			c.metrics.CacheCompute("error")
			return Result{}, fmt.Errorf("%w: %w", ErrComputeFailed, out.err)
		}
	case <-cctx.Done():
		return Result{}, c.timedOut(fp, timeout)
	}
}

func (c *ResponseCache) timedOut(fp string, timeout time.Duration) error {
	c.metrics.CacheCompute("timeout")
	applog.Warn("[Cache] compute timed out, in-flight marker cleared", "fingerprint", short(fp), "timeout", timeout)
	return fmt.Errorf("%w after %s", ErrComputeTimeout, timeout)
}

// Stats 返回计数快照。
func (c *ResponseCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Computes:      c.computes.Load(),
		Shared:        c.shared.Load(),
		BackendErrors: c.backendErrs.Load(),
	}
}

func (c *ResponseCache) load(ctx context.Context, fp string) ([]byte, bool) {
	e, err := c.backend.Get(ctx, fp)
	if err != nil {
		c.backendFailed("get", fp, err)
		return nil, false
	}
	if e == nil {
		return nil, false
	}
	if e.Expired(c.now()) {
		if err := c.backend.Delete(ctx, fp); err != nil {
			c.backendFailed("delete", fp, err)
		}
		return nil, false
	}
	return e.Value, true
}

func (c *ResponseCache) store(ctx context.Context, fp string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	entry := &Entry{
		Fingerprint: fp,
		Value:       value,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := c.backend.Set(ctx, entry); err != nil {
		c.backendFailed("set", fp, err)
	}
}

func (c *ResponseCache) backendFailed(op, fp string, err error) {
	c.backendErrs.Add(1)
	c.metrics.CacheBackendError()
	applog.Warn("[Cache] backend "+op+" failed, degrading to miss", "fingerprint", short(fp), "error", err)
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
