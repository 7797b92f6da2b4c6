package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	applog "bobbrain/internal/platform/log"
	"bobbrain/internal/platform/metrics"
)

const (
	DefaultRetention = 60 * time.Second
	DefaultCapacity  = 10000
	DefaultShards    = 32
)

// Options Deduplicator 配置。
type Options struct {
	Retention time.Duration
	Capacity  int
	Shards    int
	Now       func() time.Time
}

// shard 内按首次出现时间排序，Peek 不改变顺序，所以最旧的总在队首。
// 分片自身不设上限，容量由 Deduplicator 按全部分片的总数约束。
type shard struct {
	mu   sync.Mutex
	seen *simplelru.LRU[string, time.Time]
}

// Deduplicator 有界、带时间窗口的事件 id 集合。
// 同一 id 的检查与写入在所属分片锁内完成，不同分片互不阻塞。
// 总数超过 capacity 时淘汰全局最旧的 id。
type Deduplicator struct {
	shards    []*shard
	retention time.Duration
	capacity  int
	now       func() time.Time
	metrics   *metrics.Metrics

	total   atomic.Int64
	evictMu sync.Mutex
}

func New(opts Options) *Deduplicator {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.Shards > opts.Capacity {
		opts.Shards = opts.Capacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	d := &Deduplicator{
		shards:    make([]*shard, opts.Shards),
		retention: opts.Retention,
		capacity:  opts.Capacity,
		now:       opts.Now,
	}
	onEvict := func(string, time.Time) { d.total.Add(-1) }
	for i := range d.shards {
		// capacity >= 1，NewLRU 只在 size<=0 时报错
		l, _ := simplelru.NewLRU[string, time.Time](opts.Capacity, onEvict)
		d.shards[i] = &shard{seen: l}
	}
	return d
}

// SetMetrics 注入指标（可选）。
func (d *Deduplicator) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// IsDuplicate 原子地检查并记录 eventID。
// 窗口内首次出现返回 false，其余返回 true。空 id 不参与去重。
func (d *Deduplicator) IsDuplicate(_ context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}
	s := d.shardFor(eventID)
	now := d.now()

	s.mu.Lock()
	d.purgeExpired(s, now)
	dup := false
	if seenAt, ok := s.seen.Peek(eventID); ok && now.Sub(seenAt) < d.retention {
		dup = true
	} else {
		s.seen.Remove(eventID)
		d.total.Add(1)
		s.seen.Add(eventID, now)
	}
	s.mu.Unlock()

	if !dup && d.total.Load() > int64(d.capacity) {
		d.evictOverflow()
	}
	d.metrics.DedupSeen(dup)
	return dup
}

// evictOverflow 逐个淘汰全局最旧的 id，直到总数回到 capacity 以内。
// 同一时刻只持有一个分片锁。
func (d *Deduplicator) evictOverflow() {
	d.evictMu.Lock()
	defer d.evictMu.Unlock()
	for d.total.Load() > int64(d.capacity) {
		var victim *shard
		var oldestID string
		var oldestAt time.Time
		for _, s := range d.shards {
			s.mu.Lock()
			id, at, ok := s.seen.GetOldest()
			s.mu.Unlock()
			if ok && (victim == nil || at.Before(oldestAt)) {
				victim, oldestID, oldestAt = s, id, at
			}
		}
		if victim == nil {
			return
		}
		victim.mu.Lock()
		if at, ok := victim.seen.Peek(oldestID); ok && at.Equal(oldestAt) && d.total.Load() > int64(d.capacity) {
			victim.seen.Remove(oldestID)
		}
		victim.mu.Unlock()
	}
}

// Sweep 清理所有分片中已过期的 id，返回清理数量。
func (d *Deduplicator) Sweep() int {
	now := d.now()
	removed := 0
	for _, s := range d.shards {
		s.mu.Lock()
		removed += d.purgeExpired(s, now)
		s.mu.Unlock()
	}
	if removed > 0 {
		applog.Debug("[Dedup] swept expired events", "removed", removed)
	}
	return removed
}

// Len 当前记录的 id 数量（含尚未清理的过期 id）。
func (d *Deduplicator) Len() int {
	return int(d.total.Load())
}

func (d *Deduplicator) Capacity() int {
	return d.capacity
}

// purgeExpired 调用方持有 s.mu。
func (d *Deduplicator) purgeExpired(s *shard, now time.Time) int {
	removed := 0
	for {
		_, seenAt, ok := s.seen.GetOldest()
		if !ok || now.Sub(seenAt) < d.retention {
			return removed
		}
		s.seen.RemoveOldest()
		removed++
	}
}

func (d *Deduplicator) shardFor(id string) *shard {
	return d.shards[xxhash.Sum64String(id)%uint64(len(d.shards))]
}
