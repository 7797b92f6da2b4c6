package redisdb

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	applog "bobbrain/internal/platform/log"
	"bobbrain/internal/platform/metrics"
)

const eventPrefix = "bob:event:"

// EventStore 跨副本事件去重：SET NX EX，键存在即重复。
// Redis 故障时放行事件（宁可重复回答，不能丢消息）。
type EventStore struct {
	redis     *redis.Client
	retention time.Duration
	metrics   *metrics.Metrics
}

func NewEventStore(rdb *redis.Client, retention time.Duration) *EventStore {
	if retention <= 0 {
		retention = 60 * time.Second
	}
	return &EventStore{redis: rdb, retention: retention}
}

func (s *EventStore) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *EventStore) IsDuplicate(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}
	first, err := s.redis.SetNX(ctx, eventPrefix+eventID, 1, s.retention).Result()
	if err != nil {
		applog.Warn("[Redis/Dedup] check failed, treating event as new", "event_id", eventID, "error", err)
		return false
	}
	s.metrics.DedupSeen(!first)
	return !first
}
