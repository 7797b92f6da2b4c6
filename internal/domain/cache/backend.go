package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry 一条缓存记录。
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Value       []byte    `json:"value"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired now 严格晚于 ExpiresAt 时失效。
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Backend 缓存存储。Get 在键不存在时返回 (nil, nil)。
type Backend interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, fingerprint string) error
	Clear(ctx context.Context) error
}

// MemoryBackend 进程内 LRU 后端，容量满时淘汰最久未使用的条目。
type MemoryBackend struct {
	entries *lru.Cache[string, *Entry]
}

func NewMemoryBackend(maxEntries int) (*MemoryBackend, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{entries: c}, nil
}

func (b *MemoryBackend) Get(_ context.Context, fingerprint string) (*Entry, error) {
	e, ok := b.entries.Get(fingerprint)
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (b *MemoryBackend) Set(_ context.Context, entry *Entry) error {
	b.entries.Add(entry.Fingerprint, entry)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, fingerprint string) error {
	b.entries.Remove(fingerprint)
	return nil
}

func (b *MemoryBackend) Clear(_ context.Context) error {
	b.entries.Purge()
	return nil
}

func (b *MemoryBackend) Len() int {
	return b.entries.Len()
}
