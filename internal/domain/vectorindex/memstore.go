package vectorindex

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore 进程内 DocumentStore，用于开发环境和测试。
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return cloneDocument(d), nil
}

func (s *MemoryStore) Put(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = *cloneDocument(*doc)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) QuerySince(_ context.Context, since time.Time) ([]Document, error) {
	s.mu.RLock()
	out := make([]Document, 0, len(s.docs))
	for _, d := range s.docs {
		if !d.CreatedAt.Before(since) {
			out = append(out, *cloneDocument(d))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// MemorySnapshotStore 进程内 SnapshotStore。
type MemorySnapshotStore struct {
	mu   sync.Mutex
	data []byte
}

func (s *MemorySnapshotStore) Read(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrSnapshotNotFound
	}
	return slices.Clone(s.data), nil
}

func (s *MemorySnapshotStore) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = slices.Clone(data)
	return nil
}

func cloneDocument(d Document) *Document {
	c := d
	c.Embedding = slices.Clone(d.Embedding)
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
