package vectorindex

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyStore 包装 MemoryStore，可切换为故障状态并统计全量查询次数。
type flakyStore struct {
	*MemoryStore
	down        atomic.Bool
	fullQueries atomic.Int32
}

func (s *flakyStore) QuerySince(ctx context.Context, since time.Time) ([]Document, error) {
	if s.down.Load() {
		return nil, errors.New("connection refused")
	}
	if since.IsZero() {
		s.fullQueries.Add(1)
	}
	return s.MemoryStore.QuerySince(ctx, since)
}

func (s *flakyStore) Put(ctx context.Context, d *Document) error {
	if s.down.Load() {
		return errors.New("connection refused")
	}
	return s.MemoryStore.Put(ctx, d)
}

type mapEmbedder map[string][]float32

func (m mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := m[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return v, nil
}

func (m mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (mapEmbedder) Dims() int     { return 3 }
func (mapEmbedder) Model() string { return "test-embed" }

func seed(t *testing.T, s DocumentStore, docs ...Document) {
	t.Helper()
	for i := range docs {
		if docs[i].CreatedAt.IsZero() {
			docs[i].CreatedAt = t0.Add(time.Duration(i) * time.Second)
		}
		if err := s.Put(context.Background(), &docs[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func newIndex(store DocumentStore, snaps SnapshotStore, clock *fakeClock) *Index {
	return New(store, snaps, mapEmbedder{}, Options{Now: clock.Now})
}

func abcDocs() []Document {
	return []Document{
		{ID: "A", Content: "alpha", Embedding: []float32{1, 0, 0}},
		{ID: "B", Content: "beta", Embedding: []float32{0, 1, 0}},
		{ID: "C", Content: "gamma", Embedding: []float32{0.9, 0.1, 0}},
	}
}

func TestSearchScenarioABC(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, abcDocs()...)
	idx := newIndex(store, nil, &fakeClock{now: t0.Add(time.Hour)})
	if !idx.Initialize(context.Background(), false) {
		t.Fatalf("Initialize failed")
	}

	res, err := idx.SearchVector(context.Background(), []float32{1, 0, 0}, 2, 0.5)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(res) != 2 || res[0].DocID != "A" || res[1].DocID != "C" {
		t.Fatalf("results = %+v, want [A C]", res)
	}
	if math.Abs(res[0].Score-1) > 1e-5 {
		t.Fatalf("A score = %v, want 1.0", res[0].Score)
	}
	want := 0.9 / math.Sqrt(0.82)
	if math.Abs(res[1].Score-want) > 1e-4 {
		t.Fatalf("C score = %v, want %v", res[1].Score, want)
	}
	if res[0].Document == nil || res[0].Document.Content != "alpha" {
		t.Fatalf("document not fetched from store: %+v", res[0].Document)
	}
}

func TestSearchThresholdAndRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	clock := &fakeClock{now: t0}
	idx := newIndex(store, nil, clock)
	idx.Initialize(context.Background(), false)

	docs := []Document{
		{ID: "x", Embedding: []float32{3, 4, 0}},
		{ID: "y", Embedding: []float32{0, 0, 2}},
		{ID: "z", Embedding: []float32{1, 1, 1}},
	}
	for i := range docs {
		if err := idx.Add(context.Background(), &docs[i]); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	for _, d := range docs {
		res, err := idx.SearchVector(context.Background(), d.Embedding, 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 1 || res[0].DocID != d.ID || math.Abs(res[0].Score-1) > 1e-5 {
			t.Fatalf("round trip for %s = %+v", d.ID, res)
		}
	}

	res, err := idx.SearchVector(context.Background(), []float32{0, 0, 1}, 10, 0.6)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res {
		if r.Score < 0.6 {
			t.Fatalf("result %s below threshold: %v", r.DocID, r.Score)
		}
	}
	if len(res) != 1 || res[0].DocID != "y" {
		t.Fatalf("results = %+v, want [y]", res)
	}
}

func TestSearchTieKeepsInsertionOrder(t *testing.T) {
	idx := newIndex(NewMemoryStore(), nil, &fakeClock{now: t0})
	idx.Initialize(context.Background(), false)
	for _, id := range []string{"second", "first"} {
		if err := idx.Add(context.Background(), &Document{ID: id, Embedding: []float32{0, 1, 0}}); err != nil {
			t.Fatal(err)
		}
	}
	res, _ := idx.SearchVector(context.Background(), []float32{0, 2, 0}, 2, 0)
	if len(res) != 2 || res[0].DocID != "second" || res[1].DocID != "first" {
		t.Fatalf("tie order = %+v", res)
	}
}

func TestSearchEmptyAndUninitialized(t *testing.T) {
	idx := newIndex(NewMemoryStore(), nil, &fakeClock{now: t0})
	if idx.State() != StateUninitialized {
		t.Fatalf("state = %v", idx.State())
	}
	res, err := idx.Search(context.Background(), "anything", 5, 0)
	if err != nil || len(res) != 0 {
		t.Fatalf("uninitialized search = %v, %v", res, err)
	}

	idx.Initialize(context.Background(), false)
	res, err = idx.SearchVector(context.Background(), []float32{1, 0, 0}, 5, 0)
	if err != nil || len(res) != 0 {
		t.Fatalf("empty search = %v, %v", res, err)
	}
}

func TestSearchTextUsesEmbedder(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, abcDocs()...)
	emb := mapEmbedder{"about alpha": {2, 0, 0}}
	idx := New(store, nil, emb, Options{Now: (&fakeClock{now: t0}).Now})
	idx.Initialize(context.Background(), false)

	res, err := idx.Search(context.Background(), "about alpha", 1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].DocID != "A" {
		t.Fatalf("res = %+v", res)
	}
}

func TestSearchQueryDimensionMismatch(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, abcDocs()...)
	idx := newIndex(store, nil, &fakeClock{now: t0})
	idx.Initialize(context.Background(), false)

	_, err := idx.SearchVector(context.Background(), []float32{1, 0}, 1, 0)
	if !errors.Is(err, ErrEmbeddingDimensionMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestSearchDropsDocumentsMissingFromStore(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, abcDocs()...)
	idx := newIndex(store, nil, &fakeClock{now: t0})
	idx.Initialize(context.Background(), false)

	_ = store.Delete(context.Background(), "A")
	res, err := idx.SearchVector(context.Background(), []float32{1, 0, 0}, 3, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].DocID != "C" {
		t.Fatalf("res = %+v, want [C]", res)
	}
}

func TestRebuildIndexesExactlyEmbeddedDocuments(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store,
		Document{ID: "d1", Embedding: []float32{1, 0, 0}},
		Document{ID: "d2", Content: "no embedding yet"},
		Document{ID: "d3", Embedding: []float32{0, 0, 1}},
	)
	idx := newIndex(store, nil, &fakeClock{now: t0.Add(time.Hour)})
	if !idx.Initialize(context.Background(), true) {
		t.Fatalf("Initialize failed")
	}

	st := idx.Stats()
	if st.Count != 2 || st.State != StateReady {
		t.Fatalf("stats = %+v", st)
	}
	if !st.Watermark.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("watermark = %v", st.Watermark)
	}
	cur := idx.active.Load()
	for _, id := range []string{"d1", "d3"} {
		if _, ok := cur.pos[id]; !ok {
			t.Fatalf("%s missing from index", id)
		}
	}
	if _, ok := cur.pos["d2"]; ok {
		t.Fatalf("document without embedding must not be indexed")
	}
}

func TestAddDimensionMismatchLeavesEverythingUntouched(t *testing.T) {
	store := NewMemoryStore()
	idx := newIndex(store, nil, &fakeClock{now: t0})
	idx.Initialize(context.Background(), false)

	err := idx.Add(context.Background(), &Document{ID: "bad", Embedding: []float32{1, 2}})
	if !errors.Is(err, ErrEmbeddingDimensionMismatch) {
		t.Fatalf("err = %v", err)
	}
	if store.Len() != 0 || idx.Stats().Count != 0 {
		t.Fatalf("store or index modified")
	}
}

func TestAddReplacesExistingVector(t *testing.T) {
	idx := newIndex(NewMemoryStore(), nil, &fakeClock{now: t0})
	idx.Initialize(context.Background(), false)
	ctx := context.Background()

	_ = idx.Add(ctx, &Document{ID: "doc", Embedding: []float32{1, 0, 0}})
	_ = idx.Add(ctx, &Document{ID: "doc", Embedding: []float32{0, 1, 0}})

	if idx.Stats().Count != 1 {
		t.Fatalf("count = %d, want 1", idx.Stats().Count)
	}
	res, _ := idx.SearchVector(ctx, []float32{0, 1, 0}, 1, 0.9)
	if len(res) != 1 || res[0].DocID != "doc" {
		t.Fatalf("updated vector not searchable: %+v", res)
	}
}

func TestAddWhileUninitializedOnlyWritesStore(t *testing.T) {
	store := NewMemoryStore()
	idx := newIndex(store, nil, &fakeClock{now: t0})

	if err := idx.Add(context.Background(), &Document{ID: "d", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 || idx.Stats().Count != 0 {
		t.Fatalf("durable write must succeed even when index is not ready")
	}
	idx.Initialize(context.Background(), true)
	if idx.Stats().Count != 1 {
		t.Fatalf("rebuild should recover the document")
	}
}

func TestSyncIncrementalIdempotent(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, abcDocs()...)
	clock := &fakeClock{now: t0.Add(time.Hour)}
	idx := newIndex(store, nil, clock)
	idx.Initialize(context.Background(), false)

	seed(t, store,
		Document{ID: "D", Embedding: []float32{0, 0, 1}, CreatedAt: t0.Add(10 * time.Minute)},
		Document{ID: "E", Embedding: []float32{1, 2}, CreatedAt: t0.Add(11 * time.Minute)},
	)

	if !idx.SyncIncremental(context.Background()) {
		t.Fatalf("sync failed")
	}
	st := idx.Stats()
	if st.Count != 4 {
		t.Fatalf("count = %d, want 4 (mismatched E skipped)", st.Count)
	}
	if !st.Watermark.Equal(t0.Add(11 * time.Minute)) {
		t.Fatalf("watermark = %v", st.Watermark)
	}

	before := idx.active.Load()
	if !idx.SyncIncremental(context.Background()) {
		t.Fatalf("second sync failed")
	}
	if idx.active.Load() != before {
		t.Fatalf("no-op sync should not swap the index")
	}
}

func TestSyncIncrementalRequiresInitializedIndex(t *testing.T) {
	idx := newIndex(NewMemoryStore(), nil, &fakeClock{now: t0})
	if idx.SyncIncremental(context.Background()) {
		t.Fatalf("sync on uninitialized index should report false")
	}
}

func TestSnapshotFastPath(t *testing.T) {
	snaps := &MemorySnapshotStore{}
	clock := &fakeClock{now: t0.Add(time.Hour)}
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	seed(t, store, abcDocs()...)

	first := newIndex(store, snaps, clock)
	if !first.Initialize(context.Background(), false) {
		t.Fatalf("first Initialize failed")
	}
	if store.fullQueries.Load() != 1 {
		t.Fatalf("first start should rebuild from store")
	}

	clock.Advance(time.Hour)
	second := newIndex(store, snaps, clock)
	if !second.Initialize(context.Background(), false) {
		t.Fatalf("second Initialize failed")
	}
	if store.fullQueries.Load() != 1 {
		t.Fatalf("fresh snapshot should avoid a full rebuild")
	}
	if second.Stats().Count != 3 {
		t.Fatalf("count = %d", second.Stats().Count)
	}
	res, _ := second.SearchVector(context.Background(), []float32{1, 0, 0}, 1, 0.5)
	if len(res) != 1 || res[0].DocID != "A" {
		t.Fatalf("res = %+v", res)
	}
}

func TestSnapshotFastPathToleratesStoreOutage(t *testing.T) {
	snaps := &MemorySnapshotStore{}
	clock := &fakeClock{now: t0.Add(time.Hour)}
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	seed(t, store, abcDocs()...)
	newIndex(store, snaps, clock).Initialize(context.Background(), false)

	store.down.Store(true)
	idx := newIndex(store, snaps, clock)
	if !idx.Initialize(context.Background(), false) {
		t.Fatalf("snapshot load should succeed without the store")
	}
	if idx.State() != StateReady || idx.Stats().Count != 3 {
		t.Fatalf("stats = %+v", idx.Stats())
	}
}

func TestStaleSnapshotTriggersRebuild(t *testing.T) {
	snaps := &MemorySnapshotStore{}
	clock := &fakeClock{now: t0.Add(time.Hour)}
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	seed(t, store, abcDocs()...)
	newIndex(store, snaps, clock).Initialize(context.Background(), false)

	clock.Advance(25 * time.Hour)
	idx := newIndex(store, snaps, clock)
	idx.Initialize(context.Background(), false)
	if store.fullQueries.Load() != 2 {
		t.Fatalf("stale snapshot should be ignored, full queries = %d", store.fullQueries.Load())
	}
}

func TestCorruptedSnapshotFallsBackToRebuild(t *testing.T) {
	snaps := &MemorySnapshotStore{}
	_ = snaps.Write(context.Background(), []byte("definitely not zstd"))
	store := NewMemoryStore()
	seed(t, store, abcDocs()...)

	idx := newIndex(store, snaps, &fakeClock{now: t0.Add(time.Hour)})
	if !idx.Initialize(context.Background(), false) {
		t.Fatalf("Initialize should recover from corrupted snapshot")
	}
	if idx.Stats().Count != 3 {
		t.Fatalf("count = %d", idx.Stats().Count)
	}

	data, _ := snaps.Read(context.Background())
	if _, err := decodeSnapshot(data); err != nil {
		t.Fatalf("rebuild should overwrite snapshot with a valid one: %v", err)
	}
}

func TestDecodeSnapshotRejectsInconsistentHeader(t *testing.T) {
	f := newFlatIndex(3, "m", 1)
	f.upsert("a", []float32{1, 0, 0})
	f.vectors = f.vectors[:2]
	data, err := encodeSnapshot(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeSnapshot(data); !errors.Is(err, ErrIndexCorrupted) {
		t.Fatalf("err = %v, want ErrIndexCorrupted", err)
	}
}

func TestInitializeFailureStates(t *testing.T) {
	t.Run("store down without index", func(t *testing.T) {
		store := &flakyStore{MemoryStore: NewMemoryStore()}
		store.down.Store(true)
		idx := newIndex(store, nil, &fakeClock{now: t0})
		if idx.Initialize(context.Background(), false) {
			t.Fatalf("want false")
		}
		if idx.State() != StateUninitialized {
			t.Fatalf("state = %v", idx.State())
		}
	})

	t.Run("store down keeps serving stale index", func(t *testing.T) {
		store := &flakyStore{MemoryStore: NewMemoryStore()}
		seed(t, store, abcDocs()...)
		idx := newIndex(store, nil, &fakeClock{now: t0.Add(time.Hour)})
		idx.Initialize(context.Background(), false)

		store.down.Store(true)
		if idx.Initialize(context.Background(), true) {
			t.Fatalf("want false")
		}
		if idx.State() != StateReady || idx.Stats().Count != 3 {
			t.Fatalf("stats = %+v", idx.Stats())
		}
		if idx.SyncIncremental(context.Background()) {
			t.Fatalf("sync should report failure while store is down")
		}
	})

	t.Run("dimension mismatch in store", func(t *testing.T) {
		store := NewMemoryStore()
		seed(t, store, abcDocs()...)
		seed(t, store, Document{ID: "odd", Embedding: []float32{1, 1}, CreatedAt: t0.Add(time.Minute)})
		idx := newIndex(store, nil, &fakeClock{now: t0.Add(time.Hour)})
		if idx.Initialize(context.Background(), true) {
			t.Fatalf("want false")
		}
		if idx.State() != StateUninitialized || idx.Stats().Count != 0 {
			t.Fatalf("stats = %+v", idx.Stats())
		}
	})
}

func TestRefreshIfStale(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	seed(t, store, abcDocs()...)
	clock := &fakeClock{now: t0.Add(time.Hour)}
	idx := New(store, nil, mapEmbedder{}, Options{Now: clock.Now, MaxAge: time.Hour})

	if !idx.RefreshIfStale(context.Background()) {
		t.Fatalf("first refresh should initialize")
	}
	idx.RefreshIfStale(context.Background())
	if store.fullQueries.Load() != 1 {
		t.Fatalf("fresh index should not rebuild")
	}
	clock.Advance(2 * time.Hour)
	idx.RefreshIfStale(context.Background())
	if store.fullQueries.Load() != 2 {
		t.Fatalf("stale index should rebuild")
	}
}

func TestConcurrentSearchDuringWrites(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, abcDocs()...)
	idx := newIndex(store, nil, &fakeClock{now: t0.Add(time.Hour)})
	idx.Initialize(context.Background(), false)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < 25; n++ {
				id := string(rune('a'+w)) + string(rune('a'+n))
				_ = idx.Add(context.Background(), &Document{ID: id, Embedding: []float32{float32(w), float32(n), 1}})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				if _, err := idx.SearchVector(context.Background(), []float32{1, 0, 0}, 3, 0.5); err != nil {
					t.Errorf("search: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if idx.Stats().Count != 103 {
		t.Fatalf("count = %d, want 103", idx.Stats().Count)
	}
}
