package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	applog "bobbrain/internal/platform/log"
	"bobbrain/internal/platform/metrics"
)

const (
	DefaultSnapshotFreshness = 24 * time.Hour
	DefaultMaxAge            = 24 * time.Hour

	fetchConcurrency = 8
)

// Options 索引配置。Dims/Model 为 0 值时取自 Embedder。
type Options struct {
	Dims              int
	Model             string
	SnapshotFreshness time.Duration
	MaxAge            time.Duration
	Now               func() time.Time
}

// Index 内存向量索引 + 持久化文档存储。
//
// 读路径无锁：当前索引是 atomic.Pointer 指向的只读值。
// 写操作（Initialize / Add / SyncIncremental）在 writeMu 下复制出新值后整体替换。
// 内存索引只是缓存，任何时候都可以从 DocumentStore 重建。
type Index struct {
	store     DocumentStore
	snapshots SnapshotStore
	embedder  Embedder

	dims      int
	model     string
	freshness time.Duration
	maxAge    time.Duration
	now       func() time.Time

	state     atomic.Int32
	active    atomic.Pointer[flatIndex]
	writeMu   sync.Mutex
	persistMu sync.Mutex

	metrics *metrics.Metrics
}

// New 创建未初始化的索引。snapshots 和 embedder 可为 nil。
func New(store DocumentStore, snapshots SnapshotStore, embedder Embedder, opts Options) *Index {
	idx := &Index{
		store:     store,
		snapshots: snapshots,
		embedder:  embedder,
		dims:      opts.Dims,
		model:     opts.Model,
		freshness: opts.SnapshotFreshness,
		maxAge:    opts.MaxAge,
		now:       opts.Now,
	}
	if embedder != nil {
		if idx.dims <= 0 {
			idx.dims = embedder.Dims()
		}
		if idx.model == "" {
			idx.model = embedder.Model()
		}
	}
	if idx.freshness <= 0 {
		idx.freshness = DefaultSnapshotFreshness
	}
	if idx.maxAge <= 0 {
		idx.maxAge = DefaultMaxAge
	}
	if idx.now == nil {
		idx.now = time.Now
	}
	return idx
}

// SetMetrics 注入指标（可选）。
func (i *Index) SetMetrics(m *metrics.Metrics) {
	i.metrics = m
}

func (i *Index) State() State {
	return State(i.state.Load())
}

func (i *Index) Dims() int { return i.dims }

func (i *Index) Stats() Stats {
	cur := i.active.Load()
	st := Stats{State: i.State(), Dims: i.dims, Model: i.model}
	if cur != nil {
		st.Count = cur.len()
		st.BuiltAt = cur.builtAt
		st.Watermark = cur.watermark
	}
	return st
}

// Initialize 加载索引。非强制时优先使用新鲜且模型、维度一致的快照，
// 之后做一次增量同步；否则从 DocumentStore 全量重建并写入快照。
// 不返回 error，失败只记录日志并返回 false。
func (i *Index) Initialize(ctx context.Context, forceRebuild bool) bool {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	prev := i.active.Load()
	i.state.Store(int32(StateLoading))

	if !forceRebuild {
		f, err := i.loadSnapshot(ctx)
		switch {
		case err == nil:
			i.publish(f)
			i.state.Store(int32(StateReady))
			i.metrics.IndexLoad("snapshot")
			applog.Info("[Index] loaded from snapshot", "documents", f.len(), "built_at", f.builtAt)
			if _, err := i.syncLocked(ctx); err != nil {
				applog.Warn("[Index] post-snapshot sync failed, serving snapshot data", "error", err)
			}
			return true
		case errors.Is(err, ErrSnapshotNotFound):
			applog.Info("[Index] no snapshot, rebuilding from document store")
		case errors.Is(err, ErrIndexCorrupted):
			applog.Warn("[Index] snapshot corrupted, falling back to full rebuild", "error", err)
		default:
			applog.Info("[Index] snapshot unusable, rebuilding", "reason", err)
		}
	}

	f, err := i.rebuild(ctx)
	if err != nil {
		i.metrics.IndexLoad("failed")
		switch {
		case errors.Is(err, ErrEmbeddingDimensionMismatch):
			i.publish(nil)
			i.state.Store(int32(StateUninitialized))
			applog.Error("[Index] rebuild aborted", "error", err)
		case prev != nil:
			i.state.Store(int32(StateReady))
			applog.Warn("[Index] rebuild failed, keep serving stale index", "documents", prev.len(), "error", err)
		default:
			i.state.Store(int32(StateUninitialized))
			applog.Error("[Index] rebuild failed", "error", err)
		}
		return false
	}

	i.publish(f)
	i.state.Store(int32(StateReady))
	i.metrics.IndexLoad("rebuild")
	applog.Info("[Index] rebuilt from document store", "documents", f.len(), "dims", i.dims)
	i.persist(ctx)
	return true
}

// RefreshIfStale 未初始化时初始化，超过 MaxAge 时强制重建。
func (i *Index) RefreshIfStale(ctx context.Context) bool {
	cur := i.active.Load()
	if cur == nil {
		return i.Initialize(ctx, false)
	}
	if i.now().Sub(cur.builtAt) <= i.maxAge {
		return true
	}
	applog.Info("[Index] index stale, forcing rebuild", "built_at", cur.builtAt, "max_age", i.maxAge)
	return i.Initialize(ctx, true)
}

// Search 向量化查询文本后检索。
func (i *Index) Search(ctx context.Context, query string, k int, threshold float64) ([]Result, error) {
	if i.active.Load().len() == 0 || k <= 0 {
		return []Result{}, nil
	}
	if i.embedder == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return i.SearchVector(ctx, vec, k, threshold)
}

// SearchVector 用已有向量检索。索引为空或未初始化时返回空结果。
// 分数为余弦相似度，丢弃 score < threshold 的候选，同分按插入顺序。
// 在 DocumentStore 中已不存在的文档会被丢弃。
func (i *Index) SearchVector(ctx context.Context, vec []float32, k int, threshold float64) ([]Result, error) {
	cur := i.active.Load()
	if cur.len() == 0 || k <= 0 {
		return []Result{}, nil
	}
	if len(vec) != cur.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrEmbeddingDimensionMismatch, len(vec), cur.dims)
	}

	start := time.Now()
	hits := cur.search(normalize(vec), k, float32(threshold))
	i.metrics.ObserveSearch(time.Since(start).Seconds())
	if len(hits) == 0 {
		return []Result{}, nil
	}

	docs := make([]*Document, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for n, h := range hits {
		id := cur.ids[h.pos]
		g.Go(func() error {
			doc, err := i.store.Get(gctx, id)
			if errors.Is(err, ErrDocumentNotFound) {
				applog.Warn("[Index] indexed document missing from store, skipped", "doc_id", id)
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: get %s: %v", ErrDurableStoreUnavailable, id, err)
			}
			docs[n] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for n, h := range hits {
		if docs[n] == nil {
			continue
		}
		results = append(results, Result{DocID: cur.ids[h.pos], Score: float64(h.score), Document: docs[n]})
	}
	return results, nil
}

// Add 先写 DocumentStore，再更新内存索引并写快照。
// 维度不符时直接返回 ErrEmbeddingDimensionMismatch，存储与索引都不变。
// 内存更新失败不返回错误，Initialize(ctx, true) 可恢复一致。
func (i *Index) Add(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if len(doc.Embedding) != i.dims {
		return fmt.Errorf("%w: document %s has %d dims, index has %d",
			ErrEmbeddingDimensionMismatch, doc.ID, len(doc.Embedding), i.dims)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = i.now().UTC()
	}
	if err := i.store.Put(ctx, doc); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrDurableStoreUnavailable, doc.ID, err)
	}

	if !i.addInMemory(doc) {
		return nil
	}
	i.persist(ctx)
	return nil
}

func (i *Index) addInMemory(doc *Document) bool {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	cur := i.active.Load()
	if cur == nil || i.State() != StateReady {
		applog.Warn("[Index] index not ready, document stored only", "doc_id", doc.ID, "state", i.State())
		return false
	}
	next := cur.clone(1)
	if !next.upsert(doc.ID, normalize(doc.Embedding)) {
		return false
	}
	i.publish(next)
	return true
}

// SyncIncremental 拉取水位之后（含）的文档并 upsert，推进水位。
// 可重复调用；没有新文档时不做任何修改。
func (i *Index) SyncIncremental(ctx context.Context) bool {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	if i.active.Load() == nil {
		applog.Warn("[Index] sync skipped, index not initialized")
		return false
	}
	n, err := i.syncLocked(ctx)
	if err != nil {
		applog.Warn("[Index] incremental sync failed", "error", err)
		return false
	}
	if n > 0 {
		applog.Info("[Index] incremental sync applied", "changed", n, "documents", i.active.Load().len())
		i.persist(ctx)
	}
	return true
}

// syncLocked 调用方持有 writeMu。返回变更的文档数。
func (i *Index) syncLocked(ctx context.Context) (int, error) {
	cur := i.active.Load()
	docs, err := i.store.QuerySince(ctx, cur.watermark)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}

	var next *flatIndex
	changed := 0
	watermark := cur.watermark
	for _, d := range docs {
		if d.CreatedAt.After(watermark) {
			watermark = d.CreatedAt
		}
		if d.Embedding == nil {
			continue
		}
		if len(d.Embedding) != cur.dims {
			applog.Warn("[Index] skip document with mismatched dimension",
				"doc_id", d.ID, "dims", len(d.Embedding), "want", cur.dims)
			continue
		}
		if next == nil {
			next = cur.clone(len(docs))
		}
		if next.upsert(d.ID, normalize(d.Embedding)) {
			changed++
		}
	}

	if changed == 0 && watermark.Equal(cur.watermark) {
		return 0, nil
	}
	if next == nil {
		next = cur.clone(0)
	}
	next.watermark = watermark
	i.publish(next)
	return changed, nil
}

func (i *Index) rebuild(ctx context.Context) (*flatIndex, error) {
	if i.dims <= 0 {
		return nil, fmt.Errorf("%w: index dimension not configured", ErrEmbeddingDimensionMismatch)
	}
	docs, err := i.store.QuerySince(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}

	f := newFlatIndex(i.dims, i.model, len(docs))
	for _, d := range docs {
		if d.CreatedAt.After(f.watermark) {
			f.watermark = d.CreatedAt
		}
		if d.Embedding == nil {
			continue
		}
		if len(d.Embedding) != i.dims {
			return nil, fmt.Errorf("%w: document %s has %d dims, index has %d",
				ErrEmbeddingDimensionMismatch, d.ID, len(d.Embedding), i.dims)
		}
		f.upsert(d.ID, normalize(d.Embedding))
	}
	f.builtAt = i.now().UTC()
	return f, nil
}

func (i *Index) loadSnapshot(ctx context.Context) (*flatIndex, error) {
	if i.snapshots == nil {
		return nil, ErrSnapshotNotFound
	}
	data, err := i.snapshots.Read(ctx)
	if err != nil {
		return nil, err
	}
	f, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	if f.dims != i.dims {
		return nil, fmt.Errorf("%w: snapshot dims %d, want %d", errSnapshotStale, f.dims, i.dims)
	}
	if i.model != "" && f.model != i.model {
		return nil, fmt.Errorf("%w: snapshot model %q, want %q", errSnapshotStale, f.model, i.model)
	}
	if age := i.now().Sub(f.builtAt); age > i.freshness {
		return nil, fmt.Errorf("%w: snapshot age %s exceeds %s", errSnapshotStale, age.Round(time.Second), i.freshness)
	}
	return f, nil
}

// persist 写快照。失败只影响下次冷启动速度，记录日志即可。
func (i *Index) persist(ctx context.Context) {
	if i.snapshots == nil {
		return
	}
	i.persistMu.Lock()
	defer i.persistMu.Unlock()

	cur := i.active.Load()
	if cur == nil {
		return
	}
	data, err := encodeSnapshot(cur)
	if err != nil {
		applog.Warn("[Index] encode snapshot failed", "error", err)
		return
	}
	if err := i.snapshots.Write(ctx, data); err != nil {
		applog.Warn("[Index] write snapshot failed", "error", err)
		return
	}
	applog.Debug("[Index] snapshot persisted", "documents", cur.len(), "bytes", len(data))
}

func (i *Index) publish(f *flatIndex) {
	i.active.Store(f)
	i.metrics.IndexSize(f.len())
}
