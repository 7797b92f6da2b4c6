package vectorindex

import (
	"cmp"
	"slices"
	"time"

	"gonum.org/v1/gonum/blas/blas32"
)

// flatIndex 精确内积索引。发布后只读，写操作先 clone 再替换指针。
// vectors 按位置平铺存放已 L2 归一化的向量。
type flatIndex struct {
	dims      int
	model     string
	vectors   []float32
	ids       []string
	pos       map[string]int
	builtAt   time.Time
	watermark time.Time
}

type hit struct {
	pos   int
	score float32
}

func newFlatIndex(dims int, model string, capacity int) *flatIndex {
	return &flatIndex{
		dims:    dims,
		model:   model,
		vectors: make([]float32, 0, capacity*dims),
		ids:     make([]string, 0, capacity),
		pos:     make(map[string]int, capacity),
	}
}

func (f *flatIndex) len() int {
	if f == nil {
		return 0
	}
	return len(f.ids)
}

func (f *flatIndex) clone(extra int) *flatIndex {
	n := &flatIndex{
		dims:      f.dims,
		model:     f.model,
		vectors:   make([]float32, len(f.vectors), len(f.vectors)+extra*f.dims),
		ids:       make([]string, len(f.ids), len(f.ids)+extra),
		pos:       make(map[string]int, len(f.pos)+extra),
		builtAt:   f.builtAt,
		watermark: f.watermark,
	}
	copy(n.vectors, f.vectors)
	copy(n.ids, f.ids)
	for id, p := range f.pos {
		n.pos[id] = p
	}
	return n
}

// upsert 已存在的 id 原位替换向量，保留插入位置；否则追加。vec 须已归一化。
// 返回是否发生变化。
func (f *flatIndex) upsert(id string, vec []float32) bool {
	if p, ok := f.pos[id]; ok {
		row := f.vectors[p*f.dims : (p+1)*f.dims]
		if slices.Equal(row, vec) {
			return false
		}
		copy(row, vec)
		return true
	}
	f.pos[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, vec...)
	return true
}

func (f *flatIndex) row(p int) blas32.Vector {
	return blas32.Vector{N: f.dims, Inc: 1, Data: f.vectors[p*f.dims : (p+1)*f.dims]}
}

// search 全量内积扫描，过滤 score < threshold，按分数降序、位置升序取前 k。
func (f *flatIndex) search(q []float32, k int, threshold float32) []hit {
	if f.len() == 0 || k <= 0 {
		return nil
	}
	qv := blas32.Vector{N: f.dims, Inc: 1, Data: q}
	hits := make([]hit, 0, min(k*4, f.len()))
	for p := range f.ids {
		s := blas32.Dot(qv, f.row(p))
		if s < threshold {
			continue
		}
		hits = append(hits, hit{pos: p, score: s})
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// normalize 返回 L2 归一化后的副本，零向量原样复制。
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	x := blas32.Vector{N: len(out), Inc: 1, Data: out}
	if n := blas32.Nrm2(x); n > 0 {
		blas32.Scal(1/n, x)
	}
	return out
}
