package knowledge

import (
	"context"

	"bobbrain/internal/domain/vectorindex"
)

// Searcher 向量检索能力，由 vectorindex.Index 实现。
type Searcher interface {
	Search(ctx context.Context, query string, k int, threshold float64) ([]vectorindex.Result, error)
}

// VectorSource 以向量索引为后端的知识源。
type VectorSource struct {
	index     Searcher
	topK      int
	threshold float64
}

func NewVectorSource(index Searcher, topK int, threshold float64) *VectorSource {
	if topK <= 0 {
		topK = 5
	}
	return &VectorSource{index: index, topK: topK, threshold: threshold}
}

func (s *VectorSource) Name() string { return SourceVector }

func (s *VectorSource) Retrieve(ctx context.Context, question string) ([]Passage, error) {
	results, err := s.index.Search(ctx, question, s.topK, s.threshold)
	if err != nil {
		return nil, err
	}
	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		p := Passage{ID: r.DocID, Score: r.Score}
		if r.Document != nil {
			p.Text = r.Document.Content
			p.Metadata = r.Document.Metadata
		}
		passages = append(passages, p)
	}
	return passages, nil
}
