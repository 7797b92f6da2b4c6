package vectorindex

import (
	"context"
	"time"
)

// Embedder 文本向量化。同一模型输出维度固定。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
	Model() string
}

// DocumentStore 持久化文档存储。
//   - Get: 不存在时返回 ErrDocumentNotFound
//   - Put: 按 ID upsert
//   - QuerySince: 返回 created_at >= since 的文档，按 created_at 升序
type DocumentStore interface {
	Get(ctx context.Context, id string) (*Document, error)
	Put(ctx context.Context, doc *Document) error
	QuerySince(ctx context.Context, since time.Time) ([]Document, error)
}

// SnapshotStore 快照读写。Read 在快照不存在时返回 ErrSnapshotNotFound。
type SnapshotStore interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}
