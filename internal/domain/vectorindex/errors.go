package vectorindex

import "errors"

var (
	// ErrEmbeddingDimensionMismatch 向量维度与索引不一致。Add 时返回给调用方，索引不变。
	ErrEmbeddingDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrIndexCorrupted 快照无法解析，加载时吸收并回退到全量重建。
	ErrIndexCorrupted = errors.New("index snapshot corrupted")
	// ErrDurableStoreUnavailable 持久化存储不可用。
	ErrDurableStoreUnavailable = errors.New("durable document store unavailable")
	// ErrDocumentNotFound 文档不存在。
	ErrDocumentNotFound = errors.New("document not found")
	// ErrSnapshotNotFound 快照不存在。
	ErrSnapshotNotFound = errors.New("index snapshot not found")
	// ErrNoEmbedder 未配置 embedding provider。
	ErrNoEmbedder = errors.New("no embedder configured")

	errSnapshotStale = errors.New("index snapshot stale")
)
