package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"bobbrain/internal/domain/vectorindex"
	applog "bobbrain/internal/platform/log"
)

const defaultBatchSize = 32

// Indexer 文档写入端，由 vectorindex.Index 实现。
type Indexer interface {
	Add(ctx context.Context, doc *vectorindex.Document) error
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	MaxFileSize  int
}

// Report 一次导入的结果。
type Report struct {
	Source      string   `json:"source"`
	Chunks      int      `json:"chunks"`
	DocumentIDs []string `json:"document_ids"`
}

// Ingester 解析 → 切块 → 批量向量化 → 写入索引。
// 文档 ID 由来源与块序号派生，同一文件重复导入会覆盖而不是新增。
type Ingester struct {
	registry    *Registry
	chunker     *Chunker
	embedder    vectorindex.Embedder
	index       Indexer
	batchSize   int
	maxFileSize int
}

func New(embedder vectorindex.Embedder, index Indexer, opts Options) *Ingester {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Ingester{
		registry:    NewRegistry(),
		chunker:     NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		embedder:    embedder,
		index:       index,
		batchSize:   opts.BatchSize,
		maxFileSize: opts.MaxFileSize,
	}
}

func (in *Ingester) Registry() *Registry { return in.registry }

func (in *Ingester) IngestFile(ctx context.Context, path string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if in.maxFileSize > 0 && info.Size() > int64(in.maxFileSize) {
		return nil, fmt.Errorf("file %s is %d bytes, limit is %d", path, info.Size(), in.maxFileSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return in.IngestReader(ctx, f, filepath.Base(path), nil)
}

func (in *Ingester) IngestReader(ctx context.Context, r io.Reader, filename string, meta map[string]string) (*Report, error) {
	p, err := in.registry.For(filename)
	if err != nil {
		return nil, err
	}
	parsed, err := p.Parse(r, filename)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	merged := make(map[string]string, len(parsed.Metadata)+len(meta)+1)
	for k, v := range parsed.Metadata {
		merged[k] = v
	}
	for k, v := range meta {
		merged[k] = v
	}
	if parsed.Title != "" {
		merged["title"] = parsed.Title
	}
	return in.IngestText(ctx, parsed.Text, filename, merged)
}

// IngestText 切块并写入。source 用于派生文档 ID 和 metadata.source。
func (in *Ingester) IngestText(ctx context.Context, text, source string, meta map[string]string) (*Report, error) {
	chunks := in.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: no text content", source)
	}

	rep := &Report{Source: source, DocumentIDs: make([]string, 0, len(chunks))}
	for start := 0; start < len(chunks); start += in.batchSize {
		end := min(start+in.batchSize, len(chunks))
		vecs, err := in.embedder.EmbedBatch(ctx, chunks[start:end])
		if err != nil {
			return rep, fmt.Errorf("embed chunks %d-%d of %s: %w", start, end-1, source, err)
		}
		if len(vecs) != end-start {
			return rep, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), end-start)
		}
		for n, vec := range vecs {
			idx := start + n
			doc := &vectorindex.Document{
				ID:        ChunkID(source, idx),
				Content:   chunks[idx],
				Embedding: vec,
				Metadata:  chunkMetadata(meta, source, idx),
			}
			if err := in.index.Add(ctx, doc); err != nil {
				return rep, fmt.Errorf("add chunk %d of %s: %w", idx, source, err)
			}
			rep.DocumentIDs = append(rep.DocumentIDs, doc.ID)
			rep.Chunks++
		}
	}
	applog.Info("[Ingest] source indexed", "source", source, "chunks", rep.Chunks)
	return rep, nil
}

// ChunkID 由来源和块序号派生稳定的 UUIDv5。
func ChunkID(source string, chunk int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+strconv.Itoa(chunk))).String()
}

func chunkMetadata(base map[string]string, source string, chunk int) map[string]string {
	m := make(map[string]string, len(base)+2)
	for k, v := range base {
		m[k] = v
	}
	m["source"] = source
	m["chunk"] = strconv.Itoa(chunk)
	return m
}
