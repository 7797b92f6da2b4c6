package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"bobbrain/internal/domain/vectorindex"
	applog "bobbrain/internal/platform/log"
)

// DocumentStore 知识文档的 PostgreSQL 存储，向量存为 REAL[]。
type DocumentStore struct {
	db    *sql.DB
	table string
}

func NewDocumentStore(db *sql.DB, table string) (*DocumentStore, error) {
	if table == "" {
		table = "knowledge_documents"
	}
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	return &DocumentStore{db: db, table: table}, nil
}

// EnsureTable 确保文档表存在
func (s *DocumentStore) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id         TEXT PRIMARY KEY,
		content    TEXT NOT NULL DEFAULT '',
		embedding  REAL[] NOT NULL,
		metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s(created_at);
	`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		applog.Error("[Postgres/Documents] ❌ Failed to create table", "table", s.table, "error", err)
		return err
	}
	applog.Info("[Postgres/Documents] ✅ Table ready", "table", s.table)
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*vectorindex.Document, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, content, embedding, metadata, created_at FROM %s WHERE id = $1`, s.table), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", vectorindex.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// Put 按 ID upsert。created_at 随写入刷新，增量同步据此发现修改。
func (s *DocumentStore) Put(ctx context.Context, doc *vectorindex.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if doc.Metadata == nil {
		meta = []byte("{}")
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`, s.table),
		doc.ID, doc.Content, pq.Array(doc.Embedding), meta, createdAt,
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *DocumentStore) QuerySince(ctx context.Context, since time.Time) ([]vectorindex.Document, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, embedding, metadata, created_at FROM %s
		WHERE created_at >= $1
		ORDER BY created_at ASC, id ASC`, s.table), since)
	if err != nil {
		return nil, fmt.Errorf("query documents since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var docs []vectorindex.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*vectorindex.Document, error) {
	var (
		doc  vectorindex.Document
		vec  pq.Float32Array
		meta []byte
	)
	if err := row.Scan(&doc.ID, &doc.Content, &vec, &meta, &doc.CreatedAt); err != nil {
		return nil, err
	}
	doc.Embedding = []float32(vec)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}
