package firestoredb

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"

	"bobbrain/internal/domain/vectorindex"
	applog "bobbrain/internal/platform/log"
)

// record Firestore 中一条知识文档
type record struct {
	Content   string             `firestore:"content"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	Metadata  map[string]string  `firestore:"metadata,omitempty"`
	CreatedAt time.Time          `firestore:"created_at"`
}

// DocumentStore 以 Firestore collection 为持久化文档存储，文档 ID 即 Firestore 文档 ID。
type DocumentStore struct {
	client     *firestore.Client
	collection string
}

func NewDocumentStore(ctx context.Context, projectID, collection string) (*DocumentStore, error) {
	if collection == "" {
		collection = "documents"
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	applog.Info("[Firestore] client ready", "project", projectID, "collection", collection)
	return &DocumentStore{client: client, collection: collection}, nil
}

func (s *DocumentStore) Close() error {
	return s.client.Close()
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*vectorindex.Document, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if snap != nil && !snap.Exists() {
		return nil, fmt.Errorf("%w: %s", vectorindex.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return decode(snap)
}

func (s *DocumentStore) Put(ctx context.Context, doc *vectorindex.Document) error {
	rec := toRecord(doc, time.Now().UTC())
	if _, err := s.client.Collection(s.collection).Doc(doc.ID).Set(ctx, rec); err != nil {
		return fmt.Errorf("put document %s: %w", doc.ID, err)
	}
	return nil
}

// QuerySince 按 created_at, 文档 ID 升序返回，与 Postgres 存储的顺序一致。
func (s *DocumentStore) QuerySince(ctx context.Context, since time.Time) ([]vectorindex.Document, error) {
	snaps, err := s.client.Collection(s.collection).
		Where("created_at", ">=", since).
		OrderBy("created_at", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query documents since %s: %w", since.Format(time.RFC3339), err)
	}
	docs := make([]vectorindex.Document, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	sortDocuments(docs)
	return docs, nil
}

func decode(snap *firestore.DocumentSnapshot) (*vectorindex.Document, error) {
	var rec record
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", snap.Ref.ID, err)
	}
	return fromRecord(snap.Ref.ID, rec), nil
}

// toRecord 未设置 CreatedAt 时使用 now。
func toRecord(doc *vectorindex.Document, now time.Time) record {
	rec := record{
		Content:   doc.Content,
		Embedding: firestore.Vector32(doc.Embedding),
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	return rec
}

func fromRecord(id string, rec record) *vectorindex.Document {
	return &vectorindex.Document{
		ID:        id,
		Content:   rec.Content,
		Embedding: []float32(rec.Embedding),
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
	}
}

// sortDocuments 稳定排序：created_at 相同的文档按 ID 排列，重建时插入顺序不变。
func sortDocuments(docs []vectorindex.Document) {
	slices.SortStableFunc(docs, func(a, b vectorindex.Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
