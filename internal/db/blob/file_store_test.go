package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bobbrain/internal/domain/vectorindex"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.snapshot")
	s := NewFileStore(path)
	ctx := context.Background()

	if _, err := s.Read(ctx); !errors.Is(err, vectorindex.ErrSnapshotNotFound) {
		t.Fatalf("err = %v, want ErrSnapshotNotFound", err)
	}
	if err := s.Write(ctx, []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, []byte("v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx)
	if err != nil || string(got) != "v2" {
		t.Fatalf("Read = %q, %v", got, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestFileStoreWithIndex(t *testing.T) {
	ctx := context.Background()
	store := vectorindex.NewMemoryStore()
	_ = store.Put(ctx, &vectorindex.Document{ID: "a", Embedding: []float32{1, 0}})
	snaps := NewFileStore(filepath.Join(t.TempDir(), "idx.snapshot"))

	idx := vectorindex.New(store, snaps, nil, vectorindex.Options{Dims: 2})
	if !idx.Initialize(ctx, false) {
		t.Fatalf("initialize failed")
	}
	if _, err := snaps.Read(ctx); err != nil {
		t.Fatalf("snapshot not persisted: %v", err)
	}

	reloaded := vectorindex.New(store, snaps, nil, vectorindex.Options{Dims: 2})
	if !reloaded.Initialize(ctx, false) || reloaded.Stats().Count != 1 {
		t.Fatalf("reload stats = %+v", reloaded.Stats())
	}
}
