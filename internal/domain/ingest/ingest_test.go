package ingest

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"bobbrain/internal/domain/vectorindex"
)

type lenEmbedder struct{ calls int }

func (e *lenEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func (e *lenEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (*lenEmbedder) Dims() int     { return 3 }
func (*lenEmbedder) Model() string { return "len" }

func TestChunkerMergesWithOverlap(t *testing.T) {
	c := NewChunker(20, 5)
	got := c.Split("hello world\n\nsecond para")
	want := []string{"hello world", "world\nsecond para"}
	if !slices.Equal(got, want) {
		t.Fatalf("Split = %q, want %q", got, want)
	}
}

func TestChunkerHardSplitsLongParagraph(t *testing.T) {
	c := NewChunker(10, 2)
	got := c.Split(strings.Repeat("a", 25))
	if len(got) != 3 {
		t.Fatalf("chunks = %q", got)
	}
	for i, want := range []int{10, 10, 9} {
		if len([]rune(got[i])) != want {
			t.Fatalf("chunk %d has %d runes, want %d", i, len([]rune(got[i])), want)
		}
	}
}

func TestChunkerEmptyAndSmall(t *testing.T) {
	c := NewChunker(100, 10)
	if got := c.Split("  \n\n "); len(got) != 0 {
		t.Fatalf("empty text should produce no chunks, got %q", got)
	}
	if got := c.Split("只有一段中文内容"); len(got) != 1 || got[0] != "只有一段中文内容" {
		t.Fatalf("got %q", got)
	}
}

func TestMarkdownParser(t *testing.T) {
	src := "# Router FAQ\n\nSee [docs](http://x) and **bold** text.\n\n```sh\nreboot now\n```\n> quoted `code`\n"
	p, err := MarkdownParser{}.Parse(strings.NewReader(src), "faq.md")
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Router FAQ" {
		t.Fatalf("title = %q", p.Title)
	}
	for _, want := range []string{"Router FAQ", "See docs and bold text.", "reboot now", "quoted code"} {
		if !strings.Contains(p.Text, want) {
			t.Fatalf("text %q missing %q", p.Text, want)
		}
	}
	if strings.ContainsAny(p.Text, "#*`[") {
		t.Fatalf("markup left in %q", p.Text)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a.MD", "b.txt", "c.pdf", "d.docx"} {
		if _, err := r.For(name); err != nil {
			t.Fatalf("For(%s): %v", name, err)
		}
	}
	if _, err := r.For("e.exe"); err == nil {
		t.Fatalf("unsupported extension should fail")
	}
}

func TestIngestFileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	body := strings.Repeat("line about the router\n", 30)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	store := vectorindex.NewMemoryStore()
	idx := vectorindex.New(store, nil, nil, vectorindex.Options{Dims: 3})
	idx.Initialize(context.Background(), false)
	emb := &lenEmbedder{}
	in := New(emb, idx, Options{ChunkSize: 100, ChunkOverlap: 10, BatchSize: 2})

	rep, err := in.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if rep.Chunks == 0 || rep.Chunks != len(rep.DocumentIDs) {
		t.Fatalf("report = %+v", rep)
	}
	if store.Len() != rep.Chunks || idx.Stats().Count != rep.Chunks {
		t.Fatalf("store=%d index=%d chunks=%d", store.Len(), idx.Stats().Count, rep.Chunks)
	}
	if emb.calls != (rep.Chunks+1)/2 {
		t.Fatalf("embed batches = %d", emb.calls)
	}

	doc, err := store.Get(context.Background(), rep.DocumentIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata["source"] != "notes.txt" || doc.Metadata["chunk"] != "0" || doc.Metadata["format"] != "txt" {
		t.Fatalf("metadata = %v", doc.Metadata)
	}

	if _, err := in.IngestFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if store.Len() != rep.Chunks {
		t.Fatalf("re-ingest should upsert, store has %d docs", store.Len())
	}
}

func TestIngestFileSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, make([]byte, 2048), 0o600); err != nil {
		t.Fatal(err)
	}
	in := New(&lenEmbedder{}, nil, Options{MaxFileSize: 1024})
	if _, err := in.IngestFile(context.Background(), path); err == nil {
		t.Fatalf("oversized file should be rejected")
	}
}
