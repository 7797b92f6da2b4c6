package knowledge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bobbrain/internal/domain/cache"
	"bobbrain/internal/domain/dedup"
	"bobbrain/internal/domain/vectorindex"
)

type stubSource struct {
	name     string
	passages []Passage
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Retrieve(context.Context, string) ([]Passage, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return s.passages, nil
}

type recordingGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (g *recordingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return g.reply, g.err
}

func newCache(t *testing.T) *cache.ResponseCache {
	t.Helper()
	b, err := cache.NewMemoryBackend(100)
	if err != nil {
		t.Fatal(err)
	}
	return cache.New(b, cache.Options{})
}

func testSources() (*stubSource, *stubSource, *stubSource) {
	return &stubSource{name: SourceVector, passages: []Passage{{ID: "doc-1", Text: "Bob runs on Go"}}},
		&stubSource{name: SourceGraph, passages: []Passage{{Text: "alice OWNS billing-service"}}},
		&stubSource{name: SourceAnalytics, passages: []Passage{{Text: "openai: $12.40 over 30 days"}}}
}

func TestKeywordRouter(t *testing.T) {
	r := DefaultRouter()
	tests := []struct {
		question string
		want     string
	}{
		{"How much did we spend on Gemini last month?", SourceAnalytics},
		{"show LLM costs by provider", SourceAnalytics},
		{"what is our invoice total", SourceAnalytics},
		{"Who owns the billing service?", SourceAnalytics},
		{"which services depend on redis", SourceGraph},
		{"who is alice", SourceGraph},
		{"what is connected to the gateway", SourceGraph},
		{"how do I reset the router", SourceVector},
		{"", SourceVector},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			if got := r.Route(tt.question); got != tt.want {
				t.Fatalf("Route(%q) = %q, want %q", tt.question, got, tt.want)
			}
		})
	}
}

func TestQueryAutoRoutesToSingleSource(t *testing.T) {
	vec, graph, ana := testSources()
	o := New(newCache(t), []Source{vec, graph, ana}, Options{})

	ans, err := o.Query(context.Background(), "which services depend on redis?", ModeAuto)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Mode != SourceGraph || len(ans.Sources) != 1 || ans.Sources[0].Name != SourceGraph {
		t.Fatalf("answer = %+v", ans)
	}
	if vec.calls.Load() != 0 || ana.calls.Load() != 0 {
		t.Fatalf("only the routed source should be queried")
	}
	if !strings.Contains(ans.Text, "[graph #1] alice OWNS billing-service") {
		t.Fatalf("text = %q", ans.Text)
	}
}

func TestQueryAutoFallsBackToFirstSource(t *testing.T) {
	vec, _, _ := testSources()
	o := New(newCache(t), []Source{vec}, Options{})

	ans, err := o.Query(context.Background(), "how much did we spend", "")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Mode != SourceVector {
		t.Fatalf("mode = %q, want fallback vector", ans.Mode)
	}
}

func TestQueryAllMergesInRegistrationOrder(t *testing.T) {
	vec, graph, ana := testSources()
	graph.err = errors.New("neo4j unreachable")
	o := New(newCache(t), []Source{vec, graph, ana}, Options{})

	ans, err := o.Query(context.Background(), "tell me everything", ModeAll)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(ans.Sources) != 3 {
		t.Fatalf("sources = %+v", ans.Sources)
	}
	for i, want := range []string{SourceVector, SourceGraph, SourceAnalytics} {
		if ans.Sources[i].Name != want {
			t.Fatalf("source %d = %q, want %q", i, ans.Sources[i].Name, want)
		}
	}
	if ans.Sources[1].Error == "" || len(ans.Sources[1].Passages) != 0 {
		t.Fatalf("failed source should be reported with no passages: %+v", ans.Sources[1])
	}
	if !strings.HasPrefix(ans.Text, "[vector #1]") || !strings.Contains(ans.Text, "[analytics #1]") {
		t.Fatalf("text = %q", ans.Text)
	}
}

func TestQueryAllSourcesFailing(t *testing.T) {
	vec, _, _ := testSources()
	vec.err = errors.New("index down")
	o := New(newCache(t), []Source{vec}, Options{})

	_, err := o.Query(context.Background(), "anything", ModeAll)
	if !errors.Is(err, cache.ErrComputeFailed) || !errors.Is(err, ErrAllSources) {
		t.Fatalf("err = %v", err)
	}
}

func TestQueryNamedAndUnknownSource(t *testing.T) {
	vec, graph, ana := testSources()
	o := New(newCache(t), []Source{vec, graph, ana}, Options{})

	ans, err := o.Query(context.Background(), "openai spend", "ANALYTICS")
	if err != nil || ans.Mode != SourceAnalytics {
		t.Fatalf("named query = %+v, %v", ans, err)
	}

	if _, err := o.Query(context.Background(), "q", "bigquery"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
	if _, err := o.Query(context.Background(), "   ", ModeAuto); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("err = %v, want ErrEmptyQuestion", err)
	}
}

func TestQueryCachesAnswers(t *testing.T) {
	vec, _, _ := testSources()
	gen := &recordingGenerator{reply: "  Bob is written in Go.  "}
	o := New(newCache(t), []Source{vec}, Options{CacheTTL: time.Minute})
	o.SetGenerator(gen)

	first, err := o.Query(context.Background(), "What is Bob written in?", ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached || first.Text != "Bob is written in Go." {
		t.Fatalf("first = %+v", first)
	}

	second, err := o.Query(context.Background(), "  what is bob   written in?", ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.Text != first.Text {
		t.Fatalf("second = %+v", second)
	}
	if vec.calls.Load() != 1 || len(gen.prompts) != 1 {
		t.Fatalf("retrieval/generation should run once, got %d/%d", vec.calls.Load(), len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "Bob runs on Go") || !strings.Contains(gen.prompts[0], "Question: What is Bob written in?") {
		t.Fatalf("prompt = %q", gen.prompts[0])
	}
}

func TestQueryGeneratorFailureNotCached(t *testing.T) {
	vec, _, _ := testSources()
	gen := &recordingGenerator{err: errors.New("rate limited")}
	o := New(newCache(t), []Source{vec}, Options{})
	o.SetGenerator(gen)

	if _, err := o.Query(context.Background(), "q", ModeAuto); !errors.Is(err, cache.ErrComputeFailed) {
		t.Fatalf("err = %v", err)
	}
	gen.err = nil
	gen.reply = "ok"
	ans, err := o.Query(context.Background(), "q", ModeAuto)
	if err != nil || ans.Text != "ok" {
		t.Fatalf("retry = %+v, %v", ans, err)
	}
}

func TestQueryPartialFailureNotCached(t *testing.T) {
	vec, graph, _ := testSources()
	graph.err = errors.New("neo4j down")
	o := New(newCache(t), []Source{vec, graph}, Options{CacheTTL: time.Hour})

	degraded, err := o.Query(context.Background(), "who owns billing", ModeAll)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if degraded.Cached || degraded.Sources[1].Error == "" {
		t.Fatalf("degraded = %+v", degraded)
	}

	graph.err = nil
	recovered, err := o.Query(context.Background(), "who owns billing", ModeAll)
	if err != nil {
		t.Fatalf("Query after recovery: %v", err)
	}
	if recovered.Cached || recovered.Sources[1].Error != "" || len(recovered.Sources[1].Passages) != 1 {
		t.Fatalf("recovered = %+v", recovered)
	}

	again, err := o.Query(context.Background(), "who owns billing", ModeAll)
	if err != nil || !again.Cached {
		t.Fatalf("healthy answer should be cached: %+v, %v", again, err)
	}
	if graph.calls.Load() != 2 {
		t.Fatalf("graph calls = %d, want 2", graph.calls.Load())
	}
}

func TestQueryConcurrentCallersShareFreshAnswer(t *testing.T) {
	vec, _, _ := testSources()
	vec.delay = 50 * time.Millisecond
	o := New(newCache(t), []Source{vec}, Options{})

	const n = 5
	answers := make([]*Answer, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answers[i], errs[i] = o.Query(context.Background(), "what is bob", ModeAuto)
		}(i)
	}
	wg.Wait()

	if vec.calls.Load() != 1 {
		t.Fatalf("retrieve calls = %d, want 1", vec.calls.Load())
	}
	for i := range answers {
		if errs[i] != nil || answers[i].Cached {
			t.Fatalf("caller %d = %+v, %v; shared fresh answer is not cached", i, answers[i], errs[i])
		}
	}
}

func TestHandleEventDeduplicates(t *testing.T) {
	vec, _, _ := testSources()
	o := New(newCache(t), []Source{vec}, Options{})
	o.SetEventGate(dedup.New(dedup.Options{}))

	ev := Event{ID: "Ev1", Text: "what is bob"}
	if _, err := o.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if _, err := o.HandleEvent(context.Background(), ev); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("err = %v, want ErrDuplicateEvent", err)
	}
	if vec.calls.Load() != 1 {
		t.Fatalf("duplicate event must not be processed")
	}
}

func TestVectorSourceOverIndex(t *testing.T) {
	store := vectorindex.NewMemoryStore()
	idx := vectorindex.New(store, nil, nil, vectorindex.Options{Dims: 3})
	idx.Initialize(context.Background(), false)
	_ = idx.Add(context.Background(), &vectorindex.Document{
		ID: "kb-1", Content: "restart the router", Embedding: []float32{1, 0, 0},
		Metadata: map[string]string{"source": "faq.md"},
	})

	src := NewVectorSource(vectorSearcher{idx: idx, vec: []float32{1, 0, 0}}, 3, 0.5)
	passages, err := src.Retrieve(context.Background(), "router?")
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) != 1 || passages[0].ID != "kb-1" || passages[0].Text != "restart the router" || passages[0].Metadata["source"] != "faq.md" {
		t.Fatalf("passages = %+v", passages)
	}
}

// vectorSearcher 用固定向量代替 embedding。
type vectorSearcher struct {
	idx *vectorindex.Index
	vec []float32
}

func (s vectorSearcher) Search(ctx context.Context, _ string, k int, threshold float64) ([]vectorindex.Result, error) {
	return s.idx.SearchVector(ctx, s.vec, k, threshold)
}
