package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"bobbrain/internal/domain/knowledge"
	"bobbrain/internal/platform/config"
)

func memoryConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Index.DocumentStore = "memory"
	cfg.Index.SnapshotPath = filepath.Join(t.TempDir(), "index.snapshot")
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Model = "nomic-embed-text"
	cfg.Embedding.Dims = 768
	cfg.LLM.Provider = "openai"
	cfg.LLM.OpenAIAPIKey = ""
	return cfg
}

func TestBuildInMemory(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close(context.Background())

	if app.Dedup == nil || app.Usage != nil || app.JobLock != nil {
		t.Fatalf("unexpected wiring: dedup=%v usage=%v lock=%v", app.Dedup != nil, app.Usage != nil, app.JobLock != nil)
	}
	if got := app.Orchestrator.SourceNames(); len(got) != 1 || got[0] != knowledge.SourceVector {
		t.Fatalf("sources = %v", got)
	}
	if app.Index.Dims() != 768 {
		t.Fatalf("dims = %d", app.Index.Dims())
	}
	if len(app.Providers.List()) != 0 {
		t.Fatalf("providers = %v", app.Providers.List())
	}
}

func TestBuildRejectsUnknownEmbedder(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Embedding.Provider = "word2vec"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
}

func TestJobs(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close(context.Background())

	names := map[string]bool{}
	for _, j := range app.Jobs() {
		names[j.Name] = true
		if j.Exclusive {
			t.Fatalf("job %s should not be exclusive without usage store", j.Name)
		}
	}
	for _, want := range []string{"index-sync", "index-refresh", "dedup-sweep"} {
		if !names[want] {
			t.Fatalf("missing job %s in %v", want, names)
		}
	}
	if names["usage-prune"] {
		t.Fatal("usage-prune requires a database")
	}

	s, err := app.NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Stop(context.Background())
}

func TestRegisterLLMProviders(t *testing.T) {
	reg := RegisterLLMProviders(context.Background(), config.LLMConfig{
		Provider:        "ollama",
		OpenAIAPIKey:    "sk-test",
		GroqAPIKey:      "gsk-test",
		AnthropicAPIKey: "ant-test",
		OllamaBaseURL:   "http://localhost:11434",
	})
	want := []string{"anthropic", "groq", "ollama", "openai"}
	got := reg.List()
	if len(got) != len(want) {
		t.Fatalf("providers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("providers = %v, want %v", got, want)
		}
	}
}
