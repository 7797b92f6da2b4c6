package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bobbrain/internal/provider"
)

func TestComplete(t *testing.T) {
	var got struct {
		Model    string             `json:"model"`
		Messages []provider.Message `json:"messages"`
		Stream   *bool              `json:"stream"`
		Options  map[string]any     `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"Bob answers questions."},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":3}` + "\n"))
	}))
	defer srv.Close()

	p, err := New(Config{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), &provider.CompletionRequest{
		Model: "llama3.2",
		Messages: []provider.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "what is bob"},
		},
		MaxTokens:   128,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if got.Model != "llama3.2" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("request = %+v", got)
	}
	if got.Stream == nil || *got.Stream {
		t.Fatalf("stream should be disabled")
	}
	if got.Options["num_predict"] != float64(128) || got.Options["temperature"] != 0.2 {
		t.Fatalf("options = %v", got.Options)
	}

	want := provider.CompletionResponse{
		Content:      "Bob answers questions.",
		Model:        "llama3.2",
		FinishReason: "stop",
		Usage:        provider.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}
	if *resp != want {
		t.Fatalf("response = %+v, want %+v", *resp, want)
	}
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"missing\" not found"}`))
	}))
	defer srv.Close()

	p, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), &provider.CompletionRequest{
		Model:    "missing",
		Messages: []provider.Message{{Role: "user", Content: "q"}},
	}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
