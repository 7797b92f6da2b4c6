package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string
	Dims   int
}

// Embedder Gemini embedContent
type Embedder struct {
	client *genai.Client
	model  string
	dims   int
}

func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &Embedder{client: client, model: cfg.Model, dims: cfg.Dims}, nil
}

func (e *Embedder) Dims() int     { return e.dims }
func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, embedConfig(e.dims))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	return toVectors(resp, len(texts))
}

// embedConfig dims<=0 时使用模型默认维度。
func embedConfig(dims int) *genai.EmbedContentConfig {
	if dims <= 0 {
		return nil
	}
	d := int32(dims)
	return &genai.EmbedContentConfig{OutputDimensionality: &d}
}

func toVectors(resp *genai.EmbedContentResponse, want int) ([][]float32, error) {
	if len(resp.Embeddings) != want {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), want)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
