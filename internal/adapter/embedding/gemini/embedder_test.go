package gemini

import (
	"testing"

	"google.golang.org/genai"
)

func TestEmbedConfig(t *testing.T) {
	if embedConfig(0) != nil {
		t.Fatalf("zero dims should use the model default")
	}
	cfg := embedConfig(768)
	if cfg == nil || cfg.OutputDimensionality == nil || *cfg.OutputDimensionality != 768 {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestToVectors(t *testing.T) {
	resp := &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{
		{Values: []float32{1, 0}},
		{Values: []float32{0, 1}},
	}}

	vecs, err := toVectors(resp, 2)
	if err != nil {
		t.Fatalf("toVectors: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors = %v", vecs)
	}

	if _, err := toVectors(resp, 3); err == nil {
		t.Fatalf("count mismatch should fail")
	}
}
