package bootstrap

import (
	"context"
	"fmt"

	embgemini "bobbrain/internal/adapter/embedding/gemini"
	embollama "bobbrain/internal/adapter/embedding/ollama"
	embopenai "bobbrain/internal/adapter/embedding/openai"
	"bobbrain/internal/adapter/provider/llm/anthropic"
	"bobbrain/internal/adapter/provider/llm/gemini"
	"bobbrain/internal/adapter/provider/llm/ollama"
	"bobbrain/internal/adapter/provider/llm/openai"
	"bobbrain/internal/domain/vectorindex"
	"bobbrain/internal/platform/config"
	applog "bobbrain/internal/platform/log"
	"bobbrain/internal/provider"
)

// RegisterLLMProviders 注册所有配置了凭据的 LLM 供应商。
func RegisterLLMProviders(ctx context.Context, cfg config.LLMConfig) *provider.Registry {
	reg := provider.NewRegistry()

	if cfg.OpenAIAPIKey != "" {
		reg.Register(openai.New(openai.Config{Name: "openai", APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL}))
	}
	if cfg.GroqAPIKey != "" {
		reg.Register(openai.New(openai.Config{Name: "groq", APIKey: cfg.GroqAPIKey, BaseURL: cfg.GroqBaseURL}))
	}
	if cfg.AnthropicAPIKey != "" {
		reg.Register(anthropic.New(anthropic.Config{APIKey: cfg.AnthropicAPIKey}))
	}
	if cfg.GeminiAPIKey != "" {
		p, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey})
		if err != nil {
			applog.Warnf("⚠️  Gemini provider disabled: %v", err)
		} else {
			reg.Register(p)
		}
	}
	// Ollama 无需凭据，只有显式选用时才注册
	if cfg.Provider == "ollama" {
		p, err := ollama.New(ollama.Config{BaseURL: cfg.OllamaBaseURL})
		if err != nil {
			applog.Warnf("⚠️  Ollama provider disabled: %v", err)
		} else {
			reg.Register(p)
		}
	}

	names := reg.List()
	if len(names) == 0 {
		applog.Warn("⚠️  No LLM provider configured, answers will contain retrieved context only")
	} else {
		applog.Infof("✅ Registered LLM providers: %v", names)
	}
	return reg
}

// NewEmbedder 按 EMBEDDING_PROVIDER 创建向量化实现。
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (vectorindex.Embedder, error) {
	var (
		e   vectorindex.Embedder
		err error
	)
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("EMBEDDING_API_KEY or OPENAI_API_KEY is required for openai embeddings")
		}
		e = embopenai.New(embopenai.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model, Dims: cfg.Dims})
	case "ollama":
		e, err = embollama.New(embollama.Config{BaseURL: cfg.BaseURL, Model: cfg.Model, Dims: cfg.Dims})
	case "gemini":
		e, err = embgemini.New(ctx, embgemini.Config{APIKey: cfg.APIKey, Model: cfg.Model, Dims: cfg.Dims})
	default:
		return nil, fmt.Errorf("unsupported EMBEDDING_PROVIDER %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	applog.Infof("✅ Embedder initialized (provider: %s, model: %s, dims: %d)", cfg.Provider, e.Model(), e.Dims())
	return e, nil
}
