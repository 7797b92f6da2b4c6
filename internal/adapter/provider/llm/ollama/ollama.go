package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"bobbrain/internal/provider"
)

const defaultBaseURL = "http://localhost:11434"

type Config struct {
	BaseURL string `json:"base_url"`
}

// Provider 本地 Ollama chat 接口
type Provider struct {
	client *api.Client
}

func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	// 超时由调用方 ctx 控制
	return &Provider{client: api.NewClient(u, &http.Client{})}, nil
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	msgs := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}
	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}

	var (
		text strings.Builder
		last api.ChatResponse
	)
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		last = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return &provider.CompletionResponse{
		Content:      text.String(),
		Model:        last.Model,
		FinishReason: last.DoneReason,
		Usage: provider.Usage{
			PromptTokens:     last.PromptEvalCount,
			CompletionTokens: last.EvalCount,
			TotalTokens:      last.PromptEvalCount + last.EvalCount,
		},
	}, nil
}
