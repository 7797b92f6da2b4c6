package provider

import (
	"context"
	"fmt"
	"strings"

	applog "bobbrain/internal/platform/log"
)

// UsageRecorder 记录每次调用的 token 用量，供成本分析使用。
type UsageRecorder interface {
	RecordUsage(ctx context.Context, provider, model string, usage Usage) error
}

// Generator 把单轮 prompt 交给指定 provider/model。
type Generator struct {
	provider    LLMProvider
	model       string
	maxTokens   int
	temperature float64
	usage       UsageRecorder
}

func NewGenerator(p LLMProvider, model string) *Generator {
	return &Generator{provider: p, model: model, maxTokens: 1024, temperature: 0.2}
}

// SetUsageRecorder 注入用量记录（可选）。
func (g *Generator) SetUsageRecorder(r UsageRecorder) {
	g.usage = r
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.provider.Complete(ctx, &CompletionRequest{
		Model:       g.model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s/%s: %w", g.provider.Name(), g.model, err)
	}
	if g.usage != nil {
		model := resp.Model
		if model == "" {
			model = g.model
		}
		if err := g.usage.RecordUsage(ctx, g.provider.Name(), model, resp.Usage); err != nil {
			applog.Warn("[LLM] record usage failed", "provider", g.provider.Name(), "error", err)
		}
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%s/%s: empty completion (finish_reason=%s)", g.provider.Name(), g.model, resp.FinishReason)
	}
	return text, nil
}
