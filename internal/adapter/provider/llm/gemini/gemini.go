package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"bobbrain/internal/provider"
)

type Config struct {
	APIKey string `json:"api_key"`
}

// Provider Gemini API（google.golang.org/genai）
type Provider struct {
	client *genai.Client
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	contents, config := buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return toCompletion(resp, req.Model), nil
}

// buildRequest assistant 映射为 model 角色，system 消息进入 SystemInstruction。
func buildRequest(req *provider.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, msgs := provider.SplitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	return contents, config
}

func toCompletion(resp *genai.GenerateContentResponse, model string) *provider.CompletionResponse {
	out := &provider.CompletionResponse{
		Content: resp.Text(),
		Model:   model,
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = provider.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out
}
