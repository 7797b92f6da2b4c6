package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"bobbrain/internal/provider"
)

func TestBuildParams(t *testing.T) {
	tests := []struct {
		name       string
		req        provider.CompletionRequest
		wantMax    int64
		wantSystem string
		wantRoles  []anthropic.MessageParamRole
		wantTemp   float64
	}{
		{
			name: "system split out and defaults applied",
			req: provider.CompletionRequest{
				Model: "claude-sonnet",
				Messages: []provider.Message{
					{Role: "system", Content: "be brief"},
					{Role: "user", Content: "hi"},
					{Role: "assistant", Content: "hello"},
					{Role: "user", Content: "what is bob"},
				},
			},
			wantMax:    defaultMaxTokens,
			wantSystem: "be brief",
			wantRoles:  []anthropic.MessageParamRole{anthropic.MessageParamRoleUser, anthropic.MessageParamRoleAssistant, anthropic.MessageParamRoleUser},
		},
		{
			name: "explicit limits",
			req: provider.CompletionRequest{
				Model:       "claude-haiku",
				Messages:    []provider.Message{{Role: "user", Content: "q"}},
				MaxTokens:   256,
				Temperature: 0.3,
			},
			wantMax:   256,
			wantRoles: []anthropic.MessageParamRole{anthropic.MessageParamRoleUser},
			wantTemp:  0.3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := buildParams(&tt.req)
			if string(p.Model) != tt.req.Model || p.MaxTokens != tt.wantMax {
				t.Fatalf("model/max = %s/%d", p.Model, p.MaxTokens)
			}
			if tt.wantSystem == "" && len(p.System) != 0 {
				t.Fatalf("unexpected system = %+v", p.System)
			}
			if tt.wantSystem != "" && (len(p.System) != 1 || p.System[0].Text != tt.wantSystem) {
				t.Fatalf("system = %+v", p.System)
			}
			if len(p.Messages) != len(tt.wantRoles) {
				t.Fatalf("messages = %d, want %d", len(p.Messages), len(tt.wantRoles))
			}
			for i, role := range tt.wantRoles {
				if p.Messages[i].Role != role {
					t.Fatalf("message %d role = %s, want %s", i, p.Messages[i].Role, role)
				}
			}
			if got := p.Messages[0].Content[0].OfText; got == nil || got.Text == "" {
				t.Fatalf("first message should carry text block")
			}
			if p.Temperature.Valid() != (tt.wantTemp > 0) || p.Temperature.Value != tt.wantTemp {
				t.Fatalf("temperature = %+v, want %v", p.Temperature, tt.wantTemp)
			}
		})
	}
}

func TestToCompletion(t *testing.T) {
	msg := &anthropic.Message{
		Model:      anthropic.Model("claude-sonnet-20250101"),
		StopReason: anthropic.StopReason("end_turn"),
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "Hello"},
			{Type: "tool_use"},
			{Type: "text", Text: " world"},
		},
		Usage: anthropic.Usage{InputTokens: 10, OutputTokens: 5},
	}
	got := toCompletion(msg)
	if got.Content != "Hello world" || got.Model != "claude-sonnet-20250101" || got.FinishReason != "end_turn" {
		t.Fatalf("completion = %+v", got)
	}
	if got.Usage != (provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}) {
		t.Fatalf("usage = %+v", got.Usage)
	}
}
