package knowledge

import (
	"context"
	"errors"
)

const (
	ModeAuto = "auto"
	ModeAll  = "all"

	SourceVector    = "vector"
	SourceGraph     = "graph"
	SourceAnalytics = "analytics"
)

var (
	ErrDuplicateEvent = errors.New("duplicate event")
	ErrUnknownSource  = errors.New("unknown knowledge source")
	ErrNoSources      = errors.New("no knowledge sources configured")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrAllSources     = errors.New("all knowledge sources failed")
)

// Passage 知识源返回的一段上下文。
type Passage struct {
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text"`
	Score    float64           `json:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Source 知识源。Name 即 Query 的 mode 名。
type Source interface {
	Name() string
	Retrieve(ctx context.Context, question string) ([]Passage, error)
}

// Generator 根据 prompt 生成回答。
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EventGate 入站事件去重。
type EventGate interface {
	IsDuplicate(ctx context.Context, eventID string) bool
}

// SourceResult 单个知识源的检索结果，用于溯源。
type SourceResult struct {
	Name     string    `json:"name"`
	Passages []Passage `json:"passages"`
	Error    string    `json:"error,omitempty"`
}

// Answer 合并后的回答。
type Answer struct {
	Question string         `json:"question"`
	Mode     string         `json:"mode"`
	Text     string         `json:"text"`
	Sources  []SourceResult `json:"sources"`
	Cached   bool           `json:"cached"`
}

func (a *Answer) degraded() bool {
	for _, r := range a.Sources {
		if r.Error != "" {
			return true
		}
	}
	return false
}

// Event 外部平台推送的消息事件。
type Event struct {
	ID      string
	Channel string
	User    string
	Text    string
}
