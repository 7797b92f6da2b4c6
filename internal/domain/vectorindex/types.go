package vectorindex

import "time"

// Document 持久化存储中的知识文档，是索引的唯一数据来源。
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Result 一条检索结果。
type Result struct {
	DocID    string    `json:"doc_id"`
	Score    float64   `json:"score"`
	Document *Document `json:"document,omitempty"`
}

// State 索引生命周期状态。
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	default:
		return "UNINITIALIZED"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats 索引状态快照。
type Stats struct {
	State     State     `json:"state"`
	Count     int       `json:"count"`
	Dims      int       `json:"dims"`
	Model     string    `json:"model"`
	BuiltAt   time.Time `json:"built_at"`
	Watermark time.Time `json:"watermark"`
}
