package ingest

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Registry 按扩展名查找 Parser。
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry 注册内置的 markdown / text / pdf / docx 解析器。
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{MarkdownParser{}, TextParser{}, PDFParser{}, DOCXParser{}} {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

func (r *Registry) For(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if p, ok := r.parsers[ext]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unsupported file type %q (supported: %s)", ext, strings.Join(r.Extensions(), ", "))
}

func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}
