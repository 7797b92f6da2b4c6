package provider

import (
	"fmt"
	"slices"
	"sync"
)

// Registry LLM 供应商注册表，按实例持有，不使用全局状态。
type Registry struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]LLMProvider)}
}

// Register 同名覆盖。
func (r *Registry) Register(p LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider not found: %s", name)
	}
	return p, nil
}

// List 按名称排序。
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
