package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"bobbrain/internal/domain/cache"
	applog "bobbrain/internal/platform/log"
	"bobbrain/internal/platform/metrics"
)

// Options Orchestrator 配置。
type Options struct {
	CacheTTL    time.Duration
	DefaultMode string
}

// Orchestrator 把问题路由到知识源，合并结果后交给 LLM 生成回答。
// 整个检索 + 生成过程包在 ResponseCache.Fetch 里，同一问题并发只算一次。
type Orchestrator struct {
	cache   *cache.ResponseCache
	sources []Source
	byName  map[string]Source
	opts    Options

	router    *KeywordRouter
	generator Generator
	gate      EventGate
	metrics   *metrics.Metrics
}

func New(rc *cache.ResponseCache, sources []Source, opts Options) *Orchestrator {
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeAuto
	}
	o := &Orchestrator{
		cache:  rc,
		byName: make(map[string]Source, len(sources)),
		opts:   opts,
		router: DefaultRouter(),
	}
	for _, s := range sources {
		if s == nil {
			continue
		}
		o.sources = append(o.sources, s)
		o.byName[s.Name()] = s
	}
	return o
}

// SetGenerator 注入 LLM（可选）。未配置时回答正文为拼接的上下文。
func (o *Orchestrator) SetGenerator(g Generator) {
	o.generator = g
}

// SetEventGate 注入事件去重（可选）。
func (o *Orchestrator) SetEventGate(g EventGate) {
	o.gate = g
}

// SetRouter 替换 auto 模式路由。
func (o *Orchestrator) SetRouter(r *KeywordRouter) {
	if r != nil {
		o.router = r
	}
}

// SetMetrics 注入指标（可选）。
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// SourceNames 按注册顺序返回知识源名称。
func (o *Orchestrator) SourceNames() []string {
	names := make([]string, len(o.sources))
	for i, s := range o.sources {
		names[i] = s.Name()
	}
	return names
}

// Query mode 为 auto、all 或知识源名称，空串使用默认模式。
func (o *Orchestrator) Query(ctx context.Context, question, mode string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if len(o.sources) == 0 {
		return nil, ErrNoSources
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = o.opts.DefaultMode
	}

	targets, resolved, err := o.resolve(question, mode)
	if err != nil {
		return nil, err
	}
	o.metrics.KnowledgeMode(resolved)

	res, err := o.cache.Fetch(ctx, mode+":"+question, o.opts.CacheTTL, func(cctx context.Context) ([]byte, error) {
		ans, err := o.answer(cctx, question, resolved, targets)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(ans)
		if err != nil {
			return nil, err
		}
		// 部分知识源失败的回答照常返回，但不缓存
		if ans.degraded() {
			return raw, cache.ErrSkipStore
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}

	var ans Answer
	if err := json.Unmarshal(res.Value, &ans); err != nil {
		return nil, fmt.Errorf("decode cached answer: %w", err)
	}
	ans.Cached = res.Hit
	return &ans, nil
}

// HandleEvent 先去重，重复事件直接返回 ErrDuplicateEvent。
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) (*Answer, error) {
	if o.gate != nil && o.gate.IsDuplicate(ctx, ev.ID) {
		applog.Info("[Knowledge] duplicate event ignored", "event_id", ev.ID)
		return nil, ErrDuplicateEvent
	}
	return o.Query(ctx, ev.Text, ModeAuto)
}

func (o *Orchestrator) resolve(question, mode string) ([]Source, string, error) {
	switch mode {
	case ModeAll:
		return o.sources, ModeAll, nil
	case ModeAuto:
		name := o.router.Route(question)
		if s, ok := o.byName[name]; ok {
			return []Source{s}, name, nil
		}
		fallback := o.sources[0]
		applog.Debug("[Knowledge] routed source not configured, using fallback", "routed", name, "fallback", fallback.Name())
		return []Source{fallback}, fallback.Name(), nil
	default:
		s, ok := o.byName[mode]
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownSource, mode)
		}
		return []Source{s}, mode, nil
	}
}

func (o *Orchestrator) answer(ctx context.Context, question, mode string, targets []Source) (*Answer, error) {
	results := o.retrieve(ctx, question, targets)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed == len(results) {
		return nil, fmt.Errorf("%w: %s", ErrAllSources, results[0].Error)
	}

	ans := &Answer{Question: question, Mode: mode, Sources: results}
	if o.generator == nil {
		ans.Text = formatContext(results)
		return ans, nil
	}
	text, err := o.generator.Generate(ctx, buildPrompt(question, results))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	ans.Text = strings.TrimSpace(text)
	return ans, nil
}

// retrieve 并发查询，结果保持注册顺序。单个源失败只记录，不影响其他源。
func (o *Orchestrator) retrieve(ctx context.Context, question string, targets []Source) []SourceResult {
	results := make([]SourceResult, len(targets))
	var wg sync.WaitGroup
	for n, s := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := SourceResult{Name: s.Name()}
			passages, err := s.Retrieve(ctx, question)
			if err != nil {
				applog.Warn("[Knowledge] source retrieve failed", "source", s.Name(), "error", err)
				res.Error = err.Error()
			}
			res.Passages = passages
			if res.Passages == nil {
				res.Passages = []Passage{}
			}
			results[n] = res
		}()
	}
	wg.Wait()
	return results
}
