package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bobbrain/internal/domain/knowledge"
	applog "bobbrain/internal/platform/log"
	"bobbrain/internal/provider"
)

// Price 每百万 token 的美元价格。
type Price struct {
	Input  float64
	Output float64
}

// DefaultPrices 常用模型参考价，未列出的模型只报告 token 数。
var DefaultPrices = map[string]Price{
	"gpt-4o-mini":             {Input: 0.15, Output: 0.60},
	"gpt-4o":                  {Input: 2.50, Output: 10.00},
	"claude-3-5-haiku-latest": {Input: 0.80, Output: 4.00},
	"gemini-2.0-flash":        {Input: 0.10, Output: 0.40},
	"llama-3.1-8b-instant":    {Input: 0.05, Output: 0.08},
}

// UsageStore 记录 LLM 调用用量，同时作为 analytics 知识源回答成本类问题。
type UsageStore struct {
	db     *sql.DB
	table  string
	window time.Duration
	prices map[string]Price
}

func NewUsageStore(db *sql.DB, table string) (*UsageStore, error) {
	if table == "" {
		table = "llm_usage"
	}
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	return &UsageStore{db: db, table: table, window: 30 * 24 * time.Hour, prices: DefaultPrices}, nil
}

func (s *UsageStore) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id                BIGSERIAL PRIMARY KEY,
		provider          VARCHAR(64) NOT NULL,
		model             VARCHAR(128) NOT NULL,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s(created_at);
	`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		applog.Error("[Postgres/Usage] ❌ Failed to create table", "table", s.table, "error", err)
		return err
	}
	applog.Info("[Postgres/Usage] ✅ Table ready", "table", s.table)
	return nil
}

// RecordUsage 实现 provider.UsageRecorder
func (s *UsageStore) RecordUsage(ctx context.Context, providerName, model string, u provider.Usage) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (provider, model, prompt_tokens, completion_tokens, total_tokens)
		VALUES ($1, $2, $3, $4, $5)`, s.table),
		providerName, model, u.PromptTokens, u.CompletionTokens, u.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *UsageStore) Name() string { return knowledge.SourceAnalytics }

// Retrieve 汇总统计窗口内各 provider/model 的用量与估算成本。问题文本不参与查询。
func (s *UsageStore) Retrieve(ctx context.Context, _ string) ([]knowledge.Passage, error) {
	since := time.Now().Add(-s.window)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT provider, model, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM %s
		WHERE created_at >= $1
		GROUP BY provider, model
		ORDER BY SUM(total_tokens) DESC`, s.table), since)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	days := int(s.window.Hours() / 24)
	var (
		passages []knowledge.Passage
		total    float64
	)
	for rows.Next() {
		var (
			prov, model      string
			calls            int64
			prompt, complete int64
		)
		if err := rows.Scan(&prov, &model, &calls, &prompt, &complete); err != nil {
			return nil, err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s/%s: %d calls, %d prompt tokens, %d completion tokens over the last %d days",
			prov, model, calls, prompt, complete, days)
		meta := map[string]string{"provider": prov, "model": model}
		if p, ok := s.prices[model]; ok {
			cost := (float64(prompt)*p.Input + float64(complete)*p.Output) / 1e6
			total += cost
			fmt.Fprintf(&b, ", estimated cost $%.4f", cost)
			meta["estimated_cost_usd"] = fmt.Sprintf("%.4f", cost)
		}
		passages = append(passages, knowledge.Passage{
			ID:       prov + "/" + model,
			Text:     b.String(),
			Metadata: meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return []knowledge.Passage{{Text: fmt.Sprintf("No LLM usage recorded in the last %d days.", days)}}, nil
	}
	if total > 0 {
		passages = append(passages, knowledge.Passage{
			ID:   "total",
			Text: fmt.Sprintf("Estimated total LLM spend over the last %d days: $%.4f", days, total),
		})
	}
	return passages, nil
}

// Prune 删除 before 之前的用量记录，返回删除行数。
func (s *UsageStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.table), before)
	if err != nil {
		return 0, fmt.Errorf("prune usage: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		applog.Info("[Postgres/Usage] pruned old rows", "table", s.table, "rows", n)
	}
	return n, nil
}
