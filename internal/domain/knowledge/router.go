package knowledge

import (
	"strings"
	"unicode"
)

// Rule 命中任一关键词即路由到 Source。
type Rule struct {
	Source   string
	Keywords []string
	Phrases  []string
}

// KeywordRouter 基于关键词的启发式路由，按规则顺序匹配，都不命中时返回 Fallback。
type KeywordRouter struct {
	Rules    []Rule
	Fallback string
}

// DefaultRouter 成本类问题走 analytics，关系类问题走 graph，其余走 vector。
func DefaultRouter() *KeywordRouter {
	return &KeywordRouter{
		Rules: []Rule{
			{
				Source:   SourceAnalytics,
				Keywords: []string{"cost", "spend", "spent", "billing", "bill", "price", "pricing", "invoice", "budget", "usage", "token", "expensive", "cheap"},
				Phrases:  []string{"how much"},
			},
			{
				Source:   SourceGraph,
				Keywords: []string{"related", "relationship", "connected", "connection", "depend", "depends", "dependency", "owns", "owner", "linked", "who"},
				Phrases:  []string{"works with", "part of", "belongs to"},
			},
		},
		Fallback: SourceVector,
	}
}

func (r *KeywordRouter) Route(question string) string {
	q := strings.ToLower(question)
	tokens := tokenize(q)
	for _, rule := range r.Rules {
		for _, p := range rule.Phrases {
			if strings.Contains(q, p) {
				return rule.Source
			}
		}
		for _, kw := range rule.Keywords {
			if _, ok := tokens[kw]; ok {
				return rule.Source
			}
		}
	}
	return r.Fallback
}

// tokenize 返回小写词集合，复数形式同时记录去掉 s 的词根。
func tokenize(q string) map[string]struct{} {
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		set[w] = struct{}{}
		if len(w) > 3 && strings.HasSuffix(w, "s") {
			set[strings.TrimSuffix(w, "s")] = struct{}{}
		}
	}
	return set
}
