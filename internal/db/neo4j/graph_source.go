package neo4jdb

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"bobbrain/internal/domain/knowledge"
	applog "bobbrain/internal/platform/log"
)

const defaultLimit = 20

// 不参与实体匹配的常见词
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "who": {}, "what": {}, "which": {}, "with": {},
	"does": {}, "are": {}, "is": {}, "to": {}, "of": {}, "on": {}, "in": {}, "how": {},
	"related": {}, "depends": {}, "depend": {}, "owns": {}, "own": {}, "connected": {},
	"relationship": {}, "between": {}, "about": {}, "tell": {}, "me": {}, "show": {},
}

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// GraphSource 在 Neo4j 实体关系图上按关键词匹配实体名，返回其关系。
type GraphSource struct {
	driver   neo4j.DriverWithContext
	database string
	limit    int
}

func NewGraphSource(ctx context.Context, cfg Config) (*GraphSource, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect neo4j: %w", err)
	}
	applog.Info("[Neo4j] connected", "uri", cfg.URI)
	return &GraphSource{driver: driver, database: cfg.Database, limit: defaultLimit}, nil
}

func (g *GraphSource) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *GraphSource) Name() string { return knowledge.SourceGraph }

func (g *GraphSource) Retrieve(ctx context.Context, question string) ([]knowledge.Passage, error) {
	keywords := Keywords(question)
	if len(keywords) == 0 {
		return []knowledge.Passage{}, nil
	}

	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if g.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(g.database))
	}
	res, err := neo4j.ExecuteQuery(ctx, g.driver, `
		MATCH (a)-[r]->(b)
		WHERE any(k IN $keywords WHERE toLower(a.name) CONTAINS k OR toLower(b.name) CONTAINS k)
		RETURN a.name AS source, type(r) AS rel, b.name AS target
		LIMIT $limit`,
		map[string]any{"keywords": keywords, "limit": g.limit},
		neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("query graph: %w", err)
	}

	passages := make([]knowledge.Passage, 0, len(res.Records))
	for _, rec := range res.Records {
		source, _ := rec.Get("source")
		rel, _ := rec.Get("rel")
		target, _ := rec.Get("target")
		passages = append(passages, relationPassage(fmt.Sprint(source), fmt.Sprint(rel), fmt.Sprint(target)))
	}
	return passages, nil
}

func relationPassage(source, rel, target string) knowledge.Passage {
	return knowledge.Passage{
		ID:       source + "-" + rel + "-" + target,
		Text:     source + " " + rel + " " + target,
		Metadata: map[string]string{"source": source, "relation": rel, "target": target},
	}
}

// Keywords 提取用于实体匹配的小写关键词，去重并保持出现顺序。
func Keywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
