package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string          `json:"log_level"`
	LogFormat string          `json:"log_format"`
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Firestore FirestoreConfig `json:"firestore"`
	Neo4j     Neo4jConfig     `json:"neo4j"`
	MinIO     MinIOConfig     `json:"minio"`
	Cache     CacheConfig     `json:"cache"`
	Dedup     DedupConfig     `json:"dedup"`
	Index     IndexConfig     `json:"index"`
	Embedding EmbeddingConfig `json:"embedding"`
	LLM       LLMConfig       `json:"llm"`
	Slack     SlackConfig     `json:"slack"`
	Ingest    IngestConfig    `json:"ingest"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	DocumentTable          string `json:"document_table"`
	UsageTable             string `json:"usage_table"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type FirestoreConfig struct {
	ProjectID  string `json:"project_id"`
	Collection string `json:"collection"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

type MinIOConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Object    string `json:"object"`
	Secure    bool   `json:"secure"`
}

// CacheConfig 回答缓存配置。
type CacheConfig struct {
	Backend               string `json:"backend"` // memory | redis
	DefaultTTLSeconds     int    `json:"default_ttl_seconds"`
	MaxEntries            int    `json:"max_entries"`
	ComputeTimeoutSeconds int    `json:"compute_timeout_seconds"`
}

// DedupConfig 事件去重配置。
type DedupConfig struct {
	Backend              string `json:"backend"` // memory | redis
	RetentionSeconds     int    `json:"retention_seconds"`
	Capacity             int    `json:"capacity"`
	Shards               int    `json:"shards"`
	SweepIntervalSeconds int    `json:"sweep_interval_seconds"`
}

// IndexConfig 向量索引配置。
type IndexConfig struct {
	DocumentStore            string  `json:"document_store"` // postgres | firestore | memory
	SnapshotStore            string  `json:"snapshot_store"` // file | minio
	SnapshotPath             string  `json:"snapshot_path"`
	SnapshotFreshnessSeconds int     `json:"snapshot_freshness_seconds"`
	MaxAgeSeconds            int     `json:"max_age_seconds"`
	SimilarityThreshold      float64 `json:"similarity_threshold"`
	DefaultTopK              int     `json:"default_top_k"`
	SyncIntervalSeconds      int     `json:"sync_interval_seconds"`
}

type EmbeddingConfig struct {
	Provider string `json:"provider"` // openai | ollama | gemini
	Model    string `json:"model"`
	Dims     int    `json:"dims"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// LLMConfig 生成模型与各家凭据。
type LLMConfig struct {
	Provider        string `json:"provider"` // openai | groq | anthropic | gemini | ollama
	Model           string `json:"model"`
	OpenAIAPIKey    string `json:"openai_api_key"`
	OpenAIBaseURL   string `json:"openai_base_url"`
	GroqAPIKey      string `json:"groq_api_key"`
	GroqBaseURL     string `json:"groq_base_url"`
	AnthropicAPIKey string `json:"anthropic_api_key"`
	GeminiAPIKey    string `json:"gemini_api_key"`
	OllamaBaseURL   string `json:"ollama_base_url"`
}

type SlackConfig struct {
	BotToken      string `json:"bot_token"`
	SigningSecret string `json:"signing_secret"`
}

type IngestConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
	MaxFileSize  int `json:"max_file_size"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
		},
		Auth: AuthConfig{JWTIssuer: "bobbrain"},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
			DocumentTable:          "knowledge_documents",
			UsageTable:             "llm_usage",
		},
		Firestore: FirestoreConfig{Collection: "documents"},
		Neo4j:     Neo4jConfig{Database: "neo4j"},
		MinIO: MinIOConfig{
			Bucket: "bobbrain",
			Object: "index/index.snapshot",
			Secure: true,
		},
		Cache: CacheConfig{
			Backend:               "memory",
			DefaultTTLSeconds:     3600,
			MaxEntries:            10000,
			ComputeTimeoutSeconds: 60,
		},
		Dedup: DedupConfig{
			Backend:              "memory",
			RetentionSeconds:     60,
			Capacity:             10000,
			Shards:               32,
			SweepIntervalSeconds: 30,
		},
		Index: IndexConfig{
			DocumentStore:            "postgres",
			SnapshotStore:            "file",
			SnapshotPath:             "data/index.snapshot",
			SnapshotFreshnessSeconds: 86400,
			MaxAgeSeconds:            86400,
			SimilarityThreshold:      0.5,
			DefaultTopK:              5,
			SyncIntervalSeconds:      300,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			Dims:     1536,
		},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			OpenAIBaseURL: "https://api.openai.com/v1",
			GroqBaseURL:   "https://api.groq.com/openai/v1",
			OllamaBaseURL: "http://localhost:11434",
		},
		Ingest: IngestConfig{
			ChunkSize:    800,
			ChunkOverlap: 100,
			MaxFileSize:  20 << 20,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	// .env 非必需
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)
	applyString("DOCUMENT_TABLE", &c.Database.DocumentTable)
	applyString("USAGE_TABLE", &c.Database.UsageTable)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("FIRESTORE_PROJECT", &c.Firestore.ProjectID)
	applyString("FIRESTORE_COLLECTION", &c.Firestore.Collection)

	applyString("NEO4J_URI", &c.Neo4j.URI)
	applyString("NEO4J_USERNAME", &c.Neo4j.Username)
	applyString("NEO4J_PASSWORD", &c.Neo4j.Password)
	applyString("NEO4J_DATABASE", &c.Neo4j.Database)

	applyString("MINIO_ENDPOINT", &c.MinIO.Endpoint)
	applyString("MINIO_ACCESS_KEY", &c.MinIO.AccessKey)
	applyString("MINIO_SECRET_KEY", &c.MinIO.SecretKey)
	applyString("MINIO_BUCKET", &c.MinIO.Bucket)
	applyString("MINIO_OBJECT", &c.MinIO.Object)
	applyBool("MINIO_SECURE", &c.MinIO.Secure)

	applyString("CACHE_BACKEND", &c.Cache.Backend)
	applyInt("CACHE_DEFAULT_TTL", &c.Cache.DefaultTTLSeconds)
	applyInt("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	applyInt("CACHE_COMPUTE_TIMEOUT", &c.Cache.ComputeTimeoutSeconds)

	applyString("DEDUP_BACKEND", &c.Dedup.Backend)
	applyInt("DEDUP_RETENTION", &c.Dedup.RetentionSeconds)
	applyInt("DEDUP_CAPACITY", &c.Dedup.Capacity)
	applyInt("DEDUP_SHARDS", &c.Dedup.Shards)
	applyInt("DEDUP_SWEEP_INTERVAL", &c.Dedup.SweepIntervalSeconds)

	applyString("DOC_STORE", &c.Index.DocumentStore)
	applyString("SNAPSHOT_STORE", &c.Index.SnapshotStore)
	applyString("INDEX_SNAPSHOT_PATH", &c.Index.SnapshotPath)
	applyInt("INDEX_SNAPSHOT_FRESHNESS", &c.Index.SnapshotFreshnessSeconds)
	applyInt("INDEX_MAX_AGE", &c.Index.MaxAgeSeconds)
	applyFloat64("INDEX_SIMILARITY_THRESHOLD", &c.Index.SimilarityThreshold)
	applyInt("INDEX_DEFAULT_TOP_K", &c.Index.DefaultTopK)
	applyInt("INDEX_SYNC_INTERVAL", &c.Index.SyncIntervalSeconds)

	applyString("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	applyString("EMBEDDING_MODEL", &c.Embedding.Model)
	applyInt("EMBEDDING_DIMS", &c.Embedding.Dims)
	applyString("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	applyString("EMBEDDING_API_KEY", &c.Embedding.APIKey)

	applyString("LLM_PROVIDER", &c.LLM.Provider)
	applyString("LLM_MODEL", &c.LLM.Model)
	applyString("OPENAI_API_KEY", &c.LLM.OpenAIAPIKey)
	applyString("OPENAI_BASE_URL", &c.LLM.OpenAIBaseURL)
	applyString("GROQ_API_KEY", &c.LLM.GroqAPIKey)
	applyString("GROQ_BASE_URL", &c.LLM.GroqBaseURL)
	applyString("ANTHROPIC_API_KEY", &c.LLM.AnthropicAPIKey)
	applyString("GEMINI_API_KEY", &c.LLM.GeminiAPIKey)
	applyString("OLLAMA_BASE_URL", &c.LLM.OllamaBaseURL)

	applyString("SLACK_BOT_TOKEN", &c.Slack.BotToken)
	applyString("SLACK_SIGNING_SECRET", &c.Slack.SigningSecret)

	applyInt("INGEST_CHUNK_SIZE", &c.Ingest.ChunkSize)
	applyInt("INGEST_CHUNK_OVERLAP", &c.Ingest.ChunkOverlap)
	applyInt("INGEST_MAX_FILE_SIZE", &c.Ingest.MaxFileSize)
}

func (c *AppConfig) normalize() {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Dedup.Backend = strings.ToLower(strings.TrimSpace(c.Dedup.Backend))
	c.Index.DocumentStore = strings.ToLower(strings.TrimSpace(c.Index.DocumentStore))
	c.Index.SnapshotStore = strings.ToLower(strings.TrimSpace(c.Index.SnapshotStore))
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))

	if c.LLM.OpenAIBaseURL == "" {
		c.LLM.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	// embedding 未单独配置时沿用对应 LLM 凭据
	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case "openai":
			c.Embedding.APIKey = c.LLM.OpenAIAPIKey
		case "gemini":
			c.Embedding.APIKey = c.LLM.GeminiAPIKey
		}
	}
	if c.Embedding.BaseURL == "" {
		switch c.Embedding.Provider {
		case "openai":
			c.Embedding.BaseURL = c.LLM.OpenAIBaseURL
		case "ollama":
			c.Embedding.BaseURL = c.LLM.OllamaBaseURL
		}
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		c.Ingest.ChunkOverlap = c.Ingest.ChunkSize / 4
	}
}

func (c *AppConfig) validate() error {
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND %q", c.Cache.Backend)
	}
	switch c.Dedup.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("REDIS_URL is required when DEDUP_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported DEDUP_BACKEND %q", c.Dedup.Backend)
	}
	switch c.Index.DocumentStore {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("DATABASE_URL is required when DOC_STORE=postgres")
		}
	case "firestore":
		if strings.TrimSpace(c.Firestore.ProjectID) == "" {
			return fmt.Errorf("FIRESTORE_PROJECT is required when DOC_STORE=firestore")
		}
	default:
		return fmt.Errorf("unsupported DOC_STORE %q", c.Index.DocumentStore)
	}
	switch c.Index.SnapshotStore {
	case "file":
		if strings.TrimSpace(c.Index.SnapshotPath) == "" {
			return fmt.Errorf("INDEX_SNAPSHOT_PATH is required when SNAPSHOT_STORE=file")
		}
	case "minio":
		if strings.TrimSpace(c.MinIO.Endpoint) == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when SNAPSHOT_STORE=minio")
		}
	default:
		return fmt.Errorf("unsupported SNAPSHOT_STORE %q", c.Index.SnapshotStore)
	}
	if c.Embedding.Dims <= 0 {
		return fmt.Errorf("EMBEDDING_DIMS must be positive")
	}
	if c.Index.SimilarityThreshold < -1 || c.Index.SimilarityThreshold > 1 {
		return fmt.Errorf("INDEX_SIMILARITY_THRESHOLD must be within [-1, 1]")
	}
	if c.Cache.DefaultTTLSeconds <= 0 || c.Dedup.RetentionSeconds <= 0 {
		return fmt.Errorf("CACHE_DEFAULT_TTL and DEDUP_RETENTION must be positive")
	}
	return nil
}

func (c *AppConfig) CacheTTL() time.Duration {
	return seconds(c.Cache.DefaultTTLSeconds)
}

func (c *AppConfig) ComputeTimeout() time.Duration {
	return seconds(c.Cache.ComputeTimeoutSeconds)
}

func (c *AppConfig) DedupRetention() time.Duration {
	return seconds(c.Dedup.RetentionSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
