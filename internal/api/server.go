package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bobbrain/internal/domain/cache"
	"bobbrain/internal/domain/ingest"
	"bobbrain/internal/domain/knowledge"
	"bobbrain/internal/domain/vectorindex"
	applog "bobbrain/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	QueryTimeout       time.Duration // 单次问答（含 LLM 生成）超时
	JWTSecret          string        // JWT 签名密钥（必填）
	JWTIssuer          string        // JWT 签发者（可选）
	SlackSigningSecret string        // 为空时不注册 Slack webhook
	MaxUploadMB        int
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		QueryTimeout: 90 * time.Second,
		MaxUploadMB:  20,
	}
}

// Deps 服务依赖。Ingester、Replier 可为 nil。
type Deps struct {
	Orchestrator *knowledge.Orchestrator
	Index        *vectorindex.Index
	Cache        *cache.ResponseCache
	Ingester     *ingest.Ingester
	Replier      Replier
}

// Server HTTP 服务器
type Server struct {
	config  *ServerConfig
	deps    Deps
	httpSrv *http.Server

	// spawn 执行 Slack 事件的异步处理，测试中替换为同步执行
	spawn func(func())
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, deps Deps) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config: config,
		deps:   deps,
		spawn:  func(f func()) { go f() },
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Knowledge API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	if s.config.SlackSigningSecret != "" && s.deps.Orchestrator != nil {
		slackHandler := NewSlackHandler(s.config.SlackSigningSecret, s.deps.Orchestrator, s.deps.Replier, s.config.QueryTimeout, s.spawn)
		r.Post("/webhooks/slack/events", slackHandler.Events)
		applog.Info("💬 Slack webhook enabled")
	}

	authMW := authMiddleware(&JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMW)
		NewKnowledgeHandler(s.deps, s.config.QueryTimeout, s.config.MaxUploadMB).RegisterRoutes(r)
	})
	return r, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if s.deps.Index != nil {
		st := s.deps.Index.Stats()
		status["index"] = st.State.String()
		status["documents"] = st.Count
	}
	writeJSON(w, http.StatusOK, status)
}

// ready 索引可检索时才返回 200，供负载均衡摘流
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index != nil && s.deps.Index.State() != vectorindex.StateReady {
		writeError(w, http.StatusServiceUnavailable, "vector index "+s.deps.Index.State().String())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestLogger 访问日志，/health 和 /metrics 只记 debug
func requestLogger(next http.Handler) http.Handler {
	log := applog.Named("HTTP")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		switch {
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			log.Debug("request", attrs...)
		case ww.Status() >= http.StatusInternalServerError:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	})
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
