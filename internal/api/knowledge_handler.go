package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bobbrain/internal/domain/cache"
	"bobbrain/internal/domain/knowledge"
	"bobbrain/internal/domain/vectorindex"
	applog "bobbrain/internal/platform/log"
)

const (
	defaultSearchK   = 5
	maxSearchK       = 50
	maxJSONBodyBytes = 4 << 20
)

// KnowledgeHandler 问答、检索与索引管理 API
type KnowledgeHandler struct {
	deps         Deps
	queryTimeout time.Duration
	maxUploadMB  int
}

func NewKnowledgeHandler(deps Deps, queryTimeout time.Duration, maxUploadMB int) *KnowledgeHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &KnowledgeHandler{deps: deps, queryTimeout: queryTimeout, maxUploadMB: maxUploadMB}
}

// RegisterRoutes 注册路由
func (h *KnowledgeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/query", h.Query)
	r.Get("/search", h.Search)
	r.Post("/documents", h.AddDocuments)
	r.Get("/index/status", h.IndexStatus)

	r.Group(func(r chi.Router) {
		r.Use(requireRole(RoleAdmin))
		r.Post("/index/sync", h.IndexSync)
		r.Post("/index/rebuild", h.IndexRebuild)
		r.Delete("/cache", h.ClearCache)
	})
}

type queryRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
}

// Query 问答
func (h *KnowledgeHandler) Query(w http.ResponseWriter, r *http.Request) {
	if h.deps.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge orchestrator not configured")
		return
	}
	var req queryRequest
	if err := decodeJSON(w, r, maxJSONBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx := r.Context()
	if h.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}

	ans, err := h.deps.Orchestrator.Query(ctx, req.Question, req.Mode)
	if err != nil {
		status, msg := queryErrorStatus(err)
		if status >= http.StatusInternalServerError {
			applog.Error("[API] Query failed", "mode", req.Mode, "error", err)
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func queryErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, knowledge.ErrEmptyQuestion):
		return http.StatusBadRequest, "question is required"
	case errors.Is(err, knowledge.ErrUnknownSource):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, knowledge.ErrNoSources):
		return http.StatusServiceUnavailable, "no knowledge sources configured"
	case errors.Is(err, cache.ErrComputeTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "query timed out"
	default:
		return http.StatusBadGateway, "failed to answer question"
	}
}

// Search 向量检索，q 必填，k 默认 5，threshold 默认 0
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.deps.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "vector index not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := defaultSearchK
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = min(n, maxSearchK)
	}
	var threshold float64
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
		threshold = f
	}

	results, err := h.deps.Index.Search(r.Context(), q, k, threshold)
	if err != nil {
		if errors.Is(err, vectorindex.ErrNoEmbedder) {
			writeError(w, http.StatusServiceUnavailable, "embedder not configured")
			return
		}
		applog.Error("[API] Search failed", "error", err)
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	if results == nil {
		results = []vectorindex.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"state":   h.deps.Index.State().String(),
		"results": results,
	})
}

type documentRequest struct {
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// AddDocuments 文本（JSON）或文件（multipart/form-data, 字段 file）入库
func (h *KnowledgeHandler) AddDocuments(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.uploadDocument(w, r)
		return
	}

	var req documentRequest
	if err := decodeJSON(w, r, maxJSONBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	rep, err := h.deps.Ingester.IngestText(r.Context(), req.Content, req.Source, withUploader(r, req.Metadata))
	if err != nil {
		writeIngestError(w, req.Source, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *KnowledgeHandler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	limitBytes := int64(h.maxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limitBytes+(1<<20))

	if err := r.ParseMultipartForm(limitBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > limitBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds limit (%dMB)", h.maxUploadMB))
		return
	}

	filename := filepath.Base(header.Filename)
	if _, err := h.deps.Ingester.Registry().For(filename); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s (supported: %s)",
			filepath.Ext(filename), strings.Join(h.deps.Ingester.Registry().Extensions(), ", ")))
		return
	}

	meta := map[string]string{}
	if title := r.FormValue("title"); title != "" {
		meta["title"] = title
	}
	rep, err := h.deps.Ingester.IngestReader(r.Context(), file, filename, withUploader(r, meta))
	if err != nil {
		writeIngestError(w, filename, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// withUploader 在 metadata 中记录上传者 (JWT sub)
func withUploader(r *http.Request, meta map[string]string) map[string]string {
	scope := ScopeFrom(r.Context())
	if scope == nil || scope.Subject == "" {
		return meta
	}
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["uploaded_by"] = scope.Subject
	return out
}

func writeIngestError(w http.ResponseWriter, source string, err error) {
	if errors.Is(err, vectorindex.ErrEmbeddingDimensionMismatch) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applog.Error("[API] Ingest failed", "source", source, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to ingest document")
}

// IndexStatus 索引与缓存状态
func (h *KnowledgeHandler) IndexStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{}
	if h.deps.Index != nil {
		status["index"] = h.deps.Index.Stats()
	}
	if h.deps.Cache != nil {
		status["cache"] = h.deps.Cache.Stats()
	}
	if h.deps.Orchestrator != nil {
		status["sources"] = h.deps.Orchestrator.SourceNames()
	}
	writeJSON(w, http.StatusOK, status)
}

// IndexSync 立即执行一次增量同步
func (h *KnowledgeHandler) IndexSync(w http.ResponseWriter, r *http.Request) {
	if h.deps.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "vector index not configured")
		return
	}
	ok := h.deps.Index.SyncIncremental(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"synced": ok, "index": h.deps.Index.Stats()})
}

// IndexRebuild 从持久化存储全量重建
func (h *KnowledgeHandler) IndexRebuild(w http.ResponseWriter, r *http.Request) {
	if h.deps.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "vector index not configured")
		return
	}
	start := time.Now()
	ok := h.deps.Index.Initialize(r.Context(), true)
	applog.Info("[API] Index rebuild requested", "ok", ok, "elapsed_ms", time.Since(start).Milliseconds())
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "index rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rebuilt": true, "index": h.deps.Index.Stats()})
}

// ClearCache 清空回答缓存
func (h *KnowledgeHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	if err := h.deps.Cache.Clear(r.Context()); err != nil {
		applog.Error("[API] Cache clear failed", "error", err)
		writeError(w, http.StatusBadGateway, "cache backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
