package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIResponse 统一 JSON 响应。Error 为机器可读错误码，成功时省略。
type APIResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, &APIResponse{Code: status, Message: "ok", Data: data})
}

// writeError 错误码由 HTTP 状态推导，如 404 -> not_found
func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorCode(w, status, errorCode(status), message)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, &APIResponse{Code: status, Error: code, Message: message})
}

func writeEnvelope(w http.ResponseWriter, status int, resp *APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// decodeJSON 限制请求体大小后解码。
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
	}
	return err
}
