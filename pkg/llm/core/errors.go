package core

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// HTTP 状态错误映射
// ═══════════════════════════════════════════════════════════════════════════

// DefaultErrorMapper 默认的 HTTP 错误映射
//
// 按状态码分类，并从常见的错误体结构中提取错误代码：
//
//	{"error": {"message": "...", "type": "...", "code": "..."}}
//	{"error": "..."}
//	{"code": "...", "message": "..."}
//
// 错误消息总是包含厂商原始响应体。
func DefaultErrorMapper(status int, header http.Header, body []byte) *llm.APIError {
	apiErr := llm.NewStatusError(status, strings.TrimSpace(string(body)))

	if code := ExtractErrorCode(body); code != "" {
		apiErr = apiErr.WithErrorCode(code)
	}
	if header != nil {
		for _, h := range []string{"X-Request-Id", "Request-Id", "X-Dashscope-Request-Id"} {
			if id := header.Get(h); id != "" {
				apiErr = apiErr.WithRequestID(id)
				break
			}
		}
		if d := ParseRetryAfter(header.Get("Retry-After")); d > 0 {
			apiErr = apiErr.WithRetryAfter(d)
		}
	}
	if IsContextLengthMessage(string(body)) {
		apiErr = apiErr.WithKind(llm.ErrKindContextLength)
	}
	return apiErr
}

// ExtractErrorMessage 从常见错误体结构中提取错误消息
func ExtractErrorMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch e := payload["error"].(type) {
	case map[string]any:
		return GetString(e["message"])
	case string:
		return e
	}
	if msg := GetString(payload["message"]); msg != "" {
		return msg
	}
	// 智谱：{"code": 500, "msg": "...", "success": false}
	return GetString(payload["msg"])
}

// ExtractErrorCode 从常见错误体结构中提取错误代码
func ExtractErrorCode(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if e := GetMap(payload["error"]); e != nil {
		if code := GetString(e["code"]); code != "" {
			return code
		}
		if n := GetInt64(e["code"]); n != 0 {
			return strconv.FormatInt(n, 10)
		}
		return GetString(e["type"])
	}
	return GetString(payload["code"])
}

// IsContextLengthMessage 判断错误文本是否表示上下文超长
func IsContextLengthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{
		"context_length_exceeded",
		"maximum context length",
		"input is too long",
		"prompt is too long",
		"range of input length",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ParseRetryAfter 解析 Retry-After（秒数或 HTTP 日期）
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ═══════════════════════════════════════════════════════════════════════════
// 传输错误分类
// ═══════════════════════════════════════════════════════════════════════════

// ClassifyTransportError 将传输层错误分类为 Timeout / Connection / Network
func ClassifyTransportError(err error, hint string) *llm.HTTPError {
	msg := "request failed"
	if hint != "" {
		msg += ": " + hint
	}

	if errors.Is(err, context.Canceled) {
		return llm.NewHTTPError(llm.ErrKindNetwork, "request canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return llm.NewHTTPError(llm.ErrKindTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llm.NewHTTPError(llm.ErrKindTimeout, "request timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return llm.NewHTTPError(llm.ErrKindConnection, msg, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return llm.NewHTTPError(llm.ErrKindConnection, msg, err)
	}

	return llm.NewHTTPError(llm.ErrKindNetwork, msg, err)
}
