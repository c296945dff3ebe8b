package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// 错误类型
// ═══════════════════════════════════════════════════════════════════════════

// ErrorKind 错误分类
type ErrorKind string

const (
	ErrKindAuthentication  ErrorKind = "authentication_error"
	ErrKindPermission      ErrorKind = "permission_error"
	ErrKindRateLimit       ErrorKind = "rate_limit_error"
	ErrKindInvalidRequest  ErrorKind = "invalid_request_error"
	ErrKindNotFound        ErrorKind = "not_found_error"
	ErrKindServer          ErrorKind = "server_error"
	ErrKindTimeout         ErrorKind = "timeout_error"
	ErrKindConnection      ErrorKind = "connection_error"
	ErrKindNetwork         ErrorKind = "network_error"
	ErrKindParse           ErrorKind = "parse_error"
	ErrKindUnsupported     ErrorKind = "unsupported_operation"
	ErrKindConfig          ErrorKind = "config_error"
	ErrKindMaxRetries      ErrorKind = "max_retries_exceeded"
	ErrKindStreaming       ErrorKind = "streaming_error"
	ErrKindContextLength   ErrorKind = "context_length_exceeded"
	ErrKindAPI             ErrorKind = "api_error"
	ErrKindRequestEncoding ErrorKind = "request_error"
)

// Retryable 判断该类错误是否可重试
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindRateLimit, ErrKindServer, ErrKindTimeout, ErrKindConnection, ErrKindNetwork:
		return true
	default:
		return false
	}
}

// Classified 可分类错误接口
//
// 外部重试层只依赖这些方法做决策，不需要解析错误文本。
type Classified interface {
	error
	Kind() ErrorKind
	StatusCode() int
	IsRetryable() bool
	IsAuthError() bool
	IsRateLimited() bool
}

// ═══════════════════════════════════════════════════════════════════════════
// 基础错误
// ═══════════════════════════════════════════════════════════════════════════

// BaseError 基础错误实现
type BaseError struct {
	Type    ErrorKind
	Message string
	Err     error
}

func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *BaseError) Unwrap() error {
	return e.Err
}

// Kind 返回错误分类
func (e *BaseError) Kind() ErrorKind { return e.Type }

// StatusCode 非 HTTP 错误返回 0
func (e *BaseError) StatusCode() int { return 0 }

// IsRetryable 检查错误是否可重试
func (e *BaseError) IsRetryable() bool { return e.Type.Retryable() }

// IsAuthError 检查是否为认证/权限错误
func (e *BaseError) IsAuthError() bool {
	return e.Type == ErrKindAuthentication || e.Type == ErrKindPermission
}

// IsRateLimited 检查是否被限流
func (e *BaseError) IsRateLimited() bool { return e.Type == ErrKindRateLimit }

func newBase(kind ErrorKind, message string, err error) *BaseError {
	return &BaseError{Type: kind, Message: message, Err: err}
}

// ═══════════════════════════════════════════════════════════════════════════
// 配置错误
// ═══════════════════════════════════════════════════════════════════════════

// ConfigError 配置错误
type ConfigError struct {
	*BaseError
}

// NewConfigError 创建配置错误
func NewConfigError(message string, err error) *ConfigError {
	return &ConfigError{BaseError: newBase(ErrKindConfig, message, err)}
}

// ═══════════════════════════════════════════════════════════════════════════
// 请求错误
// ═══════════════════════════════════════════════════════════════════════════

// RequestError 请求错误（校验、序列化、构建）
type RequestError struct {
	*BaseError

	Stage string // "validate", "build", "marshal"
}

// NewRequestError 创建请求构建错误
func NewRequestError(stage string, err error) *RequestError {
	return &RequestError{
		BaseError: newBase(ErrKindRequestEncoding, fmt.Sprintf("failed to %s request", stage), err),
		Stage:     stage,
	}
}

// NewInvalidRequestError 创建请求校验错误
func NewInvalidRequestError(message string) *RequestError {
	return &RequestError{
		BaseError: newBase(ErrKindInvalidRequest, message, nil),
		Stage:     "validate",
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// HTTP 传输错误
// ═══════════════════════════════════════════════════════════════════════════

// HTTPError 传输层错误（超时、连接失败、网络中断）
type HTTPError struct {
	*BaseError
}

// NewHTTPError 创建传输错误，kind 为 Timeout/Connection/Network 之一
func NewHTTPError(kind ErrorKind, message string, err error) *HTTPError {
	return &HTTPError{BaseError: newBase(kind, message, err)}
}

// ═══════════════════════════════════════════════════════════════════════════
// API 错误
// ═══════════════════════════════════════════════════════════════════════════

// APIError 厂商返回的业务错误（4xx, 5xx 或响应体中的错误对象）
type APIError struct {
	*BaseError

	Status     int
	Body       string // 厂商原始错误响应
	Provider   string
	RequestID  string
	ErrorCode  string        // 厂商错误代码
	RetryAfter time.Duration // 来自 Retry-After 头
}

// NewAPIError 创建指定分类的 API 错误
func NewAPIError(kind ErrorKind, status int, message, body string) *APIError {
	return &APIError{
		BaseError: newBase(kind, message, nil),
		Status:    status,
		Body:      body,
	}
}

// NewStatusError 根据 HTTP 状态码创建 API 错误
//
// 状态码映射：401→认证 403→权限 429→限流 400→无效请求 404→未找到
// 413→上下文超长 5xx→服务端 其他→通用 API 错误。
func NewStatusError(status int, body string) *APIError {
	return NewAPIError(KindFromStatus(status), status, fmt.Sprintf("API returned error status %d", status), body)
}

// KindFromStatus 将 HTTP 状态码映射为错误分类
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return ErrKindAuthentication
	case status == http.StatusForbidden:
		return ErrKindPermission
	case status == http.StatusTooManyRequests:
		return ErrKindRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ErrKindInvalidRequest
	case status == http.StatusNotFound:
		return ErrKindNotFound
	case status == http.StatusRequestEntityTooLarge:
		return ErrKindContextLength
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrKindTimeout
	case status >= 500:
		return ErrKindServer
	default:
		return ErrKindAPI
	}
}

// WithProvider 设置 Provider 名称
func (e *APIError) WithProvider(provider string) *APIError {
	e.Provider = provider
	return e
}

// WithRequestID 设置请求 ID
func (e *APIError) WithRequestID(requestID string) *APIError {
	e.RequestID = requestID
	return e
}

// WithErrorCode 设置错误代码
func (e *APIError) WithErrorCode(code string) *APIError {
	e.ErrorCode = code
	return e
}

// WithKind 修正错误分类（例如响应体表明上下文超长）
func (e *APIError) WithKind(kind ErrorKind) *APIError {
	e.Type = kind
	return e
}

// WithRetryAfter 设置建议的重试等待时间
func (e *APIError) WithRetryAfter(d time.Duration) *APIError {
	e.RetryAfter = d
	return e
}

// StatusCode 返回 HTTP 状态码
func (e *APIError) StatusCode() int { return e.Status }

func (e *APIError) Error() string {
	var sb strings.Builder
	if e.Provider != "" {
		sb.WriteString(e.Provider)
		sb.WriteString(": ")
	}
	sb.WriteString(e.BaseError.Error())
	if e.ErrorCode != "" {
		fmt.Fprintf(&sb, " [%s]", e.ErrorCode)
	}
	if e.Body != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Body)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&sb, " (request_id: %s)", e.RequestID)
	}
	return sb.String()
}

// ═══════════════════════════════════════════════════════════════════════════
// 解析错误
// ═══════════════════════════════════════════════════════════════════════════

// ParseError 厂商 JSON 解析错误
//
// 流式场景下只影响单个事件，流会继续。
type ParseError struct {
	*BaseError

	Field string // 出错的字段或事件
	Raw   string // 原始数据
}

// NewParseError 创建解析错误
func NewParseError(field, raw string, err error) *ParseError {
	return &ParseError{
		BaseError: newBase(ErrKindParse, fmt.Sprintf("failed to parse %s", field), err),
		Field:     field,
		Raw:       raw,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 流式错误
// ═══════════════════════════════════════════════════════════════════════════

// StreamError 流式协议错误（例如流在终止标记前结束）
type StreamError struct {
	*BaseError
}

// NewStreamError 创建流式错误
func NewStreamError(message string, err error) *StreamError {
	return &StreamError{BaseError: newBase(ErrKindStreaming, message, err)}
}

// ═══════════════════════════════════════════════════════════════════════════
// 不支持的操作
// ═══════════════════════════════════════════════════════════════════════════

// UnsupportedError 厂商不支持的操作（例如模型列表）
type UnsupportedError struct {
	*BaseError

	Operation string
}

// NewUnsupportedError 创建不支持操作错误
func NewUnsupportedError(provider, operation string) *UnsupportedError {
	return &UnsupportedError{
		BaseError: newBase(ErrKindUnsupported, fmt.Sprintf("%s does not support %s", provider, operation), nil),
		Operation: operation,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 重试耗尽
// ═══════════════════════════════════════════════════════════════════════════

// MaxRetriesError 重试次数耗尽
type MaxRetriesError struct {
	*BaseError

	Attempts int
}

// NewMaxRetriesError 创建重试耗尽错误，last 为最后一次失败
func NewMaxRetriesError(attempts int, last error) *MaxRetriesError {
	return &MaxRetriesError{
		BaseError: newBase(ErrKindMaxRetries, fmt.Sprintf("failed after %d attempts", attempts), last),
		Attempts:  attempts,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 错误匹配函数（支持 errors.Is/As）
// ═══════════════════════════════════════════════════════════════════════════

// KindOf 返回错误分类，非本包错误返回空字符串
func KindOf(err error) ErrorKind {
	var c Classified
	if errors.As(err, &c) {
		return c.Kind()
	}
	return ""
}

// IsKind 检查错误分类
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// StatusCode 提取 HTTP 状态码
func StatusCode(err error) int {
	var c Classified
	if errors.As(err, &c) {
		return c.StatusCode()
	}
	return 0
}

// IsRetryable 检查错误是否可重试
func IsRetryable(err error) bool {
	var c Classified
	return errors.As(err, &c) && c.IsRetryable()
}

// IsAuthError 检查是否为认证/权限错误
func IsAuthError(err error) bool {
	var c Classified
	return errors.As(err, &c) && c.IsAuthError()
}

// IsRateLimited 检查是否被限流
func IsRateLimited(err error) bool {
	var c Classified
	return errors.As(err, &c) && c.IsRateLimited()
}

// IsConfigError 检查是否为配置错误
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsRequestError 检查是否为请求错误
func IsRequestError(err error) bool {
	var e *RequestError
	return errors.As(err, &e)
}

// IsHTTPError 检查是否为传输错误
func IsHTTPError(err error) bool {
	var e *HTTPError
	return errors.As(err, &e)
}

// IsAPIError 检查是否为 API 错误
func IsAPIError(err error) bool {
	var e *APIError
	return errors.As(err, &e)
}

// IsParseError 检查是否为解析错误
func IsParseError(err error) bool {
	var e *ParseError
	return errors.As(err, &e)
}

// IsStreamError 检查是否为流式错误
func IsStreamError(err error) bool {
	var e *StreamError
	return errors.As(err, &e)
}

// GetAPIError 提取 APIError（如果存在）
func GetAPIError(err error) (*APIError, bool) {
	var e *APIError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
