// Package localmock 在本地提供 OpenAI / Anthropic 兼容的 HTTP 端点
//
// 响应来自任意 llm.Provider（通常是 mock.Client），用于在不访问真实厂商的情况下
// 端到端验证 HTTP 客户端、协议适配器和流式解析：
//
//	srv := httptest.NewServer(localmock.New(mock.New()))
//	p, _ := provider.OpenAICompatible("local", "any-key", provider.WithBaseURL(srv.URL+"/v1"))
//
// 端点：
//
//	GET  /health
//	GET  /v1/models            (同时挂载在 /models)
//	POST /v1/chat/completions  (同时挂载在 /chat/completions)
//	POST /v1/messages
package localmock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

const (
	maxBodyBytes        = 4 << 20
	shutdownGracePeriod = 5 * time.Second
)

// Server 本地兼容服务
type Server struct {
	provider llm.Provider
	app      *echo.Echo
	logger   *slog.Logger
	apiKey   string
}

// Option 配置选项
type Option func(*Server)

// WithLogger 设置请求日志
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAPIKey 要求请求携带该密钥（Authorization: Bearer 或 x-api-key）
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// New 创建服务，p 提供所有响应
func New(p llm.Provider, opts ...Option) *Server {
	s := &Server{
		provider: p,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	for _, prefix := range []string{"", "/v1"} {
		e.GET(prefix+"/models", s.handleModels, s.authenticate)
		e.POST(prefix+"/chat/completions", s.handleChatCompletions, s.authenticate)
	}
	e.POST("/v1/messages", s.handleMessages, s.authenticate)

	s.app = e
	return s
}

// ServeHTTP 实现 http.Handler 接口
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// Serve 监听 addr，ctx 取消后优雅关闭
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("localmock listening", "addr", addr, "provider", s.provider.Name())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 通用处理
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.apiKey == "" {
			return next(c)
		}
		h := c.Request().Header
		if h.Get("x-api-key") == s.apiKey || h.Get("Authorization") == "Bearer "+s.apiKey {
			return next(c)
		}
		return llm.NewAPIError(llm.ErrKindAuthentication, http.StatusUnauthorized, "invalid api key", "")
	}
}

func (s *Server) handleModels(c echo.Context) error {
	models, err := s.provider.Models(c.Request().Context())
	if err != nil {
		return err
	}
	data := make([]map[string]any, 0, len(models))
	for _, id := range models {
		data = append(data, map[string]any{"id": id, "object": "model", "owned_by": s.provider.Name()})
	}
	return c.JSON(http.StatusOK, map[string]any{"object": "list", "data": data})
}

// decodeBody 读取单个 JSON 对象
func decodeBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return llm.NewAPIError(llm.ErrKindInvalidRequest, http.StatusBadRequest, "request body is required", "")
		}
		return llm.NewAPIError(llm.ErrKindInvalidRequest, http.StatusBadRequest, "invalid JSON payload: "+err.Error(), "")
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return llm.NewAPIError(llm.ErrKindInvalidRequest, http.StatusBadRequest, "request body must contain a single JSON object", "")
	}
	return nil
}

// errorHandler 按请求路径选择错误体格式
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, kind, message := describeError(err)
	if apiErr, ok := llm.GetAPIError(err); ok && apiErr.RetryAfter > 0 {
		secs := int(math.Ceil(apiErr.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}

	if strings.HasSuffix(c.Path(), "/messages") {
		_ = c.JSON(status, anthropicError(kind, message))
		return
	}
	_ = c.JSON(status, openaiError(kind, message))
}

// describeError 返回错误对应的状态码、分类与消息
func describeError(err error) (int, llm.ErrorKind, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, llm.KindFromStatus(he.Code), fmt.Sprint(he.Message)
	}

	kind := llm.KindOf(err)
	if kind == "" {
		kind = llm.ErrKindServer
	}
	status := llm.StatusCode(err)
	if status < http.StatusBadRequest {
		status = statusOf(kind)
	}

	message := err.Error()
	if apiErr, ok := llm.GetAPIError(err); ok {
		message = apiErr.Message
	}
	return status, kind, message
}

func statusOf(kind llm.ErrorKind) int {
	switch kind {
	case llm.ErrKindAuthentication:
		return http.StatusUnauthorized
	case llm.ErrKindPermission:
		return http.StatusForbidden
	case llm.ErrKindNotFound:
		return http.StatusNotFound
	case llm.ErrKindRateLimit:
		return http.StatusTooManyRequests
	case llm.ErrKindInvalidRequest:
		return http.StatusBadRequest
	case llm.ErrKindContextLength:
		return http.StatusRequestEntityTooLarge
	case llm.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// SSE
// ═══════════════════════════════════════════════════════════════════════════

func startSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
}

// writeSSE 写出一个事件，event 为空时省略 event 行
func writeSSE(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	w := c.Response()
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
