package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

var discardLogger = slog.New(slog.DiscardHandler)

// ═══════════════════════════════════════════════════════════════════════════
// 客户端配置
// ═══════════════════════════════════════════════════════════════════════════

// ClientConfig 通用客户端配置
type ClientConfig struct {
	Name    string            // Provider 名称，用于错误与日志
	BaseURL string            // API 基础地址
	Model   string            // 请求未指定模型时使用
	Timeout time.Duration     // 非流式请求总超时；流式请求约束响应头和相邻两次读取的间隔
	Proxy   string            // HTTP 代理
	Headers map[string]string // 额外请求头

	// Logger 结构化日志，nil 时不输出
	Logger *slog.Logger

	// LogBodies 是否在 Debug 级别记录请求与响应体
	LogBodies bool
}

// Validate 验证配置
func (c ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return llm.NewConfigError("base URL is required", nil)
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return llm.NewConfigError("invalid base URL", err)
	}
	if c.Timeout < 0 {
		return llm.NewConfigError("timeout must not be negative", nil)
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return llm.NewConfigError("invalid proxy URL", err)
		}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Client 通用客户端
// ═══════════════════════════════════════════════════════════════════════════

// Client 通用客户端
//
// 负责 HTTP 通信与流程编排，协议差异全部委托给 Adapter。
// 实现 llm.Provider 接口，可以被多个 goroutine 并发使用。
//
// 使用示例：
//
//	client, err := core.NewClient(core.ClientConfig{
//	    Name:    "openai",
//	    BaseURL: "https://api.openai.com/v1",
//	    Model:   "gpt-4o-mini",
//	}, openai.NewAdapter("sk-xxx"))
type Client struct {
	config  ClientConfig
	adapter Adapter
	resty   *resty.Client
	logger  *slog.Logger
}

// NewClient 创建通用客户端
func NewClient(config ClientConfig, adapter Adapter) (*Client, error) {
	if adapter == nil {
		return nil, llm.NewConfigError("adapter is required", nil)
	}
	if config.Timeout == 0 {
		config.Timeout = llm.DefaultTimeout
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "llm"
	}

	logger := config.Logger
	if logger == nil {
		logger = discardLogger
	}
	logger = logger.With("provider", config.Name)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
	}

	r := resty.New()
	r.SetTransport(transport)
	r.SetLogger(restyLogger{logger})
	if config.Proxy != "" {
		r.SetProxy(config.Proxy)
	}
	for k, v := range config.Headers {
		r.SetHeader(k, v)
	}

	return &Client{
		config:  config,
		adapter: adapter,
		resty:   r,
		logger:  logger,
	}, nil
}

// Name 实现 llm.Provider 接口
func (c *Client) Name() string { return c.config.Name }

// Adapter 返回协议适配器
func (c *Client) Adapter() Adapter { return c.adapter }

// Config 返回客户端配置
func (c *Client) Config() ClientConfig { return c.config }

// Chat 非流式请求
//
// 流程：
//  1. 补全默认模型并验证请求
//  2. Adapter 构建 HTTP 请求
//  3. 发送请求（总超时由 Timeout 控制）
//  4. 状态码 ≥ 400 时映射为 APIError
//  5. Adapter 解析响应体
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	req, err := c.prepare(req, false)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.adapter.BuildRequest(req, false)
	if err != nil {
		return nil, asRequestError("build", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.execute(ctx, httpReq, false)
	if err != nil {
		return nil, err
	}

	body := resp.Body()
	c.logger.Debug("chat response",
		"status", resp.StatusCode(),
		"duration", time.Since(start),
		"bytes", len(body),
	)
	if c.config.LogBodies {
		c.logger.Debug("response body", "body", string(body))
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, c.mapError(resp.StatusCode(), resp.Header(), body)
	}

	out, err := c.adapter.ParseResponse(body)
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && apiErr.Provider == "" {
			apiErr.WithProvider(c.config.Name)
		}
		return nil, err
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	out.SyncContent()
	return out, nil
}

// ChatStream 流式请求
//
// 返回后由调用方负责 Close。ctx 取消会中断响应体读取，
// Recv 随之返回终止错误。
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	req, err := c.prepare(req, true)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.adapter.BuildRequest(req, true)
	if err != nil {
		return nil, asRequestError("build", err)
	}

	resp, err := c.execute(ctx, httpReq, true)
	if err != nil {
		return nil, err
	}

	raw := resp.RawBody()
	if resp.StatusCode() >= http.StatusBadRequest {
		body, _ := io.ReadAll(raw)
		_ = raw.Close()
		if c.config.LogBodies {
			c.logger.Debug("response body", "body", string(body))
		}
		return nil, c.mapError(resp.StatusCode(), resp.Header(), body)
	}

	c.logger.Debug("stream opened", "status", resp.StatusCode(), "model", req.Model)
	return NewEventStream(newIdleBody(raw, c.config.Timeout), c.adapter.NewChunkParser(), c.logger), nil
}

// Models 列出可用模型
func (c *Client) Models(ctx context.Context) ([]string, error) {
	lister, ok := c.adapter.(ModelLister)
	if !ok {
		return nil, llm.NewUnsupportedError(c.config.Name, "model listing")
	}
	httpReq, err := lister.ModelsRequest()
	if err != nil {
		return nil, asRequestError("build", err)
	}
	if httpReq.Method == "" {
		httpReq.Method = http.MethodGet
	}

	body, err := c.Do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	return lister.ParseModels(body)
}

// Do 发送一个非流式的厂商请求并返回响应体
//
// 用于对话之外的厂商端点（如 Ollama 的模型管理）。超时、传输错误分类和
// HTTP 错误映射与 Chat 相同。
func (c *Client) Do(ctx context.Context, httpReq *HTTPRequest) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.execute(ctx, httpReq, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, c.mapError(resp.StatusCode(), resp.Header(), resp.Body())
	}
	return resp.Body(), nil
}

// Close 实现 llm.Provider 接口，释放空闲连接
func (c *Client) Close() error {
	if t, ok := c.resty.GetClient().Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 内部方法
// ═══════════════════════════════════════════════════════════════════════════

// prepare 复制请求、补全默认模型并验证
func (c *Client) prepare(req *llm.ChatRequest, stream bool) (*llm.ChatRequest, error) {
	if req == nil {
		return nil, llm.NewInvalidRequestError("request is nil")
	}
	req = req.Clone()
	if req.Model == "" {
		req.Model = c.config.Model
	}
	req.Stream = stream
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// execute 发送 HTTP 请求，传输错误统一分类
func (c *Client) execute(ctx context.Context, httpReq *HTTPRequest, stream bool) (*resty.Response, error) {
	method := httpReq.Method
	if method == "" {
		method = http.MethodPost
	}
	target := c.resolveURL(httpReq)

	r := c.resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(stream)
	if len(httpReq.Body) > 0 {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(httpReq.Body)
	}
	r.SetHeaders(httpReq.Headers)

	c.logger.Debug("sending request", "method", method, "url", target, "stream", stream)
	if c.config.LogBodies && len(httpReq.Body) > 0 {
		c.logger.Debug("request body", "body", string(httpReq.Body))
	}

	resp, err := r.Execute(method, target)
	if err != nil {
		hint := ""
		if h, ok := c.adapter.(ConnectionErrorHinter); ok {
			hint = h.ConnectionHint()
		}
		httpErr := ClassifyTransportError(err, hint)
		c.logger.Warn("request failed", "url", target, "kind", httpErr.Kind(), "error", err)
		return nil, httpErr
	}
	return resp, nil
}

func (c *Client) resolveURL(httpReq *HTTPRequest) string {
	if httpReq.URL != "" {
		return httpReq.URL
	}
	return strings.TrimRight(c.config.BaseURL, "/") + httpReq.Path
}

// mapError 将 HTTP 错误状态转换为分类错误
func (c *Client) mapError(status int, header http.Header, body []byte) error {
	var err error
	if m, ok := c.adapter.(ErrorMapper); ok {
		err = m.MapError(status, header, body)
	}
	if err == nil {
		err = DefaultErrorMapper(status, header, body)
	}
	if apiErr, ok := llm.GetAPIError(err); ok && apiErr.Provider == "" {
		apiErr.WithProvider(c.config.Name)
	}
	c.logger.Warn("api error", "status", status, "kind", llm.KindOf(err))
	return err
}

func asRequestError(stage string, err error) error {
	var classified llm.Classified
	if errors.As(err, &classified) {
		return err
	}
	return llm.NewRequestError(stage, err)
}

// restyLogger 将 resty 内部日志转发到 slog
type restyLogger struct {
	l *slog.Logger
}

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }

var _ llm.Provider = (*Client)(nil)
