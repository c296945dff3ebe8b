// Package provider 提供 LLM Provider 的构造函数、统一工厂和注册表
//
// 使用方式：
//
//	// 按厂商构造
//	p, err := provider.DeepSeek("sk-xxx", provider.WithModel("deepseek-reasoner"))
//
//	// 按配置构造
//	p, err := provider.New(&llm.Config{
//	    Type:   llm.ProviderTypeAliyun,
//	    APIKey: "sk-xxx",
//	    Model:  "qwen-plus",
//	})
//
//	// 从 YAML 文件构造注册表
//	reg, err := provider.NewRegistryFromFile("llm.yaml")
//
// 所有构造函数返回的 Provider 都是 *core.Client（Ollama 额外包装了模型管理），
// 日志与指标通过 middleware 子包叠加。New 在配置了 MaxRetries 时自动加上重试，
// 需要具体类型时用 middleware.Unwrap 取回。
package provider

import (
	"log/slog"
	"time"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/middleware"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/provider/mock"
)

// ═══════════════════════════════════════════════════════════════════════════
// 构造选项
// ═══════════════════════════════════════════════════════════════════════════

// Option 构造选项
type Option func(*settings)

type settings struct {
	apiKey    string
	name      string
	baseURL   string
	model     string
	timeout   time.Duration
	proxy     string
	headers   map[string]string
	logger    *slog.Logger
	logBodies bool
	region    string
	thinking  *ThinkingTable
}

// WithAPIKey 设置 API Key
//
// 只用于 Ollama 这类 API Key 可选的服务（例如带认证的反向代理）。
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// WithName 设置 Provider 名称（默认为厂商类型）
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithBaseURL 覆盖默认 API 地址
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithModel 设置默认模型
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithTimeout 设置请求超时
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithProxy 设置 HTTP 代理
func WithProxy(proxy string) Option {
	return func(s *settings) { s.proxy = proxy }
}

// WithHeaders 设置额外请求头
func WithHeaders(headers map[string]string) Option {
	return func(s *settings) {
		if s.headers == nil {
			s.headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			s.headers[k] = v
		}
	}
}

// WithLogger 设置结构化日志
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithLogBodies 在 Debug 级别记录请求与响应体
func WithLogBodies() Option {
	return func(s *settings) { s.logBodies = true }
}

// WithRegion 设置腾讯云地域
func WithRegion(region string) Option {
	return func(s *settings) { s.region = region }
}

// WithThinkingTable 设置思考模式能力表（默认使用内嵌表）
func WithThinkingTable(table *ThinkingTable) Option {
	return func(s *settings) { s.thinking = table }
}

func newSettings(t llm.ProviderType, opts []Option) *settings {
	s := &settings{
		name:    string(t),
		baseURL: t.DefaultBaseURL(),
		model:   t.DefaultModel(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *settings) clientConfig() core.ClientConfig {
	return core.ClientConfig{
		Name:      s.name,
		BaseURL:   s.baseURL,
		Model:     s.model,
		Timeout:   s.timeout,
		Proxy:     s.proxy,
		Headers:   s.headers,
		Logger:    s.logger,
		LogBodies: s.logBodies,
	}
}

func (s *settings) thinkingTable() *ThinkingTable {
	if s.thinking != nil {
		return s.thinking
	}
	return DefaultThinkingTable()
}

// ═══════════════════════════════════════════════════════════════════════════
// 工厂函数
// ═══════════════════════════════════════════════════════════════════════════

// New 按配置创建 Provider
//
// opts 在配置之后应用，可以补充日志等配置文件无法表达的选项。
// MaxRetries > 0 时返回的 Provider 外层带有 middleware.Retry。
// Tencent 的 SecretId 取自 Extra["secret_id"]，缺省时读取 TENCENT_SECRET_ID；
// 地域取自 Extra["region"]。
func New(cfg *llm.Config, opts ...Option) (llm.Provider, error) {
	if cfg == nil {
		return nil, llm.NewConfigError("config is required", nil)
	}
	c := cfg.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	all := []Option{
		WithName(c.Name),
		WithBaseURL(c.BaseURL),
		WithModel(c.Model),
		WithTimeout(c.Timeout),
		WithProxy(c.Proxy),
		WithHeaders(c.Headers),
	}
	if region := c.ExtraString("region"); region != "" {
		all = append(all, WithRegion(region))
	}
	all = append(all, opts...)

	var (
		p   llm.Provider
		err error
	)
	switch c.Type {
	case llm.ProviderTypeOpenAI:
		p, err = OpenAI(c.APIKey, all...)
	case llm.ProviderTypeOpenRouter:
		p, err = OpenRouter(c.APIKey, all...)
	case llm.ProviderTypeDeepSeek:
		p, err = DeepSeek(c.APIKey, all...)
	case llm.ProviderTypeZhipu:
		p, err = Zhipu(c.APIKey, all...)
	case llm.ProviderTypeMoonshot:
		p, err = Moonshot(c.APIKey, all...)
	case llm.ProviderTypeVolcengine:
		p, err = Volcengine(c.APIKey, all...)
	case llm.ProviderTypeXiaomi:
		p, err = Xiaomi(c.APIKey, all...)
	case llm.ProviderTypeAnthropic:
		p, err = Anthropic(c.APIKey, all...)
	case llm.ProviderTypeLongCat:
		p, err = LongCat(c.APIKey, all...)
	case llm.ProviderTypeAliyun:
		p, err = Aliyun(c.APIKey, all...)
	case llm.ProviderTypeOllama:
		p, err = Ollama(append(all, WithAPIKey(c.APIKey))...)
	case llm.ProviderTypeTencent:
		secretID := c.ExtraString("secret_id")
		if secretID == "" {
			secretID = envOr("TENCENT_SECRET_ID", "")
		}
		p, err = Tencent(secretID, c.APIKey, all...)
	case llm.ProviderTypeGoogle:
		p, err = Google(c.APIKey, all...)
	case llm.ProviderTypeMock:
		p = mock.New(mock.WithName(c.Name))
	default:
		err = llm.NewConfigError("unsupported provider type: "+string(c.Type), nil)
	}
	if err != nil {
		return nil, err
	}
	if c.MaxRetries > 0 {
		p = middleware.Retry(middleware.RetryConfig{
			MaxRetries: c.MaxRetries,
			Logger:     newSettings(c.Type, all).logger,
		})(p)
	}
	return p, nil
}

// Must 创建 Provider，失败时 panic
func Must(cfg *llm.Config, opts ...Option) llm.Provider {
	p, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Default 使用默认配置创建 Provider
//
// 不指定类型时使用 OpenAI，API Key 从对应的环境变量读取。
func Default(types ...llm.ProviderType) (llm.Provider, error) {
	cfg := llm.DefaultConfig(types...)
	return New(&cfg)
}

// MustDefault 使用默认配置创建 Provider，失败时 panic
func MustDefault(types ...llm.ProviderType) llm.Provider {
	p, err := Default(types...)
	if err != nil {
		panic(err)
	}
	return p
}
