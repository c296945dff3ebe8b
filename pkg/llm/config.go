package llm

import (
	"net/url"
	"os"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Provider 配置
// ═══════════════════════════════════════════════════════════════════════════

// Config Provider 创建配置
//
// 用于通过统一工厂函数创建不同类型的 LLM Provider。
//
// 基本用法：
//
//	cfg := &llm.Config{
//	    Type:   llm.ProviderTypeDeepSeek,
//	    APIKey: "sk-xxx",
//	    Model:  "deepseek-chat",
//	}
//
// 代理与超时：
//
//	cfg := &llm.Config{
//	    Type:    llm.ProviderTypeOpenAI,
//	    APIKey:  "sk-xxx",
//	    Timeout: 2 * time.Minute,
//	    Proxy:   "http://127.0.0.1:7890",
//	}
//
// 腾讯混元（SecretId 放在 Extra）：
//
//	cfg := &llm.Config{
//	    Type:   llm.ProviderTypeTencent,
//	    APIKey: "secret-key",
//	    Extra: map[string]any{
//	        "secret_id": "AKID...",
//	        "region":    "ap-beijing",
//	    },
//	}
type Config struct {
	// Provider 类型（默认 OpenAI）
	Type ProviderType `yaml:"type" json:"type"`

	// Name 注册名称（为空时使用 Type）
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// APIKey（Ollama 除外，其他 Provider 必需）
	APIKey string `yaml:"api_key" json:"api_key"`

	// 可选字段（有默认值）
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// 网络配置
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Proxy      string        `yaml:"proxy,omitempty" json:"proxy,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// 额外请求头
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// 扩展配置（厂商特有参数）
	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// DefaultTimeout 默认超时
const DefaultTimeout = 120 * time.Second

// DefaultConfig 返回默认的 Provider 配置
// 不指定类型时默认使用 OpenAI
func DefaultConfig(types ...ProviderType) Config {
	t := ProviderTypeOpenAI
	if len(types) > 0 {
		t = types[0]
	}
	return Config{
		Type:       t,
		APIKey:     t.GetEnvAPIKey(),
		BaseURL:    t.DefaultBaseURL(),
		Model:      t.DefaultModel(),
		Timeout:    DefaultTimeout,
		MaxRetries: 3,
	}
}

// WithDefaults 返回填充了默认值的副本
func (c Config) WithDefaults() Config {
	if c.Type == "" {
		c.Type = ProviderTypeOpenAI
	}
	if c.Name == "" {
		c.Name = string(c.Type)
	}
	if c.BaseURL == "" {
		c.BaseURL = c.Type.DefaultBaseURL()
	}
	if c.Model == "" {
		c.Model = c.Type.DefaultModel()
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.Type.RequiresAPIKey() && c.APIKey == "" {
		return NewConfigError("API key is required", nil)
	}
	if c.Timeout < 0 {
		return NewConfigError("timeout must not be negative", nil)
	}
	if c.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
			return NewConfigError("invalid base_url", err)
		}
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewConfigError("invalid proxy url: "+c.Proxy, err)
		}
	}
	return nil
}

// ExtraString 读取字符串类型的扩展配置
func (c Config) ExtraString(key string) string {
	if c.Extra == nil {
		return ""
	}
	if s, ok := c.Extra[key].(string); ok {
		return os.ExpandEnv(s)
	}
	return ""
}

// ExtraBool 读取布尔类型的扩展配置
func (c Config) ExtraBool(key string) (value, ok bool) {
	if c.Extra == nil {
		return false, false
	}
	value, ok = c.Extra[key].(bool)
	return value, ok
}
