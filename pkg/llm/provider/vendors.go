package provider

import (
	"os"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/aliyun"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/anthropic"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/gemini"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/openai"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/tencent"
)

// ═══════════════════════════════════════════════════════════════════════════
// OpenAI 兼容厂商
// ═══════════════════════════════════════════════════════════════════════════

// OpenAI 创建 OpenAI Provider
func OpenAI(apiKey string, opts ...Option) (*core.Client, error) {
	return openaiFamily(llm.ProviderTypeOpenAI, apiKey, opts)
}

// OpenRouter 创建 OpenRouter Provider
func OpenRouter(apiKey string, opts ...Option) (*core.Client, error) {
	return openaiFamily(llm.ProviderTypeOpenRouter, apiKey, opts)
}

// DeepSeek 创建 DeepSeek Provider
//
// deepseek-reasoner 的推理内容在 reasoning_content 中返回，不需要开关。
func DeepSeek(apiKey string, opts ...Option) (*core.Client, error) {
	return openaiFamily(llm.ProviderTypeDeepSeek, apiKey, opts)
}

// Zhipu 创建智谱 GLM Provider
//
// 推理开关为 thinking 对象；智谱没有 /models 端点，部分错误以 HTTP 200 返回。
func Zhipu(apiKey string, opts ...Option) (*core.Client, error) {
	return openaiFamily(llm.ProviderTypeZhipu, apiKey, opts,
		openai.WithThinkingStyle(openai.ThinkingObject),
		openai.WithoutModelListing(),
		openai.WithSuccessEnvelope(),
	)
}

// Moonshot 创建月之暗面 Kimi Provider
func Moonshot(apiKey string, opts ...Option) (*core.Client, error) {
	return openaiFamily(llm.ProviderTypeMoonshot, apiKey, opts)
}

// Volcengine 创建火山引擎方舟 Provider
//
// 模型名是推理接入点 ID（ep-xxx），没有默认值，需要通过 WithModel 或请求指定。
func Volcengine(apiKey string, opts ...Option) (*core.Client, error) {
	return openaiFamily(llm.ProviderTypeVolcengine, apiKey, opts,
		openai.WithThinkingStyle(openai.ThinkingObject),
	)
}

// Xiaomi 创建小米 MiMo Provider
func Xiaomi(apiKey string, opts ...Option) (*core.Client, error) {
	return openaiFamily(llm.ProviderTypeXiaomi, apiKey, opts,
		openai.WithThinkingStyle(openai.ThinkingObject),
	)
}

// OpenAICompatible 创建任意 OpenAI 兼容服务的 Provider
//
// 必须通过 WithBaseURL 指定地址。
//
//	p, err := provider.OpenAICompatible("siliconflow", key,
//	    provider.WithBaseURL("https://api.siliconflow.cn/v1"),
//	    provider.WithModel("Qwen/Qwen3-8B"),
//	)
func OpenAICompatible(name, apiKey string, opts ...Option) (*core.Client, error) {
	s := &settings{name: name}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseURL == "" {
		return nil, llm.NewConfigError("base URL is required for "+name, nil)
	}
	return core.NewClient(s.clientConfig(), openai.NewAdapter(apiKey))
}

func openaiFamily(t llm.ProviderType, apiKey string, opts []Option, adapterOpts ...openai.Option) (*core.Client, error) {
	s := newSettings(t, opts)
	return core.NewClient(s.clientConfig(), openai.NewAdapter(apiKey, adapterOpts...))
}

// ═══════════════════════════════════════════════════════════════════════════
// Anthropic 兼容厂商
// ═══════════════════════════════════════════════════════════════════════════

// Anthropic 创建 Anthropic Provider（x-api-key 认证）
func Anthropic(apiKey string, opts ...Option) (*core.Client, error) {
	s := newSettings(llm.ProviderTypeAnthropic, opts)
	return core.NewClient(s.clientConfig(), anthropic.NewAdapter(apiKey))
}

// LongCat 创建 LongCat Provider（Anthropic 协议，Bearer 认证）
func LongCat(apiKey string, opts ...Option) (*core.Client, error) {
	s := newSettings(llm.ProviderTypeLongCat, opts)
	return core.NewClient(s.clientConfig(), anthropic.NewAdapter(apiKey, anthropic.WithBearerAuth()))
}

// ═══════════════════════════════════════════════════════════════════════════
// 原生协议厂商
// ═══════════════════════════════════════════════════════════════════════════

// Aliyun 创建阿里云 DashScope Provider
//
// 请求只给出 ThinkingBudget 或 ReasoningEffort 时，按思考能力表决定是否发送
// enable_thinking。
func Aliyun(apiKey string, opts ...Option) (*core.Client, error) {
	s := newSettings(llm.ProviderTypeAliyun, opts)
	table := s.thinkingTable()
	supports := func(model string) bool {
		return table.Supports(llm.ProviderTypeAliyun, model)
	}
	return core.NewClient(s.clientConfig(), aliyun.NewAdapter(apiKey, aliyun.WithThinkingSupport(supports)))
}

// Tencent 创建腾讯混元 Provider
//
// secretKey 对应配置中的 APIKey。签名 host 取自基础地址。
func Tencent(secretID, secretKey string, opts ...Option) (*core.Client, error) {
	if secretID == "" {
		return nil, llm.NewConfigError("tencent secret id is required", nil)
	}
	s := newSettings(llm.ProviderTypeTencent, opts)
	adapter := tencent.NewAdapter(secretID, secretKey,
		tencent.WithEndpoint(s.baseURL),
		tencent.WithRegion(s.region),
	)
	return core.NewClient(s.clientConfig(), adapter)
}

// Google 创建 Google Gemini Provider（x-goog-api-key 认证）
//
// 模型名出现在请求路径中，可以带或不带 "models/" 前缀。
func Google(apiKey string, opts ...Option) (*core.Client, error) {
	s := newSettings(llm.ProviderTypeGoogle, opts)
	return core.NewClient(s.clientConfig(), gemini.NewAdapter(apiKey))
}

// ═══════════════════════════════════════════════════════════════════════════
// 辅助函数
// ═══════════════════════════════════════════════════════════════════════════

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
