package llm

import "os"

// ProviderType LLM Provider 类型
type ProviderType string

const (
	// ProviderTypeOpenAI OpenAI 原生 API
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeOpenRouter OpenRouter API（OpenAI 兼容）
	ProviderTypeOpenRouter ProviderType = "openrouter"

	// ProviderTypeDeepSeek DeepSeek API（OpenAI 兼容）
	ProviderTypeDeepSeek ProviderType = "deepseek"

	// ProviderTypeZhipu 智谱 GLM API（OpenAI 兼容）
	ProviderTypeZhipu ProviderType = "zhipu"

	// ProviderTypeMoonshot 月之暗面 Kimi API（OpenAI 兼容）
	ProviderTypeMoonshot ProviderType = "moonshot"

	// ProviderTypeVolcengine 火山引擎方舟 API（OpenAI 兼容）
	ProviderTypeVolcengine ProviderType = "volcengine"

	// ProviderTypeXiaomi 小米 MiMo API（OpenAI 兼容）
	ProviderTypeXiaomi ProviderType = "xiaomi"

	// ProviderTypeAnthropic Anthropic 原生 API
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeLongCat LongCat API（Anthropic 兼容，Bearer 认证）
	ProviderTypeLongCat ProviderType = "longcat"

	// ProviderTypeAliyun 阿里云 DashScope 原生 API
	ProviderTypeAliyun ProviderType = "aliyun"

	// ProviderTypeOllama Ollama 本地模型（原生 /api/chat）
	ProviderTypeOllama ProviderType = "ollama"

	// ProviderTypeTencent 腾讯混元原生 API（TC3-HMAC-SHA256 签名）
	ProviderTypeTencent ProviderType = "tencent"

	// ProviderTypeGoogle Google Gemini API（generateContent）
	ProviderTypeGoogle ProviderType = "google"

	// ProviderTypeMock 本地 Mock（测试用）
	ProviderTypeMock ProviderType = "mock"
)

// Protocol 协议族
type Protocol string

const (
	ProtocolOpenAI    Protocol = "openai"
	ProtocolAnthropic Protocol = "anthropic"
	ProtocolAliyun    Protocol = "aliyun"
	ProtocolOllama    Protocol = "ollama"
	ProtocolTencent   Protocol = "tencent"
	ProtocolGemini    Protocol = "gemini"
)

// String 返回字符串表示
func (t ProviderType) String() string {
	return string(t)
}

// Protocol 返回该 Provider 使用的协议族
func (t ProviderType) Protocol() Protocol {
	switch t {
	case ProviderTypeAnthropic, ProviderTypeLongCat:
		return ProtocolAnthropic
	case ProviderTypeAliyun:
		return ProtocolAliyun
	case ProviderTypeOllama:
		return ProtocolOllama
	case ProviderTypeTencent:
		return ProtocolTencent
	case ProviderTypeGoogle:
		return ProtocolGemini
	case ProviderTypeMock:
		return ""
	default:
		return ProtocolOpenAI
	}
}

// IsOpenAICompatible 判断是否为 OpenAI 兼容协议
func (t ProviderType) IsOpenAICompatible() bool {
	return t != ProviderTypeMock && t.Protocol() == ProtocolOpenAI
}

// RequiresAPIKey 判断是否需要 API Key
func (t ProviderType) RequiresAPIKey() bool {
	return t != ProviderTypeOllama && t != ProviderTypeMock
}

// DefaultBaseURL 返回默认 Base URL
func (t ProviderType) DefaultBaseURL() string {
	switch t {
	case ProviderTypeOpenAI:
		return "https://api.openai.com/v1"
	case ProviderTypeOpenRouter:
		return "https://openrouter.ai/api/v1"
	case ProviderTypeDeepSeek:
		return "https://api.deepseek.com/v1"
	case ProviderTypeZhipu:
		return "https://open.bigmodel.cn/api/paas/v4"
	case ProviderTypeMoonshot:
		return "https://api.moonshot.cn/v1"
	case ProviderTypeVolcengine:
		return "https://ark.cn-beijing.volces.com/api/v3"
	case ProviderTypeXiaomi:
		return "https://api.xiaomimimo.com/v1"
	case ProviderTypeAnthropic:
		return "https://api.anthropic.com"
	case ProviderTypeLongCat:
		return "https://api.longcat.chat/anthropic"
	case ProviderTypeAliyun:
		return "https://dashscope.aliyuncs.com"
	case ProviderTypeOllama:
		return "http://localhost:11434"
	case ProviderTypeTencent:
		return "https://hunyuan.tencentcloudapi.com"
	case ProviderTypeGoogle:
		return "https://generativelanguage.googleapis.com/v1beta"
	default:
		return ""
	}
}

// DefaultModel 返回默认模型
func (t ProviderType) DefaultModel() string {
	switch t {
	case ProviderTypeOpenAI:
		return "gpt-4o-mini"
	case ProviderTypeOpenRouter:
		return "anthropic/claude-haiku-4.5"
	case ProviderTypeDeepSeek:
		return "deepseek-chat"
	case ProviderTypeZhipu:
		return "glm-4-flash"
	case ProviderTypeMoonshot:
		return "moonshot-v1-8k"
	case ProviderTypeVolcengine:
		return "" // 需要用户指定 endpoint_id
	case ProviderTypeXiaomi:
		return "mimo-v2-flash"
	case ProviderTypeAnthropic:
		return "claude-3-5-haiku-latest"
	case ProviderTypeLongCat:
		return "LongCat-Flash-Chat"
	case ProviderTypeAliyun:
		return "qwen-turbo"
	case ProviderTypeOllama:
		return "llama3.2"
	case ProviderTypeTencent:
		return "hunyuan-lite"
	case ProviderTypeGoogle:
		return "gemini-2.5-flash"
	default:
		return ""
	}
}

// EnvAPIKey 返回 API Key 对应的环境变量名
func (t ProviderType) EnvAPIKey() string {
	switch t {
	case ProviderTypeOpenAI:
		return "OPENAI_API_KEY"
	case ProviderTypeOpenRouter:
		return "OPENROUTER_API_KEY"
	case ProviderTypeDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderTypeZhipu:
		return "ZHIPU_API_KEY"
	case ProviderTypeMoonshot:
		return "MOONSHOT_API_KEY"
	case ProviderTypeVolcengine:
		return "ARK_API_KEY"
	case ProviderTypeXiaomi:
		return "XIAOMI_API_KEY"
	case ProviderTypeAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderTypeLongCat:
		return "LONGCAT_API_KEY"
	case ProviderTypeAliyun:
		return "DASHSCOPE_API_KEY"
	case ProviderTypeTencent:
		return "TENCENT_SECRET_KEY"
	case ProviderTypeGoogle:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// GetEnvAPIKey 从环境变量读取 API Key，回退到 LLM_API_KEY
//
// Google 额外接受 GOOGLE_API_KEY。
func (t ProviderType) GetEnvAPIKey() string {
	if name := t.EnvAPIKey(); name != "" {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	if t == ProviderTypeGoogle {
		if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
			return v
		}
	}
	return os.Getenv("LLM_API_KEY")
}

// AllProviderTypes 返回所有支持的 Provider 类型
func AllProviderTypes() []ProviderType {
	return []ProviderType{
		ProviderTypeOpenAI, ProviderTypeOpenRouter, ProviderTypeDeepSeek, ProviderTypeZhipu,
		ProviderTypeMoonshot, ProviderTypeVolcengine, ProviderTypeXiaomi, ProviderTypeAnthropic,
		ProviderTypeLongCat, ProviderTypeAliyun, ProviderTypeOllama, ProviderTypeTencent,
		ProviderTypeGoogle, ProviderTypeMock,
	}
}
