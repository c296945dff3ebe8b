package openai

import "strings"

// ═══════════════════════════════════════════════════════════════════════════
// 推理模型参数约束
// ═══════════════════════════════════════════════════════════════════════════

// modelTraits 推理模型对请求参数的约束
type modelTraits struct {
	reasoning           bool // temperature 固定为 1，忽略 top_p
	maxCompletionTokens bool // 用 max_completion_tokens 代替 max_tokens
}

// reasoningFamilies 按前缀匹配，先匹配先生效
var reasoningFamilies = []struct {
	prefix string
	traits modelTraits
}{
	{"deepseek-reasoner", modelTraits{reasoning: true}},
	{"deepseek-r1", modelTraits{reasoning: true}},
	{"o1", modelTraits{reasoning: true, maxCompletionTokens: true}},
	{"o3", modelTraits{reasoning: true, maxCompletionTokens: true}},
	{"o4", modelTraits{reasoning: true, maxCompletionTokens: true}},
	{"gpt-5", modelTraits{reasoning: true, maxCompletionTokens: true}},
}

func traitsOf(model string) modelTraits {
	model = strings.ToLower(model)
	// 兼容网关常见的 "openai/o3-mini" 写法
	if i := strings.LastIndexByte(model, '/'); i >= 0 {
		model = model[i+1:]
	}
	for _, f := range reasoningFamilies {
		if strings.HasPrefix(model, f.prefix) {
			return f.traits
		}
	}
	return modelTraits{}
}

// IsReasoningModel 判断模型是否为 o 系列、gpt-5 或 DeepSeek R1 这类推理模型
func IsReasoningModel(model string) bool { return traitsOf(model).reasoning }

// UsesMaxCompletionTokens 只有 OpenAI 自家的推理模型要求 max_completion_tokens
func UsesMaxCompletionTokens(model string) bool { return traitsOf(model).maxCompletionTokens }

// AdaptTemperatureForModel 推理模型只接受 1
func AdaptTemperatureForModel(model string, requested float64) float64 {
	if IsReasoningModel(model) {
		return 1
	}
	return requested
}

// ReasoningEffort reasoning_effort 取值
type ReasoningEffort string

const (
	ReasoningEffortMinimal ReasoningEffort = "minimal"
	ReasoningEffortLow     ReasoningEffort = "low"
	ReasoningEffortMedium  ReasoningEffort = "medium"
	ReasoningEffortHigh    ReasoningEffort = "high"
)

// IsValidReasoningEffort 空串视为未设置
func IsValidReasoningEffort(effort string) bool {
	switch ReasoningEffort(effort) {
	case "", ReasoningEffortMinimal, ReasoningEffortLow, ReasoningEffortMedium, ReasoningEffortHigh:
		return true
	}
	return false
}
