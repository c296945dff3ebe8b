package llm

import "strconv"

// ═══════════════════════════════════════════════════════════════════════════
// 聊天请求
// ═══════════════════════════════════════════════════════════════════════════

// ChatRequest 统一的聊天请求
//
// ChatRequest 是所有厂商能力的超集，适配器会静默忽略自身不支持的字段。
// 可选数值字段使用指针，以区分"未设置"和"零值"。
//
// 使用示例：
//
//	req := llm.NewChatRequest("gpt-4o",
//	    llm.NewSystemMessage("You are helpful."),
//	    llm.NewUserMessage("Hello"),
//	).WithMaxTokens(512).WithTemperature(0.2)
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	// 采样参数
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`

	// 工具（ToolChoice 仅在 Tools 非空时有意义）
	Tools      []Tool      `json:"tools,omitempty"`
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	Stream bool `json:"stream,omitempty"`

	// 推理控制
	EnableThinking  *bool  `json:"enable_thinking,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"` // "minimal", "low", "medium", "high"
	ThinkingBudget  *int   `json:"thinking_budget,omitempty"`

	// 结构化输出
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// 终端用户标识
	User string `json:"user,omitempty"`
}

// ResponseFormat 响应格式配置 (Structured Output)
type ResponseFormat struct {
	Type   string         `json:"type"`             // "json_schema", "json_object", "text"
	Name   string         `json:"name,omitempty"`   // Schema 名称
	Schema map[string]any `json:"schema,omitempty"` // JSON Schema 定义
}

// NewChatRequest 创建聊天请求
func NewChatRequest(model string, messages ...Message) *ChatRequest {
	return &ChatRequest{Model: model, Messages: messages}
}

// Clone 返回浅拷贝，消息和工具切片独立
func (r *ChatRequest) Clone() *ChatRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Messages = append([]Message(nil), r.Messages...)
	c.Tools = append([]Tool(nil), r.Tools...)
	c.Stop = append([]string(nil), r.Stop...)
	return &c
}

// AddMessage 追加消息
func (r *ChatRequest) AddMessage(msg Message) *ChatRequest {
	r.Messages = append(r.Messages, msg)
	return r
}

// WithModel 设置模型
func (r *ChatRequest) WithModel(model string) *ChatRequest {
	r.Model = model
	return r
}

// WithMaxTokens 设置最大输出 tokens
func (r *ChatRequest) WithMaxTokens(n int) *ChatRequest {
	r.MaxTokens = &n
	return r
}

// WithTemperature 设置温度
func (r *ChatRequest) WithTemperature(t float64) *ChatRequest {
	r.Temperature = &t
	return r
}

// WithTopP 设置 top_p
func (r *ChatRequest) WithTopP(p float64) *ChatRequest {
	r.TopP = &p
	return r
}

// WithStop 设置停止序列
func (r *ChatRequest) WithStop(stop ...string) *ChatRequest {
	r.Stop = stop
	return r
}

// WithTools 设置工具列表
func (r *ChatRequest) WithTools(tools ...Tool) *ChatRequest {
	r.Tools = tools
	return r
}

// WithToolChoice 设置工具选择策略
func (r *ChatRequest) WithToolChoice(choice *ToolChoice) *ChatRequest {
	r.ToolChoice = choice
	return r
}

// WithStream 设置流式标记
func (r *ChatRequest) WithStream(stream bool) *ChatRequest {
	r.Stream = stream
	return r
}

// WithThinking 开启或关闭推理模式
func (r *ChatRequest) WithThinking(enable bool) *ChatRequest {
	r.EnableThinking = &enable
	return r
}

// WithReasoningEffort 设置推理力度
func (r *ChatRequest) WithReasoningEffort(effort string) *ChatRequest {
	r.ReasoningEffort = effort
	return r
}

// WithThinkingBudget 设置推理 token 预算
func (r *ChatRequest) WithThinkingBudget(budget int) *ChatRequest {
	r.ThinkingBudget = &budget
	return r
}

// WithResponseFormat 设置结构化输出格式
func (r *ChatRequest) WithResponseFormat(format *ResponseFormat) *ChatRequest {
	r.ResponseFormat = format
	return r
}

// ThinkingEnabled 判断请求是否显式开启推理
//
// 设置了 ThinkingBudget 也视为开启。
func (r *ChatRequest) ThinkingEnabled() bool {
	if r.EnableThinking != nil {
		return *r.EnableThinking
	}
	return r.ThinkingBudget != nil && *r.ThinkingBudget > 0
}

// Validate 校验请求
func (r *ChatRequest) Validate() error {
	if r == nil {
		return NewInvalidRequestError("request is nil")
	}
	if r.Model == "" {
		return NewInvalidRequestError("model is required")
	}
	if len(r.Messages) == 0 {
		return NewInvalidRequestError("messages must not be empty")
	}
	if r.ToolChoice != nil && len(r.Tools) == 0 {
		return NewInvalidRequestError("tool_choice requires tools")
	}
	if r.ToolChoice != nil && r.ToolChoice.Mode == ToolChoiceModeFunction && r.ToolChoice.Function == "" {
		return NewInvalidRequestError("tool_choice function name is required")
	}
	for i, msg := range r.Messages {
		if msg.Role == RoleTool && msg.ToolCallID == "" {
			return NewInvalidRequestError("messages[" + strconv.Itoa(i) + "]: tool message requires tool_call_id")
		}
	}
	return nil
}

// Ptr 返回值的指针
func Ptr[T any](v T) *T { return &v }
