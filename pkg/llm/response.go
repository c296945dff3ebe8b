package llm

// ═══════════════════════════════════════════════════════════════════════════
// 完成原因
// ═══════════════════════════════════════════════════════════════════════════

// 统一的完成原因
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)

// ═══════════════════════════════════════════════════════════════════════════
// 非流式响应
// ═══════════════════════════════════════════════════════════════════════════

// ChatResponse 统一的聊天响应
//
// Content 始终等于 Choices[0].Message.Text()。
// 构造后修改 Choices 需要调用 SyncContent。
type ChatResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object,omitempty"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`

	// Content 便捷字段
	Content string `json:"content"`
}

// Choice 响应选项
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// NewChatResponse 创建响应并同步 Content
func NewChatResponse(id, model string, created int64, choices []Choice, usage *Usage) *ChatResponse {
	r := &ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: choices,
		Usage:   usage,
	}
	r.SyncContent()
	return r
}

// SyncContent 根据第一个选项重新计算 Content
func (r *ChatResponse) SyncContent() {
	if len(r.Choices) == 0 {
		r.Content = ""
		return
	}
	r.Content = r.Choices[0].Message.Text()
}

// FirstChoice 返回第一个选项
func (r *ChatResponse) FirstChoice() (Choice, bool) {
	if len(r.Choices) == 0 {
		return Choice{}, false
	}
	return r.Choices[0], true
}

// FinishReason 返回第一个选项的完成原因
func (r *ChatResponse) FinishReason() string {
	if c, ok := r.FirstChoice(); ok {
		return c.FinishReason
	}
	return ""
}

// ToolCalls 返回第一个选项的工具调用
func (r *ChatResponse) ToolCalls() []ToolCall {
	if c, ok := r.FirstChoice(); ok {
		return c.Message.ToolCalls
	}
	return nil
}

// ReasoningContent 返回第一个选项的推理内容
func (r *ChatResponse) ReasoningContent() string {
	if c, ok := r.FirstChoice(); ok {
		return c.Message.ReasoningText()
	}
	return ""
}

// ═══════════════════════════════════════════════════════════════════════════
// Token 使用量
// ═══════════════════════════════════════════════════════════════════════════

// Usage Token 使用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// 厂商扩展
	PromptCacheHitTokens  int `json:"prompt_cache_hit_tokens,omitempty"`  // DeepSeek
	PromptCacheMissTokens int `json:"prompt_cache_miss_tokens,omitempty"` // DeepSeek
	CachedTokens          int `json:"cached_tokens,omitempty"`            // OpenAI prompt_tokens_details / Anthropic cache read
	CacheCreationTokens   int `json:"cache_creation_tokens,omitempty"`    // Anthropic cache write
	ReasoningTokens       int `json:"reasoning_tokens,omitempty"`         // o1/o3, DeepSeek R1 等
}

// Merge 用 other 中的非零字段覆盖当前值
//
// 用于合并分段到达的用量（Anthropic 的输入在 message_start，输出在 message_delta）。
func (u *Usage) Merge(other *Usage) {
	if other == nil {
		return
	}
	setIf := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setIf(&u.PromptTokens, other.PromptTokens)
	setIf(&u.CompletionTokens, other.CompletionTokens)
	setIf(&u.TotalTokens, other.TotalTokens)
	setIf(&u.PromptCacheHitTokens, other.PromptCacheHitTokens)
	setIf(&u.PromptCacheMissTokens, other.PromptCacheMissTokens)
	setIf(&u.CachedTokens, other.CachedTokens)
	setIf(&u.CacheCreationTokens, other.CacheCreationTokens)
	setIf(&u.ReasoningTokens, other.ReasoningTokens)
	if u.TotalTokens < u.PromptTokens+u.CompletionTokens {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 流式响应
// ═══════════════════════════════════════════════════════════════════════════

// StreamingResponse 一次流式输出
//
// 只有流的最后一项携带 FinishReason 和 Usage。
type StreamingResponse struct {
	ID                string            `json:"id,omitempty"`
	Object            string            `json:"object,omitempty"`
	Created           int64             `json:"created,omitempty"`
	Model             string            `json:"model,omitempty"`
	Choices           []StreamingChoice `json:"choices"`
	Usage             *Usage            `json:"usage,omitempty"`
	SystemFingerprint string            `json:"system_fingerprint,omitempty"`

	// 便捷字段（第一个选项的增量）
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// StreamingChoice 流式选项
type StreamingChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta 增量片段
type Delta struct {
	Role      Role       `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	ReasoningContent string `json:"reasoning_content,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`
	Thinking         string `json:"thinking,omitempty"`
	Thought          string `json:"thought,omitempty"`
}

// IsEmpty 检查增量是否不含任何内容
func (d Delta) IsEmpty() bool {
	return d.Content == "" && len(d.ToolCalls) == 0 &&
		d.ReasoningContent == "" && d.Reasoning == "" && d.Thinking == "" && d.Thought == ""
}

// ReasoningText 返回第一个非空的推理片段
func (d Delta) ReasoningText() string {
	for _, s := range []string{d.ReasoningContent, d.Reasoning, d.Thinking, d.Thought} {
		if s != "" {
			return s
		}
	}
	return ""
}

// NewStreamingResponse 创建单选项的流式输出并同步便捷字段
func NewStreamingResponse(delta Delta, finishReason string) *StreamingResponse {
	r := &StreamingResponse{
		Object:  "chat.completion.chunk",
		Choices: []StreamingChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
	r.SyncContent()
	return r
}

// SyncContent 根据第一个选项重新计算便捷字段
func (r *StreamingResponse) SyncContent() {
	if len(r.Choices) == 0 {
		r.Content, r.ReasoningContent = "", ""
		return
	}
	r.Content = r.Choices[0].Delta.Content
	r.ReasoningContent = r.Choices[0].Delta.ReasoningText()
}

// FinishReason 返回任一选项上的完成原因
func (r *StreamingResponse) FinishReason() string {
	for _, c := range r.Choices {
		if c.FinishReason != "" {
			return c.FinishReason
		}
	}
	return ""
}

// ToolCalls 返回第一个选项的工具调用片段
func (r *StreamingResponse) ToolCalls() []ToolCall {
	if len(r.Choices) == 0 {
		return nil
	}
	return r.Choices[0].Delta.ToolCalls
}

// HasPayload 检查是否携带内容、推理或工具调用
func (r *StreamingResponse) HasPayload() bool {
	for _, c := range r.Choices {
		if !c.Delta.IsEmpty() {
			return true
		}
	}
	return false
}

// IsTerminal 检查是否携带完成原因或用量
func (r *StreamingResponse) IsTerminal() bool {
	return r.Usage != nil || r.FinishReason() != ""
}
