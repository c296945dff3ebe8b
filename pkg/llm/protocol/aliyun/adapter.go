// Package aliyun 实现阿里云 DashScope 原生协议（通义千问）
//
// 请求体把消息放在 input.messages，采样参数放在 parameters；
// 流式通过 X-DashScope-SSE 请求头开启。部分模型在流式中重发累积内容，
// 解析器会检测并转换为增量，检测次数通过 llm.StreamStats.CumulativeChunks 暴露。
package aliyun

import (
	"encoding/json"
	"net/http"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/openai"
)

// ═══════════════════════════════════════════════════════════════════════════
// DashScope 协议适配器
// ═══════════════════════════════════════════════════════════════════════════

const (
	textGenerationPath = "/api/v1/services/aigc/text-generation/generation"
	multimodalPath     = "/api/v1/services/aigc/multimodal-generation/generation"
)

// Adapter DashScope 协议适配器
//
// 关键协议特点：
//  1. 请求体：{"model", "input": {"messages"}, "parameters": {...}}
//  2. result_format 固定为 message（响应结构与 OpenAI choices 相同）
//  3. 流式：X-DashScope-SSE: enable，incremental_output: true
//  4. 含图片的消息走 multimodal-generation 端点
type Adapter struct {
	apiKey     string
	supports   func(model string) bool
	cumulative bool
}

// Option 适配器选项
type Option func(*Adapter)

// WithThinkingSupport 设置模型是否支持思考模式的判断函数
//
// 请求只设置了 ThinkingBudget 或 ReasoningEffort、没有显式设置 EnableThinking 时，
// 对支持的模型发送 enable_thinking: true。
func WithThinkingSupport(supports func(model string) bool) Option {
	return func(a *Adapter) { a.supports = supports }
}

// WithoutIncrementalOutput 流式请求不发送 incremental_output，服务端重发累积内容
func WithoutIncrementalOutput() Option {
	return func(a *Adapter) { a.cumulative = true }
}

// NewAdapter 创建 DashScope 协议适配器
func NewAdapter(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{apiKey: apiKey}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ═══════════════════════════════════════════════════════════════════════════
// BuildRequest - 构建请求
// ═══════════════════════════════════════════════════════════════════════════

// BuildRequest 实现 core.Adapter 接口
//
//	POST {base_url}/api/v1/services/aigc/text-generation/generation
//	Authorization: Bearer <key>
//	X-DashScope-SSE: enable          (流式)
//	{"model": "qwen-plus", "input": {"messages": [...]}, "parameters": {"result_format": "message"}}
func (a *Adapter) BuildRequest(req *llm.ChatRequest, stream bool) (*core.HTTPRequest, error) {
	multimodal := hasImages(req.Messages)

	var messages any
	if multimodal {
		messages = convertMultimodal(req.Messages)
	} else {
		messages = openai.ConvertMessages(req.Messages)
	}

	params := map[string]any{"result_format": "message"}
	if stream && !a.cumulative {
		params["incremental_output"] = true
	}
	if req.MaxTokens != nil {
		params["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		params["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		params["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		params["stop"] = req.Stop
	}
	if req.PresencePenalty != nil {
		params["presence_penalty"] = *req.PresencePenalty
	}
	if len(req.Tools) > 0 {
		params["tools"] = openai.ConvertTools(req.Tools)
		if req.ToolChoice != nil {
			params["tool_choice"] = openai.ConvertToolChoice(req.ToolChoice)
		}
	}
	if enabled, ok := a.thinking(req); ok {
		params["enable_thinking"] = enabled
		if enabled && req.ThinkingBudget != nil {
			params["thinking_budget"] = *req.ThinkingBudget
		}
	}
	if rf := req.ResponseFormat; rf != nil && rf.Type == "json_object" {
		params["response_format"] = map[string]any{"type": "json_object"}
	}

	data, err := json.Marshal(map[string]any{
		"model":      req.Model,
		"input":      map[string]any{"messages": messages},
		"parameters": params,
	})
	if err != nil {
		return nil, llm.NewRequestError("marshal", err)
	}

	path := textGenerationPath
	if multimodal {
		path = multimodalPath
	}
	return &core.HTTPRequest{
		Method:  http.MethodPost,
		Path:    path,
		Headers: a.headers(stream),
		Body:    data,
	}, nil
}

// thinking 决定 enable_thinking 的取值，ok=false 表示不发送
func (a *Adapter) thinking(req *llm.ChatRequest) (enabled, ok bool) {
	if req.EnableThinking != nil {
		return *req.EnableThinking, true
	}
	wants := req.ReasoningEffort != "" || (req.ThinkingBudget != nil && *req.ThinkingBudget > 0)
	if !wants || a.supports == nil || !a.supports(req.Model) {
		return false, false
	}
	return true, true
}

func (a *Adapter) headers(stream bool) map[string]string {
	h := map[string]string{}
	if a.apiKey != "" {
		h["Authorization"] = "Bearer " + a.apiKey
	}
	if stream {
		h["X-DashScope-SSE"] = "enable"
		h["Accept"] = "text/event-stream"
	}
	return h
}

func hasImages(messages []llm.Message) bool {
	for _, msg := range messages {
		for _, block := range msg.Content {
			if _, ok := core.ImageURLOf(block); ok {
				return true
			}
		}
	}
	return false
}

// convertMultimodal 多模态消息格式
//
//	{"role": "user", "content": [{"image": "https://..."}, {"text": "这是什么"}]}
func convertMultimodal(messages []llm.Message) []map[string]any {
	result := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		parts := make([]map[string]any, 0, len(msg.Content))
		for _, block := range msg.Content {
			if tb, ok := block.(*llm.TextBlock); ok {
				parts = append(parts, map[string]any{"text": tb.Text})
				continue
			}
			if url, ok := core.ImageURLOf(block); ok {
				parts = append(parts, map[string]any{"image": url})
			}
		}
		m := map[string]any{"role": string(msg.Role), "content": parts}
		if msg.Role == llm.RoleTool {
			m["tool_call_id"] = msg.ToolCallID
		}
		result = append(result, m)
	}
	return result
}

// ═══════════════════════════════════════════════════════════════════════════
// ParseResponse - 解析非流式响应
// ═══════════════════════════════════════════════════════════════════════════

type generation struct {
	RequestID string     `json:"request_id"`
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	Output    *output    `json:"output"`
	Usage     *wireUsage `json:"usage"`
}

type output struct {
	Choices      []wireChoice `json:"choices"`
	Text         string       `json:"text"`
	FinishReason string       `json:"finish_reason"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireMessage struct {
	Role             string          `json:"role"`
	Content          json.RawMessage `json:"content"`
	ReasoningContent string          `json:"reasoning_content"`
	ToolCalls        []wireToolCall  `json:"tool_calls"`
}

type wireToolCall struct {
	Index    *int   `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type wireUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	TotalTokens         int `json:"total_tokens"`
	OutputTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

// ParseResponse 实现 core.Adapter 接口
//
//	{
//	  "request_id": "...",
//	  "output": {"choices": [{"message": {"role": "assistant", "content": "..."}, "finish_reason": "stop"}]},
//	  "usage": {"input_tokens": 10, "output_tokens": 20, "total_tokens": 30}
//	}
//
// DashScope 不返回模型名；Client 以请求的模型补齐。
func (a *Adapter) ParseResponse(body []byte) (*llm.ChatResponse, error) {
	var resp generation
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError("response", string(body), err)
	}
	if resp.Output == nil && resp.Code != "" {
		return nil, bodyError(resp, body)
	}

	var choices []llm.Choice
	if resp.Output != nil {
		for i, c := range resp.Output.Choices {
			msg := llm.NewAssistantMessage(contentText(c.Message.Content))
			msg.ReasoningContent = c.Message.ReasoningContent
			for j, tc := range c.Message.ToolCalls {
				typ := tc.Type
				if typ == "" {
					typ = "function"
				}
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					Index:    j,
					ID:       tc.ID,
					Type:     typ,
					Function: llm.FunctionCall{Name: tc.Function.Name, Arguments: openai.ArgumentsString(tc.Function.Arguments)},
				})
			}
			choices = append(choices, llm.Choice{
				Index:        i,
				Message:      msg,
				FinishReason: core.NormalizeFinishReason(c.FinishReason),
			})
		}
		// result_format=text 的旧格式
		if len(choices) == 0 && resp.Output.Text != "" {
			choices = append(choices, llm.Choice{
				Message:      llm.NewAssistantMessage(resp.Output.Text),
				FinishReason: core.NormalizeFinishReason(resp.Output.FinishReason),
			})
		}
	}

	return llm.NewChatResponse(resp.RequestID, "", 0, choices, convertUsage(resp.Usage)), nil
}

// contentText content 可能是字符串，也可能是多模态端点返回的 [{"text": "..."}]
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var text string
	for _, p := range parts {
		text += core.GetString(p["text"])
	}
	return text
}

func convertUsage(u *wireUsage) *llm.Usage {
	if u == nil {
		return nil
	}
	usage := &llm.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.OutputTokensDetails != nil {
		usage.ReasoningTokens = u.OutputTokensDetails.ReasoningTokens
	}
	if u.PromptTokensDetails != nil {
		usage.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// ═══════════════════════════════════════════════════════════════════════════
// 错误映射
// ═══════════════════════════════════════════════════════════════════════════

// MapError 实现 core.ErrorMapper 接口
//
// 错误体：{"code": "InvalidApiKey", "message": "...", "request_id": "..."}
func (a *Adapter) MapError(status int, header http.Header, body []byte) error {
	apiErr := core.DefaultErrorMapper(status, header, body)

	var payload struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}
	if apiErr.RequestID == "" && payload.RequestID != "" {
		apiErr = apiErr.WithRequestID(payload.RequestID)
	}
	switch payload.Code {
	case "InvalidApiKey":
		apiErr = apiErr.WithKind(llm.ErrKindAuthentication)
	case "Throttling", "Throttling.RateQuota", "Throttling.AllocationQuota":
		apiErr = apiErr.WithKind(llm.ErrKindRateLimit)
	}
	return apiErr
}

func bodyError(resp generation, body []byte) *llm.APIError {
	kind := llm.ErrKindAPI
	if core.IsContextLengthMessage(resp.Message) {
		kind = llm.ErrKindContextLength
	}
	return llm.NewAPIError(kind, http.StatusOK, resp.Message, string(body)).
		WithErrorCode(resp.Code).
		WithRequestID(resp.RequestID)
}

// NewChunkParser 实现 core.Adapter 接口
func (a *Adapter) NewChunkParser() core.ChunkParser {
	if a.cumulative {
		return NewCumulativeChunkParser()
	}
	return NewChunkParser()
}

var (
	_ core.Adapter     = (*Adapter)(nil)
	_ core.ErrorMapper = (*Adapter)(nil)
)
