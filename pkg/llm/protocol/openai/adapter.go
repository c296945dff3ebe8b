package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// ═══════════════════════════════════════════════════════════════════════════
// OpenAI 协议适配器
// ═══════════════════════════════════════════════════════════════════════════

// ThinkingStyle 推理开关在请求体中的表达方式
//
// OpenAI 兼容厂商对"开启推理"没有统一字段：
//   - ThinkingNone: 不发送开关，只发送 reasoning_effort（OpenAI、DeepSeek）
//   - ThinkingFlag: "enable_thinking": true（Qwen 兼容模式、SiliconFlow）
//   - ThinkingObject: "thinking": {"type": "enabled"}（智谱、火山引擎、小米 MiMo）
type ThinkingStyle int

const (
	ThinkingNone ThinkingStyle = iota
	ThinkingFlag
	ThinkingObject
)

// Adapter OpenAI 协议适配器
//
// 实现 core.Adapter 接口，覆盖所有 OpenAI 兼容厂商。
//
// 关键协议特点：
//  1. 工具参数：JSON 字符串
//  2. 工具结果：独立的 tool 角色消息
//  3. 系统消息：内联在消息数组中
//  4. 流式：SSE，data: [DONE] 结束，usage 需要 stream_options.include_usage
type Adapter struct {
	apiKey   string
	thinking ThinkingStyle
	noModels bool
	envelope bool
}

// Option 适配器选项
type Option func(*Adapter)

// WithThinkingStyle 设置推理开关的表达方式
func WithThinkingStyle(style ThinkingStyle) Option {
	return func(a *Adapter) { a.thinking = style }
}

// WithoutModelListing 声明厂商没有可用的 /models 端点
func WithoutModelListing() Option {
	return func(a *Adapter) { a.noModels = true }
}

// WithSuccessEnvelope 检查 HTTP 200 响应体中的 success / code 错误信封
//
//	{"code": 500, "msg": "404 NOT_FOUND", "success": false}
//
// success 为 false，或 code 非零且没有 choices 时，按 code 的状态码语义返回 APIError。
func WithSuccessEnvelope() Option {
	return func(a *Adapter) { a.envelope = true }
}

// NewAdapter 创建 OpenAI 协议适配器
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
// 请求格式：
//
//	POST {base_url}/chat/completions
//	Authorization: Bearer <key>
//	{"model": "...", "messages": [...], "stream": true, "stream_options": {"include_usage": true}}
func (a *Adapter) BuildRequest(req *llm.ChatRequest, stream bool) (*core.HTTPRequest, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": ConvertMessages(req.Messages),
		"stream":   stream,
	}
	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}

	reasoning := IsReasoningModel(req.Model)
	if req.Temperature != nil {
		body["temperature"] = AdaptTemperatureForModel(req.Model, *req.Temperature)
	}
	if req.TopP != nil && !reasoning {
		body["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		if UsesMaxCompletionTokens(req.Model) {
			body["max_completion_tokens"] = *req.MaxTokens
		} else {
			body["max_tokens"] = *req.MaxTokens
		}
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}
	if req.PresencePenalty != nil {
		body["presence_penalty"] = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		body["frequency_penalty"] = *req.FrequencyPenalty
	}
	if len(req.Tools) > 0 {
		body["tools"] = ConvertTools(req.Tools)
		if req.ToolChoice != nil {
			body["tool_choice"] = ConvertToolChoice(req.ToolChoice)
		}
	}
	if req.ReasoningEffort != "" {
		if !IsValidReasoningEffort(req.ReasoningEffort) {
			return nil, llm.NewInvalidRequestError(fmt.Sprintf("invalid reasoning_effort %q", req.ReasoningEffort))
		}
		body["reasoning_effort"] = req.ReasoningEffort
	}
	a.applyThinking(body, req)

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_schema":
			body["response_format"] = map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   rf.Name,
					"schema": rf.Schema,
				},
			}
		case "json_object":
			body["response_format"] = map[string]any{"type": "json_object"}
		}
	}
	if req.User != "" {
		body["user"] = req.User
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewRequestError("marshal", err)
	}
	return &core.HTTPRequest{
		Method:  http.MethodPost,
		Path:    "/chat/completions",
		Headers: a.headers(stream),
		Body:    data,
	}, nil
}

func (a *Adapter) applyThinking(body map[string]any, req *llm.ChatRequest) {
	if req.EnableThinking == nil && req.ThinkingBudget == nil {
		return
	}
	enabled := req.ThinkingEnabled()
	switch a.thinking {
	case ThinkingFlag:
		body["enable_thinking"] = enabled
		if enabled && req.ThinkingBudget != nil {
			body["thinking_budget"] = *req.ThinkingBudget
		}
	case ThinkingObject:
		typ := "disabled"
		if enabled {
			typ = "enabled"
		}
		body["thinking"] = map[string]any{"type": typ}
	}
}

func (a *Adapter) headers(stream bool) map[string]string {
	h := map[string]string{}
	if a.apiKey != "" {
		h["Authorization"] = "Bearer " + a.apiKey
	}
	if stream {
		h["Accept"] = "text/event-stream"
	}
	return h
}

// ═══════════════════════════════════════════════════════════════════════════
// 消息转换
// ═══════════════════════════════════════════════════════════════════════════

// ConvertMessages 将统一消息转换为 OpenAI 格式
//
// OpenAI 协议要求：
//   - 纯文本消息的 content 是字符串，多模态消息是 parts 数组
//   - 包含工具调用的 assistant 消息必须有 content 字段（即使为空）
//   - 工具结果是 role=tool 的独立消息
func ConvertMessages(messages []llm.Message) []map[string]any {
	result := make([]map[string]any, 0, len(messages))

	for _, msg := range messages {
		m := map[string]any{"role": string(msg.Role)}

		if msg.IsTextOnly() {
			if text := msg.Text(); text != "" || msg.Role != llm.RoleAssistant {
				m["content"] = text
			}
		} else {
			m["content"] = convertParts(msg.Content)
		}

		if msg.Name != "" {
			m["name"] = msg.Name
		}

		if msg.Role == llm.RoleAssistant && len(msg.ToolCalls) > 0 {
			m["tool_calls"] = convertToolCalls(msg.ToolCalls)
			if m["content"] == nil {
				m["content"] = ""
			}
		}

		if msg.Role == llm.RoleTool {
			m["tool_call_id"] = msg.ToolCallID
		}

		result = append(result, m)
	}

	return result
}

func convertParts(blocks []llm.MessageBlock) []map[string]any {
	parts := make([]map[string]any, 0, len(blocks))
	for _, block := range blocks {
		switch b := block.(type) {
		case *llm.TextBlock:
			parts = append(parts, map[string]any{"type": "text", "text": b.Text})
		case *llm.ImageURLBlock:
			img := map[string]any{"url": b.URL}
			if b.Detail != "" {
				img["detail"] = b.Detail
			}
			parts = append(parts, map[string]any{"type": "image_url", "image_url": img})
		case *llm.ImageBlock:
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": b.DataURL()},
			})
		}
	}
	return parts
}

// convertToolCalls 工具调用（OpenAI 格式）
//
// 结构：{"id": "...", "type": "function", "function": {"name": "...", "arguments": "..."}}
func convertToolCalls(calls []llm.ToolCall) []map[string]any {
	result := make([]map[string]any, 0, len(calls))
	for _, tc := range calls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		result = append(result, map[string]any{
			"id":   tc.ID,
			"type": "function",
			"function": map[string]any{
				"name":      tc.Function.Name,
				"arguments": args,
			},
		})
	}
	return result
}

// ConvertTools 转换工具定义
func ConvertTools(tools []llm.Tool) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		fn := map[string]any{"name": tool.Function.Name}
		if tool.Function.Description != "" {
			fn["description"] = tool.Function.Description
		}
		if tool.Function.Parameters != nil {
			fn["parameters"] = tool.Function.Parameters
		}
		result = append(result, map[string]any{"type": "function", "function": fn})
	}
	return result
}

// ConvertToolChoice 转换工具选择策略
func ConvertToolChoice(choice *llm.ToolChoice) any {
	if choice.Mode == llm.ToolChoiceModeFunction {
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice.Function},
		}
	}
	return string(choice.Mode)
}

// ═══════════════════════════════════════════════════════════════════════════
// ParseResponse - 解析非流式响应
// ═══════════════════════════════════════════════════════════════════════════

// chatCompletion OpenAI 非流式响应
type chatCompletion struct {
	ID                string       `json:"id"`
	Object            string       `json:"object"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	Choices           []wireChoice `json:"choices"`
	Usage             *wireUsage   `json:"usage"`
	SystemFingerprint string       `json:"system_fingerprint"`
	Error             *wireError   `json:"error"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	Delta        wireMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type wireMessage struct {
	Role             string         `json:"role"`
	Content          string         `json:"content"`
	ReasoningContent string         `json:"reasoning_content"`
	Reasoning        string         `json:"reasoning"`
	ToolCalls        []wireToolCall `json:"tool_calls"`
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
	PromptTokens          int `json:"prompt_tokens"`
	CompletionTokens      int `json:"completion_tokens"`
	TotalTokens           int `json:"total_tokens"`
	PromptCacheHitTokens  int `json:"prompt_cache_hit_tokens"`
	PromptCacheMissTokens int `json:"prompt_cache_miss_tokens"`

	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// ParseResponse 实现 core.Adapter 接口
//
// 响应格式：
//
//	{
//	  "id": "chatcmpl-123",
//	  "choices": [{
//	    "message": {"content": "...", "tool_calls": [{"function": {"arguments": "{...}"}}]},
//	    "finish_reason": "stop"
//	  }],
//	  "usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
//	}
//
// 部分厂商（智谱等）在 HTTP 200 的响应体中返回 error 对象，此时返回 APIError。
func (a *Adapter) ParseResponse(body []byte) (*llm.ChatResponse, error) {
	if a.envelope {
		if err := envelopeError(body); err != nil {
			return nil, err
		}
	}
	var resp chatCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError("response", string(body), err)
	}
	if resp.Error != nil && len(resp.Choices) == 0 {
		return nil, bodyError(resp.Error, body)
	}

	choices := make([]llm.Choice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		msg := llm.NewAssistantMessage(c.Message.Content)
		if c.Message.Role != "" {
			msg.Role = llm.Role(c.Message.Role)
		}
		msg.ReasoningContent = c.Message.ReasoningContent
		msg.Reasoning = c.Message.Reasoning
		for i, tc := range c.Message.ToolCalls {
			typ := tc.Type
			if typ == "" {
				typ = "function"
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				Index:    i,
				ID:       tc.ID,
				Type:     typ,
				Function: llm.FunctionCall{Name: tc.Function.Name, Arguments: ArgumentsString(tc.Function.Arguments)},
			})
		}
		choices = append(choices, llm.Choice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: core.NormalizeFinishReason(c.FinishReason),
		})
	}

	out := llm.NewChatResponse(resp.ID, resp.Model, resp.Created, choices, convertUsage(resp.Usage))
	out.SystemFingerprint = resp.SystemFingerprint
	return out, nil
}

// convertUsage 解析 Token 使用量
//
// 字段名：
//   - prompt_tokens, completion_tokens, total_tokens
//   - completion_tokens_details.reasoning_tokens
//   - prompt_tokens_details.cached_tokens
//   - prompt_cache_hit_tokens, prompt_cache_miss_tokens (DeepSeek)
func convertUsage(u *wireUsage) *llm.Usage {
	if u == nil {
		return nil
	}
	usage := &llm.Usage{
		PromptTokens:          u.PromptTokens,
		CompletionTokens:      u.CompletionTokens,
		TotalTokens:           u.TotalTokens,
		PromptCacheHitTokens:  u.PromptCacheHitTokens,
		PromptCacheMissTokens: u.PromptCacheMissTokens,
	}
	if u.CompletionTokensDetails != nil {
		usage.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	if u.PromptTokensDetails != nil {
		usage.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// ArgumentsString 将 arguments 统一为 JSON 字符串
//
// 标准格式是 JSON 字符串；少数兼容厂商直接返回 JSON 对象。
func ArgumentsString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func bodyError(e *wireError, body []byte) *llm.APIError {
	code := core.GetString(e.Code)
	if code == "" {
		code = fmt.Sprint(core.GetInt64(e.Code))
		if code == "0" {
			code = e.Type
		}
	}
	kind := llm.ErrKindAPI
	if core.IsContextLengthMessage(e.Message) || code == "context_length_exceeded" {
		kind = llm.ErrKindContextLength
	}
	return llm.NewAPIError(kind, http.StatusOK, e.Message, string(body)).WithErrorCode(code)
}

// envelopeError 解析 {success, code, msg} 错误信封，不是错误时返回 nil
func envelopeError(body []byte) *llm.APIError {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	success, hasSuccess := raw["success"].(bool)
	code := core.GetInt64(raw["code"])
	_, hasChoices := raw["choices"]
	if !(hasSuccess && !success) && (code == 0 || hasChoices) {
		return nil
	}

	kind := llm.ErrKindAPI
	if code >= 400 && code < 600 {
		kind = llm.KindFromStatus(int(code))
	}
	msg := core.ExtractErrorMessage(body)
	if msg == "" {
		msg = "error envelope in successful response"
	}
	if core.IsContextLengthMessage(msg) {
		kind = llm.ErrKindContextLength
	}
	apiErr := llm.NewAPIError(kind, http.StatusOK, msg, string(body))
	if code != 0 {
		apiErr = apiErr.WithErrorCode(fmt.Sprint(code))
	}
	return apiErr
}

// ═══════════════════════════════════════════════════════════════════════════
// 模型列表
// ═══════════════════════════════════════════════════════════════════════════

// ModelsRequest 实现 core.ModelLister 接口
func (a *Adapter) ModelsRequest() (*core.HTTPRequest, error) {
	if a.noModels {
		return nil, llm.NewUnsupportedError("openai-compatible", "model listing")
	}
	return &core.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/models",
		Headers: a.headers(false),
	}, nil
}

// ParseModels 实现 core.ModelLister 接口
//
//	{"object": "list", "data": [{"id": "gpt-4o", "object": "model"}]}
func (a *Adapter) ParseModels(body []byte) ([]string, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError("models", string(body), err)
	}
	models := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// NewChunkParser 实现 core.Adapter 接口
func (a *Adapter) NewChunkParser() core.ChunkParser {
	return NewChunkParser()
}

var (
	_ core.Adapter     = (*Adapter)(nil)
	_ core.ModelLister = (*Adapter)(nil)
)
