package anthropic

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// ═══════════════════════════════════════════════════════════════════════════
// Anthropic 协议适配器
// ═══════════════════════════════════════════════════════════════════════════

const (
	// DefaultVersion anthropic-version 请求头
	DefaultVersion = "2023-06-01"

	// DefaultMaxTokens Anthropic 要求必填 max_tokens
	DefaultMaxTokens = 1024

	// DefaultThinkingBudget 开启思考但未指定预算时使用的 budget_tokens
	DefaultThinkingBudget = 1024

	// thinkingHeadroom max_tokens 不大于思考预算时追加的输出空间
	thinkingHeadroom = 4096
)

// Adapter Anthropic 协议适配器
//
// 实现 core.Adapter 接口，覆盖 Anthropic 官方 API 与 LongCat 等兼容端点。
//
// 关键协议差异：
//  1. 内容数组：使用 content 数组承载所有内容块
//  2. 工具参数：直接传递对象（无需序列化为 JSON 字符串）
//  3. 工具结果：折叠进 user 消息的 tool_result 块
//  4. 系统消息：独立的 system 参数（SystemSeparate）
//  5. Token 字段名：input_tokens, output_tokens（无 total_tokens）
type Adapter struct {
	apiKey  string
	bearer  bool
	version string
}

// Option 适配器选项
type Option func(*Adapter)

// WithBearerAuth 使用 Authorization: Bearer 认证（LongCat）
func WithBearerAuth() Option {
	return func(a *Adapter) { a.bearer = true }
}

// WithVersion 覆盖 anthropic-version 请求头
func WithVersion(version string) Option {
	return func(a *Adapter) {
		if version != "" {
			a.version = version
		}
	}
}

// NewAdapter 创建 Anthropic 协议适配器
func NewAdapter(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{apiKey: apiKey, version: DefaultVersion}
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
//	POST {base_url}/v1/messages
//	x-api-key: <key>
//	anthropic-version: 2023-06-01
//	{"model": "...", "max_tokens": 1024, "system": "...", "messages": [...]}
func (a *Adapter) BuildRequest(req *llm.ChatRequest, stream bool) (*core.HTTPRequest, error) {
	system, rest := core.SplitSystem(req.Messages, core.SystemSeparate)

	body := map[string]any{
		"model":    req.Model,
		"messages": ConvertMessages(rest),
		"stream":   stream,
	}
	if system != "" {
		body["system"] = system
	}

	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	thinking := req.ThinkingEnabled()
	if thinking {
		budget := DefaultThinkingBudget
		if req.ThinkingBudget != nil && *req.ThinkingBudget > 0 {
			budget = *req.ThinkingBudget
		}
		if maxTokens <= budget {
			maxTokens = budget + thinkingHeadroom
		}
		body["thinking"] = map[string]any{"type": "enabled", "budget_tokens": budget}
	} else {
		// 开启思考时 Anthropic 只接受默认温度
		if req.Temperature != nil {
			body["temperature"] = *req.Temperature
		}
		if req.TopP != nil {
			body["top_p"] = *req.TopP
		}
	}
	body["max_tokens"] = maxTokens

	if len(req.Stop) > 0 {
		body["stop_sequences"] = req.Stop
	}
	if len(req.Tools) > 0 {
		body["tools"] = ConvertTools(req.Tools)
		if req.ToolChoice != nil {
			body["tool_choice"] = ConvertToolChoice(req.ToolChoice)
		}
	}
	if req.User != "" {
		body["metadata"] = map[string]any{"user_id": req.User}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewRequestError("marshal", err)
	}
	return &core.HTTPRequest{
		Method:  http.MethodPost,
		Path:    "/v1/messages",
		Headers: a.headers(stream),
		Body:    data,
	}, nil
}

func (a *Adapter) headers(stream bool) map[string]string {
	h := map[string]string{"anthropic-version": a.version}
	if a.apiKey != "" {
		if a.bearer {
			h["Authorization"] = "Bearer " + a.apiKey
		} else {
			h["x-api-key"] = a.apiKey
		}
	}
	if stream {
		h["Accept"] = "text/event-stream"
	}
	return h
}

// ═══════════════════════════════════════════════════════════════════════════
// 消息转换
// ═══════════════════════════════════════════════════════════════════════════

// ConvertMessages 将统一消息转换为 Anthropic 格式
//
// Anthropic 协议要求：
//   - 使用 content 数组承载所有内容块
//   - 工具参数直接传递对象
//   - 工具结果是 user 消息中的 tool_result 块
//   - 同角色的相邻消息合并为一条（user/assistant 必须交替）
//   - content 数组必须非空
func ConvertMessages(messages []llm.Message) []map[string]any {
	result := make([]map[string]any, 0, len(messages))

	for _, msg := range messages {
		role := msg.Role
		var content []map[string]any

		switch msg.Role {
		case llm.RoleTool:
			role = llm.RoleUser
			content = append(content, map[string]any{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     msg.Text(),
			})
		case llm.RoleAssistant:
			content = convertBlocks(msg.Content)
			for _, tc := range msg.ToolCalls {
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Function.Name,
					"input": toolInput(tc.Function.Arguments),
				})
			}
		default:
			role = llm.RoleUser
			content = convertBlocks(msg.Content)
		}

		if len(content) == 0 {
			continue
		}

		if n := len(result); n > 0 && result[n-1]["role"] == string(role) {
			prev := result[n-1]["content"].([]map[string]any)
			result[n-1]["content"] = append(prev, content...)
			continue
		}
		result = append(result, map[string]any{"role": string(role), "content": content})
	}

	return result
}

func convertBlocks(blocks []llm.MessageBlock) []map[string]any {
	var content []map[string]any
	for _, block := range blocks {
		switch b := block.(type) {
		case *llm.TextBlock:
			if b.Text == "" {
				continue
			}
			content = append(content, map[string]any{"type": "text", "text": b.Text})
		case *llm.ImageURLBlock:
			source := map[string]any{"type": "url", "url": b.URL}
			if mediaType, data, ok := core.ParseDataURL(b.URL); ok {
				source = map[string]any{"type": "base64", "media_type": mediaType, "data": data}
			}
			content = append(content, map[string]any{"type": "image", "source": source})
		case *llm.ImageBlock:
			content = append(content, map[string]any{
				"type":   "image",
				"source": map[string]any{"type": "base64", "media_type": b.MediaType, "data": b.Data},
			})
		}
	}
	return content
}

// toolInput 将 JSON 字符串参数还原为对象
func toolInput(arguments string) any {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}
	}
	var input any
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		return map[string]any{}
	}
	return input
}

// ConvertTools 转换工具定义
//
//	{"name": "...", "description": "...", "input_schema": {...}}
func ConvertTools(tools []llm.Tool) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		schema := tool.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		t := map[string]any{"name": tool.Function.Name, "input_schema": schema}
		if tool.Function.Description != "" {
			t["description"] = tool.Function.Description
		}
		result = append(result, t)
	}
	return result
}

// ConvertToolChoice 转换工具选择策略
//
// required 对应 Anthropic 的 any。
func ConvertToolChoice(choice *llm.ToolChoice) map[string]any {
	switch choice.Mode {
	case llm.ToolChoiceModeNone:
		return map[string]any{"type": "none"}
	case llm.ToolChoiceModeRequired:
		return map[string]any{"type": "any"}
	case llm.ToolChoiceModeFunction:
		return map[string]any{"type": "tool", "name": choice.Function}
	default:
		return map[string]any{"type": "auto"}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ParseResponse - 解析非流式响应
// ═══════════════════════════════════════════════════════════════════════════

// ParseResponse 实现 core.Adapter 接口
//
// 响应格式：
//
//	{
//	  "id": "msg_...",
//	  "content": [
//	    {"type": "thinking", "thinking": "..."},
//	    {"type": "text", "text": "..."},
//	    {"type": "tool_use", "id": "...", "name": "...", "input": {...}}
//	  ],
//	  "stop_reason": "end_turn",
//	  "usage": {"input_tokens": 10, "output_tokens": 20}
//	}
func (a *Adapter) ParseResponse(body []byte) (*llm.ChatResponse, error) {
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError("response", string(body), err)
	}
	if e := core.GetMap(resp["error"]); e != nil && resp["content"] == nil {
		return nil, streamError(e, body)
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	var text, thinking strings.Builder

	for _, item := range core.GetSlice(resp["content"]) {
		block := core.GetMap(item)
		if block == nil {
			continue
		}
		switch core.GetString(block["type"]) {
		case "text":
			text.WriteString(core.GetString(block["text"]))
		case "thinking":
			thinking.WriteString(core.GetString(block["thinking"]))
		case "tool_use":
			args := "{}"
			if input, ok := block["input"]; ok && input != nil {
				if data, err := json.Marshal(input); err == nil {
					args = string(data)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				Index:    len(msg.ToolCalls),
				ID:       core.GetString(block["id"]),
				Type:     "function",
				Function: llm.FunctionCall{Name: core.GetString(block["name"]), Arguments: args},
			})
		}
	}
	if text.Len() > 0 {
		msg.Content = []llm.MessageBlock{llm.Text(text.String())}
	}
	msg.Thinking = thinking.String()

	choice := llm.Choice{
		Index:        0,
		Message:      msg,
		FinishReason: core.NormalizeFinishReason(core.GetString(resp["stop_reason"])),
	}

	var usage *llm.Usage
	if u := core.GetMap(resp["usage"]); u != nil {
		usage = convertUsage(u)
	}

	return llm.NewChatResponse(
		core.GetString(resp["id"]),
		core.GetString(resp["model"]),
		0,
		[]llm.Choice{choice},
		usage,
	), nil
}

// convertUsage 解析 Token 使用量
//
// 字段名：input_tokens, output_tokens, cache_read_input_tokens, cache_creation_input_tokens
func convertUsage(u map[string]any) *llm.Usage {
	usage := &llm.Usage{
		PromptTokens:        core.GetInt(u["input_tokens"]),
		CompletionTokens:    core.GetInt(u["output_tokens"]),
		CachedTokens:        core.GetInt(u["cache_read_input_tokens"]),
		CacheCreationTokens: core.GetInt(u["cache_creation_input_tokens"]),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

// ═══════════════════════════════════════════════════════════════════════════
// 错误映射
// ═══════════════════════════════════════════════════════════════════════════

// MapError 实现 core.ErrorMapper 接口
//
// 错误体：{"type": "error", "error": {"type": "invalid_request_error", "message": "..."}}
//
// invalid_request_error 且消息提到 too long / maximum / context 时归为上下文超长。
func (a *Adapter) MapError(status int, header http.Header, body []byte) error {
	apiErr := core.DefaultErrorMapper(status, header, body)
	if id := header.Get("Request-Id"); id != "" {
		apiErr = apiErr.WithRequestID(id)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}
	e := core.GetMap(payload["error"])
	if e == nil {
		return apiErr
	}
	if isContextLength(core.GetString(e["type"]), core.GetString(e["message"])) {
		apiErr = apiErr.WithKind(llm.ErrKindContextLength)
	}
	return apiErr
}

func isContextLength(errType, message string) bool {
	if errType != "invalid_request_error" {
		return false
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "too long") ||
		strings.Contains(lower, "maximum") ||
		strings.Contains(lower, "context")
}

// streamError 将错误对象转换为 APIError
//
// 流内错误事件：{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}
func streamError(e map[string]any, raw []byte) *llm.APIError {
	errType := core.GetString(e["type"])
	message := core.GetString(e["message"])

	kind := llm.ErrKindAPI
	switch errType {
	case "overloaded_error", "api_error":
		kind = llm.ErrKindServer
	case "rate_limit_error":
		kind = llm.ErrKindRateLimit
	case "authentication_error":
		kind = llm.ErrKindAuthentication
	case "permission_error":
		kind = llm.ErrKindPermission
	case "not_found_error":
		kind = llm.ErrKindNotFound
	case "invalid_request_error":
		kind = llm.ErrKindInvalidRequest
		if isContextLength(errType, message) {
			kind = llm.ErrKindContextLength
		}
	}
	return llm.NewAPIError(kind, http.StatusOK, message, string(raw)).WithErrorCode(errType)
}

// ═══════════════════════════════════════════════════════════════════════════
// 模型列表
// ═══════════════════════════════════════════════════════════════════════════

// ModelsRequest 实现 core.ModelLister 接口
func (a *Adapter) ModelsRequest() (*core.HTTPRequest, error) {
	return &core.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/v1/models",
		Headers: a.headers(false),
	}, nil
}

// ParseModels 实现 core.ModelLister 接口
//
//	{"data": [{"id": "claude-sonnet-4-5", "type": "model"}], "has_more": false}
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
	_ core.ErrorMapper = (*Adapter)(nil)
	_ core.ModelLister = (*Adapter)(nil)
)
