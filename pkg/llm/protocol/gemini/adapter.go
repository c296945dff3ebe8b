// Package gemini 实现 Google Gemini generateContent 协议
//
// 模型名出现在路径中（/models/{model}:generateContent），流式使用
// :streamGenerateContent?alt=sse。认证使用 x-goog-api-key 请求头。
// Gemini 不返回工具调用 ID，解析时生成；工具结果按 ID 回查函数名。
package gemini

import (
	"encoding/json"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// ═══════════════════════════════════════════════════════════════════════════
// Gemini 协议适配器
// ═══════════════════════════════════════════════════════════════════════════

// Adapter Gemini 协议适配器
//
// 关键协议差异：
//  1. 内容格式：contents[{role, parts[]}]，assistant 映射为 model
//  2. 工具参数：functionCall.args 是对象
//  3. 工具结果：user 角色中的 functionResponse part，以函数名关联
//  4. 系统消息：独立的 systemInstruction（SystemSeparate）
//  5. 采样参数集中在 generationConfig
//  6. Token 字段名：promptTokenCount, candidatesTokenCount, thoughtsTokenCount
type Adapter struct {
	apiKey string
}

// NewAdapter 创建 Gemini 协议适配器
func NewAdapter(apiKey string) *Adapter {
	return &Adapter{apiKey: apiKey}
}

// ═══════════════════════════════════════════════════════════════════════════
// BuildRequest - 构建请求
// ═══════════════════════════════════════════════════════════════════════════

// BuildRequest 实现 core.Adapter 接口
//
//	POST {base_url}/models/{model}:generateContent
//	POST {base_url}/models/{model}:streamGenerateContent?alt=sse   (流式)
//	x-goog-api-key: <key>
//	{"contents": [...], "systemInstruction": {...}, "generationConfig": {...}}
func (a *Adapter) BuildRequest(req *llm.ChatRequest, stream bool) (*core.HTTPRequest, error) {
	system, rest := core.SplitSystem(req.Messages, core.SystemSeparate)

	body := map[string]any{"contents": ConvertMessages(rest)}
	if system != "" {
		body["systemInstruction"] = map[string]any{"parts": []map[string]any{{"text": system}}}
	}
	if cfg := generationConfig(req); len(cfg) > 0 {
		body["generationConfig"] = cfg
	}
	if len(req.Tools) > 0 {
		body["tools"] = []map[string]any{{"functionDeclarations": ConvertTools(req.Tools)}}
		if req.ToolChoice != nil {
			body["toolConfig"] = map[string]any{"functionCallingConfig": ConvertToolChoice(req.ToolChoice)}
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewRequestError("marshal", err)
	}

	model := strings.TrimPrefix(req.Model, "models/")
	p := "/models/" + model + ":generateContent"
	if stream {
		p = "/models/" + model + ":streamGenerateContent?alt=sse"
	}
	return &core.HTTPRequest{
		Method:  http.MethodPost,
		Path:    p,
		Headers: a.headers(stream),
		Body:    data,
	}, nil
}

func generationConfig(req *llm.ChatRequest) map[string]any {
	cfg := map[string]any{}
	if req.Temperature != nil {
		cfg["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		cfg["topP"] = *req.TopP
	}
	if req.MaxTokens != nil {
		cfg["maxOutputTokens"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		cfg["stopSequences"] = req.Stop
	}
	if req.PresencePenalty != nil {
		cfg["presencePenalty"] = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		cfg["frequencyPenalty"] = *req.FrequencyPenalty
	}

	if req.EnableThinking != nil || req.ThinkingBudget != nil {
		thinking := map[string]any{"includeThoughts": req.ThinkingEnabled()}
		if req.ThinkingBudget != nil {
			thinking["thinkingBudget"] = *req.ThinkingBudget
		} else if !req.ThinkingEnabled() {
			thinking["thinkingBudget"] = 0
		}
		cfg["thinkingConfig"] = thinking
	}

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			cfg["responseMimeType"] = "application/json"
		case "json_schema":
			cfg["responseMimeType"] = "application/json"
			if rf.Schema != nil {
				cfg["responseSchema"] = rf.Schema
			}
		}
	}
	return cfg
}

func (a *Adapter) headers(stream bool) map[string]string {
	h := map[string]string{}
	if a.apiKey != "" {
		h["x-goog-api-key"] = a.apiKey
	}
	if stream {
		h["Accept"] = "text/event-stream"
	}
	return h
}

// ═══════════════════════════════════════════════════════════════════════════
// 消息转换
// ═══════════════════════════════════════════════════════════════════════════

// ConvertMessages 将统一消息转换为 Gemini contents
//
//   - assistant → model，工具调用为 functionCall part
//   - tool → user 中的 functionResponse part，函数名按 ToolCallID 从之前的调用中查找
//   - 相邻同角色消息合并，空消息跳过
func ConvertMessages(messages []llm.Message) []map[string]any {
	names := make(map[string]string)
	result := make([]map[string]any, 0, len(messages))

	for _, msg := range messages {
		role := "user"
		var parts []map[string]any

		switch msg.Role {
		case llm.RoleAssistant:
			role = "model"
			parts = convertBlocks(msg.Content)
			for _, tc := range msg.ToolCalls {
				names[tc.ID] = tc.Function.Name
				parts = append(parts, map[string]any{"functionCall": map[string]any{
					"name": tc.Function.Name,
					"args": toolArgs(tc.Function.Arguments),
				}})
			}
		case llm.RoleTool:
			name := names[msg.ToolCallID]
			if name == "" {
				name = msg.Name
			}
			if name == "" {
				name = msg.ToolCallID
			}
			parts = append(parts, map[string]any{"functionResponse": map[string]any{
				"name":     name,
				"response": map[string]any{"content": msg.Text()},
			}})
		default:
			parts = convertBlocks(msg.Content)
		}

		if len(parts) == 0 {
			continue
		}
		if n := len(result); n > 0 && result[n-1]["role"] == role {
			prev := result[n-1]["parts"].([]map[string]any)
			result[n-1]["parts"] = append(prev, parts...)
			continue
		}
		result = append(result, map[string]any{"role": role, "parts": parts})
	}
	return result
}

func convertBlocks(blocks []llm.MessageBlock) []map[string]any {
	var parts []map[string]any
	for _, block := range blocks {
		switch b := block.(type) {
		case *llm.TextBlock:
			if b.Text != "" {
				parts = append(parts, map[string]any{"text": b.Text})
			}
		case *llm.ImageBlock:
			parts = append(parts, inlineData(b.MediaType, b.Data))
		case *llm.ImageURLBlock:
			if mediaType, data, ok := core.ParseDataURL(b.URL); ok {
				parts = append(parts, inlineData(mediaType, data))
				continue
			}
			file := map[string]any{"fileUri": b.URL}
			if mt := mime.TypeByExtension(path.Ext(b.URL)); mt != "" {
				file["mimeType"] = mt
			}
			parts = append(parts, map[string]any{"fileData": file})
		}
	}
	return parts
}

func inlineData(mediaType, data string) map[string]any {
	return map[string]any{"inlineData": map[string]any{"mimeType": mediaType, "data": data}}
}

// toolArgs 将 JSON 字符串参数还原为对象
func toolArgs(arguments string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		_ = json.Unmarshal([]byte(arguments), &args)
	}
	return args
}

// ConvertTools 转换为 functionDeclarations
func ConvertTools(tools []llm.Tool) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		decl := map[string]any{"name": tool.Function.Name}
		if tool.Function.Description != "" {
			decl["description"] = tool.Function.Description
		}
		if tool.Function.Parameters != nil {
			decl["parameters"] = tool.Function.Parameters
		}
		result = append(result, decl)
	}
	return result
}

// ConvertToolChoice 转换为 functionCallingConfig
//
// required 对应 ANY；指定函数时为 ANY + allowedFunctionNames。
func ConvertToolChoice(choice *llm.ToolChoice) map[string]any {
	switch choice.Mode {
	case llm.ToolChoiceModeNone:
		return map[string]any{"mode": "NONE"}
	case llm.ToolChoiceModeRequired:
		return map[string]any{"mode": "ANY"}
	case llm.ToolChoiceModeFunction:
		return map[string]any{"mode": "ANY", "allowedFunctionNames": []string{choice.Function}}
	default:
		return map[string]any{"mode": "AUTO"}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ParseResponse - 解析非流式响应
// ═══════════════════════════════════════════════════════════════════════════

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata"`
	ModelVersion   string          `json:"modelVersion"`
	ResponseID     string          `json:"responseId"`
	Error          *wireError      `json:"error"`
}

type candidate struct {
	Index        int      `json:"index"`
	Content      *content `json:"content"`
	FinishReason string   `json:"finishReason"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text         string        `json:"text"`
	Thought      bool          `json:"thought"`
	FunctionCall *functionCall `json:"functionCall"`
}

type functionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type usageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ParseResponse 实现 core.Adapter 接口
//
//	{
//	  "candidates": [{
//	    "content": {"role": "model", "parts": [
//	      {"text": "...", "thought": true},
//	      {"text": "..."},
//	      {"functionCall": {"name": "...", "args": {...}}}
//	    ]},
//	    "finishReason": "STOP"
//	  }],
//	  "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 20, "totalTokenCount": 30},
//	  "modelVersion": "gemini-2.5-flash",
//	  "responseId": "..."
//	}
//
// 提示词被拦截（promptFeedback.blockReason）时返回 content_filter 的空选项。
func (a *Adapter) ParseResponse(body []byte) (*llm.ChatResponse, error) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError("response", string(body), err)
	}
	if resp.Error != nil && len(resp.Candidates) == 0 {
		return nil, bodyError(resp.Error, body)
	}

	choices := make([]llm.Choice, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		text, thought, calls := splitParts(c.Content)

		msg := llm.NewAssistantMessage(text)
		msg.Thought = thought
		for i, fc := range calls {
			msg.ToolCalls = append(msg.ToolCalls, convertCall(i, fc))
		}
		choices = append(choices, llm.Choice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: mapFinishReason(c.FinishReason, len(calls) > 0),
		})
	}
	if len(choices) == 0 && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		choices = append(choices, llm.Choice{
			Message:      llm.NewAssistantMessage(""),
			FinishReason: llm.FinishReasonContentFilter,
		})
	}

	return llm.NewChatResponse(resp.ResponseID, resp.ModelVersion, 0, choices, convertUsage(resp.UsageMetadata)), nil
}

// splitParts 拆分 parts 为正文、思考与函数调用
func splitParts(c *content) (text, thought string, calls []functionCall) {
	if c == nil {
		return "", "", nil
	}
	var tb, th strings.Builder
	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			calls = append(calls, *p.FunctionCall)
		case p.Thought:
			th.WriteString(p.Text)
		default:
			tb.WriteString(p.Text)
		}
	}
	return tb.String(), th.String(), calls
}

func convertCall(index int, fc functionCall) llm.ToolCall {
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	args := "{}"
	if raw := strings.TrimSpace(string(fc.Args)); raw != "" && raw != "null" {
		args = raw
	}
	return llm.ToolCall{
		Index:    index,
		ID:       id,
		Type:     "function",
		Function: llm.FunctionCall{Name: fc.Name, Arguments: args},
	}
}

// mapFinishReason 映射 Gemini 完成原因
//
// Gemini 对函数调用同样返回 STOP，有函数调用时改为 tool_calls。
func mapFinishReason(reason string, hasCalls bool) string {
	switch reason {
	case "":
		return ""
	case "STOP":
		if hasCalls {
			return llm.FinishReasonToolCalls
		}
		return llm.FinishReasonStop
	case "MAX_TOKENS":
		return llm.FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return llm.FinishReasonContentFilter
	default:
		return strings.ToLower(reason)
	}
}

// convertUsage 解析 Token 使用量
//
// 思考 token 单独计数，completion_tokens 包含思考部分。
func convertUsage(u *usageMetadata) *llm.Usage {
	if u == nil {
		return nil
	}
	usage := &llm.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
		TotalTokens:      u.TotalTokenCount,
		ReasoningTokens:  u.ThoughtsTokenCount,
		CachedTokens:     u.CachedContentTokenCount,
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
//	{"error": {"code": 400, "message": "API key not valid.", "status": "INVALID_ARGUMENT",
//	           "details": [{"reason": "API_KEY_INVALID"}]}}
//
// 无效 Key 以 400 返回，按 details.reason 归为认证错误。
func (a *Adapter) MapError(status int, header http.Header, body []byte) error {
	apiErr := core.DefaultErrorMapper(status, header, body)

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}
	e := core.GetMap(payload["error"])
	if e == nil {
		return apiErr
	}
	if s := core.GetString(e["status"]); s != "" {
		apiErr = apiErr.WithErrorCode(s)
	}
	for _, d := range core.GetSlice(e["details"]) {
		if core.GetString(core.GetMap(d)["reason"]) == "API_KEY_INVALID" {
			return apiErr.WithKind(llm.ErrKindAuthentication)
		}
	}
	switch core.GetString(e["status"]) {
	case "RESOURCE_EXHAUSTED":
		apiErr = apiErr.WithKind(llm.ErrKindRateLimit)
	case "UNAUTHENTICATED":
		apiErr = apiErr.WithKind(llm.ErrKindAuthentication)
	case "PERMISSION_DENIED":
		apiErr = apiErr.WithKind(llm.ErrKindPermission)
	}
	return apiErr
}

func bodyError(e *wireError, body []byte) *llm.APIError {
	kind := llm.ErrKindAPI
	if e.Code >= 400 {
		kind = llm.KindFromStatus(e.Code)
	}
	if core.IsContextLengthMessage(e.Message) {
		kind = llm.ErrKindContextLength
	}
	apiErr := llm.NewAPIError(kind, http.StatusOK, e.Message, string(body))
	if e.Status != "" {
		apiErr = apiErr.WithErrorCode(e.Status)
	}
	return apiErr
}

// ═══════════════════════════════════════════════════════════════════════════
// 模型列表
// ═══════════════════════════════════════════════════════════════════════════

// ModelsRequest 实现 core.ModelLister 接口
func (a *Adapter) ModelsRequest() (*core.HTTPRequest, error) {
	return &core.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/models",
		Headers: a.headers(false),
	}, nil
}

// ParseModels 实现 core.ModelLister 接口
//
//	{"models": [{"name": "models/gemini-2.5-flash", "displayName": "..."}]}
func (a *Adapter) ParseModels(body []byte) ([]string, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError("models", string(body), err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
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
