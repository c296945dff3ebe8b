// Package ollama 实现 Ollama 本地服务的 /api/chat 协议
//
// 与其他厂商的区别：
//   - 流式是 NDJSON（每行一个完整 JSON），最后一行 "done": true 携带用量
//   - 工具参数是 JSON 对象，且没有调用 ID（由解析器生成）
//   - 图片以 Base64 列表放在消息的 images 字段
//   - 不需要 API Key
package ollama

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/openai"
)

// ═══════════════════════════════════════════════════════════════════════════
// Ollama 协议适配器
// ═══════════════════════════════════════════════════════════════════════════

// Adapter Ollama 协议适配器
//
// 实现 core.Adapter、core.ModelLister、core.ErrorMapper 与 core.ConnectionErrorHinter。
type Adapter struct {
	apiKey string
}

// NewAdapter 创建 Ollama 协议适配器
//
// apiKey 可为空；通过反向代理暴露的 Ollama 可以用它做 Bearer 认证。
func NewAdapter(apiKey string) *Adapter {
	return &Adapter{apiKey: apiKey}
}

// BuildRequest 实现 core.Adapter 接口
//
//	POST {base_url}/api/chat
//	{"model": "llama3.2", "messages": [...], "stream": true, "options": {"num_predict": 256}}
func (a *Adapter) BuildRequest(req *llm.ChatRequest, stream bool) (*core.HTTPRequest, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": ConvertMessages(req.Messages),
		"stream":   stream,
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}
	if req.PresencePenalty != nil {
		options["presence_penalty"] = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		options["frequency_penalty"] = *req.FrequencyPenalty
	}
	if len(options) > 0 {
		body["options"] = options
	}

	if len(req.Tools) > 0 {
		body["tools"] = openai.ConvertTools(req.Tools)
	}
	if req.EnableThinking != nil {
		body["think"] = *req.EnableThinking
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_schema":
			body["format"] = rf.Schema
		case "json_object":
			body["format"] = "json"
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewRequestError("marshal", err)
	}
	return &core.HTTPRequest{
		Method:  http.MethodPost,
		Path:    "/api/chat",
		Headers: a.headers(),
		Body:    data,
	}, nil
}

func (a *Adapter) headers() map[string]string {
	h := map[string]string{}
	if a.apiKey != "" {
		h["Authorization"] = "Bearer " + a.apiKey
	}
	return h
}

// ConvertMessages 将统一消息转换为 Ollama 格式
//
//	{"role": "user", "content": "这是什么", "images": ["iVBOR..."]}
//	{"role": "assistant", "content": "", "tool_calls": [{"function": {"name": "f", "arguments": {...}}}]}
//	{"role": "tool", "content": "...", "tool_name": "f"}
//
// 图片只支持 Base64（含 data URL）；远程 URL 被忽略。
func ConvertMessages(messages []llm.Message) []map[string]any {
	// tool 消息需要函数名，从前面的 assistant 工具调用中查找
	names := make(map[string]string)

	result := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		m := map[string]any{
			"role":    string(msg.Role),
			"content": msg.Text(),
		}

		var images []string
		for _, block := range msg.Content {
			switch b := block.(type) {
			case *llm.ImageBlock:
				images = append(images, b.Data)
			case *llm.ImageURLBlock:
				if _, data, ok := core.ParseDataURL(b.URL); ok {
					images = append(images, data)
				}
			}
		}
		if len(images) > 0 {
			m["images"] = images
		}

		if len(msg.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names[tc.ID] = tc.Function.Name
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				}
				calls = append(calls, map[string]any{
					"function": map[string]any{"name": tc.Function.Name, "arguments": args},
				})
			}
			m["tool_calls"] = calls
		}

		if msg.Role == llm.RoleTool {
			if name := names[msg.ToolCallID]; name != "" {
				m["tool_name"] = name
			}
		}

		result = append(result, m)
	}
	return result
}

// ═══════════════════════════════════════════════════════════════════════════
// ParseResponse - 解析响应
// ═══════════════════════════════════════════════════════════════════════════

// chatResponse /api/chat 响应（非流式整体，流式每一行）
type chatResponse struct {
	Model           string      `json:"model"`
	CreatedAt       string      `json:"created_at"`
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error"`
}

type wireMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Thinking  string `json:"thinking"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Function struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

// ParseResponse 实现 core.Adapter 接口
//
//	{
//	  "model": "llama3.2",
//	  "created_at": "2024-01-01T00:00:00Z",
//	  "message": {"role": "assistant", "content": "Hello!"},
//	  "done": true,
//	  "done_reason": "stop",
//	  "prompt_eval_count": 26,
//	  "eval_count": 20
//	}
func (a *Adapter) ParseResponse(body []byte) (*llm.ChatResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError("response", string(body), err)
	}
	if resp.Error != "" {
		return nil, llm.NewAPIError(llm.ErrKindAPI, http.StatusOK, resp.Error, string(body))
	}

	msg := llm.NewAssistantMessage(resp.Message.Content)
	msg.Thinking = resp.Message.Thinking
	msg.ToolCalls = convertToolCalls(resp.Message, 0)

	finish := finishReason(resp, len(msg.ToolCalls) > 0)
	choice := llm.Choice{Index: 0, Message: msg, FinishReason: finish}

	return llm.NewChatResponse(
		NewResponseID(),
		resp.Model,
		createdAt(resp.CreatedAt),
		[]llm.Choice{choice},
		convertUsage(resp),
	), nil
}

// NewResponseID 生成响应 ID（Ollama 不返回 ID）
func NewResponseID() string {
	return "chatcmpl-" + uuid.NewString()
}

// newToolCallID 生成工具调用 ID
func newToolCallID() string {
	return "call_" + uuid.NewString()
}

// convertToolCalls 转换工具调用，index 从 offset 开始编号
func convertToolCalls(m wireMessage, offset int) []llm.ToolCall {
	if len(m.ToolCalls) == 0 {
		return nil
	}
	calls := make([]llm.ToolCall, 0, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		id := tc.ID
		if id == "" {
			id = newToolCallID()
		}
		args := openai.ArgumentsString(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		calls = append(calls, llm.ToolCall{
			Index:    offset + i,
			ID:       id,
			Type:     "function",
			Function: llm.FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	return calls
}

// finishReason done_reason 映射；产生了工具调用时统一为 tool_calls
func finishReason(resp chatResponse, hasTools bool) string {
	if !resp.Done {
		return ""
	}
	if hasTools {
		return llm.FinishReasonToolCalls
	}
	if resp.DoneReason == "" {
		return llm.FinishReasonStop
	}
	return core.NormalizeFinishReason(resp.DoneReason)
}

// convertUsage prompt_eval_count / eval_count 只在最后一行出现
func convertUsage(resp chatResponse) *llm.Usage {
	if !resp.Done || (resp.PromptEvalCount == 0 && resp.EvalCount == 0) {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
}

func createdAt(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// ═══════════════════════════════════════════════════════════════════════════
// 错误映射
// ═══════════════════════════════════════════════════════════════════════════

// MapError 实现 core.ErrorMapper 接口
//
// 错误体：{"error": "model \"llama9\" not found, try pulling it first"}
func (a *Adapter) MapError(status int, header http.Header, body []byte) error {
	apiErr := core.DefaultErrorMapper(status, header, body)
	if status == http.StatusNotFound {
		return llm.NewAPIError(llm.ErrKindNotFound, status,
			"model not found, pull it first with 'ollama pull <model>'", apiErr.Body)
	}
	return apiErr
}

// ConnectionHint 实现 core.ConnectionErrorHinter 接口
func (a *Adapter) ConnectionHint() string {
	return "cannot connect to Ollama server. Is it running on localhost:11434?"
}

// ═══════════════════════════════════════════════════════════════════════════
// 模型列表与模型管理
// ═══════════════════════════════════════════════════════════════════════════

// ModelsRequest 实现 core.ModelLister 接口
func (a *Adapter) ModelsRequest() (*core.HTTPRequest, error) {
	return &core.HTTPRequest{Method: http.MethodGet, Path: "/api/tags", Headers: a.headers()}, nil
}

// ParseModels 实现 core.ModelLister 接口
//
//	{"models": [{"name": "llama3.2:latest", "size": 2019393189}]}
func (a *Adapter) ParseModels(body []byte) ([]string, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError("models", string(body), err)
	}
	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// PullRequest 构建拉取模型请求（等待拉取完成，不流式返回进度）
func (a *Adapter) PullRequest(model string) (*core.HTTPRequest, error) {
	return a.modelRequest(http.MethodPost, "/api/pull", map[string]any{"model": model, "stream": false})
}

// DeleteRequest 构建删除模型请求
func (a *Adapter) DeleteRequest(model string) (*core.HTTPRequest, error) {
	return a.modelRequest(http.MethodDelete, "/api/delete", map[string]any{"model": model})
}

// ShowRequest 构建查询模型信息请求
func (a *Adapter) ShowRequest(model string) (*core.HTTPRequest, error) {
	return a.modelRequest(http.MethodPost, "/api/show", map[string]any{"model": model})
}

func (a *Adapter) modelRequest(method, path string, body map[string]any) (*core.HTTPRequest, error) {
	if body["model"] == "" {
		return nil, llm.NewInvalidRequestError("model is required")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewRequestError("marshal", err)
	}
	return &core.HTTPRequest{Method: method, Path: path, Headers: a.headers(), Body: data}, nil
}

// ModelInfo /api/show 返回的模型信息
type ModelInfo struct {
	Modelfile  string         `json:"modelfile"`
	Parameters string         `json:"parameters"`
	Template   string         `json:"template"`
	Details    ModelDetails   `json:"details"`
	ModelInfo  map[string]any `json:"model_info,omitempty"`
}

// ModelDetails 模型概要
type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// ParseShow 解析 /api/show 响应
func (a *Adapter) ParseShow(body []byte) (*ModelInfo, error) {
	var info ModelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, llm.NewParseError("model info", string(body), err)
	}
	return &info, nil
}

// ParseStatus 解析 /api/pull 的完成状态
//
//	{"status": "success"}
func (a *Adapter) ParseStatus(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return llm.NewParseError("status", string(body), err)
	}
	if resp.Error != "" {
		return llm.NewAPIError(llm.ErrKindAPI, http.StatusOK, resp.Error, string(body))
	}
	if resp.Status != "" && resp.Status != "success" {
		return llm.NewAPIError(llm.ErrKindAPI, http.StatusOK, fmt.Sprintf("unexpected status %q", resp.Status), string(body))
	}
	return nil
}

// NewChunkParser 实现 core.Adapter 接口
func (a *Adapter) NewChunkParser() core.ChunkParser {
	return NewChunkParser()
}

var (
	_ core.Adapter               = (*Adapter)(nil)
	_ core.ModelLister           = (*Adapter)(nil)
	_ core.ErrorMapper           = (*Adapter)(nil)
	_ core.ConnectionErrorHinter = (*Adapter)(nil)
)
