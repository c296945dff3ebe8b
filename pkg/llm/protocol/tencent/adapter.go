// Package tencent 实现腾讯混元原生协议（云 API 3.0）
//
// 请求统一发往 POST /，由 X-TC-Action 指定接口，请求体字段首字母大写，
// 每个请求用 TC3-HMAC-SHA256 签名。签名覆盖请求体与 host，
// 因此 host 必须与实际请求地址一致（见 WithEndpoint）。
package tencent

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

const (
	DefaultEndpoint = "https://hunyuan.tencentcloudapi.com"
	DefaultRegion   = "ap-guangzhou"

	action  = "ChatCompletions"
	version = "2023-09-01"
)

// ═══════════════════════════════════════════════════════════════════════════
// 混元协议适配器
// ═══════════════════════════════════════════════════════════════════════════

// Adapter 混元原生协议适配器
//
// 凭证为 SecretId + SecretKey。签名时间取自 clock，测试中可以固定。
type Adapter struct {
	signer Signer
	region string
	host   string
	clock  func() time.Time
}

// Option 适配器选项
type Option func(*Adapter)

// WithRegion 设置 X-TC-Region，默认 ap-guangzhou
func WithRegion(region string) Option {
	return func(a *Adapter) {
		if region != "" {
			a.region = region
		}
	}
}

// WithEndpoint 设置参与签名的 host，取自基础地址
func WithEndpoint(baseURL string) Option {
	return func(a *Adapter) {
		if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
			a.host = u.Host
		}
	}
}

// WithClock 设置签名时钟
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) { a.clock = clock }
}

// NewAdapter 创建混元协议适配器
func NewAdapter(secretID, secretKey string, opts ...Option) *Adapter {
	a := &Adapter{
		signer: Signer{SecretID: secretID, SecretKey: secretKey},
		region: DefaultRegion,
		host:   strings.TrimPrefix(DefaultEndpoint, "https://"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Host 返回参与签名的 host
func (a *Adapter) Host() string { return a.host }

// ═══════════════════════════════════════════════════════════════════════════
// BuildRequest - 构建请求
// ═══════════════════════════════════════════════════════════════════════════

type chatRequest struct {
	Model          string        `json:"Model"`
	Messages       []wireMessage `json:"Messages"`
	Stream         bool          `json:"Stream"`
	Temperature    *float64      `json:"Temperature,omitempty"`
	TopP           *float64      `json:"TopP,omitempty"`
	EnableThinking *bool         `json:"EnableThinking,omitempty"`
	Tools          []wireTool    `json:"Tools,omitempty"`
	ToolChoice     string        `json:"ToolChoice,omitempty"`
	CustomTool     *wireTool     `json:"CustomTool,omitempty"`
}

type wireMessage struct {
	Role             string         `json:"Role"`
	Content          string         `json:"Content,omitempty"`
	ReasoningContent string         `json:"ReasoningContent,omitempty"`
	ToolCalls        []wireToolCall `json:"ToolCalls,omitempty"`
	ToolCallId       string         `json:"ToolCallId,omitempty"`
}

type wireTool struct {
	Type     string       `json:"Type"`
	Function wireFunction `json:"Function"`
}

// wireFunction Parameters 是 JSON Schema 序列化后的字符串
type wireFunction struct {
	Name        string `json:"Name"`
	Description string `json:"Description,omitempty"`
	Parameters  string `json:"Parameters,omitempty"`
}

type wireToolCall struct {
	Index    *int   `json:"Index,omitempty"`
	Id       string `json:"Id"`
	Type     string `json:"Type"`
	Function struct {
		Name      string `json:"Name"`
		Arguments string `json:"Arguments"`
	} `json:"Function"`
}

// BuildRequest 实现 core.Adapter 接口
//
//	POST https://hunyuan.tencentcloudapi.com/
//	Authorization: TC3-HMAC-SHA256 Credential=..., SignedHeaders=content-type;host, Signature=...
//	X-TC-Action: ChatCompletions
//	X-TC-Version: 2023-09-01
//	X-TC-Timestamp: 1700000000
//	X-TC-Region: ap-guangzhou
//	{"Model": "hunyuan-lite", "Messages": [{"Role": "user", "Content": "hi"}], "Stream": false}
//
// 混元不支持 max_tokens 与 stop，静默忽略。
func (a *Adapter) BuildRequest(req *llm.ChatRequest, stream bool) (*core.HTTPRequest, error) {
	body := chatRequest{
		Model:          req.Model,
		Messages:       convertMessages(req.Messages),
		Stream:         stream,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		EnableThinking: req.EnableThinking,
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, llm.NewRequestError("marshal", err)
		}
		body.Tools = tools
		body.ToolChoice, body.CustomTool = convertToolChoice(req.ToolChoice)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewRequestError("marshal", err)
	}
	return &core.HTTPRequest{
		Method:  http.MethodPost,
		Path:    "/",
		Headers: a.headers(data),
		Body:    data,
	}, nil
}

func (a *Adapter) headers(payload []byte) map[string]string {
	now := a.clock()
	return map[string]string{
		"Authorization":  a.signer.Authorization(a.host, payload, now),
		"X-TC-Action":    action,
		"X-TC-Version":   version,
		"X-TC-Timestamp": strconv.FormatInt(now.Unix(), 10),
		"X-TC-Region":    a.region,
	}
}

// convertMessages 图片块被忽略，只保留文本
func convertMessages(messages []llm.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		m := wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Text(),
			ToolCallId: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			var call wireToolCall
			call.Id = tc.ID
			call.Type = "function"
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			m.ToolCalls = append(m.ToolCalls, call)
		}
		out = append(out, m)
	}
	return out
}

func convertTools(tools []llm.Tool) ([]wireTool, error) {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		fn := wireFunction{Name: t.Function.Name, Description: t.Function.Description}
		if t.Function.Parameters != nil {
			params, err := json.Marshal(t.Function.Parameters)
			if err != nil {
				return nil, err
			}
			fn.Parameters = string(params)
		}
		out = append(out, wireTool{Type: "function", Function: fn})
	}
	return out, nil
}

// convertToolChoice 混元只有 none、auto、custom 三种模式，required 按 auto 处理
func convertToolChoice(choice *llm.ToolChoice) (string, *wireTool) {
	if choice == nil {
		return "", nil
	}
	switch choice.Mode {
	case llm.ToolChoiceModeNone:
		return "none", nil
	case llm.ToolChoiceModeFunction:
		return "custom", &wireTool{Type: "function", Function: wireFunction{Name: choice.Function}}
	default:
		return "auto", nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ParseResponse - 解析非流式响应
// ═══════════════════════════════════════════════════════════════════════════

type envelope struct {
	Response *chatResponse `json:"Response"`
}

type chatResponse struct {
	RequestId string       `json:"RequestId"`
	Id        string       `json:"Id"`
	Created   int64        `json:"Created"`
	Note      string       `json:"Note"`
	Error     *wireError   `json:"Error"`
	Choices   []wireChoice `json:"Choices"`
	Usage     *wireUsage   `json:"Usage"`
}

type wireChoice struct {
	Message      *wireMessage `json:"Message"`
	Delta        *wireMessage `json:"Delta"`
	FinishReason string       `json:"FinishReason"`
}

type wireError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type wireUsage struct {
	PromptTokens     int `json:"PromptTokens"`
	CompletionTokens int `json:"CompletionTokens"`
	TotalTokens      int `json:"TotalTokens"`
}

// ParseResponse 实现 core.Adapter 接口
//
//	{"Response": {
//	  "RequestId": "...", "Id": "...", "Created": 1700000000,
//	  "Choices": [{"Message": {"Role": "assistant", "Content": "..."}, "FinishReason": "stop"}],
//	  "Usage": {"PromptTokens": 10, "CompletionTokens": 20, "TotalTokens": 30}
//	}}
//
// 云 API 的业务错误以 HTTP 200 返回，放在 Response.Error 中。
func (a *Adapter) ParseResponse(body []byte) (*llm.ChatResponse, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, llm.NewParseError("response", string(body), err)
	}
	resp := env.Response
	if resp == nil {
		return nil, llm.NewParseError("Response", string(body), nil)
	}
	if resp.Error != nil {
		return nil, responseError(http.StatusOK, resp.RequestId, resp.Error, body)
	}

	id := resp.Id
	if id == "" {
		id = resp.RequestId
	}
	choices := make([]llm.Choice, 0, len(resp.Choices))
	for i, c := range resp.Choices {
		var msg llm.Message
		if c.Message != nil {
			msg = llm.NewAssistantMessage(c.Message.Content)
			msg.ReasoningContent = c.Message.ReasoningContent
			msg.ToolCalls = convertToolCalls(c.Message.ToolCalls)
		}
		choices = append(choices, llm.Choice{
			Index:        i,
			Message:      msg,
			FinishReason: core.NormalizeFinishReason(c.FinishReason),
		})
	}
	return llm.NewChatResponse(id, "", resp.Created, choices, convertUsage(resp.Usage)), nil
}

func convertToolCalls(calls []wireToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for i, tc := range calls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		typ := tc.Type
		if typ == "" {
			typ = "function"
		}
		out = append(out, llm.ToolCall{
			Index:    idx,
			ID:       tc.Id,
			Type:     typ,
			Function: llm.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return out
}

func convertUsage(u *wireUsage) *llm.Usage {
	if u == nil {
		return nil
	}
	usage := &llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
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
func (a *Adapter) MapError(status int, header http.Header, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Response != nil && env.Response.Error != nil {
		return responseError(status, env.Response.RequestId, env.Response.Error, body)
	}
	return core.DefaultErrorMapper(status, header, body)
}

// responseError 按云 API 错误码分类
//
//	AuthFailure.*            → authentication
//	UnauthorizedOperation.*  → permission
//	RequestLimitExceeded.*   → rate_limit
//	LimitExceeded.*          → rate_limit
//	InvalidParameter*        → invalid_request
//	ResourceNotFound.*       → not_found
//	InternalError.*          → server
func responseError(status int, requestID string, e *wireError, body []byte) *llm.APIError {
	kind := llm.ErrKindAPI
	switch code := e.Code; {
	case strings.HasPrefix(code, "AuthFailure"):
		kind = llm.ErrKindAuthentication
	case strings.HasPrefix(code, "UnauthorizedOperation"):
		kind = llm.ErrKindPermission
	case strings.HasPrefix(code, "RequestLimitExceeded"), strings.HasPrefix(code, "LimitExceeded"):
		kind = llm.ErrKindRateLimit
	case strings.HasPrefix(code, "InvalidParameter"), strings.HasPrefix(code, "MissingParameter"):
		kind = llm.ErrKindInvalidRequest
		if core.IsContextLengthMessage(e.Message) {
			kind = llm.ErrKindContextLength
		}
	case strings.HasPrefix(code, "ResourceNotFound"):
		kind = llm.ErrKindNotFound
	case strings.HasPrefix(code, "InternalError"):
		kind = llm.ErrKindServer
	}
	return llm.NewAPIError(kind, status, e.Message, string(body)).
		WithErrorCode(e.Code).
		WithRequestID(requestID)
}

// NewChunkParser 实现 core.Adapter 接口
func (a *Adapter) NewChunkParser() core.ChunkParser {
	return NewChunkParser()
}

var (
	_ core.Adapter     = (*Adapter)(nil)
	_ core.ErrorMapper = (*Adapter)(nil)
)
