package localmock

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 请求解码
// ═══════════════════════════════════════════════════════════════════════════

type anthropicRequest struct {
	Model         string             `json:"model"`
	System        json.RawMessage    `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
	Thinking      *struct {
		Type         string `json:"type"`
		BudgetTokens int    `json:"budget_tokens"`
	} `json:"thinking,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// anthropicBlock 请求与响应共用的内容块
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Source    *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
		URL       string `json:"url"`
	} `json:"source,omitempty"`
}

// anthropicBlocks content 可以是字符串或内容块数组
func anthropicBlocks(raw json.RawMessage) ([]anthropicBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []anthropicBlock{{Type: "text", Text: text}}, nil
	}
	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func blocksText(blocks []anthropicBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func (r *anthropicRequest) toChatRequest() (*llm.ChatRequest, error) {
	invalid := func(err error) error {
		return llm.NewAPIError(llm.ErrKindInvalidRequest, http.StatusBadRequest, "invalid content: "+err.Error(), "")
	}

	req := llm.NewChatRequest(r.Model)
	system, err := anthropicBlocks(r.System)
	if err != nil {
		return nil, invalid(err)
	}
	if text := blocksText(system); text != "" {
		req.AddMessage(llm.NewSystemMessage(text))
	}

	for _, m := range r.Messages {
		blocks, err := anthropicBlocks(m.Content)
		if err != nil {
			return nil, invalid(err)
		}
		if m.Role == string(llm.RoleAssistant) {
			req.AddMessage(assistantMessage(blocks))
			continue
		}

		// tool_result 拆为独立的 tool 消息，其余内容归入一条 user 消息
		var user []llm.MessageBlock
		for _, b := range blocks {
			switch b.Type {
			case "tool_result":
				result, err := anthropicBlocks(b.Content)
				if err != nil {
					return nil, invalid(err)
				}
				req.AddMessage(llm.NewToolMessage(b.ToolUseID, blocksText(result)))
			case "text":
				user = append(user, llm.Text(b.Text))
			case "image":
				if b.Source == nil {
					continue
				}
				if b.Source.Type == "base64" {
					user = append(user, llm.ImageBase64(b.Source.MediaType, b.Source.Data))
				} else {
					user = append(user, llm.ImageURL(b.Source.URL))
				}
			}
		}
		if len(user) > 0 {
			req.AddMessage(llm.NewMessage(llm.RoleUser, user...))
		}
	}

	for _, t := range r.Tools {
		req.Tools = append(req.Tools, llm.NewFunctionTool(t.Name, t.Description, t.InputSchema))
	}
	if r.MaxTokens > 0 {
		req.WithMaxTokens(r.MaxTokens)
	}
	req.Temperature = r.Temperature
	req.TopP = r.TopP
	req.Stop = r.StopSequences
	req.Stream = r.Stream
	if r.Thinking != nil && r.Thinking.Type == "enabled" {
		req.WithThinking(true)
		if r.Thinking.BudgetTokens > 0 {
			req.WithThinkingBudget(r.Thinking.BudgetTokens)
		}
	}
	return req, nil
}

func assistantMessage(blocks []anthropicBlock) llm.Message {
	msg := llm.Message{Role: llm.RoleAssistant}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				msg.Content = append(msg.Content, llm.Text(b.Text))
			}
		case "thinking":
			msg.Thinking += b.Thinking
		case "tool_use":
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			tc := llm.NewToolCall(b.ID, b.Name, args)
			tc.Index = len(msg.ToolCalls)
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
	}
	return msg
}

// ═══════════════════════════════════════════════════════════════════════════
// 响应编码
// ═══════════════════════════════════════════════════════════════════════════

type anthropicResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Model        string           `json:"model"`
	Content      []anthropicBlock `json:"content"`
	StopReason   string           `json:"stop_reason"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        anthropicUsage   `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func toAnthropicUsage(u *llm.Usage) anthropicUsage {
	if u == nil {
		return anthropicUsage{}
	}
	return anthropicUsage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

// stopReason 统一结束原因转为 Anthropic 的取值
func stopReason(reason string) string {
	switch reason {
	case llm.FinishReasonLength:
		return "max_tokens"
	case llm.FinishReasonToolCalls:
		return "tool_use"
	case "", llm.FinishReasonStop:
		return "end_turn"
	default:
		return reason
	}
}

// toolInput 参数不是合法 JSON 时使用空对象
func toolInput(arguments string) json.RawMessage {
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	return json.RawMessage("{}")
}

func toAnthropicResponse(resp *llm.ChatResponse) anthropicResponse {
	out := anthropicResponse{
		ID:      resp.ID,
		Type:    "message",
		Role:    string(llm.RoleAssistant),
		Model:   resp.Model,
		Content: []anthropicBlock{},
		Usage:   toAnthropicUsage(resp.Usage),
	}
	choice, ok := resp.FirstChoice()
	if !ok {
		out.StopReason = stopReason("")
		return out
	}

	msg := choice.Message
	if thinking := msg.ReasoningText(); thinking != "" {
		out.Content = append(out.Content, anthropicBlock{Type: "thinking", Thinking: thinking})
	}
	if text := msg.Text(); text != "" {
		out.Content = append(out.Content, anthropicBlock{Type: "text", Text: text})
	}
	for _, tc := range msg.ToolCalls {
		out.Content = append(out.Content, anthropicBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: toolInput(tc.Function.Arguments),
		})
	}
	out.StopReason = stopReason(choice.FinishReason)
	return out
}

// anthropicErrorType 错误分类转为 Anthropic 的错误类型
func anthropicErrorType(kind llm.ErrorKind) string {
	switch kind {
	case llm.ErrKindAuthentication, llm.ErrKindPermission, llm.ErrKindNotFound,
		llm.ErrKindRateLimit, llm.ErrKindInvalidRequest:
		return string(kind)
	case llm.ErrKindContextLength:
		return string(llm.ErrKindInvalidRequest)
	case llm.ErrKindServer:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

func anthropicError(kind llm.ErrorKind, message string) map[string]any {
	return map[string]any{
		"type":  "error",
		"error": map[string]any{"type": anthropicErrorType(kind), "message": message},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 流式编码
// ═══════════════════════════════════════════════════════════════════════════

// anthropicEncoder 把统一的流式项转换为 Anthropic 命名事件
//
// 推理、文本和每个工具调用各占一个内容块，类型切换时关闭上一个块。
type anthropicEncoder struct {
	c       echo.Context
	id      string
	model   string
	started bool

	next     int    // 下一个内容块的 index
	open     string // 当前打开的块类型，空表示没有
	openTool int    // 当前 tool_use 块对应的工具调用 index

	finish string
	usage  *llm.Usage
}

func (e *anthropicEncoder) emit(event string, payload map[string]any) error {
	payload["type"] = event
	return writeSSE(e.c, event, payload)
}

func (e *anthropicEncoder) start(item *llm.StreamingResponse) error {
	if e.started {
		return nil
	}
	e.started = true
	if item != nil && item.ID != "" {
		e.id = item.ID
	}
	return e.emit("message_start", map[string]any{
		"message": map[string]any{
			"id":            e.id,
			"type":          "message",
			"role":          "assistant",
			"model":         e.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         anthropicUsage{},
		},
	})
}

func (e *anthropicEncoder) closeBlock() error {
	if e.open == "" {
		return nil
	}
	e.open = ""
	return e.emit("content_block_stop", map[string]any{"index": e.next - 1})
}

func (e *anthropicEncoder) openBlock(typ string, block anthropicBlock) error {
	if err := e.closeBlock(); err != nil {
		return err
	}
	e.open = typ
	e.next++
	block.Type = typ
	return e.emit("content_block_start", map[string]any{"index": e.next - 1, "content_block": block})
}

func (e *anthropicEncoder) delta(delta map[string]any) error {
	return e.emit("content_block_delta", map[string]any{"index": e.next - 1, "delta": delta})
}

func (e *anthropicEncoder) add(item *llm.StreamingResponse) error {
	if err := e.start(item); err != nil {
		return err
	}
	if item.Usage != nil {
		e.usage = item.Usage
	}
	if reason := item.FinishReason(); reason != "" {
		e.finish = reason
	}
	if len(item.Choices) == 0 {
		return nil
	}
	d := item.Choices[0].Delta

	if thinking := d.ReasoningText(); thinking != "" {
		if e.open != "thinking" {
			if err := e.openBlock("thinking", anthropicBlock{}); err != nil {
				return err
			}
		}
		if err := e.delta(map[string]any{"type": "thinking_delta", "thinking": thinking}); err != nil {
			return err
		}
	}
	if d.Content != "" {
		if e.open != "text" {
			if err := e.openBlock("text", anthropicBlock{}); err != nil {
				return err
			}
		}
		if err := e.delta(map[string]any{"type": "text_delta", "text": d.Content}); err != nil {
			return err
		}
	}
	for _, tc := range d.ToolCalls {
		if e.open != "tool_use" || tc.Index != e.openTool || tc.ID != "" {
			block := anthropicBlock{ID: tc.ID, Name: tc.Function.Name, Input: json.RawMessage("{}")}
			if err := e.openBlock("tool_use", block); err != nil {
				return err
			}
			e.openTool = tc.Index
		}
		if tc.Function.Arguments != "" {
			if err := e.delta(map[string]any{"type": "input_json_delta", "partial_json": tc.Function.Arguments}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *anthropicEncoder) end() error {
	if err := e.start(nil); err != nil {
		return err
	}
	if err := e.closeBlock(); err != nil {
		return err
	}
	if err := e.emit("message_delta", map[string]any{
		"delta": map[string]any{"stop_reason": stopReason(e.finish), "stop_sequence": nil},
		"usage": toAnthropicUsage(e.usage),
	}); err != nil {
		return err
	}
	return e.emit("message_stop", map[string]any{})
}

func (e *anthropicEncoder) fail(err error) error {
	_, kind, message := describeError(err)
	return writeSSE(e.c, "error", anthropicError(kind, message))
}

// ═══════════════════════════════════════════════════════════════════════════
// 处理函数
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) handleMessages(c echo.Context) error {
	var body anthropicRequest
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	req, err := body.toChatRequest()
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if !body.Stream {
		resp, err := s.provider.Chat(ctx, req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, toAnthropicResponse(resp))
	}

	stream, err := s.provider.ChatStream(ctx, req)
	if err != nil {
		return err
	}
	startSSE(c)

	enc := &anthropicEncoder{c: c, id: "msg_local", model: req.Model}
	for item, err := range llm.All(stream) {
		if err != nil {
			if llm.IsParseError(err) {
				continue
			}
			return enc.fail(err)
		}
		if err := enc.add(item); err != nil {
			return err
		}
	}
	return enc.end()
}
