package localmock

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 请求解码
// ═══════════════════════════════════════════════════════════════════════════

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Tools               []llm.Tool      `json:"tools,omitempty"`
	Stream              bool            `json:"stream"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	Stop                json.RawMessage `json:"stop,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
	EnableThinking      *bool           `json:"enable_thinking,omitempty"`
	User                string          `json:"user,omitempty"`
}

type openaiMessage struct {
	Role             string          `json:"role"`
	Content          json.RawMessage `json:"content"`
	Name             string          `json:"name,omitempty"`
	ToolCalls        []llm.ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
}

type openaiPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL *struct {
		URL    string `json:"url"`
		Detail string `json:"detail"`
	} `json:"image_url"`
}

func (r *openaiRequest) toChatRequest() (*llm.ChatRequest, error) {
	req := llm.NewChatRequest(r.Model)
	for _, m := range r.Messages {
		blocks, err := openaiContent(m.Content)
		if err != nil {
			return nil, llm.NewAPIError(llm.ErrKindInvalidRequest, http.StatusBadRequest, "invalid message content: "+err.Error(), "")
		}
		msg := llm.NewMessage(llm.Role(m.Role), blocks...)
		msg.Name = m.Name
		msg.ToolCallID = m.ToolCallID
		msg.ReasoningContent = m.ReasoningContent
		for i, tc := range m.ToolCalls {
			tc.Index = i
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
		req.AddMessage(msg)
	}

	req.Tools = r.Tools
	req.Temperature = r.Temperature
	req.TopP = r.TopP
	req.MaxTokens = r.MaxTokens
	if req.MaxTokens == nil {
		req.MaxTokens = r.MaxCompletionTokens
	}
	req.Stop = stopSequences(r.Stop)
	req.ReasoningEffort = r.ReasoningEffort
	req.EnableThinking = r.EnableThinking
	req.User = r.User
	req.Stream = r.Stream
	return req, nil
}

// openaiContent content 可以是字符串或 parts 数组
func openaiContent(raw json.RawMessage) ([]llm.MessageBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []llm.MessageBlock{llm.Text(text)}, nil
	}

	var parts []openaiPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	blocks := make([]llm.MessageBlock, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Type == "text":
			blocks = append(blocks, llm.Text(p.Text))
		case p.Type == "image_url" && p.ImageURL != nil:
			img := llm.ImageURL(p.ImageURL.URL)
			img.Detail = p.ImageURL.Detail
			blocks = append(blocks, img)
		}
	}
	return blocks, nil
}

// stopSequences stop 可以是字符串或字符串数组
func stopSequences(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	_ = json.Unmarshal(raw, &many)
	return many
}

// ═══════════════════════════════════════════════════════════════════════════
// 响应编码
// ═══════════════════════════════════════════════════════════════════════════

type openaiCompletion struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      *openaiOutput `json:"message,omitempty"`
	Delta        *openaiOutput `json:"delta,omitempty"`
	FinishReason *string       `json:"finish_reason"`
}

type openaiOutput struct {
	Role             string           `json:"role,omitempty"`
	Content          *string          `json:"content,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function llm.FunctionCall `json:"function"`
}

type openaiUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
}

func toOpenAIUsage(u *llm.Usage) *openaiUsage {
	if u == nil {
		return nil
	}
	out := &openaiUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.ReasoningTokens > 0 {
		out.CompletionTokensDetails = &struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		}{u.ReasoningTokens}
	}
	return out
}

func toOpenAIToolCalls(calls []llm.ToolCall) []openaiToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openaiToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, openaiToolCall{Index: tc.Index, ID: tc.ID, Type: tc.Type, Function: tc.Function})
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toOpenAICompletion(resp *llm.ChatResponse) openaiCompletion {
	out := openaiCompletion{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Usage:   toOpenAIUsage(resp.Usage),
	}
	for _, c := range resp.Choices {
		text := c.Message.Text()
		out.Choices = append(out.Choices, openaiChoice{
			Index: c.Index,
			Message: &openaiOutput{
				Role:             string(llm.RoleAssistant),
				Content:          &text,
				ReasoningContent: c.Message.ReasoningText(),
				ToolCalls:        toOpenAIToolCalls(c.Message.ToolCalls),
			},
			FinishReason: optional(c.FinishReason),
		})
	}
	return out
}

func toOpenAIChunk(item *llm.StreamingResponse, id, model string, created int64) openaiCompletion {
	out := openaiCompletion{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openaiChoice{},
		Usage:   toOpenAIUsage(item.Usage),
	}
	for _, c := range item.Choices {
		out.Choices = append(out.Choices, openaiChoice{
			Index: c.Index,
			Delta: &openaiOutput{
				Role:             string(c.Delta.Role),
				Content:          optional(c.Delta.Content),
				ReasoningContent: c.Delta.ReasoningText(),
				ToolCalls:        toOpenAIToolCalls(c.Delta.ToolCalls),
			},
			FinishReason: optional(c.FinishReason),
		})
	}
	return out
}

func openaiError(kind llm.ErrorKind, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{"message": message, "type": string(kind), "code": string(kind)},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 处理函数
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) handleChatCompletions(c echo.Context) error {
	var body openaiRequest
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
		return c.JSON(http.StatusOK, toOpenAICompletion(resp))
	}

	stream, err := s.provider.ChatStream(ctx, req)
	if err != nil {
		return err
	}
	startSSE(c)

	id, model, created := "chatcmpl-local", req.Model, time.Now().Unix()
	for item, err := range llm.All(stream) {
		if err != nil {
			if llm.IsParseError(err) {
				continue
			}
			_, kind, message := describeError(err)
			return writeSSE(c, "", openaiError(kind, message))
		}
		if item.ID != "" {
			id = item.ID
		}
		if item.Model != "" {
			model = item.Model
		}
		if err := writeSSE(c, "", toOpenAIChunk(item, id, model, created)); err != nil {
			return err
		}
	}
	_, err = c.Response().Write([]byte("data: [DONE]\n\n"))
	c.Response().Flush()
	return err
}
