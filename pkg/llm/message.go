package llm

import (
	"encoding/json"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// 角色定义
// ═══════════════════════════════════════════════════════════════════════════

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ═══════════════════════════════════════════════════════════════════════════
// 消息结构
// ═══════════════════════════════════════════════════════════════════════════

// Message 对话消息
//
// Content 是有序的内容块序列（文本、图片 URL、Base64 图片），多模态消息按插入顺序保留。
// 不同厂商的推理内容字段名不同，四个推理字段可以同时存在，互不覆盖。
type Message struct {
	Role       Role           `json:"role"`
	Content    []MessageBlock `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`

	// 推理内容（DeepSeek/Qwen 用 reasoning_content，OpenRouter 用 reasoning，
	// Anthropic 用 thinking，Gemini 用 thought）
	ReasoningContent string `json:"reasoning_content,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`
	Thinking         string `json:"thinking,omitempty"`
	Thought          string `json:"thought,omitempty"`
}

// NewMessage 创建指定角色的消息
func NewMessage(role Role, blocks ...MessageBlock) Message {
	return Message{Role: role, Content: blocks}
}

// NewSystemMessage 创建系统消息
func NewSystemMessage(text string) Message {
	return NewMessage(RoleSystem, Text(text))
}

// NewUserMessage 创建用户消息
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, Text(text))
}

// NewAssistantMessage 创建助手消息
func NewAssistantMessage(text string) Message {
	if text == "" {
		return Message{Role: RoleAssistant}
	}
	return NewMessage(RoleAssistant, Text(text))
}

// NewToolMessage 创建工具结果消息
func NewToolMessage(toolCallID, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    []MessageBlock{Text(content)},
		ToolCallID: toolCallID,
	}
}

// Text 返回消息的纯文本视图（按顺序拼接所有文本块）
func (m Message) Text() string {
	switch len(m.Content) {
	case 0:
		return ""
	case 1:
		if tb, ok := m.Content[0].(*TextBlock); ok {
			return tb.Text
		}
	}

	var sb strings.Builder
	for _, block := range m.Content {
		if tb, ok := block.(*TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// IsTextOnly 检查消息是否只包含文本块
func (m Message) IsTextOnly() bool {
	for _, block := range m.Content {
		if _, ok := block.(*TextBlock); !ok {
			return false
		}
	}
	return true
}

// HasToolCalls 检查消息是否包含工具调用
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ReasoningText 返回第一个非空的推理字段
func (m Message) ReasoningText() string {
	for _, s := range []string{m.ReasoningContent, m.Reasoning, m.Thinking, m.Thought} {
		if s != "" {
			return s
		}
	}
	return ""
}

// WithName 设置消息名称
func (m Message) WithName(name string) Message {
	m.Name = name
	return m
}

// WithToolCalls 设置工具调用（用于回放助手的工具调用轮次）
func (m Message) WithToolCalls(calls ...ToolCall) Message {
	m.ToolCalls = calls
	return m
}

// ═══════════════════════════════════════════════════════════════════════════
// 内容块类型
// ═══════════════════════════════════════════════════════════════════════════

// MessageBlock 内容块接口
type MessageBlock interface {
	BlockType() string
}

// TextBlock 文本块
type TextBlock struct {
	Text string `json:"text"`
}

// BlockType 实现 MessageBlock 接口
func (b *TextBlock) BlockType() string { return "text" }

// ImageURLBlock 图片 URL 块
type ImageURLBlock struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "auto", "low", "high"
}

// BlockType 实现 MessageBlock 接口
func (b *ImageURLBlock) BlockType() string { return "image_url" }

// ImageBlock Base64 图片块
type ImageBlock struct {
	MediaType string `json:"media_type"` // "image/png", "image/jpeg" ...
	Data      string `json:"data"`       // Base64 编码（不含 data: 前缀）
}

// BlockType 实现 MessageBlock 接口
func (b *ImageBlock) BlockType() string { return "image" }

// DataURL 返回 data URL 形式
func (b *ImageBlock) DataURL() string {
	return "data:" + b.MediaType + ";base64," + b.Data
}

// Text 创建文本块
func Text(text string) *TextBlock { return &TextBlock{Text: text} }

// ImageURL 创建图片 URL 块
func ImageURL(url string) *ImageURLBlock { return &ImageURLBlock{URL: url} }

// ImageBase64 创建 Base64 图片块
func ImageBase64(mediaType, data string) *ImageBlock {
	return &ImageBlock{MediaType: mediaType, Data: data}
}

// ═══════════════════════════════════════════════════════════════════════════
// 工具定义与工具调用
// ═══════════════════════════════════════════════════════════════════════════

// Tool 工具定义
type Tool struct {
	Type     string   `json:"type"` // 固定为 "function"
	Function Function `json:"function"`
}

// Function 函数定义
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
}

// NewFunctionTool 创建函数工具
func NewFunctionTool(name, description string, parameters map[string]any) Tool {
	return Tool{
		Type: "function",
		Function: Function{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// ToolCall 工具调用
//
// Arguments 始终是 JSON 字符串。流式增量中 Index 标识同一个调用，
// 各片段的 Arguments 需要按出现顺序拼接。
type ToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall 函数调用
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// NewToolCall 创建工具调用
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{
		ID:       id,
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: arguments},
	}
}

// ParseArguments 将参数 JSON 解码到 v
func (tc ToolCall) ParseArguments(v any) error {
	args := tc.Function.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return NewParseError("tool_call.arguments", args, err)
	}
	return nil
}

// ArgumentsMap 将参数解码为 map
func (tc ToolCall) ArgumentsMap() (map[string]any, error) {
	m := map[string]any{}
	if err := tc.ParseArguments(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// ToolChoiceMode 工具选择模式
type ToolChoiceMode string

const (
	ToolChoiceModeAuto     ToolChoiceMode = "auto"
	ToolChoiceModeNone     ToolChoiceMode = "none"
	ToolChoiceModeRequired ToolChoiceMode = "required"
	ToolChoiceModeFunction ToolChoiceMode = "function"
)

// ToolChoice 工具选择策略
type ToolChoice struct {
	Mode     ToolChoiceMode `json:"mode"`
	Function string         `json:"function,omitempty"` // Mode 为 function 时的函数名
}

// ToolChoiceAuto 由模型决定
func ToolChoiceAuto() *ToolChoice { return &ToolChoice{Mode: ToolChoiceModeAuto} }

// ToolChoiceNone 禁止调用工具
func ToolChoiceNone() *ToolChoice { return &ToolChoice{Mode: ToolChoiceModeNone} }

// ToolChoiceRequired 必须调用工具
func ToolChoiceRequired() *ToolChoice { return &ToolChoice{Mode: ToolChoiceModeRequired} }

// ToolChoiceFunction 指定调用某个函数
func ToolChoiceFunction(name string) *ToolChoice {
	return &ToolChoice{Mode: ToolChoiceModeFunction, Function: name}
}
