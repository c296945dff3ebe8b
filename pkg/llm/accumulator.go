package llm

import (
	"slices"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// 累积器
// ═══════════════════════════════════════════════════════════════════════════

// Accumulator 将流式输出折叠为完整的 ChatResponse
//
// 支持文本、推理内容和多个工具调用的并行聚合。工具调用片段优先按 Index 归并，
// 携带的 ID 与已有调用不一致时按 ID 归并。
// 累积器不做去重：同一个工具调用 ID 在多个事件中重复出现时，
// 可以通过 ToolCallAppearances / DuplicateToolCalls 检测。
//
// 示例：
//
//	acc := llm.NewAccumulator()
//	for item, err := range llm.All(stream) {
//	    if err != nil { ... }
//	    acc.Add(item)
//	}
//	resp := acc.Response()
type Accumulator struct {
	choices     map[int]*choiceBuffer
	id          string
	model       string
	created     int64
	fingerprint string
	usage       *Usage

	items       int
	parseErrors int
	appearances map[string]int
}

type choiceBuffer struct {
	role         Role
	content      strings.Builder
	reasoning    [4]strings.Builder // reasoning_content, reasoning, thinking, thought
	tools        []*toolBuffer
	finishReason string
}

type toolBuffer struct {
	index int
	id    string
	typ   string
	name  string
	args  strings.Builder
}

// NewAccumulator 创建累积器
func NewAccumulator() *Accumulator {
	return &Accumulator{
		choices:     make(map[int]*choiceBuffer),
		appearances: make(map[string]int),
	}
}

// Add 合并一项流式输出
func (a *Accumulator) Add(item *StreamingResponse) {
	if item == nil {
		return
	}
	a.items++

	if a.id == "" {
		a.id = item.ID
	}
	if a.model == "" {
		a.model = item.Model
	}
	if a.created == 0 {
		a.created = item.Created
	}
	if item.SystemFingerprint != "" {
		a.fingerprint = item.SystemFingerprint
	}
	if item.Usage != nil {
		if a.usage == nil {
			a.usage = &Usage{}
		}
		a.usage.Merge(item.Usage)
	}

	for _, c := range item.Choices {
		buf := a.choice(c.Index)
		d := c.Delta
		if d.Role != "" {
			buf.role = d.Role
		}
		buf.content.WriteString(d.Content)
		buf.reasoning[0].WriteString(d.ReasoningContent)
		buf.reasoning[1].WriteString(d.Reasoning)
		buf.reasoning[2].WriteString(d.Thinking)
		buf.reasoning[3].WriteString(d.Thought)

		seen := make(map[string]bool)
		for _, tc := range d.ToolCalls {
			if tc.ID != "" && !seen[tc.ID] {
				seen[tc.ID] = true
				a.appearances[tc.ID]++
			}
			buf.addToolCall(tc)
		}

		if c.FinishReason != "" {
			buf.finishReason = c.FinishReason
		}
	}
}

// RecordParseError 记录一次被跳过的解析错误
func (a *Accumulator) RecordParseError() {
	a.parseErrors++
}

// ParseErrors 返回记录的解析错误数
func (a *Accumulator) ParseErrors() int { return a.parseErrors }

// Items 返回已合并的输出项数
func (a *Accumulator) Items() int { return a.items }

// Content 返回第一个选项当前累积的文本
func (a *Accumulator) Content() string {
	if buf, ok := a.choices[0]; ok {
		return buf.content.String()
	}
	return ""
}

// ToolCallAppearances 每个工具调用 ID 出现在多少个输出项中
func (a *Accumulator) ToolCallAppearances() map[string]int {
	out := make(map[string]int, len(a.appearances))
	for k, v := range a.appearances {
		out[k] = v
	}
	return out
}

// DuplicateToolCalls 返回出现在多个输出项中的工具调用 ID（按字典序）
func (a *Accumulator) DuplicateToolCalls() []string {
	return duplicates(a.appearances)
}

// Response 构建当前状态的 ChatResponse
//
// 可以在流式传输过程中调用。
func (a *Accumulator) Response() *ChatResponse {
	indexes := make([]int, 0, len(a.choices))
	for i := range a.choices {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)

	choices := make([]Choice, 0, len(indexes))
	for _, i := range indexes {
		choices = append(choices, a.choices[i].build(i))
	}

	var usage *Usage
	if a.usage != nil {
		u := *a.usage
		usage = &u
	}

	resp := NewChatResponse(a.id, a.model, a.created, choices, usage)
	resp.SystemFingerprint = a.fingerprint
	return resp
}

func (a *Accumulator) choice(index int) *choiceBuffer {
	buf, ok := a.choices[index]
	if !ok {
		buf = &choiceBuffer{}
		a.choices[index] = buf
	}
	return buf
}

func (b *choiceBuffer) addToolCall(tc ToolCall) {
	tb := b.findTool(tc)
	if tb == nil {
		tb = &toolBuffer{index: tc.Index}
		b.tools = append(b.tools, tb)
	}
	if tc.ID != "" && tb.id == "" {
		tb.id = tc.ID
	}
	if tc.Type != "" {
		tb.typ = tc.Type
	}
	if tc.Function.Name != "" && tb.name == "" {
		tb.name = tc.Function.Name
	}
	tb.args.WriteString(tc.Function.Arguments)
}

// findTool 按 Index 查找；Index 命中但 ID 冲突时改按 ID 查找
func (b *choiceBuffer) findTool(tc ToolCall) *toolBuffer {
	for _, tb := range b.tools {
		if tb.index != tc.Index {
			continue
		}
		if tc.ID == "" || tb.id == "" || tb.id == tc.ID {
			return tb
		}
	}
	if tc.ID == "" {
		return nil
	}
	for _, tb := range b.tools {
		if tb.id == tc.ID {
			return tb
		}
	}
	return nil
}

func (b *choiceBuffer) build(index int) Choice {
	role := b.role
	if role == "" {
		role = RoleAssistant
	}
	msg := NewAssistantMessage(b.content.String())
	msg.Role = role
	msg.ReasoningContent = b.reasoning[0].String()
	msg.Reasoning = b.reasoning[1].String()
	msg.Thinking = b.reasoning[2].String()
	msg.Thought = b.reasoning[3].String()

	for _, tb := range b.tools {
		typ := tb.typ
		if typ == "" {
			typ = "function"
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			Index:    tb.index,
			ID:       tb.id,
			Type:     typ,
			Function: FunctionCall{Name: tb.name, Arguments: tb.args.String()},
		})
	}

	return Choice{Index: index, Message: msg, FinishReason: b.finishReason}
}

func duplicates(counts map[string]int) []string {
	var out []string
	for id, n := range counts {
		if n > 1 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
