package anthropic

import (
	"encoding/json"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// ═══════════════════════════════════════════════════════════════════════════
// Anthropic SSE 事件解析器
// ═══════════════════════════════════════════════════════════════════════════

// ChunkParser Anthropic SSE 事件解析器
//
// Anthropic 流式格式：
//   - 有显式事件类型（event: message_start, content_block_delta 等）
//   - 根据事件类型处理不同的数据结构
//   - 无终止信号字符串（使用 message_stop 事件）
//
// 事件类型：
//   - message_start:        消息开始（id、model、输入 token）
//   - content_block_start:  内容块开始（包含工具调用初始化）
//   - content_block_delta:  内容块增量（文本、工具参数、推理）
//   - content_block_stop:   内容块结束
//   - message_delta:        消息元数据增量（stop_reason、输出 token）
//   - message_stop:         消息结束
//   - ping:                 心跳
//   - error:                流内错误
//
// 内容块的 index 同时编号文本块和工具块；输出的工具调用 Index 是
// tool_use 块的序号，与非流式响应一致。
type ChunkParser struct {
	id    string
	model string
	usage llm.Usage

	blocks    map[int]*blockState
	toolCount int
}

type blockState struct {
	typ       string
	toolIndex int
	hasArgs   bool
}

// NewChunkParser 创建解析器（每个流一个）
func NewChunkParser() *ChunkParser {
	return &ChunkParser{blocks: make(map[int]*blockState)}
}

// Framing 实现 core.ChunkParser 接口
func (p *ChunkParser) Framing() core.Framing { return core.FramingSSE }

// ParseChunk 实现 core.ChunkParser 接口
func (p *ChunkParser) ParseChunk(frame core.Frame) (*llm.StreamingResponse, bool, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(frame.Data), &data); err != nil {
		return nil, false, llm.NewParseError("stream event", frame.Data, err)
	}

	eventType := frame.Event
	if eventType == "" {
		eventType = core.GetString(data["type"])
	}

	switch eventType {
	case "message_start":
		msg := core.GetMap(data["message"])
		p.id = core.GetString(msg["id"])
		p.model = core.GetString(msg["model"])
		if u := core.GetMap(msg["usage"]); u != nil {
			p.usage = *convertUsage(u)
		}
		return p.item(llm.Delta{Role: llm.RoleAssistant}, ""), false, nil

	case "content_block_start":
		return p.blockStart(data), false, nil

	case "content_block_delta":
		return p.blockDelta(data), false, nil

	case "content_block_stop":
		index := core.GetInt(data["index"])
		state, ok := p.blocks[index]
		if !ok || state.typ != "tool_use" || state.hasArgs {
			return nil, false, nil
		}
		// 无参数的工具调用补齐为空对象
		return p.item(llm.Delta{ToolCalls: []llm.ToolCall{{
			Index:    state.toolIndex,
			Function: llm.FunctionCall{Arguments: "{}"},
		}}}, ""), false, nil

	case "message_delta":
		finish := core.NormalizeFinishReason(core.GetString(core.Lookup(data, "delta", "stop_reason")))
		// 不带 stop_reason 的 usage 留给后续的终止项
		if u := core.GetMap(data["usage"]); u != nil {
			p.usage.Merge(convertUsage(u))
			p.usage.TotalTokens = p.usage.PromptTokens + p.usage.CompletionTokens
		}
		if finish == "" {
			return nil, false, nil
		}
		item := p.item(llm.Delta{}, finish)
		if p.usage != (llm.Usage{}) {
			usage := p.usage
			item.Usage = &usage
		}
		return item, false, nil

	case "message_stop":
		return nil, true, nil

	case "error":
		return nil, false, streamError(core.GetMap(data["error"]), []byte(frame.Data))

	default:
		// ping 及未知事件
		return nil, false, nil
	}
}

func (p *ChunkParser) blockStart(data map[string]any) *llm.StreamingResponse {
	index := core.GetInt(data["index"])
	block := core.GetMap(data["content_block"])
	blockType := core.GetString(block["type"])

	state := &blockState{typ: blockType}
	p.blocks[index] = state

	switch blockType {
	case "tool_use":
		state.toolIndex = p.toolCount
		p.toolCount++
		return p.item(llm.Delta{ToolCalls: []llm.ToolCall{{
			Index:    state.toolIndex,
			ID:       core.GetString(block["id"]),
			Type:     "function",
			Function: llm.FunctionCall{Name: core.GetString(block["name"])},
		}}}, "")
	case "text":
		if text := core.GetString(block["text"]); text != "" {
			return p.item(llm.Delta{Content: text}, "")
		}
	case "thinking":
		if thinking := core.GetString(block["thinking"]); thinking != "" {
			return p.item(llm.Delta{Thinking: thinking}, "")
		}
	}
	return nil
}

func (p *ChunkParser) blockDelta(data map[string]any) *llm.StreamingResponse {
	index := core.GetInt(data["index"])
	delta := core.GetMap(data["delta"])

	switch core.GetString(delta["type"]) {
	case "text_delta":
		return p.item(llm.Delta{Content: core.GetString(delta["text"])}, "")

	case "thinking_delta":
		return p.item(llm.Delta{Thinking: core.GetString(delta["thinking"])}, "")

	case "input_json_delta":
		partial := core.GetString(delta["partial_json"])
		state, ok := p.blocks[index]
		if !ok {
			state = &blockState{typ: "tool_use", toolIndex: p.toolCount}
			p.toolCount++
			p.blocks[index] = state
		}
		if partial == "" {
			return nil
		}
		state.hasArgs = true
		return p.item(llm.Delta{ToolCalls: []llm.ToolCall{{
			Index:    state.toolIndex,
			Function: llm.FunctionCall{Arguments: partial},
		}}}, "")
	}

	// signature_delta 等不产生输出
	return nil
}

func (p *ChunkParser) item(delta llm.Delta, finishReason string) *llm.StreamingResponse {
	resp := llm.NewStreamingResponse(delta, finishReason)
	resp.ID = p.id
	resp.Model = p.model
	return resp
}

var _ core.ChunkParser = (*ChunkParser)(nil)
