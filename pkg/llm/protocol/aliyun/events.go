package aliyun

import (
	"encoding/json"
	"strings"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/openai"
)

// ═══════════════════════════════════════════════════════════════════════════
// DashScope SSE 事件解析器
// ═══════════════════════════════════════════════════════════════════════════

// ChunkParser DashScope 流式事件解析器
//
// DashScope 流式格式：
//
//	id:1
//	event:result
//	:HTTP_STATUS/200
//	data:{"output":{"choices":[{"message":{"content":"你好","role":"assistant"},"finish_reason":"null"}]},"usage":{...},"request_id":"..."}
//
//   - 没有 [DONE]，finish_reason 为 "stop" 等非 "null" 值的事件是最后一个
//   - 每个事件都带有截至当前的 usage
//
// 累积内容：部分模型忽略 incremental_output，每个事件重发完整内容。
// 请求已开启 incremental_output 时，同一字段连续两次以上一事件文本为前缀增长
// 才切换为累积模式，此后只输出新增部分并计数；第一次增长原样输出。
// 请求未开启 incremental_output 时（NewCumulativeChunkParser），第一次增长即切换。
// 工具调用始终按增量处理，不做去重；同一 id 在多个事件中重复出现
// 可以通过 llm.StreamStats.DuplicateToolCalls 发现。
type ChunkParser struct {
	tools      *core.ToolIndexer
	content    map[int]*textState
	reasoning  map[int]*textState
	expectFull bool
	cumulative int
}

// textState 单个选项某一字段的累积检测状态
type textState struct {
	prev    string // 上一个事件的原始文本
	growing int    // 连续前缀增长次数
	latched bool
}

// NewChunkParser 创建解析器（每个流一个），适用于 incremental_output: true 的请求
func NewChunkParser() *ChunkParser {
	return &ChunkParser{
		tools:     core.NewToolIndexer(),
		content:   make(map[int]*textState),
		reasoning: make(map[int]*textState),
	}
}

// NewCumulativeChunkParser 创建解析器，适用于未开启 incremental_output 的请求
func NewCumulativeChunkParser() *ChunkParser {
	p := NewChunkParser()
	p.expectFull = true
	return p
}

// Framing 实现 core.ChunkParser 接口
func (p *ChunkParser) Framing() core.Framing { return core.FramingSSE }

// CumulativeChunks 实现 core.StatsReporter 接口
func (p *ChunkParser) CumulativeChunks() int { return p.cumulative }

// ParseChunk 实现 core.ChunkParser 接口
func (p *ChunkParser) ParseChunk(frame core.Frame) (*llm.StreamingResponse, bool, error) {
	var chunk generation
	if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
		return nil, false, llm.NewParseError("stream chunk", frame.Data, err)
	}
	if chunk.Output == nil {
		if chunk.Code != "" {
			return nil, false, bodyError(chunk, []byte(frame.Data))
		}
		return nil, false, nil
	}

	resp := &llm.StreamingResponse{
		ID:     chunk.RequestID,
		Object: "chat.completion.chunk",
		Usage:  convertUsage(chunk.Usage),
	}

	done := false
	for i, c := range chunk.Output.Choices {
		finish := core.NormalizeFinishReason(c.FinishReason)
		if finish != "" {
			done = true
		}
		resp.Choices = append(resp.Choices, llm.StreamingChoice{
			Index: i,
			Delta: llm.Delta{
				Role:             llm.Role(c.Message.Role),
				Content:          p.delta(p.content, i, contentText(c.Message.Content)),
				ReasoningContent: p.delta(p.reasoning, i, c.Message.ReasoningContent),
				ToolCalls:        p.toolCalls(i, c.Message.ToolCalls),
			},
			FinishReason: finish,
		})
	}
	if len(chunk.Output.Choices) == 0 && chunk.Output.Text != "" {
		finish := core.NormalizeFinishReason(chunk.Output.FinishReason)
		done = finish != ""
		resp.Choices = append(resp.Choices, llm.StreamingChoice{
			Delta:        llm.Delta{Content: p.delta(p.content, 0, chunk.Output.Text)},
			FinishReason: finish,
		})
	}

	resp.SyncContent()
	return resp, done, nil
}

// delta 将事件文本转换为增量
func (p *ChunkParser) delta(states map[int]*textState, choice int, text string) string {
	if text == "" {
		return ""
	}
	st, ok := states[choice]
	if !ok {
		st = &textState{}
		states[choice] = st
	}
	defer func() { st.prev = text }()

	grows := st.prev != "" && len(text) > len(st.prev) && strings.HasPrefix(text, st.prev)
	if grows {
		st.growing++
	} else {
		st.growing = 0
	}

	switch {
	case st.latched && text == st.prev:
		// 累积模式下的重复事件（常见于携带 finish_reason 的最后一个事件）
		p.cumulative++
		return ""
	case st.latched && !grows:
		// 前缀不再匹配，恢复增量语义
		st.latched = false
		return text
	case !st.latched && grows && (p.expectFull || st.growing >= 2):
		st.latched = true
	}
	if !st.latched {
		return text
	}
	p.cumulative++
	return text[len(st.prev):]
}

func (p *ChunkParser) toolCalls(choice int, deltas []wireToolCall) []llm.ToolCall {
	if len(deltas) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, llm.ToolCall{
			Index: p.tools.Resolve(choice, d.Index, d.ID),
			ID:    d.ID,
			Type:  d.Type,
			Function: llm.FunctionCall{
				Name:      d.Function.Name,
				Arguments: openai.ArgumentsString(d.Function.Arguments),
			},
		})
	}
	return out
}

var (
	_ core.ChunkParser   = (*ChunkParser)(nil)
	_ core.StatsReporter = (*ChunkParser)(nil)
)
