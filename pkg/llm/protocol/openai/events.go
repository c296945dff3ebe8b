package openai

import (
	"encoding/json"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// ═══════════════════════════════════════════════════════════════════════════
// OpenAI SSE 事件解析器
// ═══════════════════════════════════════════════════════════════════════════

// ChunkParser OpenAI 流式事件解析器
//
// OpenAI 流式格式：
//   - 无显式事件类型
//   - 数据结构：choices[].delta
//   - 终止信号：data: [DONE]（由分帧器处理）
//   - usage 在 include_usage 时单独成帧，choices 为空
//
// delta 结构：
//
//	{
//	  "choices": [{
//	    "delta": {
//	      "content": "...",                    // 文本增量
//	      "reasoning_content": "...",          // 推理内容 (DeepSeek R1)
//	      "tool_calls": [{"index": 0, ...}]   // 工具调用增量
//	    },
//	    "finish_reason": "stop"
//	  }]
//	}
//
// 工具调用的 id 和 name 一般只出现在某个 index 的第一个片段，之后的片段只有
// arguments 子串。解析器保留厂商原样的 id（不向后续片段补写），
// 仅在厂商省略 index 时根据 id 推断 index。
type ChunkParser struct {
	tools *core.ToolIndexer
}

// NewChunkParser 创建解析器（每个流一个）
func NewChunkParser() *ChunkParser {
	return &ChunkParser{tools: core.NewToolIndexer()}
}

// Framing 实现 core.ChunkParser 接口
func (p *ChunkParser) Framing() core.Framing { return core.FramingSSE }

// ParseChunk 实现 core.ChunkParser 接口
func (p *ChunkParser) ParseChunk(frame core.Frame) (*llm.StreamingResponse, bool, error) {
	var chunk chatCompletion
	if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
		return nil, false, llm.NewParseError("stream chunk", frame.Data, err)
	}
	if chunk.Error != nil && len(chunk.Choices) == 0 {
		return nil, false, bodyError(chunk.Error, []byte(frame.Data))
	}

	resp := &llm.StreamingResponse{
		ID:                chunk.ID,
		Object:            "chat.completion.chunk",
		Created:           chunk.Created,
		Model:             chunk.Model,
		SystemFingerprint: chunk.SystemFingerprint,
		Usage:             convertUsage(chunk.Usage),
	}

	for _, c := range chunk.Choices {
		resp.Choices = append(resp.Choices, llm.StreamingChoice{
			Index: c.Index,
			Delta: llm.Delta{
				Role:             llm.Role(c.Delta.Role),
				Content:          c.Delta.Content,
				ReasoningContent: c.Delta.ReasoningContent,
				Reasoning:        c.Delta.Reasoning,
				ToolCalls:        p.toolCalls(c.Index, c.Delta.ToolCalls),
			},
			FinishReason: core.NormalizeFinishReason(c.FinishReason),
		})
	}

	resp.SyncContent()
	return resp, false, nil
}

// toolCalls 转换工具调用片段并确定 index
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
				Arguments: ArgumentsString(d.Function.Arguments),
			},
		})
	}
	return out
}

var _ core.ChunkParser = (*ChunkParser)(nil)
