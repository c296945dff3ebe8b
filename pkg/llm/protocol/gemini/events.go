package gemini

import (
	"encoding/json"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// ═══════════════════════════════════════════════════════════════════════════
// Gemini SSE 事件解析器
// ═══════════════════════════════════════════════════════════════════════════

// ChunkParser Gemini 流式事件解析器
//
// :streamGenerateContent?alt=sse 的每个 data 都是一个完整的 generateContent 响应片段：
//
//	data: {"candidates":[{"content":{"role":"model","parts":[{"text":"你"}]}}],"usageMetadata":{...}}
//	data: {"candidates":[{"content":{"role":"model","parts":[{"text":"好"}]},"finishReason":"STOP"}],"usageMetadata":{...}}
//
//   - 没有 [DONE]，带 finishReason 的事件是最后一个
//   - 文本是增量；functionCall 总是完整到达，一个 part 一个调用
//   - usageMetadata 是截至当前的累计值，只有终止项携带
type ChunkParser struct {
	usage    *llm.Usage
	calls    map[int]int // candidate index → 已输出的工具调用数
	sentRole bool
}

// NewChunkParser 创建解析器（每个流一个）
func NewChunkParser() *ChunkParser {
	return &ChunkParser{calls: make(map[int]int)}
}

// Framing 实现 core.ChunkParser 接口
func (p *ChunkParser) Framing() core.Framing { return core.FramingSSE }

// ParseChunk 实现 core.ChunkParser 接口
func (p *ChunkParser) ParseChunk(frame core.Frame) (*llm.StreamingResponse, bool, error) {
	var chunk generateResponse
	if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
		return nil, false, llm.NewParseError("stream chunk", frame.Data, err)
	}
	if chunk.Error != nil && len(chunk.Candidates) == 0 {
		return nil, false, bodyError(chunk.Error, []byte(frame.Data))
	}
	if u := convertUsage(chunk.UsageMetadata); u != nil {
		p.usage = u
	}

	resp := &llm.StreamingResponse{
		ID:     chunk.ResponseID,
		Object: "chat.completion.chunk",
		Model:  chunk.ModelVersion,
	}

	done := false
	for _, c := range chunk.Candidates {
		text, thought, calls := splitParts(c.Content)

		delta := llm.Delta{Content: text, Thought: thought}
		for _, fc := range calls {
			delta.ToolCalls = append(delta.ToolCalls, convertCall(p.calls[c.Index], fc))
			p.calls[c.Index]++
		}
		if !p.sentRole {
			delta.Role = llm.RoleAssistant
			p.sentRole = true
		}

		finish := mapFinishReason(c.FinishReason, p.calls[c.Index] > 0)
		if finish != "" {
			done = true
		}
		resp.Choices = append(resp.Choices, llm.StreamingChoice{
			Index:        c.Index,
			Delta:        delta,
			FinishReason: finish,
		})
	}
	if len(chunk.Candidates) == 0 && chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
		resp.Choices = append(resp.Choices, llm.StreamingChoice{FinishReason: llm.FinishReasonContentFilter})
		done = true
	}

	if done && p.usage != nil {
		usage := *p.usage
		resp.Usage = &usage
	}
	resp.SyncContent()
	return resp, done, nil
}

var _ core.ChunkParser = (*ChunkParser)(nil)
