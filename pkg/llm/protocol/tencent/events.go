package tencent

import (
	"encoding/json"
	"net/http"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// streamChunk 流式事件
//
// 正常事件不带 Response 包装；流中途出错时服务端发送带包装的错误体。
type streamChunk struct {
	chatResponse
	Response *chatResponse `json:"Response"`
}

// ChunkParser 混元 SSE 流解析器
//
//	data: {"Note":"以上内容为AI生成","Id":"...","Created":1700000000,"Choices":[{"Delta":{"Role":"assistant","Content":"你"},"FinishReason":""}],"Usage":{...}}
//	data: {"Note":"...","Id":"...","Created":1700000000,"Choices":[{"Delta":{"Role":"assistant","Content":""},"FinishReason":"stop"}],"Usage":{...}}
//
// 没有 [DONE]，FinishReason 非空的事件是最后一个。
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
	var chunk streamChunk
	if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
		return nil, false, llm.NewParseError("stream chunk", frame.Data, err)
	}
	if r := chunk.Response; r != nil && r.Error != nil {
		return nil, false, responseError(http.StatusOK, r.RequestId, r.Error, []byte(frame.Data))
	}
	if chunk.Error != nil {
		return nil, false, responseError(http.StatusOK, chunk.RequestId, chunk.Error, []byte(frame.Data))
	}

	resp := &llm.StreamingResponse{
		ID:      chunk.Id,
		Object:  "chat.completion.chunk",
		Created: chunk.Created,
		Usage:   convertUsage(chunk.Usage),
	}

	done := false
	for i, c := range chunk.Choices {
		finish := core.NormalizeFinishReason(c.FinishReason)
		if finish != "" {
			done = true
		}
		var delta llm.Delta
		if d := c.Delta; d != nil {
			delta = llm.Delta{
				Role:             llm.Role(d.Role),
				Content:          d.Content,
				ReasoningContent: d.ReasoningContent,
				ToolCalls:        p.toolCalls(i, d.ToolCalls),
			}
		}
		resp.Choices = append(resp.Choices, llm.StreamingChoice{
			Index:        i,
			Delta:        delta,
			FinishReason: finish,
		})
	}

	resp.SyncContent()
	return resp, done, nil
}

func (p *ChunkParser) toolCalls(choice int, deltas []wireToolCall) []llm.ToolCall {
	if len(deltas) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, llm.ToolCall{
			Index: p.tools.Resolve(choice, d.Index, d.Id),
			ID:    d.Id,
			Type:  d.Type,
			Function: llm.FunctionCall{
				Name:      d.Function.Name,
				Arguments: d.Function.Arguments,
			},
		})
	}
	return out
}

var _ core.ChunkParser = (*ChunkParser)(nil)
