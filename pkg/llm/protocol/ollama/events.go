package ollama

import (
	"encoding/json"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// ChunkParser Ollama NDJSON 流解析器
//
// 每一行是一个完整的消息增量：
//
//	{"model":"llama3.2","created_at":"...","message":{"role":"assistant","content":"Hel"},"done":false}
//	{"model":"llama3.2","created_at":"...","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":26,"eval_count":20}
//
// 没有 index 概念；工具调用在单行中完整出现，解析器按出现顺序编号并生成 ID。
type ChunkParser struct {
	id        string
	toolCount int
}

// NewChunkParser 创建解析器（每个流一个）
func NewChunkParser() *ChunkParser {
	return &ChunkParser{id: NewResponseID()}
}

// Framing 实现 core.ChunkParser 接口
func (p *ChunkParser) Framing() core.Framing { return core.FramingNDJSON }

// ParseChunk 实现 core.ChunkParser 接口
func (p *ChunkParser) ParseChunk(frame core.Frame) (*llm.StreamingResponse, bool, error) {
	var line chatResponse
	if err := json.Unmarshal([]byte(frame.Data), &line); err != nil {
		return nil, false, llm.NewParseError("stream line", frame.Data, err)
	}
	if line.Error != "" {
		return nil, false, llm.NewAPIError(llm.ErrKindAPI, 200, line.Error, frame.Data)
	}

	calls := convertToolCalls(line.Message, p.toolCount)
	p.toolCount += len(calls)

	delta := llm.Delta{
		Role:      llm.Role(line.Message.Role),
		Content:   line.Message.Content,
		Thinking:  line.Message.Thinking,
		ToolCalls: calls,
	}
	resp := llm.NewStreamingResponse(delta, finishReason(line, p.toolCount > 0))
	resp.ID = p.id
	resp.Model = line.Model
	resp.Created = createdAt(line.CreatedAt)
	resp.Usage = convertUsage(line)

	return resp, line.Done, nil
}

var _ core.ChunkParser = (*ChunkParser)(nil)
