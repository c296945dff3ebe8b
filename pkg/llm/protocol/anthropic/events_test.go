package anthropic

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

func sse(events ...[2]string) string {
	var sb strings.Builder
	for _, e := range events {
		sb.WriteString("event: " + e[0] + "\n")
		sb.WriteString("data: " + e[1] + "\n\n")
	}
	return sb.String()
}

func openStream(body string) llm.Stream {
	return core.NewEventStream(io.NopCloser(strings.NewReader(body)), NewChunkParser(), nil)
}

// ═══════════════════════════════════════════════════════════════════════════
// 文本与推理
// ═══════════════════════════════════════════════════════════════════════════

func TestChunkParser_TextStream(t *testing.T) {
	body := sse(
		[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude","usage":{"input_tokens":10,"output_tokens":1}}}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		[2]string{"ping", `{"type":"ping"}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`},
		[2]string{"message_stop", `{"type":"message_stop"}`},
	)

	s := openStream(body)
	var items []*llm.StreamingResponse
	for item, err := range llm.All(s) {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 4, "角色项 + 两个文本项 + 终止项")
	assert.Equal(t, llm.RoleAssistant, items[0].Choices[0].Delta.Role)
	assert.Equal(t, "msg_1", items[1].ID)
	assert.Equal(t, "Hello", items[1].Content)
	assert.Equal(t, " world", items[2].Content)
	for _, item := range items[:3] {
		assert.False(t, item.IsTerminal())
	}

	last := items[3]
	assert.Empty(t, last.Content)
	assert.Equal(t, llm.FinishReasonStop, last.FinishReason())
	require.NotNil(t, last.Usage)
	assert.Equal(t, 10, last.Usage.PromptTokens)
	assert.Equal(t, 5, last.Usage.CompletionTokens)
	assert.Equal(t, 15, last.Usage.TotalTokens)

	assert.True(t, s.Stats().TerminatedCleanly)
}

func TestChunkParser_Thinking(t *testing.T) {
	p := NewChunkParser()

	item, done, err := p.ParseChunk(core.Frame{
		Event: "content_block_delta",
		Data:  `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Let me think"}}`,
	})

	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "Let me think", item.Choices[0].Delta.Thinking)
	assert.Equal(t, "Let me think", item.ReasoningContent)

	item, _, err = p.ParseChunk(core.Frame{
		Event: "content_block_delta",
		Data:  `{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"abc"}}`,
	})
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestChunkParser_UsageBeforeStopReason(t *testing.T) {
	body := sse(
		[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude","usage":{"input_tokens":10}}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`},
		[2]string{"message_delta", `{"type":"message_delta","delta":{},"usage":{"output_tokens":7,"cache_read_input_tokens":4}}`},
		[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`},
		[2]string{"message_stop", `{"type":"message_stop"}`},
	)

	var items []*llm.StreamingResponse
	for item, err := range llm.All(openStream(body)) {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 3, "只带 usage 的 message_delta 不产生输出项")
	last := items[2]
	assert.Equal(t, llm.FinishReasonStop, last.FinishReason())
	require.NotNil(t, last.Usage)
	assert.Equal(t, 10, last.Usage.PromptTokens)
	assert.Equal(t, 7, last.Usage.CompletionTokens)
	assert.Equal(t, 17, last.Usage.TotalTokens)
}

func TestChunkParser_EventTypeFromPayload(t *testing.T) {
	_, done, err := NewChunkParser().ParseChunk(core.Frame{Data: `{"type":"message_stop"}`})

	require.NoError(t, err)
	assert.True(t, done)
}

// ═══════════════════════════════════════════════════════════════════════════
// 工具调用
// ═══════════════════════════════════════════════════════════════════════════

func TestChunkParser_ToolUse(t *testing.T) {
	body := sse(
		[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_2","model":"claude","usage":{"input_tokens":20}}}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking."}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{}}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"location\":"}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Beijing\"}"}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":1}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_2","name":"get_time","input":{}}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":2}`},
		[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":40}}`},
		[2]string{"message_stop", `{"type":"message_stop"}`},
	)

	s := openStream(body)
	resp, err := llm.Collect(s)
	require.NoError(t, err)

	assert.Equal(t, "Checking.", resp.Content)
	assert.Equal(t, llm.FinishReasonToolCalls, resp.FinishReason())

	calls := resp.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, 0, calls[0].Index)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Function.Name)
	assert.Equal(t, `{"location":"Beijing"}`, calls[0].Function.Arguments)
	assert.Equal(t, 1, calls[1].Index)
	assert.Equal(t, "{}", calls[1].Function.Arguments, "无参数的工具调用补齐为空对象")

	assert.Empty(t, s.Stats().DuplicateToolCalls())
}

// ═══════════════════════════════════════════════════════════════════════════
// 错误
// ═══════════════════════════════════════════════════════════════════════════

func TestChunkParser_Errors(t *testing.T) {
	t.Run("非法 JSON 只影响当前帧", func(t *testing.T) {
		_, _, err := NewChunkParser().ParseChunk(core.Frame{Event: "content_block_delta", Data: "{bad"})
		assert.True(t, llm.IsParseError(err))
	})

	t.Run("流内错误事件终止流", func(t *testing.T) {
		body := sse(
			[2]string{"message_start", `{"type":"message_start","message":{"id":"m","model":"claude","usage":{"input_tokens":1}}}`},
			[2]string{"error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`},
		)

		_, err := llm.Collect(openStream(body))

		require.Error(t, err)
		assert.True(t, llm.IsKind(err, llm.ErrKindServer))
		assert.True(t, llm.IsRetryable(err))
		assert.Contains(t, err.Error(), "Overloaded")
	})

	t.Run("缺少 message_stop", func(t *testing.T) {
		body := sse(
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`},
		)

		resp, err := llm.Collect(openStream(body))

		assert.True(t, llm.IsStreamError(err))
		if resp != nil {
			assert.Equal(t, "partial", resp.Content)
		}
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// 流式与非流式一致性
// ═══════════════════════════════════════════════════════════════════════════

func TestStreamingMatchesNonStreaming(t *testing.T) {
	full := `{
		"id": "msg_3", "model": "claude",
		"content": [
			{"type": "thinking", "thinking": "Weather needed."},
			{"type": "text", "text": "Checking."},
			{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"location": "Beijing"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`
	stream := sse(
		[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_3","model":"claude","usage":{"input_tokens":10,"output_tokens":1}}}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Weather "}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"needed."}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Checking."}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":1}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{}}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"location\":\"Beijing\"}"}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":2}`},
		[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`},
		[2]string{"message_stop", `{"type":"message_stop"}`},
	)

	want, err := NewAdapter("k").ParseResponse([]byte(full))
	require.NoError(t, err)
	got, err := llm.Collect(openStream(stream))
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.ReasoningContent(), got.ReasoningContent())
	assert.Equal(t, want.FinishReason(), got.FinishReason())
	assert.Equal(t, want.ToolCalls(), got.ToolCalls())
	assert.Equal(t, want.Usage, got.Usage)
}
