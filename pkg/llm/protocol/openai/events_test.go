package openai

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

func openStream(body string) llm.Stream {
	return core.NewEventStream(io.NopCloser(strings.NewReader(body)), NewChunkParser(), nil)
}

func drain(t *testing.T, s llm.Stream) []*llm.StreamingResponse {
	t.Helper()
	var items []*llm.StreamingResponse
	for item, err := range llm.All(s) {
		require.NoError(t, err)
		items = append(items, item)
	}
	return items
}

// ═══════════════════════════════════════════════════════════════════════════
// 文本流
// ═══════════════════════════════════════════════════════════════════════════

func TestChunkParser_TextStream(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}` + "\n\n" +
		"data: [DONE]\n\n"

	items := drain(t, openStream(body))

	require.Len(t, items, 3)
	acc := llm.NewAccumulator()
	for _, item := range items {
		acc.Add(item)
	}
	resp := acc.Response()
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason())
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	for _, item := range items[:2] {
		assert.False(t, item.IsTerminal())
	}
	assert.True(t, items[2].IsTerminal())
}

func TestChunkParser_SeparateUsageChunk(t *testing.T) {
	body := `data: {"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}` + "\n\n" +
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		`data: {"id":"c1","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}` + "\n\n" +
		"data: [DONE]\n\n"

	items := drain(t, openStream(body))

	require.Len(t, items, 2)
	last := items[1]
	assert.Equal(t, llm.FinishReasonStop, last.FinishReason())
	require.NotNil(t, last.Usage)
	assert.Equal(t, 4, last.Usage.TotalTokens)
}

func TestChunkParser_Reasoning(t *testing.T) {
	p := NewChunkParser()

	item, done, err := p.ParseChunk(core.Frame{Data: `{"choices":[{"delta":{"reasoning_content":"Let me think"}}]}`})

	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "Let me think", item.ReasoningContent)
	assert.True(t, item.HasPayload())
}

// ═══════════════════════════════════════════════════════════════════════════
// 工具调用流
// ═══════════════════════════════════════════════════════════════════════════

func TestChunkParser_ToolCallFragments(t *testing.T) {
	body := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"loc"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ation\":\"Beijing\"}"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	s := openStream(body)
	resp, err := llm.Collect(s)
	require.NoError(t, err)

	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Function.Name)
	assert.Equal(t, `{"location":"Beijing"}`, calls[0].Function.Arguments)

	var args struct {
		Location string `json:"location"`
	}
	require.NoError(t, calls[0].ParseArguments(&args))
	assert.Equal(t, "Beijing", args.Location)

	assert.Empty(t, s.Stats().DuplicateToolCalls())
}

func TestChunkParser_ParallelToolCalls(t *testing.T) {
	body := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"a","function":{"name":"f","arguments":""}},{"index":1,"id":"b","function":{"name":"g","arguments":""}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"y\":2}"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"x\":1}"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	resp, err := llm.Collect(openStream(body))
	require.NoError(t, err)

	calls := resp.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.JSONEq(t, `{"x":1}`, calls[0].Function.Arguments)
	assert.Equal(t, "b", calls[1].ID)
	assert.JSONEq(t, `{"y":2}`, calls[1].Function.Arguments)
}

func TestChunkParser_MissingIndex(t *testing.T) {
	p := NewChunkParser()

	first, _, err := p.ParseChunk(core.Frame{Data: `{"choices":[{"delta":{"tool_calls":[{"id":"a","function":{"name":"f","arguments":"{"}}]}}]}`})
	require.NoError(t, err)
	second, _, err := p.ParseChunk(core.Frame{Data: `{"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"}"}}]}}]}`})
	require.NoError(t, err)
	third, _, err := p.ParseChunk(core.Frame{Data: `{"choices":[{"delta":{"tool_calls":[{"id":"b","function":{"name":"g","arguments":"{}"}}]}}]}`})
	require.NoError(t, err)

	assert.Equal(t, 0, first.ToolCalls()[0].Index)
	assert.Equal(t, 0, second.ToolCalls()[0].Index)
	assert.Equal(t, 1, third.ToolCalls()[0].Index)
}

func TestChunkParser_Errors(t *testing.T) {
	t.Run("非法 JSON 只影响当前帧", func(t *testing.T) {
		_, _, err := NewChunkParser().ParseChunk(core.Frame{Data: "{oops"})
		assert.True(t, llm.IsParseError(err))
	})

	t.Run("流内错误对象终止流", func(t *testing.T) {
		body := `data: {"choices":[{"delta":{"content":"a"}}]}` + "\n\n" +
			`data: {"error":{"message":"upstream overloaded","type":"server_error"}}` + "\n\n"

		_, err := llm.Collect(openStream(body))
		require.Error(t, err)
		assert.True(t, llm.IsAPIError(err))
		assert.Contains(t, err.Error(), "upstream overloaded")
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// 流式与非流式一致性
// ═══════════════════════════════════════════════════════════════════════════

func TestStreamingMatchesNonStreaming(t *testing.T) {
	full := `{
		"id": "c1", "model": "gpt-4o",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "Checking.", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"location\":\"Beijing\"}"}}
			]},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
	}`
	stream := `data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Check"}}]}` + "\n\n" +
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"ing."}}]}` + "\n\n" +
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"location\":"}}]}}]}` + "\n\n" +
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Beijing\"}"}}]}}]}` + "\n\n" +
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}` + "\n\n" +
		"data: [DONE]\n\n"

	want, err := NewAdapter("k").ParseResponse([]byte(full))
	require.NoError(t, err)
	got, err := llm.Collect(openStream(stream))
	require.NoError(t, err)

	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.FinishReason(), got.FinishReason())
	assert.Equal(t, want.ToolCalls(), got.ToolCalls())
	assert.Equal(t, want.Usage, got.Usage)
}
