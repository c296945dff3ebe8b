package aliyun

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

// events 按 DashScope 的格式（id、event、HTTP_STATUS 注释行）拼接事件
func events(data ...string) string {
	var sb strings.Builder
	for i, d := range data {
		sb.WriteString("id:" + string(rune('1'+i)) + "\n")
		sb.WriteString("event:result\n")
		sb.WriteString(":HTTP_STATUS/200\n")
		sb.WriteString("data:" + d + "\n\n")
	}
	return sb.String()
}

func chunk(content, finish string) string {
	return `{"output":{"choices":[{"message":{"content":"` + content + `","role":"assistant"},"finish_reason":"` + finish + `"}]},` +
		`"usage":{"input_tokens":5,"output_tokens":3,"total_tokens":8},"request_id":"req-1"}`
}

func openStream(body string) llm.Stream {
	return core.NewEventStream(io.NopCloser(strings.NewReader(body)), NewChunkParser(), nil)
}

func collectDeltas(t *testing.T, s llm.Stream) []string {
	t.Helper()
	var out []string
	for item, err := range llm.All(s) {
		require.NoError(t, err)
		out = append(out, item.Content)
	}
	return out
}

func TestChunkParser_Incremental(t *testing.T) {
	s := openStream(events(chunk("Hel", "null"), chunk("lo", "null"), chunk("!", "stop")))

	assert.Equal(t, []string{"Hel", "lo", "!"}, collectDeltas(t, s))
	stats := s.Stats()
	assert.Equal(t, 0, stats.CumulativeChunks)
	assert.True(t, stats.TerminatedCleanly)
}

func TestChunkParser_CumulativeContent(t *testing.T) {
	cumulative := events(chunk("你好", "null"), chunk("你好，世", "null"), chunk("你好，世界", "null"), chunk("你好，世界", "stop"))

	t.Run("未开启增量输出", func(t *testing.T) {
		s := core.NewEventStream(io.NopCloser(strings.NewReader(cumulative)), NewCumulativeChunkParser(), nil)

		assert.Equal(t, []string{"你好", "，世", "界", ""}, collectDeltas(t, s))
		assert.Equal(t, 3, s.Stats().CumulativeChunks)
	})

	t.Run("开启增量输出时第二次增长才切换", func(t *testing.T) {
		s := openStream(cumulative)

		assert.Equal(t, []string{"你好", "你好，世", "界", ""}, collectDeltas(t, s))
		assert.Equal(t, 2, s.Stats().CumulativeChunks)
	})
}

// 增量流中恰好以前文为前缀的片段不能被当作累积内容
func TestChunkParser_PrefixLikeIncrements(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"重复字母", []string{"a", "aa", "b"}, "aaab"},
		{"markdown 强调", []string{"*", "**", "x"}, "***x"},
		{"列表缩进", []string{"-", " -", "- "}, "- -- "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := make([]string, 0, len(tt.chunks))
			for i, c := range tt.chunks {
				finish := "null"
				if i == len(tt.chunks)-1 {
					finish = "stop"
				}
				frames = append(frames, chunk(c, finish))
			}
			s := openStream(events(frames...))

			resp, err := llm.Collect(s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Content)
			assert.Equal(t, 0, s.Stats().CumulativeChunks)
		})
	}
}

func TestChunkParser_RepeatedIncrementNotCumulative(t *testing.T) {
	p := NewChunkParser()

	first, _, err := p.ParseChunk(core.Frame{Data: chunk("ha", "null")})
	require.NoError(t, err)
	second, _, err := p.ParseChunk(core.Frame{Data: chunk("ha", "null")})
	require.NoError(t, err)

	assert.Equal(t, "ha", first.Content)
	assert.Equal(t, "ha", second.Content)
	assert.Equal(t, 0, p.CumulativeChunks())
}

func TestChunkParser_OnlyLastItemTerminal(t *testing.T) {
	var items []*llm.StreamingResponse
	for item, err := range llm.All(openStream(events(chunk("a", "null"), chunk("b", "null"), chunk("c", "stop")))) {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 3)
	assert.False(t, items[0].IsTerminal())
	assert.False(t, items[1].IsTerminal())
	assert.Equal(t, llm.FinishReasonStop, items[2].FinishReason())
	assert.Equal(t, 8, items[2].Usage.TotalTokens)
}

func TestChunkParser_DuplicateToolCalls(t *testing.T) {
	tool := `{"output":{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[` +
		`{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"杭州\"}"}}` +
		`]},"finish_reason":"%s"}]},"request_id":"r"}`

	s := openStream(events(
		strings.Replace(tool, "%s", "null", 1),
		strings.Replace(tool, "%s", "tool_calls", 1),
	))
	resp, err := llm.Collect(s)
	require.NoError(t, err)

	assert.Equal(t, []string{"call_1"}, s.Stats().DuplicateToolCalls())
	assert.Equal(t, 2, s.Stats().ToolCallAppearances["call_1"])
	require.Len(t, resp.ToolCalls(), 1)
	assert.Equal(t, llm.FinishReasonToolCalls, resp.FinishReason())
}

func TestChunkParser_Reasoning(t *testing.T) {
	p := NewChunkParser()

	item, _, err := p.ParseChunk(core.Frame{Data: `{"output":{"choices":[{"message":{"content":"","reasoning_content":"思考中","role":"assistant"},"finish_reason":"null"}]},"request_id":"r"}`})

	require.NoError(t, err)
	assert.Equal(t, "思考中", item.ReasoningContent)
	assert.Empty(t, item.Content)
}

func TestChunkParser_ErrorEvent(t *testing.T) {
	s := openStream(events(chunk("a", "null"), `{"code":"DataInspectionFailed","message":"Output data may contain inappropriate content.","request_id":"r"}`))

	resp, err := llm.Collect(s)

	require.Error(t, err)
	apiErr, ok := llm.GetAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "DataInspectionFailed", apiErr.ErrorCode)
	assert.Equal(t, "a", resp.Content)
}

func TestStreamingMatchesNonStreaming(t *testing.T) {
	full := `{"request_id":"req-1","output":{"choices":[{"message":{"role":"assistant","content":"杭州今天晴。",` +
		`"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"杭州\"}"}}]},` +
		`"finish_reason":"tool_calls"}]},"usage":{"input_tokens":5,"output_tokens":3,"total_tokens":8}}`
	want, err := NewAdapter("").ParseResponse([]byte(full))
	require.NoError(t, err)

	toolChunk := func(content, args, finish string) string {
		return `{"request_id":"req-1","output":{"choices":[{"message":{"role":"assistant","content":"` + content + `",` +
			`"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"` + args + `"}}]},` +
			`"finish_reason":"` + finish + `"}]},"usage":{"input_tokens":5,"output_tokens":3,"total_tokens":8}}`
	}

	t.Run("增量", func(t *testing.T) {
		got, err := llm.Collect(openStream(events(
			chunk("杭州", "null"),
			chunk("今天晴。", "null"),
			toolChunk("", `{\"city\":\"杭州\"}`, "tool_calls"),
		)))
		require.NoError(t, err)
		assertSameResponse(t, want, got)
	})

	t.Run("累积", func(t *testing.T) {
		s := core.NewEventStream(io.NopCloser(strings.NewReader(events(
			chunk("杭州", "null"),
			chunk("杭州今天", "null"),
			chunk("杭州今天晴。", "null"),
			toolChunk("杭州今天晴。", `{\"city\":\"杭州\"}`, "tool_calls"),
		))), NewCumulativeChunkParser(), nil)

		got, err := llm.Collect(s)
		require.NoError(t, err)
		assertSameResponse(t, want, got)
		assert.Equal(t, 3, s.Stats().CumulativeChunks)
	})
}

func assertSameResponse(t *testing.T, want, got *llm.ChatResponse) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.FinishReason(), got.FinishReason())
	assert.Equal(t, want.Usage, got.Usage)
	require.Len(t, got.ToolCalls(), 1)
	assert.Equal(t, want.ToolCalls()[0].ID, got.ToolCalls()[0].ID)
	assert.Equal(t, want.ToolCalls()[0].Function, got.ToolCalls()[0].Function)
}
