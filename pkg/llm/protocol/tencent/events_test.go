package tencent

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
)

func sse(data ...string) string {
	var sb strings.Builder
	for _, d := range data {
		sb.WriteString("data: " + d + "\n\n")
	}
	return sb.String()
}

func delta(content, finish string) string {
	return `{"Note":"以上内容为AI生成","Id":"resp-1","Created":1700000000,` +
		`"Choices":[{"Delta":{"Role":"assistant","Content":"` + content + `"},"FinishReason":"` + finish + `"}],` +
		`"Usage":{"PromptTokens":3,"CompletionTokens":2,"TotalTokens":5}}`
}

func openStream(body string) llm.Stream {
	return core.NewEventStream(io.NopCloser(strings.NewReader(body)), NewChunkParser(), nil)
}

func TestChunkParser_TextStream(t *testing.T) {
	s := openStream(sse(delta("你", ""), delta("好", ""), delta("", "stop")))

	var items []*llm.StreamingResponse
	for item, err := range llm.All(s) {
		require.NoError(t, err)
		items = append(items, item)
	}

	// 每个事件都带用量，结束事件不含内容，合并进最后一个内容项
	require.Len(t, items, 2)
	assert.Equal(t, "你", items[0].Content)
	assert.Nil(t, items[0].Usage, "只有最后一项携带用量")

	last := items[1]
	assert.Equal(t, "好", last.Content)
	assert.Equal(t, llm.FinishReasonStop, last.FinishReason())
	assert.Equal(t, 5, last.Usage.TotalTokens)
	assert.True(t, s.Stats().TerminatedCleanly)
}

func TestChunkParser_FinishOnContentChunk(t *testing.T) {
	_, done, err := NewChunkParser().ParseChunk(core.Frame{Data: delta("!", "stop")})

	require.NoError(t, err)
	assert.True(t, done)
}

func TestChunkParser_MissingFinish(t *testing.T) {
	resp, err := llm.Collect(openStream(sse(delta("半", ""))))

	assert.True(t, llm.IsStreamError(err))
	assert.Equal(t, "半", resp.Content)
}

func TestChunkParser_ErrorEvent(t *testing.T) {
	body := sse(delta("a", ""), `{"Response":{"RequestId":"r","Error":{"Code":"LimitExceeded","Message":"too many"}}}`)

	resp, err := llm.Collect(openStream(body))

	require.Error(t, err)
	assert.True(t, llm.IsRateLimited(err))
	assert.Equal(t, "a", resp.Content)
}

func TestChunkParser_ToolCalls(t *testing.T) {
	body := sse(
		`{"Id":"x","Choices":[{"Delta":{"Role":"assistant","ToolCalls":[{"Index":0,"Id":"call_1","Type":"function","Function":{"Name":"get_weather","Arguments":"{\"ci"}}]},"FinishReason":""}]}`,
		`{"Id":"x","Choices":[{"Delta":{"ToolCalls":[{"Index":0,"Function":{"Arguments":"ty\":\"北京\"}"}}]},"FinishReason":""}]}`,
		`{"Id":"x","Choices":[{"Delta":{},"FinishReason":"tool_calls"}]}`,
	)

	resp, err := llm.Collect(openStream(body))

	require.NoError(t, err)
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.JSONEq(t, `{"city":"北京"}`, calls[0].Function.Arguments)
	assert.Equal(t, llm.FinishReasonToolCalls, resp.FinishReason())
}

func TestChunkParser_BadJSON(t *testing.T) {
	s := openStream(sse(`{"Id":`, delta("ok", "stop")))

	resp, err := llm.Collect(s)

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, s.Stats().ParseErrors)
}

func TestStreamingMatchesNonStreaming(t *testing.T) {
	full := `{"Response":{"RequestId":"r","Id":"resp-1","Created":1700000000,
		"Choices":[{"Message":{"Role":"assistant","Content":"你好"},"FinishReason":"stop"}],
		"Usage":{"PromptTokens":3,"CompletionTokens":2,"TotalTokens":5}}}`

	want, err := NewAdapter("id", "key").ParseResponse([]byte(full))
	require.NoError(t, err)
	got, err := llm.Collect(openStream(sse(delta("你", ""), delta("好", "stop"))))
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.Created, got.Created)
	assert.Equal(t, want.FinishReason(), got.FinishReason())
	assert.Equal(t, want.Usage, got.Usage)
}
