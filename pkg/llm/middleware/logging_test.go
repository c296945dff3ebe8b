package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/provider/mock"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogging_Chat(t *testing.T) {
	var buf bytes.Buffer
	p := Logging(newTestLogger(&buf))(mock.New(mock.WithName("fake"), mock.WithResponse("pong")))

	resp, err := p.Chat(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content)

	out := buf.String()
	assert.Contains(t, out, "sending request")
	assert.Contains(t, out, "chat completed")
	assert.Contains(t, out, "provider=fake")
	assert.Contains(t, out, "model=test-model")
	assert.Contains(t, out, "finish_reason=stop")
	assert.Contains(t, out, "total_tokens=")
}

func TestLogging_ChatError(t *testing.T) {
	var buf bytes.Buffer
	p := Logging(newTestLogger(&buf))(mock.New(mock.WithError(rateLimited())))

	_, err := p.Chat(context.Background(), hello())
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "request failed")
	assert.Contains(t, out, "kind=rate_limit_error")
	assert.Contains(t, out, "status=429")
}

func TestLogging_Stream(t *testing.T) {
	t.Run("正常结束", func(t *testing.T) {
		var buf bytes.Buffer
		p := Logging(newTestLogger(&buf))(mock.New(mock.WithResponse("Hello there")))

		stream, err := p.ChatStream(context.Background(), hello())
		require.NoError(t, err)
		resp, err := llm.Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, "Hello there", resp.Content)

		out := buf.String()
		assert.Contains(t, out, "stream opened")
		assert.Contains(t, out, "stream completed")
		assert.Contains(t, out, "finish_reason=stop")
		assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("stream completed")), "汇总只记录一次")
	})

	t.Run("中途失败", func(t *testing.T) {
		var buf bytes.Buffer
		p := Logging(newTestLogger(&buf))(mock.New(
			mock.WithResponse("partial"),
			mock.WithStreamError(llm.NewStreamError("connection reset", nil)),
		))

		stream, err := p.ChatStream(context.Background(), hello())
		require.NoError(t, err)
		_, err = llm.Collect(stream)
		require.Error(t, err)

		out := buf.String()
		assert.Contains(t, out, "stream failed")
		assert.Contains(t, out, "kind=streaming_error")
		assert.NotContains(t, out, "stream completed")
	})

	t.Run("提前关闭", func(t *testing.T) {
		var buf bytes.Buffer
		p := Logging(newTestLogger(&buf))(mock.New(mock.WithResponse("a long response")))

		stream, err := p.ChatStream(context.Background(), hello())
		require.NoError(t, err)
		_, err = stream.Recv()
		require.NoError(t, err)
		require.NoError(t, stream.Close())
		require.NoError(t, stream.Close())

		out := buf.String()
		assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("stream closed early")))
		assert.NotContains(t, out, "stream completed")
	})

	t.Run("建立失败", func(t *testing.T) {
		var buf bytes.Buffer
		p := Logging(newTestLogger(&buf))(mock.New(mock.WithError(rateLimited())))

		_, err := p.ChatStream(context.Background(), hello())
		require.Error(t, err)
		assert.Contains(t, buf.String(), "op=chat_stream")
	})
}

func TestLogging_Models(t *testing.T) {
	var buf bytes.Buffer
	p := Logging(newTestLogger(&buf))(mock.New(mock.WithModels("a", "b")))

	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 2)
	assert.Contains(t, buf.String(), "count=2")
}

func TestLogging_NilLogger(t *testing.T) {
	p := Logging(nil)(mock.New(mock.WithResponse("ok")))
	_, err := p.Chat(context.Background(), hello())
	assert.NoError(t, err)
}
