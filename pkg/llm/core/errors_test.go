package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

func TestDefaultErrorMapper(t *testing.T) {
	t.Run("按状态码分类并保留响应体", func(t *testing.T) {
		err := DefaultErrorMapper(http.StatusBadRequest, nil, []byte(`{"error":{"message":"bad temperature","type":"invalid_request_error"}}`))

		assert.Equal(t, llm.ErrKindInvalidRequest, err.Kind())
		assert.Equal(t, "invalid_request_error", err.ErrorCode)
		assert.Contains(t, err.Error(), "bad temperature")
	})

	t.Run("响应体表明上下文超长", func(t *testing.T) {
		err := DefaultErrorMapper(http.StatusBadRequest, nil,
			[]byte(`{"error":{"message":"This model's maximum context length is 8192 tokens","code":"context_length_exceeded"}}`))

		assert.Equal(t, llm.ErrKindContextLength, err.Kind())
	})

	t.Run("读取请求 ID 与 Retry-After", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Request-Id", "abc")
		h.Set("Retry-After", "2")

		err := DefaultErrorMapper(http.StatusTooManyRequests, h, nil)

		assert.Equal(t, "abc", err.RequestID)
		assert.Equal(t, 2*time.Second, err.RetryAfter)
		assert.True(t, err.IsRateLimited())
	})
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"OpenAI 格式", `{"error":{"message":"m1"}}`, "m1"},
		{"字符串 error", `{"error":"m2"}`, "m2"},
		{"顶层 message", `{"code":"X","message":"m3"}`, "m3"},
		{"智谱 msg", `{"code":500,"msg":"m4","success":false}`, "m4"},
		{"非 JSON", `<html>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractErrorMessage([]byte(tt.body)))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5"))
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("soon"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := ParseRetryAfter(future)
	assert.Greater(t, d, 30*time.Second)
}

func TestClassifyTransportError(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name string
		err  error
		want llm.ErrorKind
	}{
		{"context 超时", fmt.Errorf("post: %w", context.DeadlineExceeded), llm.ErrKindTimeout},
		{"拨号失败", fmt.Errorf("post: %w", dialErr), llm.ErrKindConnection},
		{"DNS 失败", &net.DNSError{Err: "no such host", Name: "x.invalid"}, llm.ErrKindConnection},
		{"其他错误", errors.New("unexpected EOF"), llm.ErrKindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyTransportError(tt.err, "")
			assert.Equal(t, tt.want, err.Kind())
			assert.True(t, err.IsRetryable())
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("连接失败附带提示", func(t *testing.T) {
		err := ClassifyTransportError(dialErr, "Is it running?")
		assert.Contains(t, err.Error(), "Is it running?")
	})
}
