package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ═══════════════════════════════════════════════════════════════════════════
// ConfigError 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestConfigError(t *testing.T) {
	t.Run("创建配置错误（无底层错误）", func(t *testing.T) {
		err := NewConfigError("API key is required", nil)

		require.NotNil(t, err)
		assert.True(t, IsConfigError(err))
		assert.False(t, IsRequestError(err))
		assert.Equal(t, ErrKindConfig, err.Kind())
		assert.Contains(t, err.Error(), "config_error")
		assert.Contains(t, err.Error(), "API key is required")
		assert.False(t, err.IsRetryable())
	})

	t.Run("错误链支持", func(t *testing.T) {
		underlying := errors.New("underlying error")
		err := NewConfigError("config failed", underlying)

		require.ErrorIs(t, err, underlying)
		assert.Contains(t, err.Error(), "underlying error")
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// RequestError 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestRequestError(t *testing.T) {
	t.Run("构建阶段错误", func(t *testing.T) {
		err := NewRequestError("marshal", errors.New("JSON error"))

		assert.True(t, IsRequestError(err))
		assert.Equal(t, "marshal", err.Stage)
		assert.Contains(t, err.Error(), "failed to marshal request")
	})

	t.Run("校验错误归类为无效请求", func(t *testing.T) {
		err := NewInvalidRequestError("messages must not be empty")

		assert.Equal(t, ErrKindInvalidRequest, KindOf(err))
		assert.Equal(t, "validate", err.Stage)
		assert.False(t, IsRetryable(err))
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// 状态码映射测试
// ═══════════════════════════════════════════════════════════════════════════

func TestNewStatusError(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
		auth      bool
		rate      bool
	}{
		{http.StatusUnauthorized, ErrKindAuthentication, false, true, false},
		{http.StatusForbidden, ErrKindPermission, false, true, false},
		{http.StatusTooManyRequests, ErrKindRateLimit, true, false, true},
		{http.StatusBadRequest, ErrKindInvalidRequest, false, false, false},
		{http.StatusNotFound, ErrKindNotFound, false, false, false},
		{http.StatusRequestEntityTooLarge, ErrKindContextLength, false, false, false},
		{http.StatusInternalServerError, ErrKindServer, true, false, false},
		{http.StatusBadGateway, ErrKindServer, true, false, false},
		{http.StatusServiceUnavailable, ErrKindServer, true, false, false},
		{http.StatusGatewayTimeout, ErrKindTimeout, true, false, false},
		{http.StatusConflict, ErrKindAPI, false, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := NewStatusError(tt.status, `{"error":{"message":"boom"}}`)

			assert.Equal(t, tt.kind, err.Kind())
			assert.Equal(t, tt.status, err.StatusCode())
			assert.Equal(t, tt.retryable, err.IsRetryable())
			assert.Equal(t, tt.auth, err.IsAuthError())
			assert.Equal(t, tt.rate, err.IsRateLimited())

			// 包级辅助函数穿透包装
			wrapped := fmt.Errorf("call failed: %w", err)
			assert.Equal(t, tt.status, StatusCode(wrapped))
			assert.Equal(t, tt.retryable, IsRetryable(wrapped))
			assert.Equal(t, tt.auth, IsAuthError(wrapped))
			assert.Equal(t, tt.rate, IsRateLimited(wrapped))
		})
	}
}

func TestAPIError_MessageIncludesBody(t *testing.T) {
	body := `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`
	err := NewStatusError(http.StatusUnauthorized, body).
		WithProvider("openai").
		WithRequestID("req-123").
		WithErrorCode("invalid_api_key")

	msg := err.Error()
	assert.Contains(t, msg, "openai")
	assert.Contains(t, msg, "401")
	assert.Contains(t, msg, "Incorrect API key provided")
	assert.Contains(t, msg, "invalid_api_key")
	assert.Contains(t, msg, "request_id: req-123")
}

func TestAPIError_WithKindAndRetryAfter(t *testing.T) {
	err := NewStatusError(http.StatusBadRequest, "input is too long").
		WithKind(ErrKindContextLength).
		WithRetryAfter(2 * time.Second)

	assert.Equal(t, ErrKindContextLength, KindOf(err))
	assert.Equal(t, 2*time.Second, err.RetryAfter)

	got, ok := GetAPIError(fmt.Errorf("wrap: %w", err))
	require.True(t, ok)
	assert.Same(t, err, got)
}

// ═══════════════════════════════════════════════════════════════════════════
// 传输错误测试
// ═══════════════════════════════════════════════════════════════════════════

func TestHTTPError(t *testing.T) {
	for _, kind := range []ErrorKind{ErrKindTimeout, ErrKindConnection, ErrKindNetwork} {
		t.Run(string(kind), func(t *testing.T) {
			err := NewHTTPError(kind, "request failed", errors.New("dial tcp"))

			assert.True(t, IsHTTPError(err))
			assert.True(t, err.IsRetryable())
			assert.Equal(t, 0, err.StatusCode())
			assert.Contains(t, err.Error(), "dial tcp")
		})
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 其他错误测试
// ═══════════════════════════════════════════════════════════════════════════

func TestParseError(t *testing.T) {
	err := NewParseError("chunk", "{bad", errors.New("unexpected EOF"))

	assert.True(t, IsParseError(err))
	assert.Equal(t, ErrKindParse, err.Kind())
	assert.Equal(t, "{bad", err.Raw)
	assert.False(t, err.IsRetryable())
}

func TestUnsupportedError(t *testing.T) {
	err := NewUnsupportedError("anthropic", "models")

	assert.Equal(t, ErrKindUnsupported, KindOf(err))
	assert.Contains(t, err.Error(), "anthropic does not support models")
}

func TestMaxRetriesError(t *testing.T) {
	last := NewStatusError(http.StatusServiceUnavailable, "overloaded")
	err := NewMaxRetriesError(4, last)

	assert.Equal(t, ErrKindMaxRetries, KindOf(err))
	assert.False(t, err.IsRetryable())
	assert.Equal(t, 4, err.Attempts)
	require.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestKindOf_ForeignError(t *testing.T) {
	err := errors.New("plain")

	assert.Equal(t, ErrorKind(""), KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 0, StatusCode(err))
	assert.False(t, IsTerminalStreamError(nil))
}
