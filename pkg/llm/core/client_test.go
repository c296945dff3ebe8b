package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// Mock 实现
// ═══════════════════════════════════════════════════════════════════════════

// testAdapter 简化的协议适配器
type testAdapter struct {
	apiKey string
	hint   string
}

func (a *testAdapter) BuildRequest(req *llm.ChatRequest, stream bool) (*HTTPRequest, error) {
	body, err := json.Marshal(map[string]any{
		"model":  req.Model,
		"prompt": req.Messages[len(req.Messages)-1].Text(),
		"stream": stream,
	})
	if err != nil {
		return nil, err
	}
	return &HTTPRequest{
		Path:    "/chat",
		Headers: map[string]string{"Authorization": "Bearer " + a.apiKey},
		Body:    body,
	}, nil
}

func (a *testAdapter) ParseResponse(body []byte) (*llm.ChatResponse, error) {
	var raw struct {
		Model   string `json:"model"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, llm.NewParseError("response", string(body), err)
	}
	return llm.NewChatResponse("id-1", raw.Model, 0, []llm.Choice{{
		Message:      llm.NewAssistantMessage(raw.Content),
		FinishReason: llm.FinishReasonStop,
	}}, nil), nil
}

func (a *testAdapter) NewChunkParser() ChunkParser { return &testParser{framing: FramingSSE} }

func (a *testAdapter) ConnectionHint() string { return a.hint }

// listingAdapter 支持模型列表
type listingAdapter struct {
	testAdapter
}

func (a *listingAdapter) ModelsRequest() (*HTTPRequest, error) {
	return &HTTPRequest{Method: http.MethodGet, Path: "/models"}, nil
}

func (a *listingAdapter) ParseModels(body []byte) ([]string, error) {
	var names []string
	err := json.Unmarshal(body, &names)
	return names, err
}

func newTestClient(t *testing.T, url string, adapter Adapter) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Name:    "test",
		BaseURL: url,
		Model:   "default-model",
		Timeout: 5 * time.Second,
	}, adapter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func userRequest(text string) *llm.ChatRequest {
	return llm.NewChatRequest("", llm.NewUserMessage(text))
}

// ═══════════════════════════════════════════════════════════════════════════
// 构造测试
// ═══════════════════════════════════════════════════════════════════════════

func TestNewClient(t *testing.T) {
	t.Run("成功创建 Client", func(t *testing.T) {
		c, err := NewClient(ClientConfig{Name: "x", BaseURL: "https://api.example.com/v1"}, &testAdapter{})
		require.NoError(t, err)
		assert.Equal(t, "x", c.Name())
		assert.Equal(t, llm.DefaultTimeout, c.Config().Timeout)
	})

	t.Run("配置验证失败", func(t *testing.T) {
		tests := []ClientConfig{
			{},
			{BaseURL: "not a url"},
			{BaseURL: "https://a.com", Timeout: -time.Second},
			{BaseURL: "https://a.com", Proxy: "no-scheme"},
		}
		for _, cfg := range tests {
			_, err := NewClient(cfg, &testAdapter{})
			require.Error(t, err)
			assert.True(t, llm.IsConfigError(err))
		}
	})

	t.Run("缺少适配器", func(t *testing.T) {
		_, err := NewClient(ClientConfig{BaseURL: "https://a.com"}, nil)
		assert.True(t, llm.IsConfigError(err))
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// Chat 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestClient_Chat(t *testing.T) {
	t.Run("成功的 Chat 请求", func(t *testing.T) {
		var gotBody map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/chat", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			_ = json.NewDecoder(r.Body).Decode(&gotBody)

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"model":"m-1","content":"Hello"}`)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL+"/v1/", &testAdapter{apiKey: "sk-test"})
		resp, err := c.Chat(context.Background(), userRequest("hi"))

		require.NoError(t, err)
		assert.Equal(t, "Hello", resp.Content)
		assert.Equal(t, "m-1", resp.Model)
		assert.Equal(t, "default-model", gotBody["model"])
		assert.Equal(t, false, gotBody["stream"])
	})

	t.Run("API 返回错误 (401)", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Request-Id", "req-42")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Invalid API key","code":"invalid_api_key"}}`)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, &testAdapter{})
		_, err := c.Chat(context.Background(), userRequest("hi"))

		require.Error(t, err)
		assert.True(t, llm.IsAuthError(err))
		assert.Equal(t, http.StatusUnauthorized, llm.StatusCode(err))
		assert.Contains(t, err.Error(), "Invalid API key")

		apiErr, ok := llm.GetAPIError(err)
		require.True(t, ok)
		assert.Equal(t, "test", apiErr.Provider)
		assert.Equal(t, "req-42", apiErr.RequestID)
		assert.Equal(t, "invalid_api_key", apiErr.ErrorCode)
	})

	t.Run("429 携带 Retry-After", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, &testAdapter{})
		_, err := c.Chat(context.Background(), userRequest("hi"))

		assert.True(t, llm.IsRateLimited(err))
		assert.True(t, llm.IsRetryable(err))
		apiErr, _ := llm.GetAPIError(err)
		assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
	})

	t.Run("无效请求不发送", func(t *testing.T) {
		c := newTestClient(t, "http://127.0.0.1:1", &testAdapter{})
		c.config.Model = ""

		_, err := c.Chat(context.Background(), userRequest("hi"))

		assert.True(t, llm.IsKind(err, llm.ErrKindInvalidRequest))
	})

	t.Run("连接失败附带提示", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		c := newTestClient(t, url, &testAdapter{hint: "is the server running?"})
		_, err := c.Chat(context.Background(), userRequest("hi"))

		require.Error(t, err)
		assert.True(t, llm.IsKind(err, llm.ErrKindConnection))
		assert.Contains(t, err.Error(), "is the server running?")
	})

	t.Run("超时", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		c, err := NewClient(ClientConfig{BaseURL: server.URL, Model: "m", Timeout: 50 * time.Millisecond}, &testAdapter{})
		require.NoError(t, err)

		_, err = c.Chat(context.Background(), userRequest("hi"))
		require.Error(t, err)
		assert.True(t, llm.IsKind(err, llm.ErrKindTimeout))
		assert.True(t, llm.IsRetryable(err))
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// ChatStream 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestClient_ChatStream(t *testing.T) {
	t.Run("成功的 Stream 请求", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, true, body["stream"])

			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, chunk := range []string{`{"content":"Hel"}`, `{"content":"lo"}`, `{"finish":"stop","total":7}`} {
				fmt.Fprintf(w, "data: %s\n\n", chunk)
				flusher.Flush()
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, &testAdapter{})
		stream, err := c.ChatStream(context.Background(), userRequest("hi"))
		require.NoError(t, err)

		resp, err := llm.Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, "Hello", resp.Content)
		assert.Equal(t, "stop", resp.FinishReason())
		require.NotNil(t, resp.Usage)
		assert.Equal(t, 7, resp.Usage.TotalTokens)
		assert.Equal(t, 3, stream.Stats().Items)
	})

	t.Run("Stream 返回错误", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, &testAdapter{})
		_, err := c.ChatStream(context.Background(), userRequest("hi"))

		require.Error(t, err)
		assert.True(t, llm.IsKind(err, llm.ErrKindServer))
		assert.Contains(t, err.Error(), "overloaded")
	})

	t.Run("取消 context 中断读取", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "data: {\"content\":\"a\"}\n\n")
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		c := newTestClient(t, server.URL, &testAdapter{})
		stream, err := c.ChatStream(ctx, userRequest("hi"))
		require.NoError(t, err)
		defer stream.Close()

		item, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, "a", item.Content)

		cancel()
		_, err = stream.Recv()
		require.Error(t, err)
		assert.True(t, llm.IsTerminalStreamError(err))
	})

	t.Run("服务端停顿触发空闲超时", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "data: {\"content\":\"a\"}\n\n")
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer server.Close()
		defer close(release)

		c, err := NewClient(ClientConfig{Name: "test", BaseURL: server.URL, Model: "m", Timeout: 300 * time.Millisecond}, &testAdapter{})
		require.NoError(t, err)
		stream, err := c.ChatStream(context.Background(), userRequest("hi"))
		require.NoError(t, err)
		defer stream.Close()

		item, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, "a", item.Content)

		// 取出第一项后停顿，不计入空闲时间
		time.Sleep(400 * time.Millisecond)

		done := make(chan error, 1)
		start := time.Now()
		go func() {
			_, err := stream.Recv()
			done <- err
		}()
		select {
		case err = <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("Recv 没有在空闲超时后返回")
		}
		require.Error(t, err)
		assert.True(t, llm.IsKind(err, llm.ErrKindTimeout), "kind = %s", llm.KindOf(err))
		assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	})
}

func TestIdleBody(t *testing.T) {
	t.Run("持续有数据时不超时", func(t *testing.T) {
		pr, pw := io.Pipe()
		body := newIdleBody(pr, 200*time.Millisecond)
		go func() {
			for i := 0; i < 5; i++ {
				time.Sleep(50 * time.Millisecond)
				_, _ = pw.Write([]byte("x"))
			}
			_ = pw.Close()
		}()

		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Equal(t, "xxxxx", string(data))
	})

	t.Run("超时关闭底层读取", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		body := newIdleBody(pr, 50*time.Millisecond)

		_, err := body.Read(make([]byte, 8))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

		_, err = body.Read(make([]byte, 8))
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	})

	t.Run("非正数不包装", func(t *testing.T) {
		rc := io.NopCloser(strings.NewReader("x"))
		assert.Equal(t, rc, newIdleBody(rc, 0))
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// Models 与日志测试
// ═══════════════════════════════════════════════════════════════════════════

func TestClient_Models(t *testing.T) {
	t.Run("适配器支持模型列表", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/models", r.URL.Path)
			fmt.Fprint(w, `["a","b"]`)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, &listingAdapter{})
		models, err := c.Models(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, models)
	})

	t.Run("适配器不支持", func(t *testing.T) {
		c := newTestClient(t, "https://api.example.com", &testAdapter{})
		_, err := c.Models(context.Background())

		assert.True(t, llm.IsKind(err, llm.ErrKindUnsupported))
	})
}

func TestClient_LogBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		fmt.Fprint(w, `{"model":"m","content":"secret-answer"}`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	for _, logBodies := range []bool{false, true} {
		buf.Reset()
		c, err := NewClient(ClientConfig{
			Name: "test", BaseURL: server.URL, Model: "m",
			Logger: logger, LogBodies: logBodies,
		}, &testAdapter{})
		require.NoError(t, err)

		_, err = c.Chat(context.Background(), userRequest("hi"))
		require.NoError(t, err)

		assert.Contains(t, buf.String(), "provider=test")
		assert.Equal(t, logBodies, strings.Contains(buf.String(), "secret-answer"))
	}
}
