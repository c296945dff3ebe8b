package llm_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/middleware"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/provider"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/provider/localmock"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/provider/mock"
)

// ═══════════════════════════════════════════════════════════════════════════
// 端到端：配置文件 -> 注册表 -> 中间件 -> HTTP -> 本地模拟服务
// ═══════════════════════════════════════════════════════════════════════════

const integrationConfig = `
providers:
  gateway:
    type: openai
    api_key: ${LOCALMOCK_KEY}
    base_url: ${LOCALMOCK_URL}/v1
    model: gpt-4o-mini
    max_retries: 2
  claude:
    type: anthropic
    api_key: ${LOCALMOCK_KEY}
    base_url: ${LOCALMOCK_URL}
    model: claude-sonnet-4-5
`

var defaultModels = map[string]string{"gateway": "gpt-4o-mini", "claude": "claude-sonnet-4-5"}

func newIntegration(t *testing.T, backend *mock.Client) *provider.Registry {
	t.Helper()
	srv := httptest.NewServer(localmock.New(backend, localmock.WithAPIKey("integration-key")))
	t.Cleanup(srv.Close)
	t.Setenv("LOCALMOCK_URL", srv.URL)
	t.Setenv("LOCALMOCK_KEY", "integration-key")

	fc, err := provider.LoadConfig([]byte(integrationConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "gateway"}, fc.Names())

	reg, err := provider.NewRegistryFromConfig(fc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// runToolLoop 执行一轮工具调用：流式拿到调用，回填结果后同步拿到最终回答
func runToolLoop(t *testing.T, p llm.Provider) (*llm.ChatResponse, *llm.ChatResponse) {
	t.Helper()
	ctx := context.Background()

	// 模型留空，由配置文件补全
	req := llm.NewChatRequest("", llm.NewUserMessage("查一下天气")).
		WithTools(llm.NewFunctionTool("get_weather", "查询天气", map[string]any{"type": "object"}))

	stream, err := p.ChatStream(ctx, req)
	require.NoError(t, err)
	first, err := llm.Collect(stream)
	require.NoError(t, err)
	require.Equal(t, llm.FinishReasonToolCalls, first.FinishReason())
	calls := first.ToolCalls()
	require.Len(t, calls, 1)

	choice, ok := first.FirstChoice()
	require.True(t, ok)
	req.AddMessage(choice.Message).AddMessage(llm.NewToolMessage(calls[0].ID, "晴"))

	second, err := p.Chat(ctx, req)
	require.NoError(t, err)
	return first, second
}

func TestIntegration_ToolLoop(t *testing.T) {
	t.Setenv("MOCK_CITY", "Kyoto")

	for _, name := range []string{"gateway", "claude"} {
		t.Run(name, func(t *testing.T) {
			backend := mock.New().UseScenario("weather")
			reg := newIntegration(t, backend)

			var logs bytes.Buffer
			metrics := middleware.NewMetrics()
			p := middleware.Chain(reg.MustGet(name),
				middleware.Logging(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
				metrics.Middleware(),
			)
			assert.Equal(t, name, p.Name())

			first, second := runToolLoop(t, p)

			args, err := first.ToolCalls()[0].ArgumentsMap()
			require.NoError(t, err)
			assert.Equal(t, "Kyoto", args["city"])
			assert.Equal(t, "Kyoto 今天晴，22°C。", second.Content)

			assert.Equal(t, defaultModels[name], backend.LastCall().Request.Model)
			assert.Equal(t, 2, backend.CallCount())

			snap := metrics.Snapshot()
			assert.Equal(t, int64(2), snap.Requests)
			assert.Equal(t, int64(2), snap.Successes)
			assert.Positive(t, snap.TotalTokens)
			assert.InDelta(t, 100.0, snap.SuccessRate(), 0.001)

			assert.Contains(t, logs.String(), `"msg":"stream completed"`)
			assert.Contains(t, logs.String(), `"msg":"chat completed"`)
			assert.Contains(t, logs.String(), `"provider":"`+name+`"`)
		})
	}
}

func TestIntegration_RetryFromConfig(t *testing.T) {
	backend := mock.New().UseScenario("rate-limited")
	reg := newIntegration(t, backend)

	// gateway 配置了 max_retries，限流后自动重试
	resp, err := reg.MustGet("gateway").Chat(context.Background(),
		llm.NewChatRequest("gpt-4o-mini", llm.NewUserMessage("hi")))
	require.NoError(t, err)
	assert.Equal(t, "重试成功。", resp.Content)
	assert.Equal(t, 2, backend.CallCount())

	// claude 没有配置重试，直接返回分类后的错误
	backend.ResetScenario("rate-limited")
	_, err = reg.MustGet("claude").Chat(context.Background(),
		llm.NewChatRequest("claude-sonnet-4-5", llm.NewUserMessage("hi")))
	require.Error(t, err)
	assert.True(t, llm.IsRateLimited(err))
	assert.True(t, llm.IsRetryable(err))
}

func TestIntegration_WrongKey(t *testing.T) {
	newIntegration(t, mock.New(mock.WithResponse("ok")))

	p, err := provider.New(&llm.Config{Type: llm.ProviderTypeOpenAI, APIKey: "bad"},
		provider.WithBaseURL(os.Getenv("LOCALMOCK_URL")+"/v1"))
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), llm.NewChatRequest("m", llm.NewUserMessage("hi")))
	require.Error(t, err)
	assert.True(t, llm.IsAuthError(err))
	assert.False(t, llm.IsRetryable(err))
}

func TestIntegration_Models(t *testing.T) {
	reg := newIntegration(t, mock.New(mock.WithModels("m-1", "m-2")))

	for _, name := range reg.Names() {
		t.Run(name, func(t *testing.T) {
			models, err := reg.MustGet(name).Models(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"m-1", "m-2"}, models)
		})
	}
}
