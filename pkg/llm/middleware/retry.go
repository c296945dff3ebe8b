package middleware

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 重试配置
// ═══════════════════════════════════════════════════════════════════════════

// RetryConfig 重试配置
//
// 零值字段使用 DefaultRetryConfig 中的默认值。
type RetryConfig struct {
	MaxRetries     int           // 首次请求之外的最大重试次数
	InitialBackoff time.Duration // 第一次重试前的等待
	Multiplier     float64       // 每次重试等待的增长倍数
	MaxBackoff     time.Duration // 单次等待上限（同样约束 Retry-After）
	Jitter         float64       // 随机抖动比例，0..1

	// Logger 记录每次重试，nil 时不输出
	Logger *slog.Logger
}

// DefaultRetryConfig 返回默认重试配置：3 次，1s 起，x2，上限 30s，±15% 抖动
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     30 * time.Second,
		Jitter:         0.15,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Backoff 返回第 attempt 次重试（从 1 开始）前的等待时间
func (c RetryConfig) Backoff(attempt int) time.Duration {
	c = c.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*c.Jitter
	}
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	return time.Duration(max(d, 0))
}

// ═══════════════════════════════════════════════════════════════════════════
// 重试中间件
// ═══════════════════════════════════════════════════════════════════════════

// Retry 对可重试错误（限流、服务端错误、超时、连接与网络错误）按指数退避重试
//
// 错误带 Retry-After 时按其等待（不超过 MaxBackoff）。重试耗尽返回
// *llm.MaxRetriesError，其中包装了最后一次错误。流式请求只重试建立连接，
// 已经开始的流不会重放。
func Retry(cfg RetryConfig) Middleware {
	cfg = cfg.withDefaults()
	return func(next llm.Provider) llm.Provider {
		return &retryProvider{wrapped: wrapped{next}, cfg: cfg, sleep: sleepContext}
	}
}

type retryProvider struct {
	wrapped
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func (r *retryProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var resp *llm.ChatResponse
	err := r.do(ctx, "chat", func() error {
		var err error
		resp, err = r.next.Chat(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *retryProvider) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	var stream llm.Stream
	err := r.do(ctx, "chat_stream", func() error {
		var err error
		stream, err = r.next.ChatStream(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (r *retryProvider) Models(ctx context.Context) ([]string, error) {
	var models []string
	err := r.do(ctx, "models", func() error {
		var err error
		models, err = r.next.Models(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

func (r *retryProvider) do(ctx context.Context, op string, fn func() error) error {
	log := r.cfg.Logger.With("provider", r.next.Name(), "op", op)
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Info("request succeeded after retries", "retries", attempt)
			}
			return nil
		}
		if !llm.IsRetryable(err) {
			return err
		}
		if attempt >= r.cfg.MaxRetries {
			log.Warn("retries exhausted", "attempts", attempt+1, "error", err)
			return llm.NewMaxRetriesError(attempt+1, err)
		}

		wait := r.cfg.Backoff(attempt + 1)
		if apiErr, ok := llm.GetAPIError(err); ok && apiErr.RetryAfter > 0 {
			wait = min(apiErr.RetryAfter, r.cfg.MaxBackoff)
		}
		log.Info("retrying request",
			"attempt", attempt+1,
			"max_retries", r.cfg.MaxRetries,
			"wait", wait,
			"kind", llm.KindOf(err),
		)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
