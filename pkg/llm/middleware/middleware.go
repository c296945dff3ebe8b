// Package middleware 提供叠加在 llm.Provider 之上的装饰器
//
// 每个中间件都实现 llm.Provider，可以任意组合：
//
//	metrics := middleware.NewMetrics()
//	p := middleware.Chain(base,
//	    middleware.Logging(logger), // 最外层
//	    metrics.Middleware(),
//	    middleware.Retry(middleware.DefaultRetryConfig()), // 最内层
//	)
//
// 核心客户端不做重试，重试只在这里发生。
package middleware

import (
	"context"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// Middleware 包装 Provider
type Middleware func(llm.Provider) llm.Provider

// Chain 按顺序叠加中间件，第一个位于最外层
func Chain(p llm.Provider, mws ...Middleware) llm.Provider {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			p = mws[i](p)
		}
	}
	return p
}

// Unwrap 逐层剥离中间件，返回最内层的 Provider
//
//	if o, ok := middleware.Unwrap(p).(*provider.OllamaProvider); ok { ... }
func Unwrap(p llm.Provider) llm.Provider {
	for {
		w, ok := p.(interface{ Unwrap() llm.Provider })
		if !ok {
			return p
		}
		p = w.Unwrap()
	}
}

// wrapped 转发全部方法，中间件只覆盖需要的部分
type wrapped struct {
	next llm.Provider
}

func (w wrapped) Name() string { return w.next.Name() }

func (w wrapped) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return w.next.Chat(ctx, req)
}

func (w wrapped) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	return w.next.ChatStream(ctx, req)
}

func (w wrapped) Models(ctx context.Context) ([]string, error) { return w.next.Models(ctx) }

func (w wrapped) Close() error { return w.next.Close() }

// Unwrap 返回被包装的 Provider
func (w wrapped) Unwrap() llm.Provider { return w.next }
