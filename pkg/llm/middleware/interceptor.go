package middleware

import (
	"context"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// Interceptor 在请求前后插入自定义逻辑
//
// BeforeRequest 拿到的是请求副本，可以直接修改，不影响调用方；返回错误则请求不会发出。
// AfterResponse 只对 Chat 生效，返回错误时该错误替代响应。
// OnError 只做观察，不改变返回的错误。
type Interceptor interface {
	BeforeRequest(ctx context.Context, req *llm.ChatRequest) error
	AfterResponse(ctx context.Context, resp *llm.ChatResponse) error
	OnError(ctx context.Context, err error)
}

// InterceptorFuncs 用函数实现 Interceptor，未设置的钩子跳过
type InterceptorFuncs struct {
	Before func(ctx context.Context, req *llm.ChatRequest) error
	After  func(ctx context.Context, resp *llm.ChatResponse) error
	Error  func(ctx context.Context, err error)
}

func (f InterceptorFuncs) BeforeRequest(ctx context.Context, req *llm.ChatRequest) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, req)
}

func (f InterceptorFuncs) AfterResponse(ctx context.Context, resp *llm.ChatResponse) error {
	if f.After == nil {
		return nil
	}
	return f.After(ctx, resp)
}

func (f InterceptorFuncs) OnError(ctx context.Context, err error) {
	if f.Error != nil {
		f.Error(ctx, err)
	}
}

// Intercept 按顺序执行拦截器
//
//	p = middleware.Intercept(middleware.InterceptorFuncs{
//	    Before: func(_ context.Context, req *llm.ChatRequest) error {
//	        req.Messages = append([]llm.Message{llm.NewSystemMessage(prompt)}, req.Messages...)
//	        return nil
//	    },
//	})(p)
func Intercept(interceptors ...Interceptor) Middleware {
	return func(next llm.Provider) llm.Provider {
		return &interceptProvider{wrapped: wrapped{next}, interceptors: interceptors}
	}
}

type interceptProvider struct {
	wrapped
	interceptors []Interceptor
}

func (p *interceptProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	req, err := p.before(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := p.next.Chat(ctx, req)
	if err != nil {
		p.onError(ctx, err)
		return nil, err
	}
	for _, i := range p.interceptors {
		if err := i.AfterResponse(ctx, resp); err != nil {
			p.onError(ctx, err)
			return nil, err
		}
	}
	return resp, nil
}

func (p *interceptProvider) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	req, err := p.before(ctx, req)
	if err != nil {
		return nil, err
	}
	stream, err := p.next.ChatStream(ctx, req)
	if err != nil {
		p.onError(ctx, err)
		return nil, err
	}
	return stream, nil
}

func (p *interceptProvider) before(ctx context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error) {
	if req == nil {
		return nil, llm.NewInvalidRequestError("request is nil")
	}
	req = req.Clone()
	for _, i := range p.interceptors {
		if err := i.BeforeRequest(ctx, req); err != nil {
			p.onError(ctx, err)
			return nil, err
		}
	}
	return req, nil
}

func (p *interceptProvider) onError(ctx context.Context, err error) {
	for _, i := range p.interceptors {
		i.OnError(ctx, err)
	}
}
