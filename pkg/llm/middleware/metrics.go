package middleware

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 指标
// ═══════════════════════════════════════════════════════════════════════════

// Metrics 请求计数、用量与耗时统计
//
// 同一个 Metrics 可以包装多个 Provider，统计会合并。
//
//	m := middleware.NewMetrics()
//	p := m.Wrap(base)
//	...
//	fmt.Printf("%+v\n", m.Snapshot())
type Metrics struct {
	mu       sync.Mutex
	snapshot Snapshot
}

// Snapshot 某一时刻的统计
type Snapshot struct {
	Requests  int64
	Successes int64
	Failures  int64

	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64

	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration

	// Errors 按错误分类计数
	Errors map[llm.ErrorKind]int64
}

// SuccessRate 成功率（百分比），没有请求时为 0
func (s Snapshot) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests) * 100
}

// AvgDuration 平均耗时
func (s Snapshot) AvgDuration() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Requests)
}

// NewMetrics 创建空统计
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Snapshot 返回当前统计的副本
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snapshot
	s.Errors = maps.Clone(m.snapshot.Errors)
	if s.Errors == nil {
		s.Errors = map[llm.ErrorKind]int64{}
	}
	return s
}

// Reset 清零
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.snapshot = Snapshot{}
	m.mu.Unlock()
}

// Middleware 返回记录到该统计的中间件
func (m *Metrics) Middleware() Middleware {
	return func(next llm.Provider) llm.Provider { return m.Wrap(next) }
}

// Wrap 包装 Provider
//
// Chat 在返回时记录；流在读到 EOF 或终止错误时记录，提前 Close 的流记为成功。
// Models 不计入统计。
func (m *Metrics) Wrap(next llm.Provider) llm.Provider {
	return &metricsProvider{wrapped: wrapped{next}, metrics: m}
}

func (m *Metrics) record(d time.Duration, usage *llm.Usage, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.snapshot

	s.Requests++
	s.TotalDuration += d
	if s.Requests == 1 || d < s.MinDuration {
		s.MinDuration = d
	}
	s.MaxDuration = max(s.MaxDuration, d)

	if err != nil {
		s.Failures++
		if s.Errors == nil {
			s.Errors = make(map[llm.ErrorKind]int64)
		}
		kind := llm.KindOf(err)
		if kind == "" {
			kind = llm.ErrKindAPI
		}
		s.Errors[kind]++
		return
	}

	s.Successes++
	if usage != nil {
		s.PromptTokens += int64(usage.PromptTokens)
		s.CompletionTokens += int64(usage.CompletionTokens)
		s.TotalTokens += int64(usage.TotalTokens)
	}
}

type metricsProvider struct {
	wrapped
	metrics *Metrics
}

func (p *metricsProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.next.Chat(ctx, req)
	if err != nil {
		p.metrics.record(time.Since(start), nil, err)
		return nil, err
	}
	p.metrics.record(time.Since(start), resp.Usage, nil)
	return resp, nil
}

func (p *metricsProvider) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	start := time.Now()
	stream, err := p.next.ChatStream(ctx, req)
	if err != nil {
		p.metrics.record(time.Since(start), nil, err)
		return nil, err
	}
	return newObservedStream(stream, func(s observedSummary) {
		p.metrics.record(time.Since(start), s.usage, s.err)
	}), nil
}
