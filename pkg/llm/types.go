package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
)

// ═══════════════════════════════════════════════════════════════════════════
// Provider 接口
// ═══════════════════════════════════════════════════════════════════════════

// Provider LLM 提供者接口
type Provider interface {
	// Name 返回 Provider 名称（用于日志和错误）
	Name() string

	// Chat 同步完成
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream 流式完成
	ChatStream(ctx context.Context, req *ChatRequest) (Stream, error)

	// Models 列出可用模型，不支持时返回 UnsupportedError
	Models(ctx context.Context) ([]string, error)

	// Close 关闭连接
	Close() error
}

// ═══════════════════════════════════════════════════════════════════════════
// 流
// ═══════════════════════════════════════════════════════════════════════════

// Stream 流式响应
//
// Recv 的返回约定：
//   - (*StreamingResponse, nil): 一项输出
//   - (nil, *ParseError): 单个事件解析失败，可以继续 Recv
//   - (nil, io.EOF): 流正常结束
//   - (nil, 其他错误): 终止错误，之后 Recv 返回 io.EOF
//
// 流只能被一个消费者使用。不再读取时必须调用 Close 释放连接，
// 使用 All 遍历时提前 break 会自动关闭。
type Stream interface {
	Recv() (*StreamingResponse, error)
	Close() error

	// Stats 返回截至目前的流统计（包括厂商异常行为诊断）
	Stats() StreamStats
}

// StreamStats 流统计
type StreamStats struct {
	Events      int // 成功解析的事件数
	Items       int // 输出项数
	ParseErrors int // 单事件解析失败数

	// CumulativeChunks 被识别为"累积内容"并转换为增量的事件数（DashScope 部分模型）
	CumulativeChunks int

	// ToolCallAppearances 每个工具调用 ID 出现在多少个事件中
	ToolCallAppearances map[string]int

	// TerminatedCleanly 是否在终止标记后结束
	TerminatedCleanly bool
}

// DuplicateToolCalls 返回出现在多个事件中的工具调用 ID
func (s StreamStats) DuplicateToolCalls() []string {
	return duplicates(s.ToolCallAppearances)
}

// IsTerminalStreamError 判断 Recv 返回的错误是否终止了流
func IsTerminalStreamError(err error) bool {
	return err != nil && !errors.Is(err, io.EOF) && !IsParseError(err)
}

// All 以迭代器方式遍历流，循环结束或提前退出时关闭流
//
//	for item, err := range llm.All(stream) {
//	    if err != nil { ... }
//	    fmt.Print(item.Content)
//	}
func All(s Stream) iter.Seq2[*StreamingResponse, error] {
	return func(yield func(*StreamingResponse, error) bool) {
		defer func() { _ = s.Close() }()
		for {
			item, err := s.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(item, err) {
				return
			}
			if IsTerminalStreamError(err) {
				return
			}
		}
	}
}

// Collect 读取整个流并累积为 ChatResponse
//
// 单事件解析错误只计数，终止错误会连同已累积的部分响应一起返回。
func Collect(s Stream) (*ChatResponse, error) {
	acc := NewAccumulator()
	for item, err := range All(s) {
		if err != nil {
			if IsParseError(err) {
				acc.RecordParseError()
				continue
			}
			return acc.Response(), err
		}
		acc.Add(item)
	}
	return acc.Response(), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 内存流
// ═══════════════════════════════════════════════════════════════════════════

// StreamResult 内存流中的一项
type StreamResult struct {
	Item *StreamingResponse
	Err  error
}

// SliceStream 基于切片的流（用于测试与 Mock）
type SliceStream struct {
	mu     sync.Mutex
	items  []StreamResult
	pos    int
	closed bool
	stats  StreamStats
}

// NewSliceStream 创建内存流
func NewSliceStream(items ...StreamResult) *SliceStream {
	return &SliceStream{items: items, stats: StreamStats{TerminatedCleanly: true}}
}

// Recv 实现 Stream 接口
func (s *SliceStream) Recv() (*StreamingResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.items) {
		return nil, io.EOF
	}
	r := s.items[s.pos]
	s.pos++
	if r.Err != nil {
		if IsParseError(r.Err) {
			s.stats.ParseErrors++
		} else {
			s.closed = true
		}
		return nil, r.Err
	}
	s.stats.Items++
	s.stats.Events++
	return r.Item, nil
}

// Close 实现 Stream 接口
func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Stats 实现 Stream 接口
func (s *SliceStream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
