package core

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 事件流
// ═══════════════════════════════════════════════════════════════════════════

// EventStream 将 HTTP 响应体转换为 llm.Stream
//
// 处理流程：字节流 → FrameReader 分帧 → ChunkParser 解析 → Normalizer 规范化。
// 拉取式实现，不启动 goroutine；Close 立即释放连接。
type EventStream struct {
	mu     sync.Mutex
	body   io.ReadCloser
	reader *FrameReader
	parser ChunkParser
	norm   *Normalizer
	logger *slog.Logger

	queue     []llm.StreamResult
	finished  bool
	closed    atomic.Bool
	closeOnce sync.Once
	stats     llm.StreamStats
}

// NewEventStream 创建事件流
func NewEventStream(body io.ReadCloser, parser ChunkParser, logger *slog.Logger) *EventStream {
	if logger == nil {
		logger = discardLogger
	}
	return &EventStream{
		body:   body,
		reader: NewFrameReader(body, parser.Framing()),
		parser: parser,
		norm:   NewNormalizer(),
		logger: logger,
		stats:  llm.StreamStats{ToolCallAppearances: make(map[string]int)},
	}
}

// Recv 实现 llm.Stream 接口
func (s *EventStream) Recv() (*llm.StreamingResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if len(s.queue) > 0 && !s.closed.Load() {
			r := s.queue[0]
			s.queue = s.queue[1:]
			if r.Item != nil {
				s.stats.Items++
			}
			return r.Item, r.Err
		}
		if s.finished || s.closed.Load() {
			return nil, io.EOF
		}
		s.step()
	}
}

// step 读取一帧并把产生的结果放入队列
func (s *EventStream) step() {
	frame, err := s.reader.Next()
	if errors.Is(err, io.EOF) {
		s.finish(nil)
		return
	}
	if err != nil {
		// 空闲超时表现为 os.ErrDeadlineExceeded，归为 Timeout
		s.finish(ClassifyTransportError(err, "stream interrupted"))
		return
	}

	if frame.Done && frame.Data == "" {
		s.stats.TerminatedCleanly = true
		s.finish(nil)
		return
	}

	item, done, perr := s.parser.ParseChunk(frame)
	if perr != nil && !llm.IsParseError(perr) {
		// 流内的厂商错误对象
		s.finish(perr)
		return
	}
	if perr != nil {
		s.stats.ParseErrors++
		s.logger.Warn("skip malformed stream event", "event", frame.Event, "error", perr)
		s.queue = append(s.queue, llm.StreamResult{Err: perr})
	} else if item != nil {
		s.stats.Events++
		s.countToolCalls(item)
		for _, out := range s.norm.Push(item) {
			s.queue = append(s.queue, llm.StreamResult{Item: out})
		}
	}

	if done || frame.Done {
		s.stats.TerminatedCleanly = true
		s.finish(nil)
	}
}

// finish 结束读取：输出暂存项，必要时追加终止错误，并释放连接
func (s *EventStream) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true

	if held := s.norm.Flush(); held != nil {
		s.queue = append(s.queue, llm.StreamResult{Item: held})
	}
	if err == nil && !s.stats.TerminatedCleanly {
		err = llm.NewStreamError("stream ended without terminal marker", nil)
	}
	if err != nil {
		s.logger.Warn("stream terminated", "error", err)
		s.queue = append(s.queue, llm.StreamResult{Err: err})
	}
	s.closeBody()
}

func (s *EventStream) closeBody() {
	s.closeOnce.Do(func() { _ = s.body.Close() })
}

func (s *EventStream) countToolCalls(item *llm.StreamingResponse) {
	seen := make(map[string]bool)
	for _, c := range item.Choices {
		for _, tc := range c.Delta.ToolCalls {
			if tc.ID != "" && !seen[tc.ID] {
				seen[tc.ID] = true
				s.stats.ToolCallAppearances[tc.ID]++
			}
		}
	}
}

// Close 实现 llm.Stream 接口
//
// 可以在另一个 goroutine 中调用，阻塞中的 Recv 随读取失败返回。
func (s *EventStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.closeBody()
	return nil
}

// Stats 实现 llm.Stream 接口
func (s *EventStream) Stats() llm.StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.ToolCallAppearances = make(map[string]int, len(s.stats.ToolCallAppearances))
	for k, v := range s.stats.ToolCallAppearances {
		stats.ToolCallAppearances[k] = v
	}
	if r, ok := s.parser.(StatsReporter); ok {
		stats.CumulativeChunks = r.CumulativeChunks()
	}
	return stats
}

var _ llm.Stream = (*EventStream)(nil)
