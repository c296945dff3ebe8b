package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// Logging 记录每次请求的模型、耗时、用量与错误
//
// 成功记为 Info，失败记为 Warn（带错误分类与状态码）。流在结束或关闭时记录一次汇总。
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next llm.Provider) llm.Provider {
		return &loggingProvider{wrapped: wrapped{next}, logger: logger.With("provider", next.Name())}
	}
}

type loggingProvider struct {
	wrapped
	logger *slog.Logger
}

func (l *loggingProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	l.logRequest(ctx, "chat", req)
	start := time.Now()

	resp, err := l.next.Chat(ctx, req)
	if err != nil {
		l.logError(ctx, "chat", time.Since(start), err)
		return nil, err
	}

	attrs := []any{
		"model", resp.Model,
		"duration", time.Since(start),
		"finish_reason", resp.FinishReason(),
	}
	attrs = append(attrs, usageAttrs(resp.Usage)...)
	l.logger.InfoContext(ctx, "chat completed", attrs...)
	return resp, nil
}

func (l *loggingProvider) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	l.logRequest(ctx, "chat_stream", req)
	start := time.Now()

	stream, err := l.next.ChatStream(ctx, req)
	if err != nil {
		l.logError(ctx, "chat_stream", time.Since(start), err)
		return nil, err
	}
	l.logger.DebugContext(ctx, "stream opened", "ttfb", time.Since(start))

	return newObservedStream(stream, func(s observedSummary) {
		attrs := []any{
			"duration", time.Since(start),
			"items", s.items,
			"finish_reason", s.finishReason,
			"parse_errors", s.stats.ParseErrors,
		}
		if s.stats.CumulativeChunks > 0 {
			attrs = append(attrs, "cumulative_chunks", s.stats.CumulativeChunks)
		}
		if dups := s.stats.DuplicateToolCalls(); len(dups) > 0 {
			attrs = append(attrs, "duplicate_tool_calls", dups)
		}
		attrs = append(attrs, usageAttrs(s.usage)...)
		if s.err != nil {
			attrs = append(attrs, "kind", llm.KindOf(s.err), "error", s.err)
			l.logger.WarnContext(ctx, "stream failed", attrs...)
			return
		}
		if s.closedEarly {
			l.logger.InfoContext(ctx, "stream closed early", attrs...)
			return
		}
		l.logger.InfoContext(ctx, "stream completed", attrs...)
	}), nil
}

func (l *loggingProvider) Models(ctx context.Context) ([]string, error) {
	start := time.Now()
	models, err := l.next.Models(ctx)
	if err != nil {
		l.logError(ctx, "models", time.Since(start), err)
		return nil, err
	}
	l.logger.DebugContext(ctx, "models listed", "count", len(models), "duration", time.Since(start))
	return models, nil
}

func (l *loggingProvider) logRequest(ctx context.Context, op string, req *llm.ChatRequest) {
	if req == nil {
		return
	}
	l.logger.DebugContext(ctx, "sending request",
		"op", op,
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)
}

func (l *loggingProvider) logError(ctx context.Context, op string, d time.Duration, err error) {
	l.logger.WarnContext(ctx, "request failed",
		"op", op,
		"duration", d,
		"kind", llm.KindOf(err),
		"status", llm.StatusCode(err),
		"error", err,
	)
}

func usageAttrs(u *llm.Usage) []any {
	if u == nil {
		return nil
	}
	return []any{
		"prompt_tokens", u.PromptTokens,
		"completion_tokens", u.CompletionTokens,
		"total_tokens", u.TotalTokens,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 流观察
// ═══════════════════════════════════════════════════════════════════════════

type observedSummary struct {
	items        int
	finishReason string
	usage        *llm.Usage
	stats        llm.StreamStats
	err          error
	closedEarly  bool // 在 EOF 之前被调用方关闭
}

// observedStream 透传流，在流结束（EOF、终止错误或 Close）时回调一次汇总
type observedStream struct {
	llm.Stream
	summary observedSummary
	done    bool
	onDone  func(observedSummary)
}

func newObservedStream(s llm.Stream, onDone func(observedSummary)) *observedStream {
	return &observedStream{Stream: s, onDone: onDone}
}

func (o *observedStream) Recv() (*llm.StreamingResponse, error) {
	item, err := o.Stream.Recv()
	switch {
	case err == nil:
		o.summary.items++
		if reason := item.FinishReason(); reason != "" {
			o.summary.finishReason = reason
		}
		if item.Usage != nil {
			o.summary.usage = item.Usage
		}
	case errors.Is(err, io.EOF):
		o.finish(nil)
	case llm.IsTerminalStreamError(err):
		o.finish(err)
	}
	return item, err
}

func (o *observedStream) Close() error {
	err := o.Stream.Close()
	if !o.done {
		o.summary.closedEarly = true
	}
	o.finish(nil)
	return err
}

func (o *observedStream) finish(err error) {
	if o.done {
		return
	}
	o.done = true
	o.summary.err = err
	o.summary.stats = o.Stream.Stats()
	o.onDone(o.summary)
}
