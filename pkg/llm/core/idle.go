package core

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// idleBody 为流式响应体加上读取空闲超时
//
// 计时只覆盖阻塞在 Read 中的时间，调用方处理事件的耗时不计入。
// 超时后关闭底层响应体，阻塞的 Read 返回包装了 os.ErrDeadlineExceeded 的错误。
type idleBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleBody(body io.ReadCloser, timeout time.Duration) io.ReadCloser {
	if timeout <= 0 {
		return body
	}
	b := &idleBody{body: body, timeout: timeout}
	b.timer = time.AfterFunc(timeout, b.expire)
	b.timer.Stop()
	return b
}

func (b *idleBody) expire() {
	b.expired.Store(true)
	_ = b.body.Close()
}

func (b *idleBody) Read(p []byte) (int, error) {
	if b.expired.Load() {
		return 0, b.err()
	}
	b.timer.Reset(b.timeout)
	n, err := b.body.Read(p)
	b.timer.Stop()
	if b.expired.Load() {
		return n, b.err()
	}
	return n, err
}

func (b *idleBody) err() error {
	return fmt.Errorf("no stream data for %s: %w", b.timeout, os.ErrDeadlineExceeded)
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	return b.body.Close()
}
