package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// 帧
// ═══════════════════════════════════════════════════════════════════════════

// Framing 分帧方式
type Framing int

const (
	// FramingSSE Server-Sent Events（空行分隔事件）
	FramingSSE Framing = iota

	// FramingNDJSON 每行一个 JSON 对象（Ollama）
	FramingNDJSON
)

// String 返回字符串表示
func (f Framing) String() string {
	if f == FramingNDJSON {
		return "ndjson"
	}
	return "sse"
}

// Frame 一个逻辑线上事件
type Frame struct {
	// Event SSE event: 字段（Anthropic 使用，其他厂商为空）
	Event string

	// Data 事件负载（多个 data: 行以 "\n" 连接）
	Data string

	// Done 终止标记。SSE 的 [DONE] 帧 Data 为空；NDJSON 的 done 行保留 Data。
	Done bool
}

// Decoder 增量分帧器
//
// Push 可以在任意字节边界被调用，产生的帧序列与一次性输入全部字节相同。
type Decoder interface {
	Push(p []byte) []Frame
	Finish() []Frame
	Done() bool
}

// NewDecoder 创建指定方式的分帧器
func NewDecoder(f Framing) Decoder {
	if f == FramingNDJSON {
		return NewNDJSONDecoder()
	}
	return NewSSEDecoder()
}

// ═══════════════════════════════════════════════════════════════════════════
// SSE 分帧
// ═══════════════════════════════════════════════════════════════════════════

// SSEDecoder SSE (Server-Sent Events) 分帧器
//
// SSE 格式规范：
//
//	event: event_type
//	data: {"key": "value"}
//
//	data: {"key": "value"}
//
//	data: [DONE]
//
// 规则：
//   - 事件边界是空行，"\r\n" 统一视为 "\n"
//   - "data:" 与 "data: " 都接受，多行 data 以 "\n" 连接
//   - ":" 开头的注释行、id:、retry: 被忽略
//   - [DONE] 产生终止帧，之后的数据全部丢弃
//   - 流结束时未以空行结尾的残留数据被丢弃
type SSEDecoder struct {
	buf     []byte
	pendCR  bool
	done    bool
	scratch []string
}

// NewSSEDecoder 创建 SSE 分帧器
func NewSSEDecoder() *SSEDecoder {
	return &SSEDecoder{}
}

// Push 输入一段字节并返回已完整的帧
func (d *SSEDecoder) Push(p []byte) []Frame {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, d.normalize(p)...)

	var frames []Frame
	for !d.done {
		idx := bytes.Index(d.buf, []byte("\n\n"))
		if idx < 0 {
			break
		}
		block := string(d.buf[:idx])
		d.buf = d.buf[idx+2:]

		frame, ok := d.parseBlock(block)
		if !ok {
			continue
		}
		if frame.Done {
			d.done = true
			d.buf = nil
		}
		frames = append(frames, frame)
	}
	return frames
}

// Finish 流结束，丢弃残留的不完整事件
func (d *SSEDecoder) Finish() []Frame {
	d.buf = nil
	d.pendCR = false
	return nil
}

// Done 是否已收到 [DONE]
func (d *SSEDecoder) Done() bool { return d.done }

// normalize 将 "\r\n" 转换为 "\n"，跨 Push 边界的 "\r" 延迟到下一次处理
func (d *SSEDecoder) normalize(p []byte) []byte {
	if d.pendCR {
		p = append([]byte{'\r'}, p...)
		d.pendCR = false
	}
	if n := len(p); n > 0 && p[n-1] == '\r' {
		d.pendCR = true
		p = p[:n-1]
	}
	return bytes.ReplaceAll(p, []byte("\r\n"), []byte("\n"))
}

func (d *SSEDecoder) parseBlock(block string) (Frame, bool) {
	var frame Frame
	d.scratch = d.scratch[:0]
	hasData := false

	for line := range strings.SplitSeq(block, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			frame.Event = strings.TrimSpace(value)
		case "data":
			hasData = true
			d.scratch = append(d.scratch, value)
		}
	}

	if !hasData {
		return Frame{}, false
	}
	frame.Data = strings.Join(d.scratch, "\n")
	if frame.Data == "" {
		return Frame{}, false
	}
	if strings.TrimSpace(frame.Data) == "[DONE]" {
		return Frame{Event: frame.Event, Done: true}, true
	}
	return frame, true
}

// ═══════════════════════════════════════════════════════════════════════════
// NDJSON 分帧
// ═══════════════════════════════════════════════════════════════════════════

// NDJSONDecoder NDJSON 分帧器
//
// 每个以 "\n" 结尾的非空行是一帧。JSON 中 "done": true 的行是最后一帧，
// 之后的数据不再输出。
type NDJSONDecoder struct {
	buf  []byte
	done bool
}

// NewNDJSONDecoder 创建 NDJSON 分帧器
func NewNDJSONDecoder() *NDJSONDecoder {
	return &NDJSONDecoder{}
}

// Push 输入一段字节并返回已完整的帧
func (d *NDJSONDecoder) Push(p []byte) []Frame {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var frames []Frame
	for !d.done {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(d.buf[:idx]))
		d.buf = d.buf[idx+1:]
		if line == "" {
			continue
		}

		frame := Frame{Data: line, Done: isDoneLine(line)}
		if frame.Done {
			d.done = true
			d.buf = nil
		}
		frames = append(frames, frame)
	}
	return frames
}

// Finish 流结束，丢弃残留的不完整行
func (d *NDJSONDecoder) Finish() []Frame {
	d.buf = nil
	return nil
}

// Done 是否已收到 done 行
func (d *NDJSONDecoder) Done() bool { return d.done }

func isDoneLine(line string) bool {
	if !strings.Contains(line, `"done"`) {
		return false
	}
	var marker struct {
		Done bool `json:"done"`
	}
	return json.Unmarshal([]byte(line), &marker) == nil && marker.Done
}

// ═══════════════════════════════════════════════════════════════════════════
// 帧读取器
// ═══════════════════════════════════════════════════════════════════════════

// FrameReader 从 io.Reader 按需读取帧
type FrameReader struct {
	r       io.Reader
	dec     Decoder
	pending []Frame
	buf     []byte
	eof     bool
	err     error
}

// NewFrameReader 创建帧读取器
func NewFrameReader(r io.Reader, f Framing) *FrameReader {
	return &FrameReader{
		r:   r,
		dec: NewDecoder(f),
		buf: make([]byte, 4096),
	}
}

// Next 返回下一帧
//
// 流正常耗尽返回 io.EOF；读取失败原样返回底层错误。
func (fr *FrameReader) Next() (Frame, error) {
	for len(fr.pending) == 0 {
		if fr.err != nil {
			return Frame{}, fr.err
		}
		if fr.eof || fr.dec.Done() {
			return Frame{}, io.EOF
		}
		n, err := fr.r.Read(fr.buf)
		if n > 0 {
			fr.pending = append(fr.pending, fr.dec.Push(fr.buf[:n])...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// 已解析出的帧先交付，错误在之后返回
				fr.err = err
				continue
			}
			fr.eof = true
			fr.pending = append(fr.pending, fr.dec.Finish()...)
		}
	}

	f := fr.pending[0]
	fr.pending = fr.pending[1:]
	return f, nil
}

// Done 是否已遇到终止标记
func (fr *FrameReader) Done() bool { return fr.dec.Done() }
