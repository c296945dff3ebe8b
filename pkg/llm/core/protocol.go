package core

import (
	"net/http"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 协议适配器接口
// ═══════════════════════════════════════════════════════════════════════════

// Adapter 协议适配器接口
//
// 每个协议族（OpenAI 兼容、Anthropic、DashScope、Ollama、混元）实现此接口，
// 在构造时选定，由 Client 统一调度。
//
// 职责边界：
//   - ✅ 负责：请求体与请求头构建、响应解析、流式事件解析
//   - ❌ 不负责：HTTP 通信、重试、日志
type Adapter interface {
	// BuildRequest 将统一请求转换为厂商 HTTP 请求
	//
	// 厂商不支持的字段静默忽略。
	BuildRequest(req *llm.ChatRequest, stream bool) (*HTTPRequest, error)

	// ParseResponse 解析完整的非流式响应体
	ParseResponse(body []byte) (*llm.ChatResponse, error)

	// NewChunkParser 为一次流式请求创建事件解析器
	//
	// 解析器持有该次请求的累积状态（工具调用缓冲等），不能跨请求复用。
	NewChunkParser() ChunkParser
}

// ChunkParser 流式事件解析器
type ChunkParser interface {
	// Framing 返回线上分帧方式
	Framing() Framing

	// ParseChunk 解析一帧
	//
	// 返回：
	//   - resp: 规范化的输出，nil 表示该帧不产生输出（ping、content_block_stop 等）
	//   - done: 该帧是协议层面的终止标记
	//   - err: 负载 JSON 非法时返回 *llm.ParseError，只影响当前帧
	ParseChunk(frame Frame) (resp *llm.StreamingResponse, done bool, err error)
}

// HTTPRequest 厂商 HTTP 请求描述
type HTTPRequest struct {
	Method  string            // 默认 POST
	Path    string            // 相对 BaseURL 的路径，以 "/" 开头
	URL     string            // 完整 URL，非空时优先于 Path
	Headers map[string]string // 认证与协议头
	Body    []byte            // 已序列化的请求体
}

// ═══════════════════════════════════════════════════════════════════════════
// 可选扩展接口
// ═══════════════════════════════════════════════════════════════════════════

// ErrorMapper 自定义 HTTP 错误映射
//
// 未实现时使用 DefaultErrorMapper。
type ErrorMapper interface {
	MapError(status int, header http.Header, body []byte) error
}

// ModelLister 模型列表
//
// 未实现时 Client.Models 返回 UnsupportedError。
type ModelLister interface {
	ModelsRequest() (*HTTPRequest, error)
	ParseModels(body []byte) ([]string, error)
}

// StatsReporter 解析器的厂商异常行为统计
type StatsReporter interface {
	// CumulativeChunks 被识别为累积内容的事件数
	CumulativeChunks() int
}

// ConnectionErrorHinter 为连接失败补充提示（例如本地服务未启动）
type ConnectionErrorHinter interface {
	ConnectionHint() string
}
