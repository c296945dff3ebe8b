package core

import (
	"strings"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 系统消息策略
// ═══════════════════════════════════════════════════════════════════════════

// SystemMessageStrategy 系统消息处理策略
//
// 定义系统提示（system prompt）如何传递给 API：
//   - SystemInline: 系统消息作为普通消息（role=system）
//   - SystemSeparate: 系统消息合并为独立的请求参数
type SystemMessageStrategy string

const (
	// SystemInline 系统消息内联在消息数组中
	//
	// 使用场景：OpenAI、DashScope、Ollama、混元
	// 格式：[{"role": "system", "content": "..."}, ...]
	SystemInline SystemMessageStrategy = "inline"

	// SystemSeparate 系统消息作为独立参数
	//
	// 使用场景：Anthropic
	// 格式：{"system": "...", "messages": [...]}
	SystemSeparate SystemMessageStrategy = "separate"
)

// SplitSystem 按策略拆分系统消息
//
// SystemSeparate 时所有系统消息的文本以 "\n\n" 连接后返回，其余消息保持顺序；
// SystemInline 时原样返回。
func SplitSystem(messages []llm.Message, strategy SystemMessageStrategy) (system string, rest []llm.Message) {
	if strategy == SystemInline {
		return "", messages
	}

	var parts []string
	rest = make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if text := msg.Text(); text != "" {
				parts = append(parts, text)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(parts, "\n\n"), rest
}

// ═══════════════════════════════════════════════════════════════════════════
// 完成原因映射
// ═══════════════════════════════════════════════════════════════════════════

// NormalizeFinishReason 将厂商完成原因映射为统一值
//
// 未知值原样返回；"null" 与空字符串视为未完成。
func NormalizeFinishReason(reason string) string {
	switch strings.ToLower(reason) {
	case "", "null":
		return ""
	case "stop", "end_turn", "stop_sequence", "eos":
		return llm.FinishReasonStop
	case "length", "max_tokens", "model_length":
		return llm.FinishReasonLength
	case "tool_calls", "tool_use", "function_call":
		return llm.FinishReasonToolCalls
	case "content_filter", "sensitive", "refusal":
		return llm.FinishReasonContentFilter
	default:
		return reason
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 多模态辅助
// ═══════════════════════════════════════════════════════════════════════════

// ImageURLOf 返回图片块可直接使用的 URL（Base64 转为 data URL）
func ImageURLOf(block llm.MessageBlock) (string, bool) {
	switch b := block.(type) {
	case *llm.ImageURLBlock:
		return b.URL, true
	case *llm.ImageBlock:
		return b.DataURL(), true
	default:
		return "", false
	}
}

// ParseDataURL 拆分 data URL 为媒体类型与 Base64 数据
func ParseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mediaType, payload, true
}
