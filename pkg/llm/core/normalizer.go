package core

import (
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 流式输出规范化
// ═══════════════════════════════════════════════════════════════════════════

// Normalizer 保证只有最后一项输出携带 finish_reason 和 usage
//
// 厂商的终止信息可能单独成帧（OpenAI 的 usage 帧、Anthropic 的 message_delta），
// 也可能和内容一起到达（DashScope）。规则：
//   - 携带终止信息的项被暂存
//   - 其后的纯元数据项（无内容、推理、工具调用）合并进暂存项
//   - 其后的内容项接管终止信息，暂存项去掉终止信息后（若仍有内容）先输出
//   - Flush 输出暂存项
//
// 不携带任何内容、角色和终止信息的空项被丢弃。
type Normalizer struct {
	held *llm.StreamingResponse
}

// NewNormalizer 创建规范化器
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Push 输入一项，返回可以立即输出的项（0 到 2 个）
func (n *Normalizer) Push(item *llm.StreamingResponse) []*llm.StreamingResponse {
	if item == nil {
		return nil
	}
	item.SyncContent()

	if n.held == nil {
		if item.IsTerminal() {
			n.held = item
			return nil
		}
		if !item.HasPayload() && !hasRole(item) {
			return nil
		}
		return []*llm.StreamingResponse{item}
	}

	// 纯元数据：合并终止信息
	if !item.HasPayload() {
		mergeTerminal(n.held, item)
		return nil
	}

	// 新内容到达：终止信息转移到新项
	prev := n.held
	finish, usage := takeTerminal(prev)
	applyTerminal(item, finish, usage)
	n.held = item

	if prev.HasPayload() || hasRole(prev) {
		return []*llm.StreamingResponse{prev}
	}
	return nil
}

// Flush 输出暂存项
func (n *Normalizer) Flush() *llm.StreamingResponse {
	out := n.held
	n.held = nil
	return out
}

func hasRole(item *llm.StreamingResponse) bool {
	for _, c := range item.Choices {
		if c.Delta.Role != "" {
			return true
		}
	}
	return false
}

// takeTerminal 移除并返回项上的终止信息
func takeTerminal(item *llm.StreamingResponse) (map[int]string, *llm.Usage) {
	finish := make(map[int]string)
	for i := range item.Choices {
		if r := item.Choices[i].FinishReason; r != "" {
			finish[item.Choices[i].Index] = r
			item.Choices[i].FinishReason = ""
		}
	}
	usage := item.Usage
	item.Usage = nil
	return finish, usage
}

// applyTerminal 将终止信息写入项，项自身已有的值优先
func applyTerminal(item *llm.StreamingResponse, finish map[int]string, usage *llm.Usage) {
	for idx, reason := range finish {
		c := choiceAt(item, idx)
		if c.FinishReason == "" {
			c.FinishReason = reason
		}
	}
	if usage != nil {
		if item.Usage == nil {
			item.Usage = usage
		} else {
			merged := *usage
			merged.Merge(item.Usage)
			item.Usage = &merged
		}
	}
}

// mergeTerminal 将 src 的终止信息与元数据合并进 dst，src 的值覆盖 dst
func mergeTerminal(dst, src *llm.StreamingResponse) {
	for _, sc := range src.Choices {
		if sc.FinishReason != "" {
			choiceAt(dst, sc.Index).FinishReason = sc.FinishReason
		}
	}
	if src.Usage != nil {
		if dst.Usage == nil {
			u := *src.Usage
			dst.Usage = &u
		} else {
			dst.Usage.Merge(src.Usage)
		}
	}
	if dst.ID == "" {
		dst.ID = src.ID
	}
	if dst.Model == "" {
		dst.Model = src.Model
	}
	if src.SystemFingerprint != "" {
		dst.SystemFingerprint = src.SystemFingerprint
	}
}

func choiceAt(item *llm.StreamingResponse, index int) *llm.StreamingChoice {
	for i := range item.Choices {
		if item.Choices[i].Index == index {
			return &item.Choices[i]
		}
	}
	item.Choices = append(item.Choices, llm.StreamingChoice{Index: index})
	return &item.Choices[len(item.Choices)-1]
}
