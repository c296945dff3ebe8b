package core

// ToolIndexer 为缺少 index 的工具调用片段推断 index
//
// OpenAI 兼容厂商（以及 DashScope）一般在每个片段上携带 index，
// 少数厂商省略。推断规则：
//   - 片段带 index：直接使用
//   - 片段带 id：已见过的 id 沿用其 index，新 id 分配下一个位置
//   - 都没有：归属最近的调用
//
// 只推断 index，不向后续片段补写 id 和 name。
type ToolIndexer struct {
	ids   map[int]map[string]int
	count map[int]int
}

// NewToolIndexer 创建推断器（每个流一个）
func NewToolIndexer() *ToolIndexer {
	return &ToolIndexer{
		ids:   make(map[int]map[string]int),
		count: make(map[int]int),
	}
}

// Resolve 返回片段在选项 choice 中的 index
func (t *ToolIndexer) Resolve(choice int, index *int, id string) int {
	ids, ok := t.ids[choice]
	if !ok {
		ids = make(map[string]int)
		t.ids[choice] = ids
	}

	var resolved int
	switch {
	case index != nil:
		resolved = *index
	case id != "":
		known, seen := ids[id]
		if !seen {
			known = t.count[choice]
		}
		resolved = known
	default:
		resolved = max(t.count[choice]-1, 0)
	}

	if id != "" {
		if _, seen := ids[id]; !seen {
			ids[id] = resolved
		}
	}
	if resolved >= t.count[choice] {
		t.count[choice] = resolved + 1
	}
	return resolved
}
