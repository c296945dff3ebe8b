package provider

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 思考模式能力表
// ═══════════════════════════════════════════════════════════════════════════

//go:embed thinking.yaml
var defaultThinkingYAML []byte

// ThinkingTable 厂商 → 支持思考模式的模型名模式
//
// 能力表是数据而不是代码：内嵌一份默认表，可以通过 YAML 文件覆盖或补充。
type ThinkingTable struct {
	patterns map[llm.ProviderType][]string
}

var defaultThinkingTable = sync.OnceValue(func() *ThinkingTable {
	t, err := ParseThinkingTable(defaultThinkingYAML)
	if err != nil {
		panic(fmt.Sprintf("provider: embedded thinking table: %v", err))
	}
	return t
})

// DefaultThinkingTable 返回内嵌的默认能力表
func DefaultThinkingTable() *ThinkingTable {
	return defaultThinkingTable()
}

// NewThinkingTable 从厂商到模式列表的映射创建能力表
func NewThinkingTable(patterns map[llm.ProviderType][]string) (*ThinkingTable, error) {
	t := &ThinkingTable{patterns: make(map[llm.ProviderType][]string, len(patterns))}
	for vendor, list := range patterns {
		for _, p := range list {
			p = strings.ToLower(strings.TrimSpace(p))
			if _, err := path.Match(p, ""); err != nil {
				return nil, llm.NewConfigError(fmt.Sprintf("invalid thinking pattern %q for %s", p, vendor), err)
			}
			t.patterns[vendor] = append(t.patterns[vendor], p)
		}
	}
	return t, nil
}

// ParseThinkingTable 解析 YAML 能力表
//
//	aliyun:
//	  - qwen3-*
//	  - qwen-plus
func ParseThinkingTable(data []byte) (*ThinkingTable, error) {
	var raw map[llm.ProviderType][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, llm.NewConfigError("parse thinking table", err)
	}
	return NewThinkingTable(raw)
}

// LoadThinkingTableFile 从文件加载能力表
func LoadThinkingTableFile(name string) (*ThinkingTable, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, llm.NewConfigError("read thinking table", err)
	}
	return ParseThinkingTable(data)
}

// Supports 判断模型是否支持思考模式
func (t *ThinkingTable) Supports(vendor llm.ProviderType, model string) bool {
	if t == nil || model == "" {
		return false
	}
	model = strings.ToLower(model)
	for _, p := range t.patterns[vendor] {
		if ok, _ := path.Match(p, model); ok {
			return true
		}
	}
	return false
}

// Patterns 返回厂商的模式列表副本
func (t *ThinkingTable) Patterns(vendor llm.ProviderType) []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.patterns[vendor]...)
}

// Merge 返回合并后的新表，other 中出现的厂商整体替换本表对应条目
func (t *ThinkingTable) Merge(other *ThinkingTable) *ThinkingTable {
	merged := &ThinkingTable{patterns: make(map[llm.ProviderType][]string)}
	if t != nil {
		for vendor, list := range t.patterns {
			merged.patterns[vendor] = append([]string(nil), list...)
		}
	}
	if other != nil {
		for vendor, list := range other.patterns {
			merged.patterns[vendor] = append([]string(nil), list...)
		}
	}
	return merged
}
