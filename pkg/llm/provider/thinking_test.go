package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

func TestDefaultThinkingTable(t *testing.T) {
	table := DefaultThinkingTable()

	tests := []struct {
		vendor llm.ProviderType
		model  string
		want   bool
	}{
		{llm.ProviderTypeAliyun, "qwen3-235b-a22b", true},
		{llm.ProviderTypeAliyun, "Qwen3-8B", true},
		{llm.ProviderTypeAliyun, "qwen-plus", true},
		{llm.ProviderTypeAliyun, "qwen-plus-latest", true},
		{llm.ProviderTypeAliyun, "qwen-turbo", true},
		{llm.ProviderTypeAliyun, "qwq-32b", true},
		{llm.ProviderTypeAliyun, "qwen-max", false},
		{llm.ProviderTypeAliyun, "qwen-vl-plus", false},
		{llm.ProviderTypeAliyun, "", false},
		{llm.ProviderTypeDeepSeek, "deepseek-reasoner", true},
		{llm.ProviderTypeDeepSeek, "deepseek-chat", false},
		{llm.ProviderTypeOpenAI, "qwen3-8b", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.vendor)+"/"+tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Supports(tt.vendor, tt.model))
		})
	}

	assert.Same(t, table, DefaultThinkingTable())
}

func TestNewThinkingTable(t *testing.T) {
	t.Run("模式统一小写", func(t *testing.T) {
		table, err := NewThinkingTable(map[llm.ProviderType][]string{
			llm.ProviderTypeAliyun: {" QWEN-MAX "},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"qwen-max"}, table.Patterns(llm.ProviderTypeAliyun))
		assert.True(t, table.Supports(llm.ProviderTypeAliyun, "Qwen-Max"))
	})

	t.Run("无效模式", func(t *testing.T) {
		_, err := NewThinkingTable(map[llm.ProviderType][]string{
			llm.ProviderTypeAliyun: {"qwen["},
		})
		require.Error(t, err)
		assert.True(t, llm.IsConfigError(err))
	})

	t.Run("nil 表", func(t *testing.T) {
		var table *ThinkingTable
		assert.False(t, table.Supports(llm.ProviderTypeAliyun, "qwen3-8b"))
		assert.Nil(t, table.Patterns(llm.ProviderTypeAliyun))
	})
}

func TestThinkingTable_Merge(t *testing.T) {
	override, err := ParseThinkingTable([]byte("aliyun:\n  - qwen-max\n"))
	require.NoError(t, err)

	merged := DefaultThinkingTable().Merge(override)

	assert.True(t, merged.Supports(llm.ProviderTypeAliyun, "qwen-max"))
	assert.False(t, merged.Supports(llm.ProviderTypeAliyun, "qwen3-8b"), "厂商条目整体替换")
	assert.True(t, merged.Supports(llm.ProviderTypeDeepSeek, "deepseek-reasoner"), "其他厂商保留")
	assert.True(t, DefaultThinkingTable().Supports(llm.ProviderTypeAliyun, "qwen3-8b"), "不修改原表")
}

func TestLoadThinkingTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thinking.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tencent:\n  - hunyuan-t1-*\n"), 0o644))

	table, err := LoadThinkingTableFile(path)
	require.NoError(t, err)
	assert.True(t, table.Supports(llm.ProviderTypeTencent, "hunyuan-t1-latest"))

	_, err = LoadThinkingTableFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, llm.IsConfigError(err))

	_, err = ParseThinkingTable([]byte("aliyun: [\n"))
	assert.True(t, llm.IsConfigError(err))
}
