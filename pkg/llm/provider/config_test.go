package provider

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

const sampleConfig = `
providers:
  deepseek:
    api_key: ${TEST_DEEPSEEK_KEY}
    model: deepseek-chat
    timeout: 60s
  qwen:
    type: aliyun
    api_key: sk-qwen
    headers:
      X-Trace: abc
  hunyuan:
    type: tencent
    api_key: secret
    extra:
      secret_id: AKID
      region: ap-beijing
  local:
    type: ollama

thinking:
  aliyun: [qwen-max]
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_DEEPSEEK_KEY", "sk-from-env")

	fc, err := LoadConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"deepseek", "hunyuan", "local", "qwen"}, fc.Names())

	ds := fc.Providers["deepseek"]
	assert.Equal(t, llm.ProviderTypeDeepSeek, ds.Type, "类型缺省为键名")
	assert.Equal(t, "deepseek", ds.Name)
	assert.Equal(t, "sk-from-env", ds.APIKey)
	assert.Equal(t, 60*time.Second, ds.Timeout)

	qwen := fc.Providers["qwen"]
	assert.Equal(t, llm.ProviderTypeAliyun, qwen.Type)
	assert.Equal(t, "qwen", qwen.Name)
	assert.Equal(t, "abc", qwen.Headers["X-Trace"])

	hy := fc.Providers["hunyuan"]
	assert.Equal(t, "AKID", hy.ExtraString("secret_id"))
	assert.Equal(t, "ap-beijing", hy.ExtraString("region"))

	table := fc.ThinkingTable()
	assert.True(t, table.Supports(llm.ProviderTypeAliyun, "qwen-max"))
	assert.True(t, table.Supports(llm.ProviderTypeDeepSeek, "deepseek-reasoner"))
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"空配置", "providers: {}\n"},
		{"YAML 语法错误", "providers: [\n"},
		{"缺少 API Key", "providers:\n  openai:\n    model: gpt-4o\n"},
		{"无效地址", "providers:\n  openai:\n    api_key: k\n    base_url: not a url\n"},
		{"无效思考模式", "providers:\n  mock: {}\nthinking:\n  aliyun: ['qwen[']\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, llm.IsConfigError(err))
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  mock: {}\n"), 0o644))

	fc, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"mock"}, fc.Names())
	assert.Same(t, DefaultThinkingTable(), fc.ThinkingTable())

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, llm.IsConfigError(err))
}
