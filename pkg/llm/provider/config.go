package provider

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 配置文件
// ═══════════════════════════════════════════════════════════════════════════

// FileConfig 多 Provider 配置文件
//
//	providers:
//	  deepseek:
//	    type: deepseek
//	    api_key: ${DEEPSEEK_API_KEY}
//	    model: deepseek-chat
//	    timeout: 60s
//	  qwen:
//	    type: aliyun
//	    api_key: ${DASHSCOPE_API_KEY}
//	  hunyuan:
//	    type: tencent
//	    api_key: ${TENCENT_SECRET_KEY}
//	    extra:
//	      secret_id: ${TENCENT_SECRET_ID}
//
//	# 可选：覆盖内嵌的思考模式能力表（按厂商整体替换）
//	thinking:
//	  aliyun: [qwen3-*, qwen-plus]
//
// ${VAR} 与 $VAR 在解析前按环境变量展开，未设置的变量展开为空串。
type FileConfig struct {
	Providers map[string]llm.Config         `yaml:"providers"`
	Thinking  map[llm.ProviderType][]string `yaml:"thinking,omitempty"`
}

// LoadConfigFile 读取并解析配置文件
func LoadConfigFile(name string) (*FileConfig, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, llm.NewConfigError("read config file", err)
	}
	return LoadConfig(data)
}

// LoadConfig 解析 YAML 配置
//
// 每个条目的 Name 取映射的键，Type 为空时使用键名作为类型。
// 所有条目都通过 Validate 才返回。
func LoadConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &fc); err != nil {
		return nil, llm.NewConfigError("parse config", err)
	}
	if len(fc.Providers) == 0 {
		return nil, llm.NewConfigError("no providers configured", nil)
	}

	for name, cfg := range fc.Providers {
		cfg.Name = name
		if cfg.Type == "" {
			cfg.Type = llm.ProviderType(name)
		}
		if err := cfg.Validate(); err != nil {
			return nil, llm.NewConfigError("provider "+name, err)
		}
		fc.Providers[name] = cfg
	}
	if _, err := NewThinkingTable(fc.Thinking); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Names 返回按字母序排列的 Provider 名称
func (fc *FileConfig) Names() []string {
	names := make([]string, 0, len(fc.Providers))
	for name := range fc.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ThinkingTable 返回默认能力表与文件中覆盖项合并后的结果
func (fc *FileConfig) ThinkingTable() *ThinkingTable {
	if len(fc.Thinking) == 0 {
		return DefaultThinkingTable()
	}
	override, err := NewThinkingTable(fc.Thinking)
	if err != nil {
		return DefaultThinkingTable()
	}
	return DefaultThinkingTable().Merge(override)
}
