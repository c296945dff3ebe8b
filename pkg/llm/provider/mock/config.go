package mock

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

//go:embed scenarios.yaml
var exampleConfigYAML []byte

// Config 场景配置文件结构
type Config struct {
	// DefaultResponse 没有指定场景时的响应
	DefaultResponse string `yaml:"default_response" json:"default_response"`

	// Scenarios 场景列表（通过 name 标识）
	Scenarios []Scenario `yaml:"scenarios" json:"scenarios"`

	// Delay 响应延迟（如 "100ms", "1s"）
	Delay string `yaml:"delay" json:"delay"`

	// SimulateError 模拟错误消息，ErrorKind 为空时按 api_error 分类
	SimulateError string `yaml:"simulate_error" json:"simulate_error"`
	ErrorKind     string `yaml:"error_kind" json:"error_kind"`
}

// Scenario 多轮对话场景
type Scenario struct {
	Name  string `yaml:"name" json:"name"`
	Turns []Turn `yaml:"turns" json:"turns"`
}

// Turn 单轮对话
type Turn struct {
	// User 用户消息（只用于文档说明）
	User string `yaml:"user,omitempty" json:"user,omitempty"`

	// Assistant 助手响应（支持模板语法）
	Assistant string `yaml:"assistant,omitempty" json:"assistant,omitempty"`

	// Reasoning 推理内容
	Reasoning string `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`

	// Tools 工具调用列表
	Tools []ToolCall `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Error 该轮返回的错误类型（如 rate_limit_error），非空时忽略其他字段
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
}

// ToolCall 场景中的工具调用
type ToolCall struct {
	Name string `yaml:"name" json:"name"`

	// Input 工具参数（字符串值支持模板语法）
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// LoadConfigFile 从文件加载配置（按扩展名识别 YAML 或 JSON）
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, llm.NewConfigError("read mock config", err)
	}
	return LoadConfigFromBytes(data, filepath.Ext(path))
}

// LoadConfigFromBytes 从字节数据加载配置
func LoadConfigFromBytes(data []byte, format string) (*Config, error) {
	cfg := &Config{}

	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, llm.NewConfigError("parse YAML", err)
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, llm.NewConfigError("parse JSON", err)
		}
	default:
		return nil, llm.NewConfigError(fmt.Sprintf("unsupported format: %s (expected yaml, yml, or json)", format), nil)
	}

	for i, s := range cfg.Scenarios {
		if s.Name == "" {
			return nil, llm.NewConfigError(fmt.Sprintf("scenario #%d has no name", i), nil)
		}
	}
	if cfg.Delay != "" {
		if _, err := time.ParseDuration(cfg.Delay); err != nil {
			return nil, llm.NewConfigError("invalid delay", err)
		}
	}
	return cfg, nil
}

// LoadExampleConfig 加载内嵌的示例场景
func LoadExampleConfig() (*Config, error) {
	return LoadConfigFromBytes(exampleConfigYAML, "yaml")
}

// WithConfigFile 从配置文件加载设置，加载失败时每次调用都返回该错误
func WithConfigFile(path string) Option {
	return func(c *Client) {
		cfg, err := LoadConfigFile(path)
		if err != nil {
			c.err = err
			return
		}
		applyConfig(c, cfg)
	}
}

// WithConfig 从配置对象加载设置
func WithConfig(cfg *Config) Option {
	return func(c *Client) {
		if cfg != nil {
			applyConfig(c, cfg)
		}
	}
}

func applyConfig(c *Client, cfg *Config) {
	if cfg.DefaultResponse != "" {
		c.response = cfg.DefaultResponse
	}
	if len(cfg.Scenarios) > 0 {
		c.scenarios = make(map[string]*scenarioState, len(cfg.Scenarios))
		for _, s := range cfg.Scenarios {
			c.scenarios[s.Name] = &scenarioState{scenario: s}
		}
	}
	if cfg.Delay != "" {
		if d, err := time.ParseDuration(cfg.Delay); err == nil {
			c.delay = d
		}
	}
	if cfg.SimulateError != "" {
		c.err = simulatedError(cfg.ErrorKind, cfg.SimulateError)
	}
}

// simulatedError 按错误类型构造可分类的错误
func simulatedError(kind, message string) error {
	k := llm.ErrorKind(kind)
	if k == "" {
		k = llm.ErrKindAPI
	}
	return llm.NewAPIError(k, statusOf(k), message, "")
}

func statusOf(kind llm.ErrorKind) int {
	switch kind {
	case llm.ErrKindAuthentication:
		return 401
	case llm.ErrKindPermission:
		return 403
	case llm.ErrKindNotFound:
		return 404
	case llm.ErrKindRateLimit:
		return 429
	case llm.ErrKindInvalidRequest, llm.ErrKindContextLength:
		return 400
	case llm.ErrKindServer:
		return 500
	default:
		return 0
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 场景状态
// ═══════════════════════════════════════════════════════════════════════════

type scenarioState struct {
	scenario Scenario
	turnIdx  int
}

// next 构建当前轮次的响应并推进轮次
func (s *scenarioState) next(req *llm.ChatRequest) (llm.Message, error) {
	if s.turnIdx >= len(s.scenario.Turns) {
		return llm.NewAssistantMessage("[场景已结束]"), nil
	}
	turn := s.scenario.Turns[s.turnIdx]
	s.turnIdx++

	if turn.Error != "" {
		return llm.Message{}, simulatedError(turn.Error, "scenario "+s.scenario.Name+" turn "+fmt.Sprint(s.turnIdx))
	}

	data := templateData(req)
	msg := llm.NewAssistantMessage(render(turn.Assistant, data))
	msg.ReasoningContent = turn.Reasoning
	for i, tool := range turn.Tools {
		args, err := json.Marshal(renderInput(tool.Input, data))
		if err != nil {
			return llm.Message{}, llm.NewRequestError("marshal tool input", err)
		}
		call := llm.NewToolCall(newToolCallID(), tool.Name, string(args))
		call.Index = i
		msg.ToolCalls = append(msg.ToolCalls, call)
	}
	return msg, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 模板渲染
// ═══════════════════════════════════════════════════════════════════════════

var templateFuncs = template.FuncMap{
	"env":      envFunc,
	"default":  defaultFunc,
	"coalesce": coalesceFunc,
}

func envFunc(key string, defaultVal ...string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if len(defaultVal) > 0 {
		return defaultVal[0]
	}
	return ""
}

func defaultFunc(defaultVal, value any) any {
	if value == nil {
		return defaultVal
	}
	if str, ok := value.(string); ok && str == "" {
		return defaultVal
	}
	return value
}

func coalesceFunc(values ...any) any {
	for _, v := range values {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		return v
	}
	return nil
}

// templateData 环境变量加 LAST_USER_MESSAGE
func templateData(req *llm.ChatRequest) map[string]string {
	vars := make(map[string]string)
	for _, env := range os.Environ() {
		if k, v, ok := strings.Cut(env, "="); ok {
			vars[k] = v
		}
	}
	if req != nil {
		vars["LAST_USER_MESSAGE"] = lastUserText(req.Messages)
	}
	return vars
}

// render 渲染失败时原样返回
func render(text string, data map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	tmpl, err := template.New("turn").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return text
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return text
	}
	return buf.String()
}

func renderInput(input map[string]any, data map[string]string) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if s, ok := v.(string); ok {
			out[k] = render(s, data)
			continue
		}
		out[k] = v
	}
	return out
}

func lastUserText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
