package mock

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pandodao/tokenizer-go"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// DefaultModel 请求与配置都没有指定模型时使用
const DefaultModel = "mock-model"

// CallRecord 一次调用的记录
type CallRecord struct {
	Request *llm.ChatRequest
	Stream  bool
	Time    time.Time
}

// ResponseFunc 动态响应函数，call 从 1 开始
type ResponseFunc func(req *llm.ChatRequest, call int) string

// MessageFunc 完整消息响应函数（可以包含工具调用与推理内容）
type MessageFunc func(req *llm.ChatRequest, call int) llm.Message

// Client Mock LLM Provider
type Client struct {
	mu              sync.RWMutex
	name            string
	configPath      string
	response        string
	responses       []string
	respIdx         int
	respFunc        ResponseFunc
	msgFunc         MessageFunc
	chunks          []llm.StreamResult
	chunkSize       int
	streamErr       error
	models          []string
	delay           time.Duration
	err             error
	calls           []CallRecord
	counter         int
	scenarios       map[string]*scenarioState
	currentScenario string
}

// Option 配置选项
type Option func(*Client)

// New 创建 Mock Client
//
// 不带任何选项时加载内嵌的示例场景；带选项时从空配置开始。
//
//	client := mock.New()                                 // 内嵌示例场景
//	client := mock.New(mock.WithConfigFile("mock.yaml")) // 场景文件
//	client := mock.New(mock.WithResponse("hi"))          // 固定响应
func New(opts ...Option) *Client {
	c := &Client{
		name:      "mock",
		response:  "This is a mock response.",
		chunkSize: 4,
	}
	if len(opts) == 0 {
		if cfg, err := LoadExampleConfig(); err == nil {
			applyConfig(c, cfg)
		} else {
			c.err = err
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithName 设置 Provider 名称
func WithName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.name = name
		}
	}
}

// WithResponse 设置固定响应
func WithResponse(text string) Option {
	return func(c *Client) { c.response = text }
}

// WithResponses 设置响应队列（依次返回，用完后循环）
func WithResponses(texts ...string) Option {
	return func(c *Client) { c.responses = texts }
}

// WithResponseFunc 设置动态响应函数
func WithResponseFunc(fn ResponseFunc) Option {
	return func(c *Client) { c.respFunc = fn }
}

// WithMessageFunc 设置完整消息响应函数
func WithMessageFunc(fn MessageFunc) Option {
	return func(c *Client) { c.msgFunc = fn }
}

// WithToolCalls 每次调用都返回给定的工具调用
func WithToolCalls(calls ...llm.ToolCall) Option {
	return WithMessageFunc(func(*llm.ChatRequest, int) llm.Message {
		msg := llm.NewAssistantMessage("")
		for i, tc := range calls {
			tc.Index = i
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
		return msg
	})
}

// WithStreamChunks 设置脚本化的流，ChatStream 原样返回这些项
//
// 项中的 Err 会在对应位置返回，用于模拟解析错误或中途断流。
func WithStreamChunks(items ...llm.StreamResult) Option {
	return func(c *Client) { c.chunks = items }
}

// WithChunkSize 设置自动切分流式内容时每块的字符数（默认 4）
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithStreamError 流在输出全部内容后以该错误终止，而不是正常结束
func WithStreamError(err error) Option {
	return func(c *Client) { c.streamErr = err }
}

// WithModels 设置 Models 返回的模型列表
func WithModels(models ...string) Option {
	return func(c *Client) { c.models = models }
}

// WithDelay 设置响应延迟
func WithDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithError 设置返回错误
func WithError(err error) Option {
	return func(c *Client) { c.err = err }
}

// ═══════════════════════════════════════════════════════════════════════════
// llm.Provider 实现
// ═══════════════════════════════════════════════════════════════════════════

// Name 实现 llm.Provider 接口
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Chat 实现 llm.Provider 接口
//
// 响应来源的优先级：当前场景 > MessageFunc > ResponseFunc > 响应队列 > 固定响应。
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	msg, delay, err := c.next(req, false)
	if err := wait(ctx, delay); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return c.buildResponse(req, msg), nil
}

// ChatStream 实现 llm.Provider 接口
//
// 没有脚本化的流时，把响应切分为角色项、内容块、工具调用项和终止项。
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	msg, delay, err := c.next(req, true)
	if err := wait(ctx, delay); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	scripted := append([]llm.StreamResult(nil), c.chunks...)
	size := c.chunkSize
	streamErr := c.streamErr
	c.mu.RUnlock()

	if len(scripted) > 0 {
		return llm.NewSliceStream(scripted...), nil
	}

	resp := c.buildResponse(req, msg)
	items := splitResponse(resp, size)
	if streamErr != nil {
		items = append(items[:len(items)-1], llm.StreamResult{Err: streamErr})
	}
	return llm.NewSliceStream(items...), nil
}

// Models 实现 llm.Provider 接口
func (c *Client) Models(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	if len(c.models) == 0 {
		return []string{DefaultModel}, nil
	}
	return append([]string(nil), c.models...), nil
}

// Close 实现 llm.Provider 接口
func (c *Client) Close() error { return nil }

// next 记录调用并选出本次响应（锁内完成）
func (c *Client) next(req *llm.ChatRequest, stream bool) (llm.Message, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counter++
	var recorded *llm.ChatRequest
	if req != nil {
		recorded = req.Clone()
	}
	c.calls = append(c.calls, CallRecord{Request: recorded, Stream: stream, Time: time.Now()})

	if c.err != nil {
		return llm.Message{}, c.delay, c.err
	}
	if s, ok := c.scenarios[c.currentScenario]; ok && c.currentScenario != "" {
		msg, err := s.next(req)
		return msg, c.delay, err
	}
	if c.msgFunc != nil {
		return c.msgFunc(req, c.counter), c.delay, nil
	}
	if c.respFunc != nil {
		return llm.NewAssistantMessage(c.respFunc(req, c.counter)), c.delay, nil
	}
	if len(c.responses) > 0 {
		text := c.responses[c.respIdx%len(c.responses)]
		c.respIdx++
		return llm.NewAssistantMessage(text), c.delay, nil
	}
	return llm.NewAssistantMessage(c.response), c.delay, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) buildResponse(req *llm.ChatRequest, msg llm.Message) *llm.ChatResponse {
	msg.Role = llm.RoleAssistant
	finish := llm.FinishReasonStop
	if msg.HasToolCalls() {
		finish = llm.FinishReasonToolCalls
	}

	model := DefaultModel
	if req != nil && req.Model != "" {
		model = req.Model
	}

	resp := llm.NewChatResponse(
		"chatcmpl-mock-"+uuid.NewString(),
		model,
		time.Now().Unix(),
		[]llm.Choice{{Index: 0, Message: msg, FinishReason: finish}},
		usageOf(req, msg),
	)
	resp.SyncContent()
	return resp
}

// splitResponse 把完整响应切分为流式项，最后一项携带 finish_reason 与 usage
func splitResponse(resp *llm.ChatResponse, size int) []llm.StreamResult {
	choice, _ := resp.FirstChoice()
	msg := choice.Message

	item := func(delta llm.Delta) llm.StreamResult {
		r := llm.NewStreamingResponse(delta, "")
		r.ID, r.Model, r.Created = resp.ID, resp.Model, resp.Created
		return llm.StreamResult{Item: r}
	}

	items := []llm.StreamResult{item(llm.Delta{Role: llm.RoleAssistant})}
	for _, part := range chunkText(msg.ReasoningContent, size) {
		items = append(items, item(llm.Delta{ReasoningContent: part}))
	}
	for _, part := range chunkText(msg.Text(), size) {
		items = append(items, item(llm.Delta{Content: part}))
	}
	for _, tc := range msg.ToolCalls {
		items = append(items, item(llm.Delta{ToolCalls: []llm.ToolCall{tc}}))
	}

	last := item(llm.Delta{})
	last.Item.Choices[0].FinishReason = choice.FinishReason
	last.Item.Usage = resp.Usage
	return append(items, last)
}

// chunkText 按字符数切分文本
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > 0 {
		n, i := 0, 0
		for i < len(text) && n < size {
			_, w := utf8.DecodeRuneInString(text[i:])
			i += w
			n++
		}
		out = append(out, text[:i])
		text = text[i:]
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// 用量计算
// ═══════════════════════════════════════════════════════════════════════════

// tokenizer 内部使用单个 JS 运行时，串行调用
var tokenizerMu sync.Mutex

// CountTokens 计算文本的 token 数（cl100k 编码），失败时按 4 字符估算
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	tokenizerMu.Lock()
	n, err := tokenizer.CalToken(text)
	tokenizerMu.Unlock()
	if err != nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return n
}

func usageOf(req *llm.ChatRequest, msg llm.Message) *llm.Usage {
	prompt := 0
	if req != nil {
		for _, m := range req.Messages {
			prompt += CountTokens(m.Text())
		}
	}
	completion := CountTokens(msg.Text())
	for _, tc := range msg.ToolCalls {
		completion += CountTokens(tc.Function.Name) + CountTokens(tc.Function.Arguments)
	}
	reasoning := CountTokens(msg.ReasoningContent)
	return &llm.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion + reasoning,
		TotalTokens:      prompt + completion + reasoning,
		ReasoningTokens:  reasoning,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 场景管理
// ═══════════════════════════════════════════════════════════════════════════

// UseScenario 设置当前场景，之后每次调用推进一轮
func (c *Client) UseScenario(name string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentScenario = name
	return c
}

// ResetScenario 重置场景到第一轮
func (c *Client) ResetScenario(name string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.scenarios[name]; ok {
		s.turnIdx = 0
	}
	return c
}

// ScenarioNames 返回按字母序排列的场景名称
func (c *Client) ScenarioNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.scenarios))
	for name := range c.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScenarioTurnIndex 返回场景的当前轮次，场景不存在时返回 -1
func (c *Client) ScenarioTurnIndex(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.scenarios[name]; ok {
		return s.turnIdx
	}
	return -1
}

// ═══════════════════════════════════════════════════════════════════════════
// 调用记录
// ═══════════════════════════════════════════════════════════════════════════

// SetResponse 修改固定响应
func (c *Client) SetResponse(text string) {
	c.mu.Lock()
	c.response = text
	c.mu.Unlock()
}

// SetError 修改返回错误，nil 表示恢复正常
func (c *Client) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Calls 返回所有调用记录
func (c *Client) Calls() []CallRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CallRecord(nil), c.calls...)
}

// CallCount 返回调用次数
func (c *Client) CallCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counter
}

// LastCall 返回最后一次调用记录
func (c *Client) LastCall() *CallRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.calls) == 0 {
		return nil
	}
	call := c.calls[len(c.calls)-1]
	return &call
}

// LastInput 返回最后一次调用中最后一条用户消息的文本
func (c *Client) LastInput() string {
	call := c.LastCall()
	if call == nil || call.Request == nil {
		return ""
	}
	return lastUserText(call.Request.Messages)
}

// Reset 清空调用记录、计数与队列位置
func (c *Client) Reset() {
	c.mu.Lock()
	c.calls = nil
	c.counter = 0
	c.respIdx = 0
	c.mu.Unlock()
}

func newToolCallID() string {
	return "call_" + uuid.NewString()
}

var _ llm.Provider = (*Client)(nil)
