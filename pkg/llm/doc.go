// Package llm 提供多厂商 LLM HTTP 客户端的统一抽象层
//
// 本包定义了与 LLM 服务交互所需的核心类型和接口，包括：
//   - [ChatRequest]: 统一请求（所有厂商能力的超集）
//   - [Message]: 对话消息，内容为有序的多模态块序列
//   - [ChatResponse] / [StreamingResponse]: 非流式与流式响应
//   - [Provider] / [Stream]: 调用契约
//   - [Accumulator]: 将流式增量折叠为完整响应
//
// # 流式约定
//
// 所有厂商的流（OpenAI delta、Anthropic 命名事件、DashScope SSE、Ollama NDJSON、
// 混元 SSE、Gemini SSE）都被规范化为同一种 [StreamingResponse] 序列：
//   - 只有最后一项携带 finish_reason 和 usage
//   - 工具调用参数片段按 index 标识，按顺序拼接即为完整 JSON
//   - 单个事件解析失败返回 [ParseError]，流继续
//   - 传输中断返回终止错误
//
// # 错误
//
// 所有错误都实现 [Classified]，外部重试层通过 [IsRetryable]、[IsAuthError]、
// [IsRateLimited]、[StatusCode] 做决策。
//
// # 协议实现
//
// 具体的协议适配器位于 protocol 子包，Provider 构造函数与注册表位于 provider 子包，
// 重试/日志/指标装饰器位于 middleware 子包。
//
// # 包文件组织
//
//   - types.go: Provider、Stream 接口、StreamStats、All/Collect
//   - request.go: ChatRequest 及构建方法
//   - message.go: Message、MessageBlock、Tool、ToolCall
//   - response.go: ChatResponse、Usage、StreamingResponse、Delta
//   - accumulator.go: Accumulator
//   - errors.go: 错误分类
//   - config.go / provider_type.go: 配置与 Provider 类型
package llm
