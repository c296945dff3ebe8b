// Package mock 提供本地 Mock LLM Provider
//
// [Client] 实现 [llm.Provider]，用于测试和开发，不访问网络。
//
// # 快速开始
//
//	client := mock.New() // 加载内嵌的示例场景
//	client.UseScenario("booking")
//
//	resp1, _ := client.Chat(ctx, req) // "好的，请问几位？"
//	resp2, _ := client.Chat(ctx, req) // "请问什么时间？"
//
// 带任何选项时从空配置开始，默认响应为 "This is a mock response."。
//
// # 响应来源
//
// 按优先级：
//
//   - 当前场景（[Client.UseScenario]），每次调用推进一轮
//   - [WithMessageFunc]：完整消息，可以包含工具调用与推理内容
//   - [WithResponseFunc]：动态文本
//   - [WithResponses]：响应队列，循环使用
//   - [WithResponse]：固定文本
//
// [WithError] 与场景轮次中的 error 字段返回可分类的 [llm.APIError]，
// 可以用来验证 middleware 的重试行为。
//
// # 流式
//
// ChatStream 把完整响应切分为角色项、推理块、内容块、工具调用项和终止项，
// 终止项携带 finish_reason 与 usage。[WithStreamChunks] 可以直接指定流的内容，
// [WithStreamError] 让流在中途失败。
//
// # 用量
//
// 用量按 cl100k 编码计算（[CountTokens]），prompt 为请求中所有消息文本之和。
//
// # 模板语法
//
// 场景中的响应文本和工具参数支持 Go 模板：
//
//   - {{.VAR}}：环境变量
//   - {{.VAR | default "fallback"}}：带默认值
//   - {{coalesce .VAR1 .VAR2 "default"}}：多级回退
//   - {{env "VAR"}}：显式读取环境变量
//   - {{.LAST_USER_MESSAGE}}：最后一条用户消息
//
// [Client] 是线程安全的。
package mock
