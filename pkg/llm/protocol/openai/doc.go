// Package openai 实现 OpenAI Chat Completions 协议
//
// 覆盖所有 OpenAI 兼容厂商：OpenAI、OpenRouter、DeepSeek、智谱、Moonshot、
// 火山引擎、小米 MiMo，以及任意自建的兼容服务。
//
// 厂商间的差异通过 Option 表达：
//
//	openai.NewAdapter(key)                                          // OpenAI
//	openai.NewAdapter(key, openai.WithThinkingStyle(openai.ThinkingObject)) // 智谱
//	openai.NewAdapter(key, openai.WithoutModelListing())            // 无 /models 端点
package openai
