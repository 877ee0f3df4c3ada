// Package openaicompat 实现了基于 OpenAI 兼容接口的 llm.Client。
// OpenRouter、NVIDIA NIM 与本地 Ollama/vLLM 等服务都暴露同一套
// /chat/completions 协议，因此三种 provider 共用这一个实现。
package openaicompat
