// Package llm 定义了与具体 provider 无关的补全调用接口。
// 具体实现见 openaicompat 子包。
package llm
