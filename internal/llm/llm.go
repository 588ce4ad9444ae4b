package llm

import (
	"context"

	"IntentForge/internal/intent"
)

// Message 是对话历史中的一条消息，Role 取值 user 或 assistant。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 描述发送给大模型的意图解析上下文。
type Request struct {
	Message   string
	ChainID   uint64
	ChainName string
	Account   string
	Tokens    []string
	History   []Message
}

// Intent 是大模型通过工具调用给出的一个结构化操作。
type Intent struct {
	Kind   intent.Kind    `json:"kind"`
	Params map[string]any `json:"params"`
}

// Resolution 是一次解析的结果：回复文本以及零个或多个意图。
type Resolution struct {
	Reply   string   `json:"reply"`
	Intents []Intent `json:"intents"`
}

// Resolver 定义了把自然语言转换为意图的统一接口。
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Resolution, error)
}

// ResolverFunc 允许直接使用函数作为 Resolver。
type ResolverFunc func(ctx context.Context, req Request) (*Resolution, error)

// Resolve 调用函数本身。
func (f ResolverFunc) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	return f(ctx, req)
}
