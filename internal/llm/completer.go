package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ChatCompleter runs completions through an eino chain (messages → chat model).
// One chain is compiled per model/topK pair and reused.
type ChatCompleter struct {
	cfg    ProviderConfig
	chains sync.Map // chainKey → compose.Runnable[[]*schema.Message, *schema.Message]
	mu     sync.Mutex
}

type chainKey struct {
	model string
	topK  int
}

// NewChatCompleter creates a completer for the configured provider
func NewChatCompleter(cfg ProviderConfig) *ChatCompleter {
	return &ChatCompleter{cfg: cfg}
}

// Complete builds the system/user messages and invokes the chain for req.Model
func (c *ChatCompleter) Complete(ctx context.Context, req Request) (string, error) {
	chain, err := c.chain(ctx, req)
	if err != nil {
		return "", err
	}

	messages := make([]*schema.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))

	out, err := chain.Invoke(ctx, messages, compose.WithChatModelOption(
		model.WithTemperature(req.Temperature),
		model.WithTopP(req.TopP),
	))
	if err != nil {
		return "", fmt.Errorf("error invoking chat model: %w", err)
	}
	if out == nil {
		return "", ErrNoCompletion
	}
	return out.Content, nil
}

func (c *ChatCompleter) chain(ctx context.Context, req Request) (compose.Runnable[[]*schema.Message, *schema.Message], error) {
	key := chainKey{model: req.Model, topK: req.TopK}
	if r, ok := c.chains.Load(key); ok {
		return r.(compose.Runnable[[]*schema.Message, *schema.Message]), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.chains.Load(key); ok {
		return r.(compose.Runnable[[]*schema.Message, *schema.Message]), nil
	}

	chatModel, err := NewChatModel(ctx, c.cfg, ModelSpec{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	})
	if err != nil {
		return nil, err
	}

	runnable, err := compose.NewChain[[]*schema.Message, *schema.Message]().
		AppendChatModel(chatModel).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("error creating Eino chain: %w", err)
	}
	c.chains.Store(key, runnable)
	return runnable, nil
}
