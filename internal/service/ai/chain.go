package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ChainGenerator runs the instruction through an eino chain:
// chat template -> chat model.
type ChainGenerator struct {
	name    string
	chain   compose.Runnable[map[string]any, *schema.Message]
	timeout time.Duration
}

// NewChainGenerator compiles the chain around chatModel. name identifies the
// backend in errors and logs (e.g. "ark").
func NewChainGenerator(ctx context.Context, name string, chatModel model.ChatModel, timeout time.Duration) (*ChainGenerator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{instruction}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile generation chain: %w", err)
	}

	return &ChainGenerator{
		name:    name,
		chain:   runnable,
		timeout: timeout,
	}, nil
}

func (g *ChainGenerator) Name() string {
	return g.name
}

// Complete invokes the chain once.
func (g *ChainGenerator) Complete(ctx context.Context, instruction string, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts, g.timeout)
	defer cancel()

	var modelOpts []model.Option
	if opts.Model != "" {
		modelOpts = append(modelOpts, model.WithModel(opts.Model))
	}
	if opts.Temperature != nil {
		modelOpts = append(modelOpts, model.WithTemperature(float32(*opts.Temperature)))
	}
	if opts.MaxTokens > 0 {
		modelOpts = append(modelOpts, model.WithMaxTokens(opts.MaxTokens))
	}

	input := map[string]any{"instruction": instruction}
	response, err := g.chain.Invoke(ctx, input, compose.WithChatModelOption(modelOpts...))
	if err != nil {
		return "", classify(ctx, g.name, err, BackendRejected)
	}
	if response == nil {
		return "", rejected(g.name, errors.New("empty response message"))
	}

	return response.Content, nil
}
