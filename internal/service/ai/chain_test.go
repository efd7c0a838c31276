package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	mu        sync.Mutex
	content   string
	err       error
	block     bool
	lastInput []*schema.Message
	lastOpts  *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.lastInput = input
	f.lastOpts = model.GetCommonOptions(&model.Options{}, opts...)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

func TestChainGeneratorComplete(t *testing.T) {
	fake := &fakeChatModel{content: `{"messages":[]}`}
	gen, err := NewChainGenerator(context.Background(), "ark", fake, time.Second)
	require.NoError(t, err)

	instruction := "Speak as {greta}. Reply with {\"messages\": []}."
	out, err := gen.Complete(context.Background(), instruction, Options{
		Model:       "doubao-test",
		Temperature: Float64(0.5),
		MaxTokens:   321,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"messages":[]}`, out)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.lastInput, 1)
	assert.Equal(t, schema.User, fake.lastInput[0].Role)
	assert.Equal(t, instruction, fake.lastInput[0].Content)
	require.NotNil(t, fake.lastOpts.Temperature)
	assert.InDelta(t, 0.5, *fake.lastOpts.Temperature, 0.0001)
	require.NotNil(t, fake.lastOpts.MaxTokens)
	assert.Equal(t, 321, *fake.lastOpts.MaxTokens)
	require.NotNil(t, fake.lastOpts.Model)
	assert.Equal(t, "doubao-test", *fake.lastOpts.Model)
}

func TestChainGeneratorBackendRejected(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("quota exceeded")}
	gen, err := NewChainGenerator(context.Background(), "ark", fake, time.Second)
	require.NoError(t, err)

	_, err = gen.Complete(context.Background(), "hello", Options{})
	genErr, ok := AsGenerationError(err)
	require.True(t, ok, "expected GenerationError, got %v", err)
	assert.Equal(t, BackendRejected, genErr.Kind)
	assert.Equal(t, "ark", genErr.Backend)
}

func TestChainGeneratorTimeout(t *testing.T) {
	fake := &fakeChatModel{block: true}
	gen, err := NewChainGenerator(context.Background(), "ark", fake, time.Minute)
	require.NoError(t, err)

	start := time.Now()
	_, err = gen.Complete(context.Background(), "hello", Options{Timeout: 20 * time.Millisecond})
	genErr, ok := AsGenerationError(err)
	require.True(t, ok, "expected GenerationError, got %v", err)
	assert.Equal(t, Timeout, genErr.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewChainGeneratorRequiresModel(t *testing.T) {
	_, err := NewChainGenerator(context.Background(), "ark", nil, time.Second)
	require.Error(t, err)
}

func TestDisabledAlwaysFails(t *testing.T) {
	_, err := Disabled{}.Complete(context.Background(), "hello", Options{})
	genErr, ok := AsGenerationError(err)
	require.True(t, ok)
	assert.Equal(t, TransportFailure, genErr.Kind)
}
