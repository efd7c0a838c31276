package ai

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single completion when neither the caller nor the
// generator configures one.
const DefaultTimeout = 30 * time.Second

// Options are the decoding parameters for one completion.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

// Generator is the uniform call surface over a text-generation backend.
// Implementations make exactly one backend call per Complete, never retry,
// and report every failure as a *GenerationError.
type Generator interface {
	Complete(ctx context.Context, instruction string, opts Options) (string, error)
	Name() string
}

// Float64 is a convenience for building Options literals.
func Float64(v float64) *float64 {
	return &v
}

func withTimeout(ctx context.Context, opts Options, fallback time.Duration) (context.Context, context.CancelFunc) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = fallback
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
