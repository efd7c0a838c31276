package ai

import (
	"context"
	"errors"
)

// Disabled is the generator used when no backend is configured. Every call
// fails with TransportFailure, so callers serve fallback dialogue.
type Disabled struct {
	Reason string
}

func (d Disabled) Name() string {
	return "disabled"
}

func (d Disabled) Complete(_ context.Context, _ string, _ Options) (string, error) {
	reason := d.Reason
	if reason == "" {
		reason = "no generation backend configured"
	}
	return "", &GenerationError{Kind: TransportFailure, Backend: d.Name(), Cause: errors.New(reason)}
}
