package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies why a completion failed.
type ErrorKind string

const (
	Timeout          ErrorKind = "timeout"
	BackendRejected  ErrorKind = "backend_rejected"
	TransportFailure ErrorKind = "transport_failure"
)

// GenerationError is the only error type a Generator returns.
type GenerationError struct {
	Kind    ErrorKind
	Backend string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s generation failed: %s", e.Backend, e.Kind)
	}
	return fmt.Sprintf("%s generation failed (%s): %v", e.Backend, e.Kind, e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// AsGenerationError extracts a *GenerationError from err.
func AsGenerationError(err error) (*GenerationError, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr, true
	}
	return nil, false
}

func rejected(backend string, cause error) *GenerationError {
	return &GenerationError{Kind: BackendRejected, Backend: backend, Cause: cause}
}

// classify maps a raw failure to a GenerationError. Deadline and network
// timeouts are Timeout; other network errors are TransportFailure; anything
// else uses fallbackKind.
func classify(ctx context.Context, backend string, err error, fallbackKind ErrorKind) *GenerationError {
	if genErr, ok := AsGenerationError(err); ok {
		return genErr
	}

	kind := fallbackKind
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = Timeout
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			kind = Timeout
		} else {
			kind = TransportFailure
		}
	case errors.Is(err, context.Canceled):
		kind = TransportFailure
	}

	return &GenerationError{Kind: kind, Backend: backend, Cause: err}
}
