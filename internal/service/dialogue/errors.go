package dialogue

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/tavern-chatter/backend/internal/service/ai"
)

// ErrInvalidRequest marks caller errors: too few participants, an empty
// player line, an unknown persona. It is the only error the orchestrator
// returns; check it with errors.Is.
var ErrInvalidRequest = errors.New("invalid dialogue request")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// FailureValidation is the failure kind reported when the backend answered
// but the payload could not be used.
const FailureValidation = "validation"

// ValidationError reports a backend payload that does not have the
// required shape.
type ValidationError struct {
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid generation payload: %s: %v", e.Reason, e.Cause)
	}
	return "invalid generation payload: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// failureKind names the failure for logs and the result side channel.
func failureKind(err error) string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return FailureValidation
	}
	if genErr, ok := ai.AsGenerationError(err); ok {
		return string(genErr.Kind)
	}
	return "unknown"
}
