package dialogue

import (
	"errors"
	"fmt"

	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/ashureev/scenario-coach/internal/llm"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownScenario is returned when a start request names no registered scenario.
	ErrUnknownScenario = errors.New("unknown scenario")

	// ErrEmptyMessage is returned when a learner message is blank.
	ErrEmptyMessage = errors.New("message is required")

	// ErrUnansweredToolUse marks a transcript the model API would reject.
	// Seeing it means the engine failed to answer a tool invocation.
	ErrUnansweredToolUse = domain.ErrUnansweredToolUse
)

// UpstreamError wraps a failed model call.
type UpstreamError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *UpstreamError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: model call timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: model call failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the learner can resend the same request.
func (e *UpstreamError) Retryable() bool {
	if e.Timeout {
		return true
	}
	var apiErr *llm.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}
