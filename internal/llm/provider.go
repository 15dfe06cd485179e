// Package llm defines the contract between the dialogue engine and a
// language model service.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ashureev/scenario-coach/internal/domain"
)

// Provider completes one model request. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Reply, error)
}

// Tool describes a tool the model may invoke.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is a single non-streaming model call.
type Request struct {
	Model       string
	System      string
	Tools       []Tool
	Turns       []domain.Turn
	MaxTokens   int
	Temperature *float64
}

// Usage reports token counts for a call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Reply is the model's answer: ordered text and tool-use segments.
type Reply struct {
	ID         string
	Model      string
	Segments   []domain.Segment
	StopReason string
	Usage      Usage
}

// Text returns the concatenated text segments.
func (r *Reply) Text() string {
	return domain.RenderText(r.Segments)
}

// ToolUses returns the tool invocations in reply order.
func (r *Reply) ToolUses() []domain.ToolUseSegment {
	return domain.Turn{Segments: r.Segments}.ToolUses()
}

// APIError is a non-2xx response from a model service.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Type, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return true
	}
	return false
}
