// Package mock provides test doubles for llm interfaces using function fields.
package mock

import (
	"context"

	"github.com/ashureev/scenario-coach/internal/llm"
)

// Interface compliance check.
var _ llm.Provider = (*Provider)(nil)

// Provider is a test double for llm.Provider.
// Set CompleteFn before calling Complete.
type Provider struct {
	CompleteFn func(ctx context.Context, req llm.Request) (*llm.Reply, error)
}

// Complete delegates to CompleteFn.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	return p.CompleteFn(ctx, req)
}
