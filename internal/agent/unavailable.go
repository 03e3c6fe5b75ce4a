package agent

import (
	"context"
	"errors"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/engine"
)

var errNotConfigured = errors.New("AGENT_ADDR not set; check reasoning agent configuration")

// Unavailable is the invoker installed when no agent endpoint is
// configured. Every invocation is a fatal failure: absence of a working
// collaborator is never masked by a deterministic substitute.
type Unavailable struct{}

var _ engine.Invoker = Unavailable{}

// Invoke always fails fatally.
func (Unavailable) Invoke(ctx context.Context, in engine.Input) (*engine.Output, error) {
	return nil, domain.FatalExternal("agent-unconfigured", errNotConfigured)
}
