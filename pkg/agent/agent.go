// Package agent defines the agent handler contract and the executor that
// runs handlers while keeping per-agent status rows current.
//
// An agent is a named unit of work registered at startup. The executor
// wraps every invocation with status bookkeeping: the agent row flips to
// active before the handler runs, and lands on idle or failed afterwards
// with rolling duration and cost figures attached.
package agent

import (
	"context"
	"errors"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// ErrUnknownAgent is returned when an invocation names an agent that was
// never registered. Callers treat it as non-retryable.
var ErrUnknownAgent = errors.New("agent not registered")

// Sink receives human-readable progress lines from a running handler.
type Sink interface {
	Log(level, message string)
}

// Invocation carries everything a handler needs for one execution.
type Invocation struct {
	UserID    string
	AgentName string
	JobID     string
	MissionID string
	Input     models.JSON
	Sink      Sink
}

// Result is what a handler produces. TokenUsage may be nil when the
// handler consumed no metered tokens; the executor then records zero
// cost and surfaces a warning on the sink.
type Result struct {
	Output     models.JSON
	TokenUsage *models.TokenUsage
}

// Execution is the executor's enriched outcome for one invocation.
type Execution struct {
	Output      models.JSON
	CostCredits int64
	DurationMS  int64
	TokenUsage  models.TokenUsage
}

// Handler is implemented by every registered agent.
type Handler interface {
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv Invocation) (*Result, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	return f(ctx, inv)
}

type noopSink struct{}

func (noopSink) Log(level, message string) {}
