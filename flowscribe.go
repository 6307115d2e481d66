// Package flowscribe is the public surface of the FlowScribe structured-LLM
// core. It re-exports the pieces embedders need: parsing a raw model
// response into validated data, executing a registered feature with retries
// against any backend, and running many calls concurrently with ordered
// results.
//
// The heavy lifting lives under internal/; this package only aliases types
// and forwards calls so the import graph of an embedder stays shallow.
package flowscribe

import (
	"context"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/interpret"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/llm"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/schema"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/sched"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/types"
)

// Parsing surface.
type (
	ParseOutcome = interpret.ParseOutcome
	ParseOptions = interpret.Options
	ParseStatus  = interpret.ParseStatus
	Schema       = schema.Node
	Error        = types.Error
)

// Parse statuses.
const (
	StatusValid     = interpret.StatusValid
	StatusMalformed = interpret.StatusMalformed
	StatusInvalid   = interpret.StatusInvalid
)

// ParseResponse extracts, repairs, validates, and optionally recovers
// structured data from one raw model response.
func ParseResponse(raw string, opts ParseOptions) *ParseOutcome {
	return interpret.ParseResponse(raw, opts)
}

// Feature execution surface.
type (
	Client        = llm.Client
	Feature       = llm.Feature
	Registry      = llm.Registry
	CallOptions   = llm.CallOptions
	FeatureResult = llm.FeatureResult
	RetryEvent    = llm.RetryEvent
	ReplayStep    = llm.ReplayStep
)

// NewRegistry returns an empty feature registry.
func NewRegistry() *Registry { return llm.NewRegistry() }

// NewExecutor builds a feature executor over a backend client.
func NewExecutor(client Client, reg *Registry) *llm.Executor {
	return llm.NewExecutor(client, reg, nil)
}

// NewReplayClient returns a backend that plays back a fixed script of
// responses, for offline runs and tests.
func NewReplayClient(steps ...ReplayStep) Client {
	return llm.NewReplayClient(steps...)
}

// Int builds an optional CallOptions field from v.
func Int(v int) *int { return llm.Int(v) }

// Float64 builds an optional CallOptions field from v.
func Float64(v float64) *float64 { return llm.Float64(v) }

// ExecuteFeature is a one-shot convenience: it runs a single registered
// feature through a throwaway executor. Callers making repeated calls
// should hold an executor from NewExecutor instead.
func ExecuteFeature(ctx context.Context, client Client, reg *Registry, featureID string, vars map[string]string, opts CallOptions) (*FeatureResult, error) {
	return llm.NewExecutor(client, reg, nil).ExecuteFeature(ctx, featureID, vars, opts)
}

// Scheduling surface.
type (
	Task[T any]          = sched.Task[T]
	OrderedResult[T any] = sched.OrderedResult[T]
	RunOptions[T any]    = sched.Options[T]
)

// RunConcurrentOrdered executes tasks with bounded concurrency and emits
// results strictly in submission order.
func RunConcurrentOrdered[T any](ctx context.Context, tasks []Task[T], opts RunOptions[T]) ([]OrderedResult[T], error) {
	return sched.RunOrdered(ctx, tasks, opts)
}
