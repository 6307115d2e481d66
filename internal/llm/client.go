// Package llm holds the backend-agnostic client contract, the feature
// registry, and the retry/fallback executor that wraps one logical feature
// call.
package llm

import (
	"context"
	"errors"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/types"
)

// Message is one chat message sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatOptions are per-call knobs passed through to the backend.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// Usage reports token consumption when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is one backend completion.
type ChatResponse struct {
	Content string
	Usage   *Usage
}

// Client is the backend contract. Implementations are external
// collaborators; the core never depends on a specific transport.
// Implementations should return *types.Error for classified failures
// (authentication, rate limiting, server errors); anything else is treated
// as a connection failure.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)
}

// ClassifyTransport normalizes a backend error into the closed taxonomy.
// Context errors map to cancellation or timeout (attemptCtx is the
// per-attempt context; its deadline expiring is a timeout, the parent being
// cancelled is a cancellation). Everything unclassified is a connection
// failure.
func ClassifyTransport(err error, parent, attempt context.Context) *types.Error {
	if parent.Err() != nil || errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrCancelled, "call cancelled").WithCause(err)
	}
	if attempt != nil && errors.Is(attempt.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "backend call timed out").WithCause(err)
	}
	var te *types.Error
	if errors.As(err, &te) {
		return te
	}
	return types.NewError(types.ErrConnection, "backend connection failed").WithCause(err)
}
