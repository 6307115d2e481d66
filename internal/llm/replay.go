package llm

import (
	"context"
	"sync"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/types"
)

// ReplayStep is one scripted backend response. Exactly one of Content or
// Err is used; Err takes precedence when both are set.
type ReplayStep struct {
	Content string
	Usage   *Usage
	Err     error
}

// ReplayClient is a Client that plays back a fixed script of responses. It
// backs offline runs and tests; once the script is exhausted it keeps
// returning the final step.
type ReplayClient struct {
	mu    sync.Mutex
	steps []ReplayStep
	next  int
	calls int
}

// NewReplayClient builds a client over the given script.
func NewReplayClient(steps ...ReplayStep) *ReplayClient {
	return &ReplayClient{steps: steps}
}

// Chat returns the next scripted step.
func (c *ReplayClient) Chat(ctx context.Context, _ []Message, _ ChatOptions) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.steps) == 0 {
		return nil, types.NewError(types.ErrServer, "replay script is empty")
	}
	step := c.steps[c.next]
	if c.next < len(c.steps)-1 {
		c.next++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &ChatResponse{Content: step.Content, Usage: step.Usage}, nil
}

// Calls reports how many times Chat was invoked.
func (c *ReplayClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
