package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/interpret"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/schema"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/types"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/usage"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	err := reg.Register(&Feature{
		ID:     "speaker-tag",
		System: "You label transcript speakers.",
		User:   "Label the speakers in: {{transcript}}",
		Schema: schema.NewObject().
			Prop("name", schema.NewString()).
			Require("name"),
	})
	require.NoError(t, err)
	return reg
}

func TestExecuteFeature_FirstTrySuccess(t *testing.T) {
	client := NewReplayClient(ReplayStep{
		Content: `{"name": "Alice"}`,
		Usage:   &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	ex := NewExecutor(client, testRegistry(t), nil)

	res, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
		map[string]string{"transcript": "hello"}, CallOptions{MaxRetries: Int(2)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RetryAttempts)
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, interpret.StatusValid, res.Outcome.Metadata.ParseStatus)
	assert.Equal(t, "Alice", res.Outcome.Data.(map[string]any)["name"])
	require.NotNil(t, res.Usage)
	assert.Equal(t, 15, res.Usage.TotalTokens)
	assert.NotEmpty(t, res.CallID)
}

func TestExecuteFeature_RetriesThenCleanResponse(t *testing.T) {
	client := NewReplayClient(
		ReplayStep{Content: "sorry, no JSON today"},
		ReplayStep{Content: `{"name": "Alice"}`},
	)
	ex := NewExecutor(client, testRegistry(t), nil)

	var events []RetryEvent
	res, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
		map[string]string{"transcript": "hello"}, CallOptions{
			MaxRetries: Int(2),
			OnRetry:    func(e RetryEvent) { events = append(events, e) },
		})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RetryAttempts)
	assert.Equal(t, 2, client.Calls())
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, 3, events[0].MaxAttempts)
	assert.NotEmpty(t, events[0].ErrorMessage)
}

func TestExecuteFeature_AlwaysMalformedFallsBackLeniently(t *testing.T) {
	// Every response has a trailing comma; strict parsing fails each
	// attempt, then the single lenient pass salvages the final response.
	client := NewReplayClient(ReplayStep{Content: `{"name": "Alice",}`})
	ex := NewExecutor(client, testRegistry(t), nil)

	res, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
		map[string]string{"transcript": "hello"}, CallOptions{MaxRetries: Int(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RetryAttempts)
	assert.Equal(t, 3, client.Calls())
	require.NotNil(t, res.Outcome)
	assert.Equal(t, interpret.StatusMalformed, res.Outcome.Metadata.ParseStatus)
	assert.Equal(t, "Alice", res.Outcome.Data.(map[string]any)["name"])
}

func TestExecuteFeature_ExhaustedAndUnsalvageable(t *testing.T) {
	client := NewReplayClient(ReplayStep{Content: "still nothing structured"})
	ex := NewExecutor(client, testRegistry(t), nil)

	res, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
		map[string]string{"transcript": "hello"}, CallOptions{MaxRetries: Int(2)})
	require.Error(t, err)
	assert.Equal(t, types.ErrParse, types.CodeOf(err))
	assert.Equal(t, 2, res.RetryAttempts)
	assert.Equal(t, 3, client.Calls())
	assert.Equal(t, "still nothing structured", res.Content)
}

func TestExecuteFeature_TransformFailureIsTerminal(t *testing.T) {
	// The backend produced valid, schema-conforming output; the caller's
	// transform rejected it. Resending the same request cannot help, so no
	// retry and no lenient fallback.
	client := NewReplayClient(ReplayStep{Content: `{"name": "Alice"}`})
	ex := NewExecutor(client, testRegistry(t), nil)

	res, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
		map[string]string{"transcript": "hello"}, CallOptions{
			MaxRetries: Int(3),
			Parse: interpret.Options{
				Transform: func(any) (any, error) {
					return nil, errors.New("unusable shape")
				},
			},
		})
	require.Error(t, err)
	assert.Equal(t, types.ErrTransform, types.CodeOf(err))
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, 0, res.RetryAttempts)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, interpret.StatusInvalid, res.Outcome.Metadata.ParseStatus)
}

func TestExecuteFeature_ExplicitZeroOverridesFeatureDefaults(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Feature{
		ID:       "zero-knobs",
		User:     "{{transcript}}",
		Defaults: CallDefaults{MaxRetries: 3, Temperature: 0.7},
	}))

	t.Run("unset fields inherit the defaults", func(t *testing.T) {
		var gotTemp float64
		calls := 0
		client := clientFunc(func(_ context.Context, _ []Message, o ChatOptions) (*ChatResponse, error) {
			gotTemp = o.Temperature
			calls++
			return &ChatResponse{Content: "not structured"}, nil
		})
		ex := NewExecutor(client, reg, nil)
		_, err := ex.ExecuteFeature(context.Background(), "zero-knobs",
			map[string]string{"transcript": "x"}, CallOptions{})
		require.Error(t, err)
		assert.Equal(t, 4, calls)
		assert.Equal(t, 0.7, gotTemp)
	})

	t.Run("explicit zeros are honored", func(t *testing.T) {
		var gotTemp float64
		calls := 0
		client := clientFunc(func(_ context.Context, _ []Message, o ChatOptions) (*ChatResponse, error) {
			gotTemp = o.Temperature
			calls++
			return &ChatResponse{Content: "not structured"}, nil
		})
		ex := NewExecutor(client, reg, nil)
		_, err := ex.ExecuteFeature(context.Background(), "zero-knobs",
			map[string]string{"transcript": "x"}, CallOptions{
				MaxRetries:  Int(0),
				Temperature: Float64(0),
			})
		require.Error(t, err)
		assert.Equal(t, 1, calls, "zero retries means a single attempt")
		assert.Equal(t, 0.0, gotTemp)
	})
}

func TestExecuteFeature_TransportErrorsNeverRetried(t *testing.T) {
	tests := []struct {
		name string
		step ReplayStep
		code types.ErrorCode
	}{
		{
			name: "connection failure",
			step: ReplayStep{Err: errors.New("dial tcp: connection refused")},
			code: types.ErrConnection,
		},
		{
			name: "classified auth failure",
			step: ReplayStep{Err: types.NewError(types.ErrAuth, "invalid api key")},
			code: types.ErrAuth,
		},
		{
			name: "classified rate limit",
			step: ReplayStep{Err: types.NewError(types.ErrRateLimit, "429")},
			code: types.ErrRateLimit,
		},
		{
			name: "classified server error",
			step: ReplayStep{Err: types.NewError(types.ErrServer, "500")},
			code: types.ErrServer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewReplayClient(tt.step)
			ex := NewExecutor(client, testRegistry(t), nil)
			_, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
				map[string]string{"transcript": "x"}, CallOptions{MaxRetries: Int(3)})
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.Equal(t, 1, client.Calls(), "transport errors must end the call immediately")
		})
	}
}

func TestExecuteFeature_CancellationDistinctFromTimeout(t *testing.T) {
	t.Run("pre-cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		client := NewReplayClient(ReplayStep{Content: `{"name": "Alice"}`})
		ex := NewExecutor(client, testRegistry(t), nil)
		_, err := ex.ExecuteFeature(ctx, "speaker-tag",
			map[string]string{"transcript": "x"}, CallOptions{MaxRetries: Int(3)})
		require.Error(t, err)
		assert.Equal(t, types.ErrCancelled, types.CodeOf(err))
		assert.Equal(t, 0, client.Calls())
	})

	t.Run("attempt timeout", func(t *testing.T) {
		slow := clientFunc(func(ctx context.Context, _ []Message, _ ChatOptions) (*ChatResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		ex := NewExecutor(slow, testRegistry(t), nil)
		_, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
			map[string]string{"transcript": "x"}, CallOptions{
				MaxRetries:     Int(3),
				AttemptTimeout: 10 * time.Millisecond,
			})
		require.Error(t, err)
		assert.Equal(t, types.ErrTimeout, types.CodeOf(err))
	})
}

func TestExecuteFeature_UnknownFeature(t *testing.T) {
	ex := NewExecutor(NewReplayClient(), NewRegistry(), nil)
	_, err := ex.ExecuteFeature(context.Background(), "nope", nil, CallOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestExecuteFeature_UsageAccumulatesAcrossRetries(t *testing.T) {
	client := NewReplayClient(
		ReplayStep{Content: "bad", Usage: &Usage{TotalTokens: 7}},
		ReplayStep{Content: `{"name": "A"}`, Usage: &Usage{TotalTokens: 8}},
	)
	ex := NewExecutor(client, testRegistry(t), nil)
	res, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
		map[string]string{"transcript": "x"}, CallOptions{MaxRetries: Int(1)})
	require.NoError(t, err)
	assert.Equal(t, 15, res.Usage.TotalTokens)
}

func TestExecuteFeature_RecordsUsage(t *testing.T) {
	client := NewReplayClient(ReplayStep{
		Content: `{"name": "A"}`,
		Usage:   &Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
	})
	ex := NewExecutor(client, testRegistry(t), nil)
	tracker := usage.NewTracker()
	ex.SetUsageTracker(tracker)

	_, err := ex.ExecuteFeature(context.Background(), "speaker-tag",
		map[string]string{"transcript": "x"}, CallOptions{})
	require.NoError(t, err)

	snap := tracker.Snapshot()
	assert.Equal(t, 1, snap.ByFeature["speaker-tag"].Calls)
	assert.Equal(t, 15, snap.Overall.Total)
}

// clientFunc adapts a function to the Client interface.
type clientFunc func(ctx context.Context, msgs []Message, opts ChatOptions) (*ChatResponse, error)

func (f clientFunc) Chat(ctx context.Context, msgs []Message, opts ChatOptions) (*ChatResponse, error) {
	return f(ctx, msgs, opts)
}
