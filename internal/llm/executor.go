package llm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/interpret"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/types"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/usage"
)

// RetryEvent describes one failed attempt about to be retried.
type RetryEvent struct {
	Attempt         int
	MaxAttempts     int
	ErrorMessage    string
	AttemptDuration time.Duration
}

// CallOptions tune one feature execution. Unset fields fall back to the
// feature's defaults. MaxRetries and Temperature are pointers so an
// explicit zero (no retries, deterministic sampling) is distinguishable
// from "use the default"; build them with Int and Float64.
type CallOptions struct {
	MaxRetries     *int
	AttemptTimeout time.Duration
	Temperature    *float64
	MaxTokens      int
	OnRetry        func(RetryEvent)
	Parse          interpret.Options
}

// Int returns a pointer to v, for optional CallOptions fields.
func Int(v int) *int { return &v }

// Float64 returns a pointer to v, for optional CallOptions fields.
func Float64(v float64) *float64 { return &v }

// FeatureResult is the outcome of one logical feature call, including all
// retries and the lenient fallback pass.
type FeatureResult struct {
	FeatureID     string
	CallID        string
	Outcome       *interpret.ParseOutcome
	Content       string
	RetryAttempts int
	Duration      time.Duration
	Usage         *Usage
}

// Executor runs registered features against a backend with retry and
// lenient-fallback semantics.
type Executor struct {
	client  Client
	reg     *Registry
	log     *zap.Logger
	tracker *usage.Tracker
}

// NewExecutor builds an executor over client and reg. A nil logger is
// replaced with a no-op logger.
func NewExecutor(client Client, reg *Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{client: client, reg: reg, log: logger}
}

// SetUsageTracker attaches a token usage tracker; every backend response
// that reports usage is recorded under its feature ID.
func (e *Executor) SetUsageTracker(t *usage.Tracker) {
	e.tracker = t
}

// ExecuteFeature looks up a feature, renders its prompts with vars, and
// runs the retry loop. Only parse and validation failures are retried; the
// request is resent unchanged each time. Transport, authentication,
// rate-limit and server errors end the call immediately, as do timeouts and
// cancellation. After the retry budget is exhausted a single lenient pass
// with partial recovery is run against the final response before giving up.
func (e *Executor) ExecuteFeature(ctx context.Context, featureID string, vars map[string]string, opts CallOptions) (*FeatureResult, error) {
	start := time.Now()
	res := &FeatureResult{FeatureID: featureID, CallID: uuid.NewString()}

	feat, err := e.reg.Lookup(featureID)
	if err != nil {
		res.Duration = time.Since(start)
		return res, types.NewError(types.ErrValidation, err.Error())
	}
	msgs, err := feat.CompileMessages(vars)
	if err != nil {
		res.Duration = time.Since(start)
		return res, types.NewError(types.ErrValidation, err.Error())
	}
	applyDefaults(&opts, feat.Defaults)
	if opts.Parse.Schema == nil {
		opts.Parse.Schema = feat.Schema
	}

	log := e.log.With(zap.String("feature", featureID), zap.String("call_id", res.CallID))
	chatOpts := ChatOptions{Temperature: *opts.Temperature, MaxTokens: opts.MaxTokens}
	maxRetries := *opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	maxAttempts := maxRetries + 1

	// During the retry loop parsing stays strict: partial recovery is
	// reserved for the fallback pass so a retry gets a chance at a clean
	// response first.
	strict := opts.Parse
	strict.RecoverPartial = false
	strict.Logger = log

	var lastOutcome *interpret.ParseOutcome
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			res.Duration = time.Since(start)
			return res, types.NewError(types.ErrCancelled, "call cancelled").WithCause(ctx.Err())
		}

		attemptStart := time.Now()
		resp, callErr := e.chat(ctx, msgs, chatOpts, opts.AttemptTimeout)
		attemptDur := time.Since(attemptStart)
		if callErr != nil {
			res.Duration = time.Since(start)
			log.Warn("backend call failed", zap.String("code", string(callErr.Code)), zap.Error(callErr))
			return res, callErr
		}
		res.Content = resp.Content
		res.Usage = accumulate(res.Usage, resp.Usage)
		if e.tracker != nil && resp.Usage != nil {
			e.tracker.Record(featureID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		outcome := interpret.ParseResponse(resp.Content, strict)
		if outcome.Success {
			res.Outcome = outcome
			res.RetryAttempts = attempt
			res.Duration = time.Since(start)
			return res, nil
		}
		// Only retry-eligible failures (parse, validation) re-enter the
		// loop. A transform failure is terminal: the backend gave usable
		// output, so resending the request cannot help, and the lenient
		// fallback would just feed the same transform again.
		if outcome.Err != nil && !outcome.Err.Retryable {
			res.Outcome = outcome
			res.RetryAttempts = attempt
			res.Duration = time.Since(start)
			log.Warn("terminal interpretation failure",
				zap.String("code", string(outcome.Err.Code)), zap.Error(outcome.Err))
			return res, outcome.Err
		}
		lastOutcome = outcome

		if attempt < maxAttempts-1 {
			res.RetryAttempts = attempt + 1
			msg := ""
			if outcome.Err != nil {
				msg = outcome.Err.Message
			}
			log.Info("retrying after parse failure",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxAttempts),
				zap.String("error", msg))
			if opts.OnRetry != nil {
				opts.OnRetry(RetryEvent{
					Attempt:         attempt + 1,
					MaxAttempts:     maxAttempts,
					ErrorMessage:    msg,
					AttemptDuration: attemptDur,
				})
			}
		}
	}

	// Retry budget exhausted: one lenient pass with partial recovery over
	// the final response.
	fallback := opts.Parse
	fallback.JSON.Lenient = true
	fallback.RecoverPartial = true
	fallback.Logger = log
	outcome := interpret.ParseResponse(res.Content, fallback)
	res.RetryAttempts = maxRetries
	res.Duration = time.Since(start)
	if outcome.Success {
		log.Info("lenient fallback recovered a usable result")
		res.Outcome = outcome
		return res, nil
	}
	res.Outcome = lastOutcome
	perr := types.NewError(types.ErrParse, "response unparseable after retries and lenient fallback").WithRaw(res.Content)
	if outcome.Err != nil {
		perr = perr.WithCause(outcome.Err)
	}
	log.Warn("feature call failed", zap.Int("retry_attempts", res.RetryAttempts), zap.Error(perr))
	return res, perr
}

func (e *Executor) chat(ctx context.Context, msgs []Message, opts ChatOptions, timeout time.Duration) (*ChatResponse, *types.Error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := e.client.Chat(attemptCtx, msgs, opts)
	if err != nil {
		return nil, ClassifyTransport(err, ctx, attemptCtx)
	}
	if resp == nil {
		resp = &ChatResponse{}
	}
	return resp, nil
}

func applyDefaults(opts *CallOptions, d CallDefaults) {
	if opts.MaxRetries == nil {
		opts.MaxRetries = Int(d.MaxRetries)
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = d.AttemptTimeout
	}
	if opts.Temperature == nil {
		opts.Temperature = Float64(d.Temperature)
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = d.MaxTokens
	}
}

func accumulate(total, delta *Usage) *Usage {
	if delta == nil {
		return total
	}
	if total == nil {
		total = &Usage{}
	}
	total.PromptTokens += delta.PromptTokens
	total.CompletionTokens += delta.CompletionTokens
	total.TotalTokens += delta.TotalTokens
	return total
}
