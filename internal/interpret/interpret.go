// Package interpret turns raw LLM output into a classified ParseOutcome,
// orchestrating extraction, schema validation, partial recovery and an
// optional caller transform.
package interpret

import (
	"errors"

	"go.uber.org/zap"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/extract"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/recovery"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/schema"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/types"
)

// ParseStatus classifies how much the returned data can be trusted.
type ParseStatus string

const (
	// StatusValid means a clean parse with no repairs, coercions or recovery.
	StatusValid ParseStatus = "VALID"
	// StatusMalformed means usable data was produced, but repair, coercion
	// or recovery supplied part of it.
	StatusMalformed ParseStatus = "MALFORMED"
	// StatusInvalid means nothing usable was produced.
	StatusInvalid ParseStatus = "INVALID"
)

// RecoveryInfo summarizes a partial-recovery run for diagnostics.
type RecoveryInfo struct {
	Strategy  recovery.StrategyName `json:"strategy,omitempty"`
	Recovered int                   `json:"recovered"`
	Skipped   int                   `json:"skipped"`
	Attempts  []recovery.Attempt    `json:"attempts"`
}

// Metadata describes how the outcome was produced.
type Metadata struct {
	ExtractionMethod extract.Method `json:"extractionMethod,omitempty"`
	Validated        bool           `json:"validated"`
	Warnings         []string       `json:"warnings,omitempty"`
	ParseStatus      ParseStatus    `json:"parseStatus"`
	Recovery         *RecoveryInfo  `json:"recovery,omitempty"`
}

// ParseOutcome is the result of interpreting one raw backend response. Raw
// retains the input purely as a diagnostic field.
type ParseOutcome struct {
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Err      *types.Error `json:"error,omitempty"`
	Raw      string       `json:"raw,omitempty"`
	Metadata Metadata     `json:"metadata"`
}

// Options configures one ParseResponse call.
type Options struct {
	// Schema enables structural validation when non-nil.
	Schema *schema.Node
	// JSON configures the extraction engine.
	JSON extract.Options
	// ApplyDefaults injects schema defaults for absent fields.
	ApplyDefaults bool
	// StrictTypes turns coercions into validation failures.
	StrictTypes bool
	// RecoverPartial opts in to partial recovery of array elements when
	// extraction or validation fails.
	RecoverPartial bool
	// Transform post-processes the parsed value. A transform error is
	// terminal: no recovery runs after it.
	Transform func(any) (any, error)
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// ParseResponse interprets raw text. Deterministic: identical (text, options)
// always produce an identical outcome.
func ParseResponse(text string, opts Options) *ParseOutcome {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	value, method, err := extract.JSON(text, opts.JSON)
	if err != nil {
		if errors.Is(err, extract.ErrEmptyInput) {
			return failure(text, types.NewError(types.ErrParse, "backend returned empty output").WithCause(err))
		}
		log.Debug("extraction failed", zap.Error(err))
		if opts.RecoverPartial && opts.Schema != nil {
			if out := tryRecovery(text, opts); out != nil {
				return finish(out, opts, log)
			}
		}
		return failure(text, parseError(err))
	}

	outcome := &ParseOutcome{
		Success: true,
		Data:    value,
		Raw:     text,
		Metadata: Metadata{
			ExtractionMethod: method,
			ParseStatus:      StatusValid,
		},
	}
	if method == extract.MethodLenient {
		outcome.Metadata.ParseStatus = StatusMalformed
	}

	if opts.Schema != nil {
		res := schema.Validate(value, opts.Schema, schema.Options{
			ApplyDefaults: opts.ApplyDefaults,
			StrictTypes:   opts.StrictTypes,
		})
		outcome.Metadata.Validated = true
		outcome.Metadata.Warnings = res.Warnings
		if !res.Valid {
			log.Debug("validation failed", zap.Strings("errors", res.Errors))
			if opts.RecoverPartial {
				// Recovery operates on the original raw text, not the
				// rejected decoded value.
				if out := tryRecovery(text, opts); out != nil {
					return finish(out, opts, log)
				}
			}
			return failure(text, types.NewError(types.ErrValidation, "response did not match expected structure").
				WithRaw(text).
				WithDetails(res.Errors...))
		}
		outcome.Data = res.Data
		if len(res.Warnings) > 0 {
			// Coercion supplied part of the data.
			outcome.Metadata.ParseStatus = StatusMalformed
		}
	}

	return finish(outcome, opts, log)
}

// tryRecovery runs the recovery orchestrator against the raw text. Returns
// nil when nothing usable was recovered.
func tryRecovery(text string, opts Options) *ParseOutcome {
	res := recovery.Recover(text, opts.Schema, recovery.Options{
		ApplyDefaults: opts.ApplyDefaults,
		MaxDepth:      opts.JSON.MaxDepth,
	})
	if !res.OK() {
		return nil
	}
	info := &RecoveryInfo{
		Strategy:  res.Strategy,
		Recovered: res.Recovered,
		Skipped:   res.Skipped,
		Attempts:  res.Attempts,
	}
	return &ParseOutcome{
		Success: true,
		Data:    res.Data,
		Raw:     text,
		Metadata: Metadata{
			ExtractionMethod: extract.MethodLenient,
			Validated:        true,
			Warnings:         res.Warnings,
			// Recovered data is never promoted to VALID.
			ParseStatus: StatusMalformed,
			Recovery:    info,
		},
	}
}

// finish applies the caller transform, whose failure is terminal.
func finish(outcome *ParseOutcome, opts Options, log *zap.Logger) *ParseOutcome {
	if opts.Transform == nil || !outcome.Success {
		return outcome
	}
	transformed, err := opts.Transform(outcome.Data)
	if err != nil {
		log.Debug("transform failed", zap.Error(err))
		return failure(outcome.Raw, types.NewError(types.ErrTransform, "result transform failed").
			WithCause(err).
			WithRaw(outcome.Raw))
	}
	outcome.Data = transformed
	return outcome
}

func failure(raw string, err *types.Error) *ParseOutcome {
	return &ParseOutcome{
		Success: false,
		Err:     err,
		Raw:     raw,
		Metadata: Metadata{
			ParseStatus: StatusInvalid,
		},
	}
}

func parseError(err error) *types.Error {
	e := types.NewError(types.ErrParse, "no valid JSON found in response").WithCause(err)
	var xe *extract.Error
	if errors.As(err, &xe) {
		e.Raw = types.Excerpt(xe.Excerpt)
	}
	return e
}
