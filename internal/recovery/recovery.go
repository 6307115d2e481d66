// Package recovery extracts independently-valid array elements from
// truncated or malformed LLM output.
//
// It runs when extraction fails outright, or extraction succeeded but
// validation failed and the caller opted in. Strategies are ordered and the
// first one producing a non-empty result wins; every attempted strategy is
// recorded for diagnostics. Recovery never fabricates data: each recovered
// element independently satisfies the item schema, and results are always
// classified malformed, never promoted to fully valid.
package recovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/extract"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/schema"
)

// StrategyName tags a recovery strategy for diagnostics.
type StrategyName string

const (
	// StrategyCompleteElements scans the raw text for syntactically complete
	// element spans and keeps those passing the item schema.
	StrategyCompleteElements StrategyName = "complete-elements"
	// StrategyLenientArray lenient-parses the whole text and filters the
	// resulting array through the item schema.
	StrategyLenientArray StrategyName = "lenient-array"
	// StrategyWrappedArray targets an object schema with a single array
	// property: recovers that property's items and re-wraps them.
	StrategyWrappedArray StrategyName = "wrapped-array"
)

// Attempt records one strategy run, successful or not.
type Attempt struct {
	Strategy  StrategyName `json:"strategy"`
	Recovered int          `json:"recovered"`
	Skipped   int          `json:"skipped"`
	Error     string       `json:"error,omitempty"`
}

// Result is a successful partial recovery.
type Result struct {
	// Data is the recovered value: an array, or a re-wrapped object for
	// StrategyWrappedArray.
	Data any
	// Strategy is the winning strategy.
	Strategy StrategyName
	// Recovered counts elements that passed the item schema.
	Recovered int
	// Skipped counts discarded elements (truncated or schema-invalid).
	Skipped int
	// Attempts lists every strategy tried, in order.
	Attempts []Attempt
	// Warnings carries coercion warnings from validating kept elements.
	Warnings []string
}

// OK reports whether recovery produced usable data.
func (r *Result) OK() bool {
	return r != nil && r.Data != nil
}

// Options controls recovery behaviour.
type Options struct {
	ApplyDefaults bool
	MaxDepth      int
}

// Recover attempts partial recovery of raw against target. Only array
// schemas, and object schemas with a single array property, are recoverable;
// anything else returns nil. For recoverable schemas the result is always
// non-nil so Attempts can be inspected; check OK for whether data was
// produced.
func Recover(raw string, target *schema.Node, opts Options) *Result {
	if target == nil {
		return nil
	}
	switch target.Kind {
	case schema.KindArray:
		return recoverArray(raw, target.Items, opts)
	case schema.KindObject:
		return recoverWrapped(raw, target, opts)
	default:
		return nil
	}
}

// recoverArray runs the two element-level strategies in order.
func recoverArray(raw string, itemSchema *schema.Node, opts Options) *Result {
	var attempts []Attempt

	items, skipped, warns, err := completeElements(raw, itemSchema, opts)
	attempts = append(attempts, attempt(StrategyCompleteElements, items, skipped, err))
	if err == nil && len(items) > 0 {
		return resultFrom(StrategyCompleteElements, items, skipped, attempts, warns)
	}

	items, skipped, warns, err = lenientArray(raw, itemSchema, opts)
	attempts = append(attempts, attempt(StrategyLenientArray, items, skipped, err))
	if err == nil && len(items) > 0 {
		return resultFrom(StrategyLenientArray, items, skipped, attempts, warns)
	}

	return &Result{Attempts: attempts}
}

// recoverWrapped handles an object schema with exactly one array-typed
// property: recover that property's elements, re-wrap, and re-validate the
// wrapper.
func recoverWrapped(raw string, target *schema.Node, opts Options) *Result {
	prop, itemSchema, ok := target.SingleArrayProperty()
	if !ok {
		return nil
	}

	inner := recoverArray(raw, itemSchema, opts)
	attempts := inner.Attempts
	if !inner.OK() {
		return &Result{Attempts: attempts}
	}

	wrapped := map[string]any{prop: inner.Data}
	res := schema.Validate(wrapped, target, schema.Options{ApplyDefaults: opts.ApplyDefaults})
	outcome := attempt(StrategyWrappedArray, nil, 0, nil)
	outcome.Recovered = inner.Recovered
	outcome.Skipped = inner.Skipped
	if !res.Valid {
		outcome.Error = strings.Join(res.Errors, "; ")
		attempts = append(attempts, outcome)
		return &Result{Attempts: attempts}
	}
	attempts = append(attempts, outcome)
	return &Result{
		Data:      res.Data,
		Strategy:  StrategyWrappedArray,
		Recovered: inner.Recovered,
		Skipped:   inner.Skipped,
		Attempts:  attempts,
		Warnings:  append(inner.Warnings, res.Warnings...),
	}
}

func attempt(name StrategyName, items []any, skipped int, err error) Attempt {
	a := Attempt{Strategy: name, Recovered: len(items), Skipped: skipped}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

func resultFrom(name StrategyName, items []any, skipped int, attempts []Attempt, warnings []string) *Result {
	return &Result{
		Data:      items,
		Strategy:  name,
		Recovered: len(items),
		Skipped:   skipped,
		Attempts:  attempts,
		Warnings:  warnings,
	}
}

// completeElements walks the first array in raw and independently parses each
// syntactically complete element span, keeping only those passing the item
// schema. A truncated final element ends the walk and counts as skipped.
func completeElements(raw string, itemSchema *schema.Node, opts Options) ([]any, int, []string, error) {
	// Anchor on the first structural '[': one inside a preceding string
	// value (a citation like "[1]", say) must not hijack the walk.
	start := extract.IndexOutsideString(raw, '[')
	if start < 0 {
		return nil, 0, nil, fmt.Errorf("no array found in text")
	}

	var kept []any
	var warnings []string
	skipped := 0
	i := start + 1
	for i < len(raw) {
		// Skip separators and whitespace between elements.
		for i < len(raw) && (raw[i] == ',' || raw[i] == ' ' || raw[i] == '\t' || raw[i] == '\n' || raw[i] == '\r') {
			i++
		}
		if i >= len(raw) || raw[i] == ']' {
			break
		}
		span, next, complete := elementSpan(raw, i, opts.MaxDepth)
		if !complete {
			skipped++
			break
		}
		var v any
		if err := json.Unmarshal([]byte(span), &v); err != nil {
			skipped++
			i = next
			continue
		}
		if itemSchema != nil {
			res := schema.Validate(v, itemSchema, schema.Options{ApplyDefaults: opts.ApplyDefaults})
			if !res.Valid {
				skipped++
				i = next
				continue
			}
			v = res.Data
			warnings = append(warnings, res.Warnings...)
		}
		kept = append(kept, v)
		i = next
	}
	return kept, skipped, warnings, nil
}

// elementSpan returns the text of one array element starting at i, the index
// just past it, and whether the element is syntactically complete.
func elementSpan(raw string, i int, maxDepth int) (string, int, bool) {
	switch raw[i] {
	case '{', '[':
		end, ok := extract.SpanEnd(raw, i, maxDepth)
		if !ok {
			return "", len(raw), false
		}
		return raw[i : end+1], end + 1, true
	case '"':
		end, ok := stringEnd(raw, i)
		if !ok {
			return "", len(raw), false
		}
		return raw[i : end+1], end + 1, true
	default:
		// Number, boolean or null literal: runs to the next delimiter.
		j := i
		for j < len(raw) && !strings.ContainsRune(",]}\n\r\t ", rune(raw[j])) {
			j++
		}
		if j == len(raw) {
			// Unterminated literal at end of input may itself be truncated.
			return "", j, false
		}
		return raw[i:j], j, true
	}
}

func stringEnd(raw string, start int) (int, bool) {
	escaped := false
	for i := start + 1; i < len(raw); i++ {
		if escaped {
			escaped = false
			continue
		}
		switch raw[i] {
		case '\\':
			escaped = true
		case '"':
			return i, true
		}
	}
	return 0, false
}

// lenientArray lenient-parses the whole text and filters the resulting array
// through the item schema. Falls back to a full JSON repair pass when the
// extraction engine's targeted repairs are not enough.
func lenientArray(raw string, itemSchema *schema.Node, opts Options) ([]any, int, []string, error) {
	value, _, err := extract.JSON(raw, extract.Options{Lenient: true, MaxDepth: opts.MaxDepth})
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, 0, nil, fmt.Errorf("lenient parse failed: %w", err)
		}
		if uerr := json.Unmarshal([]byte(repaired), &value); uerr != nil {
			return nil, 0, nil, fmt.Errorf("repaired JSON still invalid: %w", uerr)
		}
	}
	arr, ok := value.([]any)
	if !ok {
		return nil, 0, nil, fmt.Errorf("lenient parse yielded %T, not an array", value)
	}
	var kept []any
	var warnings []string
	skipped := 0
	for _, item := range arr {
		if itemSchema != nil {
			res := schema.Validate(item, itemSchema, schema.Options{ApplyDefaults: opts.ApplyDefaults})
			if !res.Valid {
				skipped++
				continue
			}
			item = res.Data
			warnings = append(warnings, res.Warnings...)
		}
		kept = append(kept, item)
	}
	return kept, skipped, warnings, nil
}
