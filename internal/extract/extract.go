// Package extract locates and repairs a JSON span inside arbitrary LLM output.
//
// Model backends wrap JSON in prose, markdown fences, or cut it off
// mid-stream. The engine tries progressively more tolerant strategies and
// reports which one produced the result. Extraction is all-or-nothing: it
// never returns guessed or partial values; callers wanting partial data go
// through the recovery package.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Method records which extraction strategy produced the value.
type Method string

const (
	// MethodDirect means the text (or a located balanced span of it) parsed
	// as-is.
	MethodDirect Method = "direct"
	// MethodCodeBlock means the value came from a fenced markdown block.
	MethodCodeBlock Method = "code-block"
	// MethodLenient means one or more textual repairs were applied first.
	MethodLenient Method = "lenient"
)

// DefaultMaxDepth bounds bracket nesting during span scanning.
const DefaultMaxDepth = 32

// Options controls extraction behaviour.
type Options struct {
	// Lenient enables textual repair of near-valid JSON before failing.
	Lenient bool
	// MaxDepth bounds nesting during the balanced-span scan. Zero means
	// DefaultMaxDepth.
	MaxDepth int
}

// ErrEmptyInput is returned when the input is empty or whitespace only.
var ErrEmptyInput = errors.New("input is empty")

// Error classifies an extraction failure and carries a bounded excerpt of the
// offending text.
type Error struct {
	Reason  string
	Excerpt string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("extraction failed (%s)", e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

const excerptLen = 160

func newError(reason, text string, cause error) *Error {
	excerpt := strings.TrimSpace(text)
	if len(excerpt) > excerptLen {
		excerpt = excerpt[:excerptLen] + "..."
	}
	return &Error{Reason: reason, Excerpt: excerpt, Cause: cause}
}

// JSON extracts a single JSON value from text. Strategies are tried in order
// and the first success wins: direct parse, fenced code block, balanced span
// scan, then (if enabled) lenient repair. The returned Method identifies the
// winning strategy.
func JSON(text string, opts Options) (any, Method, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, "", newError("empty-input", text, ErrEmptyInput)
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	// 1. Direct parse of the trimmed text.
	if v, err := decode(trimmed); err == nil {
		return v, MethodDirect, nil
	}

	// 2. Fenced code block (``` or ```json, tag case-insensitive).
	fenced, hasFence := fencedContent(text)
	if hasFence {
		if v, err := decode(fenced); err == nil {
			return v, MethodCodeBlock, nil
		}
	}

	// 3. First balanced object/array span, earliest bracket type first.
	span, spanErr := firstBalancedSpan(trimmed, maxDepth)
	if spanErr == nil {
		if v, err := decode(span); err == nil {
			return v, MethodDirect, nil
		}
	}

	if !opts.Lenient {
		return nil, "", newError("no-valid-json", trimmed, spanErr)
	}

	// 4. Lenient repair, applied to the most promising candidates in order.
	// The balanced span goes before the bracket tail: when the scan found a
	// complete span that merely failed to decode, repairing just that span
	// avoids dragging trailing prose into the repair.
	candidates := []string{trimmed}
	if hasFence {
		candidates = append(candidates, fenced)
	}
	if spanErr == nil {
		candidates = append(candidates, span)
	}
	if tail, ok := bracketTail(trimmed); ok {
		candidates = append(candidates, tail)
	}
	for _, candidate := range candidates {
		if v, ok := repairAndDecode(candidate); ok {
			return v, MethodLenient, nil
		}
	}

	return nil, "", newError("unrepairable", trimmed, spanErr)
}

func decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// fencedContent returns the body of the first markdown code fence, with an
// optional language tag after the opening backticks.
func fencedContent(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	// Skip the optional language tag up to the first newline.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || isWordTag(tag) {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		// Unterminated fence: take everything after the opening.
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

func isWordTag(tag string) bool {
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// firstBalancedSpan returns the first complete object or array in text,
// preferring whichever bracket type starts earliest. The tie-break is
// deterministic and must stay that way.
func firstBalancedSpan(text string, maxDepth int) (string, error) {
	objStart := IndexOutsideString(text, '{')
	arrStart := IndexOutsideString(text, '[')
	starts := make([]int, 0, 2)
	switch {
	case objStart < 0 && arrStart < 0:
		return "", newError("no-json-found", text, nil)
	case objStart < 0:
		starts = append(starts, arrStart)
	case arrStart < 0:
		starts = append(starts, objStart)
	case objStart < arrStart:
		starts = append(starts, objStart, arrStart)
	default:
		starts = append(starts, arrStart, objStart)
	}

	var lastErr error
	for _, start := range starts {
		end, err := balancedEnd(text, start, maxDepth)
		if err != nil {
			lastErr = err
			continue
		}
		return text[start : end+1], nil
	}
	return "", lastErr
}

// IndexOutsideString finds the first occurrence of c that is not inside a
// double-quoted string literal. The recovery package uses it to anchor on
// structural brackets without tripping over brackets in string values.
func IndexOutsideString(s string, c byte) int {
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case ch == c && !inString:
			return i
		}
	}
	return -1
}

// balancedEnd scans from an opening bracket to its matching close, aware of
// string literals and bounded by maxDepth.
func balancedEnd(s string, start int, maxDepth int) (int, error) {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
			if len(stack) > maxDepth {
				return 0, newError("depth-exceeded", s[start:], nil)
			}
		case '}', ']':
			if len(stack) == 0 {
				return 0, newError("unbalanced", s[start:], nil)
			}
			open := stack[len(stack)-1]
			if (ch == '}') != (open == '{') {
				return 0, newError("unbalanced", s[start:], nil)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, nil
			}
		}
	}
	return 0, newError("unbalanced", s[start:], nil)
}

// SpanEnd scans from an opening bracket at start and returns the index of its
// matching close. Used by the recovery package to walk element spans inside a
// truncated array. Returns false when the span never completes.
func SpanEnd(s string, start int, maxDepth int) (int, bool) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	end, err := balancedEnd(s, start, maxDepth)
	if err != nil {
		return 0, false
	}
	return end, true
}

// bracketTail returns the substring from the earliest bracket to the end of
// the text, the raw material for auto-closing a truncated payload.
func bracketTail(text string) (string, bool) {
	obj := IndexOutsideString(text, '{')
	arr := IndexOutsideString(text, '[')
	start := obj
	if start < 0 || (arr >= 0 && arr < start) {
		start = arr
	}
	if start < 0 {
		return "", false
	}
	return text[start:], true
}
