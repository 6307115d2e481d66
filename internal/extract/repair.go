package extract

import (
	"regexp"
	"strings"
)

// The lenient repairs below target the four corruptions LLMs actually
// produce: trailing commas, unclosed brackets from truncation, single-quoted
// JSON, and unquoted object keys. Each repair is textual and composable; they
// are applied cumulatively in a fixed order with a parse retry after each
// step, so a single corruption is fixed by a single repair and combined
// corruptions still converge.

var bareKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_-]*)(\s*):`)

// repairAndDecode applies the repair pipeline to candidate, retrying a strict
// parse after each step. Returns the decoded value and true on success.
func repairAndDecode(candidate string) (any, bool) {
	repairs := []func(string) string{
		stripTrailingCommas,
		autoCloseBrackets,
		swapSingleQuotes,
		quoteBareKeys,
	}
	text := candidate
	for _, repair := range repairs {
		text = repair(text)
		if v, err := decode(text); err == nil {
			return v, true
		}
	}
	return nil, false
}

// stripTrailingCommas removes commas that directly precede a closing bracket,
// ignoring commas inside string literals.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			b.WriteByte(ch)
			continue
		}
		if inString {
			if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			b.WriteByte(ch)
			continue
		}
		if ch == '"' {
			inString = true
			b.WriteByte(ch)
			continue
		}
		if ch == ',' {
			// Look ahead past whitespace for a closing bracket.
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// autoCloseBrackets appends the closers still open at end of input, counted
// via string-aware bracket balance. An unterminated string literal is closed
// first. A trailing comma or colon left dangling by the truncation is dropped
// so the appended closers produce valid JSON.
func autoCloseBrackets(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 && !inString {
		return s
	}

	out := s
	if inString {
		out += `"`
	}
	trimmed := strings.TrimRight(out, " \t\n\r")
	if strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, ":") {
		out = trimmed[:len(trimmed)-1]
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}

// swapSingleQuotes converts single-quoted JSON to double-quoted, but only
// when the text contains no double quotes at all; mixed quoting is too
// ambiguous to rewrite safely.
func swapSingleQuotes(s string) string {
	if strings.ContainsRune(s, '"') {
		return s
	}
	return strings.ReplaceAll(s, "'", `"`)
}

// quoteBareKeys wraps unquoted object keys in double quotes.
func quoteBareKeys(s string) string {
	return bareKeyRe.ReplaceAllString(s, `$1"$2"$3:`)
}
