package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Options controls validation behaviour.
type Options struct {
	// ApplyDefaults injects Node.Default for absent optional fields.
	ApplyDefaults bool
	// StrictTypes turns type coercions into validation errors instead of
	// warnings. The default keeps "coerce and warn": LLMs get types almost
	// right often enough that rejection would discard usable data.
	StrictTypes bool
}

// Result is the outcome of validating one value.
type Result struct {
	Valid    bool
	Data     any
	Errors   []string
	Warnings []string
}

// Validate structurally checks value against node. The returned Data carries
// injected defaults and coerced values; every coercion is surfaced as exactly
// one warning, never silent.
func Validate(value any, node *Node, opts Options) Result {
	v := &validator{opts: opts}
	data := v.walk(value, node, "$")
	return Result{
		Valid:    len(v.errs) == 0,
		Data:     data,
		Errors:   v.errs,
		Warnings: v.warns,
	}
}

type validator struct {
	opts  Options
	errs  []string
	warns []string
}

func (v *validator) errorf(path, format string, args ...any) {
	v.errs = append(v.errs, path+": "+fmt.Sprintf(format, args...))
}

func (v *validator) walk(value any, node *Node, path string) any {
	if node == nil {
		return value
	}
	switch node.Kind {
	case KindObject:
		return v.object(value, node, path)
	case KindArray:
		return v.array(value, node, path)
	case KindString:
		return v.stringValue(value, node, path)
	case KindNumber:
		return v.number(value, node, path)
	case KindBoolean:
		return v.boolean(value, node, path)
	default:
		v.errorf(path, "unknown schema kind %q", node.Kind)
		return value
	}
}

func (v *validator) object(value any, node *Node, path string) any {
	if _, isArray := value.([]any); isArray {
		v.errorf(path, "expected object, got array")
		return value
	}
	obj, ok := value.(map[string]any)
	if !ok {
		v.errorf(path, "expected object, got %s", typeName(value))
		return value
	}

	out := make(map[string]any, len(obj))
	// Unknown properties pass through untouched.
	for key, val := range obj {
		out[key] = val
	}

	if v.opts.ApplyDefaults {
		for name, prop := range node.Properties {
			if _, present := out[name]; !present && prop != nil && prop.Default != nil {
				out[name] = prop.Default
			}
		}
	}

	for _, name := range node.Required {
		if _, present := out[name]; !present {
			v.errorf(joinPath(path, name), "required field missing")
		}
	}

	for name, prop := range node.Properties {
		val, present := out[name]
		if !present {
			continue
		}
		out[name] = v.walk(val, prop, joinPath(path, name))
	}
	return out
}

func (v *validator) array(value any, node *Node, path string) any {
	arr, ok := value.([]any)
	if !ok {
		v.errorf(path, "expected array, got %s", typeName(value))
		return value
	}
	out := make([]any, len(arr))
	for i, item := range arr {
		out[i] = v.walk(item, node.Items, fmt.Sprintf("%s[%d]", path, i))
	}
	return out
}

func (v *validator) stringValue(value any, node *Node, path string) any {
	s, ok := value.(string)
	if !ok {
		// Number-to-string is the coercible near-miss.
		if n, isNum := value.(float64); isNum {
			coerced := strconv.FormatFloat(n, 'f', -1, 64)
			v.coerce(path, "number", "string")
			s, ok = coerced, true
		}
	}
	if !ok {
		v.errorf(path, "expected string, got %s", typeName(value))
		return value
	}
	if len(node.Enum) > 0 && !enumContains(node.Enum, s) {
		v.errorf(path, "value %q not in enum [%s]", s, strings.Join(node.Enum, ", "))
	}
	return s
}

func (v *validator) number(value any, node *Node, path string) any {
	if n, ok := value.(float64); ok {
		return n
	}
	// String-to-number is the coercible near-miss.
	if s, ok := value.(string); ok {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			v.coerce(path, "string", "number")
			return n
		}
	}
	v.errorf(path, "expected number, got %s", typeName(value))
	return value
}

func (v *validator) boolean(value any, node *Node, path string) any {
	if b, ok := value.(bool); ok {
		return b
	}
	v.errorf(path, "expected boolean, got %s", typeName(value))
	return value
}

// coerce records a type coercion: a warning by default, an error under
// StrictTypes.
func (v *validator) coerce(path, from, to string) {
	msg := fmt.Sprintf("%s: coerced %s to %s", path, from, to)
	if v.opts.StrictTypes {
		v.errs = append(v.errs, msg)
		return
	}
	v.warns = append(v.warns, msg)
}

func enumContains(enum []string, s string) bool {
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}

func joinPath(path, field string) string {
	return path + "." + field
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
