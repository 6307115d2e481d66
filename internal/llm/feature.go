package llm

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/schema"
)

// CallDefaults carry the per-feature tuning applied when the caller does
// not override them.
type CallDefaults struct {
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	MaxRetries     int           `yaml:"max_retries"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// Feature is one registered structured-output task: prompt templates, the
// schema its responses must satisfy, and default call settings.
type Feature struct {
	ID       string       `yaml:"id"`
	System   string       `yaml:"system"`
	User     string       `yaml:"user"`
	Schema   *schema.Node `yaml:"schema"`
	Defaults CallDefaults `yaml:"defaults"`
}

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// CompileMessages renders the feature's templates with vars. Every
// {{name}} placeholder must have a binding; an unresolved placeholder is an
// error rather than silently left in the prompt.
func (f *Feature) CompileMessages(vars map[string]string) ([]Message, error) {
	var msgs []Message
	if f.System != "" {
		s, err := substitute(f.System, vars)
		if err != nil {
			return nil, fmt.Errorf("feature %s system prompt: %w", f.ID, err)
		}
		msgs = append(msgs, Message{Role: RoleSystem, Content: s})
	}
	u, err := substitute(f.User, vars)
	if err != nil {
		return nil, fmt.Errorf("feature %s user prompt: %w", f.ID, err)
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: u})
	return msgs, nil
}

func substitute(tmpl string, vars map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholders: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
