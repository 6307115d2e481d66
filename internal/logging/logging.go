// Package logging provides categorized structured logging for FlowScribe.
// Each subsystem gets a named child of a shared root logger; the root is
// configurable at startup and silent by default so library embedders are
// never surprised by log output.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryExtract   Category = "extract"   // JSON extraction and repair
	CategorySchema    Category = "schema"    // Schema validation and coercion
	CategoryRecovery  Category = "recovery"  // Partial recovery of truncated output
	CategoryInterpret Category = "interpret" // Response interpretation
	CategoryLLM       Category = "llm"       // Backend calls, retries, features
	CategorySched     Category = "sched"     // Ordered scheduling
	CategoryBatch     Category = "batch"     // Batch coordination
	CategoryConfig    Category = "config"    // Configuration loading
	CategoryCLI       Category = "cli"       // Command-line surface
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.Logger)
)

// SetRoot replaces the root logger. Existing category loggers are rebuilt
// lazily from the new root.
func SetRoot(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*zap.Logger)
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	l, ok := loggers[cat]
	mu.RUnlock()
	if ok {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l = root.Named(string(cat))
	loggers[cat] = l
	return l
}

// Build constructs a root logger for the given level and format and
// installs it via SetRoot. Format "console" gives human-readable output;
// anything else gives JSON. Unknown levels fall back to info.
func Build(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	SetRoot(l)
	return l, nil
}
