// Package logging provides categorized structured logging for the deepsearch
// service. Each subsystem logs under its own category so a single research
// session can be traced across the engine, the search provider, the scraper
// and the SSE stream. The backend is zap; before Initialize is called every
// logger is a no-op, which keeps library code and tests quiet by default.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and configuration
	CategoryServer   Category = "server"   // HTTP surface
	CategorySession  Category = "session"  // Session registry, SSE monitor
	CategoryEngine   Category = "engine"   // Graph runtime and node dispatch
	CategoryResearch Category = "research" // Research nodes
	CategorySearch   Category = "search"   // Search provider client
	CategoryScraper  Category = "scraper"  // Web fetching and extraction
	CategoryLLM      Category = "llm"      // LLM invocations and failover
	CategoryCitation Category = "citation" // Citation resolution
	CategoryStream   Category = "stream"   // SSE event stream
)

var (
	mu      sync.RWMutex
	root    *zap.SugaredLogger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize configures the zap backend. level is one of debug/info/warn/error;
// jsonFormat selects the production JSON encoder over the console encoder.
// Calling Initialize more than once replaces the backend.
func Initialize(level string, jsonFormat bool) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	if !jsonFormat {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("build zap logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger.Sugar()
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Get returns the logger for a category, or nil when logging is uninitialized.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	r := root
	mu.RUnlock()
	if r == nil {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

func logf(c Category, level zapcore.Level, format string, args ...interface{}) {
	l := Get(c)
	if l == nil {
		return
	}
	switch level {
	case zapcore.DebugLevel:
		l.Debugf(format, args...)
	case zapcore.WarnLevel:
		l.Warnf(format, args...)
	case zapcore.ErrorLevel:
		l.Errorf(format, args...)
	default:
		l.Infof(format, args...)
	}
}

// Convenience functions, one set per category. These are no-ops until
// Initialize has been called.

func Boot(format string, args ...interface{}) { logf(CategoryBoot, zapcore.InfoLevel, format, args...) }
func BootError(format string, args ...interface{}) {
	logf(CategoryBoot, zapcore.ErrorLevel, format, args...)
}

func Server(format string, args ...interface{}) {
	logf(CategoryServer, zapcore.InfoLevel, format, args...)
}
func ServerWarn(format string, args ...interface{}) {
	logf(CategoryServer, zapcore.WarnLevel, format, args...)
}
func ServerError(format string, args ...interface{}) {
	logf(CategoryServer, zapcore.ErrorLevel, format, args...)
}

func Session(format string, args ...interface{}) {
	logf(CategorySession, zapcore.InfoLevel, format, args...)
}
func SessionDebug(format string, args ...interface{}) {
	logf(CategorySession, zapcore.DebugLevel, format, args...)
}
func SessionWarn(format string, args ...interface{}) {
	logf(CategorySession, zapcore.WarnLevel, format, args...)
}

func Engine(format string, args ...interface{}) {
	logf(CategoryEngine, zapcore.InfoLevel, format, args...)
}
func EngineDebug(format string, args ...interface{}) {
	logf(CategoryEngine, zapcore.DebugLevel, format, args...)
}
func EngineError(format string, args ...interface{}) {
	logf(CategoryEngine, zapcore.ErrorLevel, format, args...)
}

func Research(format string, args ...interface{}) {
	logf(CategoryResearch, zapcore.InfoLevel, format, args...)
}
func ResearchDebug(format string, args ...interface{}) {
	logf(CategoryResearch, zapcore.DebugLevel, format, args...)
}
func ResearchWarn(format string, args ...interface{}) {
	logf(CategoryResearch, zapcore.WarnLevel, format, args...)
}

func Search(format string, args ...interface{}) {
	logf(CategorySearch, zapcore.InfoLevel, format, args...)
}
func SearchWarn(format string, args ...interface{}) {
	logf(CategorySearch, zapcore.WarnLevel, format, args...)
}
func SearchError(format string, args ...interface{}) {
	logf(CategorySearch, zapcore.ErrorLevel, format, args...)
}

func Scraper(format string, args ...interface{}) {
	logf(CategoryScraper, zapcore.InfoLevel, format, args...)
}
func ScraperDebug(format string, args ...interface{}) {
	logf(CategoryScraper, zapcore.DebugLevel, format, args...)
}
func ScraperWarn(format string, args ...interface{}) {
	logf(CategoryScraper, zapcore.WarnLevel, format, args...)
}

func LLM(format string, args ...interface{}) { logf(CategoryLLM, zapcore.InfoLevel, format, args...) }
func LLMWarn(format string, args ...interface{}) {
	logf(CategoryLLM, zapcore.WarnLevel, format, args...)
}
func LLMError(format string, args ...interface{}) {
	logf(CategoryLLM, zapcore.ErrorLevel, format, args...)
}

func Citation(format string, args ...interface{}) {
	logf(CategoryCitation, zapcore.InfoLevel, format, args...)
}
func CitationDebug(format string, args ...interface{}) {
	logf(CategoryCitation, zapcore.DebugLevel, format, args...)
}

func Stream(format string, args ...interface{}) {
	logf(CategoryStream, zapcore.InfoLevel, format, args...)
}
func StreamWarn(format string, args ...interface{}) {
	logf(CategoryStream, zapcore.WarnLevel, format, args...)
}
