// Package logging holds the shared slog logger for the retrieval and
// reasoning pipeline. Stages tag their records through WithComponent so
// one query's log lines can be grouped across engine, retrieval,
// rerank, and agent.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	shared *slog.Logger
)

// Logger returns the process-wide logger. The first call builds it from
// the environment:
//   - ARES_LOG_LEVEL: any level slog understands (debug, info, warn,
//     error); unknown values mean info
//   - ARES_LOG_FORMAT: "text" for human-readable output, JSON otherwise
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if shared == nil {
		shared = build(os.Getenv("ARES_LOG_LEVEL"), os.Getenv("ARES_LOG_FORMAT"))
	}
	return shared
}

// SetLogger replaces the shared logger, mainly for tests.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	shared = l
}

// WithComponent returns a child logger tagged with the pipeline stage
// that emits it.
func WithComponent(stage string) *slog.Logger {
	return Logger().With("component", stage)
}

func build(levelEnv, formatEnv string) *slog.Logger {
	level := slog.LevelInfo
	if levelEnv != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(levelEnv)); err == nil {
			level = parsed
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(formatEnv, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("service", "ares")
}
