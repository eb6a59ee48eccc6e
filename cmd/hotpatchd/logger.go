package main

import (
	"fmt"
	"log"
	"os"

	"github.com/GoCodeAlone/hotpatch/logging"
)

// stdLogger is the default Logger for the standalone binary: plain
// log.Logger output, filtered by a minimum level.
type stdLogger struct {
	level Level
	std   *log.Logger
}

type Level = logging.Level

func (l *stdLogger) logf(lvl logging.Level, tag, msg string, args ...any) {
	if lvl < l.level {
		return
	}
	std := l.std
	if std == nil {
		std = log.New(os.Stderr, "", log.LstdFlags)
	}
	line := msg
	for i := 0; i+1 < len(args); i += 2 {
		line += " "
		line += toStr(args[i])
		line += "="
		line += toStr(args[i+1])
	}
	std.Printf("[%s] %s", tag, line)
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (l *stdLogger) Info(msg string, args ...any)  { l.logf(logging.LevelInfo, "INFO", msg, args...) }
func (l *stdLogger) Error(msg string, args ...any) { l.logf(logging.LevelError, "ERROR", msg, args...) }
func (l *stdLogger) Warn(msg string, args ...any)  { l.logf(logging.LevelWarn, "WARN", msg, args...) }
func (l *stdLogger) Debug(msg string, args ...any) { l.logf(logging.LevelDebug, "DEBUG", msg, args...) }
