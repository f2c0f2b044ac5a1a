package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgellow/handoff/internal/envutil"
)

var (
	currentLevel  atomic.Value // slog.Level
	currentFormat atomic.Value // string
	output        io.Writer = os.Stderr
)

// LevelTrace is a custom trace level below debug
const LevelTrace = slog.Level(-8)

func init() {
	settings := envutil.Load()

	level, err := parseLevel(settings.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}

	currentLevel.Store(level)
	currentFormat.Store(strings.ToUpper(settings.LogFormat))
	updateHandler()
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "ERROR":
		return slog.LevelError, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "TRACE":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

func replaceAttr(timeKey string, formatTime func(time.Time) string) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			return slog.Attr{Key: timeKey, Value: slog.StringValue(formatTime(a.Value.Time()))}
		}
		if a.Key == slog.LevelKey && a.Value.Any().(slog.Level) == LevelTrace {
			return slog.Attr{Key: slog.LevelKey, Value: slog.StringValue("TRACE")}
		}
		return a
	}
}

// updateHandler recreates the handler with the current level and format
func updateHandler() {
	level := currentLevel.Load().(slog.Level)

	var handler slog.Handler
	if currentFormat.Load().(string) == "JSON" {
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: replaceAttr("timestamp", func(t time.Time) string {
				return t.UTC().Format(time.RFC3339Nano)
			}),
		})
	} else {
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: replaceAttr(slog.TimeKey, func(t time.Time) string {
				return t.Format("2006-01-02 15:04:05.000-07:00")
			}),
		})
	}

	slog.SetDefault(slog.New(handler))
}

// SetLogLevel atomically updates the log level at runtime
func SetLogLevel(level string) error {
	newLevel, err := parseLevel(level)
	if err != nil {
		return err
	}

	currentLevel.Store(newLevel)
	updateHandler()

	LogInfoWithFields("logging", "Log level changed", map[string]any{
		"new_level": level,
	})

	return nil
}

// SetOutput redirects all log output. Tests use it to capture records.
func SetOutput(w io.Writer) {
	output = w
	updateHandler()
}

// GetLogLevel returns the current log level as a string
func GetLogLevel() string {
	switch currentLevel.Load().(slog.Level) {
	case slog.LevelError:
		return "error"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelInfo:
		return "info"
	case slog.LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

func Logf(format string, args ...any) {
	slog.Default().Info(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	slog.Default().Info(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	slog.Default().Error(fmt.Sprintf(format, args...))
}

func LogWarn(format string, args ...any) {
	slog.Default().Warn(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...any) {
	slog.Default().Debug(fmt.Sprintf(format, args...))
}

func LogTrace(format string, args ...any) {
	if currentLevel.Load().(slog.Level) <= LevelTrace {
		slog.Default().Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
	}
}

func buildArgs(component string, fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func LogInfoWithFields(component, message string, fields map[string]any) {
	slog.Default().Info(message, buildArgs(component, fields)...)
}

func LogDebugWithFields(component, message string, fields map[string]any) {
	slog.Default().Debug(message, buildArgs(component, fields)...)
}

func LogErrorWithFields(component, message string, fields map[string]any) {
	slog.Default().Error(message, buildArgs(component, fields)...)
}

func LogWarnWithFields(component, message string, fields map[string]any) {
	slog.Default().Warn(message, buildArgs(component, fields)...)
}

func LogTraceWithFields(component, message string, fields map[string]any) {
	if currentLevel.Load().(slog.Level) <= LevelTrace {
		slog.Default().Log(context.Background(), LevelTrace, message, buildArgs(component, fields)...)
	}
}
