// Package logger provides structured logging for the journal.
//
// The logger supports the usual level hierarchy (TRACE, DEBUG, INFO, WARN,
// ERROR) with atomic level checking so that disabled levels cost a single
// load on the hot write/delete/probe paths, and per-subsystem trace gating
// for targeted debugging ("write", "delete", "probe", "tagwrite") without
// drowning in output from the rest of the journal.
//
// Output is routed through zerolog so operators get structured, parseable
// log lines; the level-gated package functions are what the rest of the
// journal calls, so call sites never touch zerolog directly.
package logger

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LogLevel is the severity of a log message.
type LogLevel int32

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var zerologLevels = map[LogLevel]zerolog.Level{
	TRACE: zerolog.TraceLevel,
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
}

var (
	// currentLevel holds the minimum log level using atomic operations so
	// that level checks from many goroutines (every journal call) stay
	// lock-free.
	currentLevel atomic.Int32

	// traceSubsystems tracks which subsystems have trace logging enabled.
	traceSubsystems = make(map[string]bool)
	traceMutex      sync.RWMutex

	base zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02T15:04:05.000"}).With().Timestamp().Logger()
	currentLevel.Store(int32(INFO))
}

// SetLogLevel sets the minimum level by name; unknown names return an error.
func SetLogLevel(level string) error {
	switch strings.ToUpper(level) {
	case "TRACE":
		currentLevel.Store(int32(TRACE))
	case "DEBUG":
		currentLevel.Store(int32(DEBUG))
	case "INFO":
		currentLevel.Store(int32(INFO))
	case "WARN":
		currentLevel.Store(int32(WARN))
	case "ERROR":
		currentLevel.Store(int32(ERROR))
	default:
		return &invalidLevelError{level}
	}
	return nil
}

type invalidLevelError struct{ level string }

func (e *invalidLevelError) Error() string { return "invalid log level: " + e.level }

// GetLogLevel returns the current minimum level name.
func GetLogLevel() string {
	return levelNames[LogLevel(currentLevel.Load())]
}

// EnableTrace turns on trace output for the named subsystems.
func EnableTrace(subsystems ...string) {
	traceMutex.Lock()
	defer traceMutex.Unlock()
	for _, s := range subsystems {
		traceSubsystems[s] = true
	}
}

// DisableTrace turns off trace output for the named subsystems.
func DisableTrace(subsystems ...string) {
	traceMutex.Lock()
	defer traceMutex.Unlock()
	for _, s := range subsystems {
		delete(traceSubsystems, s)
	}
}

func isTraceEnabled(subsystem string) bool {
	traceMutex.RLock()
	defer traceMutex.RUnlock()
	return traceSubsystems[subsystem]
}

func log(level LogLevel, format string, args ...interface{}) {
	if level < LogLevel(currentLevel.Load()) {
		return
	}
	base.WithLevel(zerologLevels[level]).Msgf(format, args...)
}

// TraceIf logs a trace message only when the named subsystem has trace
// logging enabled, so hot-path instrumentation costs one map read when off.
func TraceIf(subsystem string, format string, args ...interface{}) {
	if LogLevel(currentLevel.Load()) > TRACE || !isTraceEnabled(subsystem) {
		return
	}
	base.Trace().Str("subsystem", subsystem).Msgf(format, args...)
}

func Trace(format string, args ...interface{}) { log(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { log(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { log(INFO, format, args...) }
func Warn(format string, args ...interface{})  { log(WARN, format, args...) }
func Error(format string, args ...interface{}) { log(ERROR, format, args...) }

// Fatal logs at ERROR and exits the process. Reserved for startup failures;
// the journal's own fatal-error handling (Journal.Fatal) does not call this
// because it must remain recoverable by the hosting process.
func Fatal(format string, args ...interface{}) {
	base.Error().Msgf(format, args...)
	os.Exit(1)
}

// Configure loads level and trace subsystems from the environment, mirroring
// the environment-over-default precedence the rest of the journal's
// configuration uses.
func Configure() {
	if level := os.Getenv("JOURNAL_LOG_LEVEL"); level != "" {
		SetLogLevel(level)
	}
	if trace := os.Getenv("JOURNAL_TRACE_SUBSYSTEMS"); trace != "" {
		parts := strings.Split(trace, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		EnableTrace(parts...)
	}
}
