// Package util provides shared logging and statistics helpers.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are currently shown.
func DebugEnabled() bool {
	return pterm.DefaultLogger.CanPrint(pterm.LogLevelDebug)
}

// Logger attaches fixed key/value pairs to every line, e.g. the sender
// identity of a peer.
type Logger struct {
	kv []any
}

// With returns a Logger carrying the given key/value pairs.
func With(kv ...any) Logger {
	return Logger{kv: kv}
}

func (l Logger) args(kv []any) []pterm.LoggerArgument {
	all := make([]any, 0, len(l.kv)+len(kv))
	all = append(all, l.kv...)
	all = append(all, kv...)
	return pterm.DefaultLogger.Args(all...)
}

func (l Logger) Debug(msg string, kv ...any) {
	pterm.DefaultLogger.Debug(msg, l.args(kv))
}

func (l Logger) Info(msg string, kv ...any) {
	pterm.DefaultLogger.Info(msg, l.args(kv))
}

func (l Logger) Warn(msg string, kv ...any) {
	pterm.DefaultLogger.Warn(msg, l.args(kv))
}

func (l Logger) Error(msg string, kv ...any) {
	pterm.DefaultLogger.Error(msg, l.args(kv))
}
