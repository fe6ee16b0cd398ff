// Package log provides shared logging helpers for rackcfg.
// Tags are colorized when the target stream is a TTY. Messages go through a
// zap console core so callers can attach structured fields.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// ANSI escape codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	red    = "\033[31m"
	grey   = "\033[90m"
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	outTTY bool
	errTTY bool
	logger *zap.Logger
)

func init() {
	SetOutput(os.Stdout, os.Stderr)
}

// SetOutput redirects informational output to out and errors to errOut.
// Colors are only used for streams that are terminals.
func SetOutput(out, errOut io.Writer) {
	outTTY = isTerminal(out)
	errTTY = isTerminal(errOut)

	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
	})
	low := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return level.Enabled(l) && l < zapcore.ErrorLevel
	})
	high := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel
	})
	logger = zap.New(zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.AddSync(out), low),
		zapcore.NewCore(enc, zapcore.AddSync(errOut), high),
	))
}

// SetVerbose enables Debug output.
func SetVerbose(v bool) {
	if v {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorize wraps tag in an ANSI color sequence only when tty is set.
func colorize(tty bool, color, tag string) string {
	if tty {
		return color + bold + tag + reset
	}
	return tag
}

func Info(msg string, fields ...zap.Field) {
	logger.Info(colorize(outTTY, cyan, "[+]")+" "+msg, fields...)
}

func Ok(msg string, fields ...zap.Field) {
	logger.Info(colorize(outTTY, green, "[✓]")+" "+msg, fields...)
}

func Skip(msg string, fields ...zap.Field) {
	logger.Info(colorize(outTTY, yellow, "[=]")+" "+msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	logger.Debug(colorize(outTTY, grey, "[.]")+" "+msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger.Error(colorize(errTTY, red, "[!]")+" "+msg, fields...)
}
