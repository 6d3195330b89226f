package entrypoint

import (
	"io"
	"log/slog"
	"os"

	"github.com/pentops/log.go/log"
)

// NewLogger writes JSON log lines to out, dropping entries below level.
func NewLogger(level slog.Level, out io.Writer) *log.CallbackLogger {
	write := log.JSONLog(out)
	return log.NewCallbackLogger(func(entryLevel string, msg string, fields map[string]interface{}) {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(entryLevel)); err == nil && parsed < level {
			return
		}
		write(entryLevel, msg, fields)
	})
}

// OpenLogFile appends to the file at path, creating it if needed.
func OpenLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}
