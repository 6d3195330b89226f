package forwarder

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// StatusWriter is the output channel back to whatever is feeding the input.
// It is buffered, and the scheduler flushes it after every dispatched batch.
type StatusWriter struct {
	out    *bufio.Writer
	report bool
}

func NewStatusWriter(w io.Writer, report bool) *StatusWriter {
	if w == nil {
		w = io.Discard
	}
	return &StatusWriter{
		out:    bufio.NewWriter(w),
		report: report,
	}
}

// Report records the outcome of one message. Nothing is written unless
// reporting is enabled.
func (sw *StatusWriter) Report(res PublishResult) error {
	if !sw.report {
		return nil
	}

	switch res.Status {
	case StatusDelivered:
		_, err := sw.out.WriteString("OK\n")
		return err
	default:
		reason := "unknown"
		if res.Err != nil {
			reason = strings.ReplaceAll(res.Err.Error(), "\n", " ")
		}
		_, err := fmt.Fprintf(sw.out, "ERROR %s\n", reason)
		return err
	}
}

func (sw *StatusWriter) Flush() error {
	return sw.out.Flush()
}
