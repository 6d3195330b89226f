package forwarder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

// LineSource yields lines in chunks. A chunk holds every line that was
// available from the input at the time it was handed over. The channel is
// closed at end of input; Err is only valid after that.
type LineSource interface {
	Chunks() <-chan []string
	Err() error
}

// LineReader reads lines from an io.Reader on its own goroutine. Lines which
// can be read without waiting on the input are grouped into one chunk, so
// the scheduler sees everything that is ready at once.
type LineReader struct {
	input    *shortReadTracker
	reader   *bufio.Reader
	chunks   chan []string
	maxChunk int
	err      error
}

var _ LineSource = (*LineReader)(nil)

// NewLineReader reads from r, handing over at most maxChunk lines at a time.
func NewLineReader(r io.Reader, maxChunk int) *LineReader {
	if maxChunk < 1 {
		maxChunk = 1
	}
	input := &shortReadTracker{r: r}
	return &LineReader{
		input:    input,
		reader:   bufio.NewReader(input),
		chunks:   make(chan []string, 1),
		maxChunk: maxChunk,
	}
}

// Start begins reading. Reading stops at EOF, on a read error, or when ctx
// is done.
func (lr *LineReader) Start(ctx context.Context) {
	go lr.run(ctx)
}

func (lr *LineReader) Chunks() <-chan []string {
	return lr.chunks
}

func (lr *LineReader) Err() error {
	return lr.err
}

func (lr *LineReader) run(ctx context.Context) {
	defer close(lr.chunks)

	var chunk []string
	for {
		raw, err := lr.reader.ReadString('\n')

		if line := trimLine(raw); line != "" {
			chunk = append(chunk, line)
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				lr.err = err
			}
			lr.send(ctx, chunk)
			return
		}

		if len(chunk) >= lr.maxChunk || (len(chunk) > 0 && lr.wouldWait()) {
			if !lr.send(ctx, chunk) {
				return
			}
			chunk = nil
		}
	}
}

func (lr *LineReader) send(ctx context.Context, chunk []string) bool {
	if len(chunk) == 0 {
		return true
	}
	select {
	case lr.chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// wouldWait reports whether the next line needs another read after the
// input last returned less than was asked for, i.e. it had nothing more
// ready.
func (lr *LineReader) wouldWait() bool {
	if !lr.input.short {
		return false
	}
	buffered, _ := lr.reader.Peek(lr.reader.Buffered())
	return bytes.IndexByte(buffered, '\n') < 0
}

// trimLine strips the line terminator. Blank lines become empty and are
// dropped by the caller.
func trimLine(raw string) string {
	raw = strings.TrimSuffix(raw, "\n")
	return strings.TrimSuffix(raw, "\r")
}

// shortReadTracker records whether the last read filled the buffer. Pipes
// and terminals return what they have; files and in-memory readers fill the
// buffer until the end.
type shortReadTracker struct {
	r     io.Reader
	short bool
}

func (st *shortReadTracker) Read(p []byte) (int, error) {
	n, err := st.r.Read(p)
	st.short = n < len(p)
	return n, err
}
