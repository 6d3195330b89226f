package forwarder

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// testSource is a LineSource with every line already available as one chunk.
type testSource struct {
	chunks chan []string
	err    error
}

func newTestSource(lines []string, closed bool) *testSource {
	ch := make(chan []string, 1)
	if len(lines) > 0 {
		ch <- lines
	}
	if closed {
		close(ch)
	}
	return &testSource{chunks: ch}
}

func (ts *testSource) Chunks() <-chan []string {
	return ts.chunks
}

func (ts *testSource) Err() error {
	return ts.err
}

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line-%d", i+1)
	}
	return lines
}

type testPublisher struct {
	lock      sync.Mutex
	published []Message
	results   func(msg Message) PublishResult

	connectErr error
	connected  bool
	closed     bool
}

func (tp *testPublisher) Publish(ctx context.Context, msg Message) PublishResult {
	tp.lock.Lock()
	defer tp.lock.Unlock()
	tp.published = append(tp.published, msg)
	if tp.results != nil {
		return tp.results(msg)
	}
	return Delivered()
}

func (tp *testPublisher) Connect(ctx context.Context) error {
	if tp.connectErr != nil {
		return tp.connectErr
	}
	tp.connected = true
	return nil
}

func (tp *testPublisher) Close() error {
	tp.closed = true
	return nil
}

func (tp *testPublisher) bodies() []string {
	tp.lock.Lock()
	defer tp.lock.Unlock()
	out := make([]string, len(tp.published))
	for i, msg := range tp.published {
		out[i] = string(msg.Body)
	}
	return out
}

type testRecorder struct {
	batches  []int
	statuses map[string]int
}

func (tr *testRecorder) BatchDispatched(size int) {
	tr.batches = append(tr.batches, size)
}

func (tr *testRecorder) MessagePublished(status string, elapsed time.Duration) {
	if tr.statuses == nil {
		tr.statuses = map[string]int{}
	}
	tr.statuses[status]++
}

func testConfig(maxBatch int) ForwarderConfig {
	return ForwarderConfig{
		PollPeriod:   "10ms",
		MaxBatchSize: maxBatch,
	}
}
