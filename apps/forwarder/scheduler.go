package forwarder

import (
	"context"
	"fmt"
	"time"

	"github.com/pentops/log.go/log"
)

// Recorder receives counts from the scheduler. See the metrics package.
type Recorder interface {
	BatchDispatched(size int)
	MessagePublished(status string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) BatchDispatched(int)                     {}
func (nopRecorder) MessagePublished(string, time.Duration) {}

// Stats are running totals for one scheduler.
type Stats struct {
	Batches   int
	Delivered int
	Rejected  int
}

// Scheduler turns the arrival stream into bounded batches and hands each to
// the publisher. It is a single loop; batches are dispatched strictly in
// sequence and the output is flushed after every one.
type Scheduler struct {
	source    LineSource
	publisher Publisher
	status    *StatusWriter
	recorder  Recorder

	pollPeriod   time.Duration
	maxBatchSize int

	pending   []string
	inputDone bool

	sequence uint64
	stats    Stats
}

func NewScheduler(cfg ForwarderConfig, source LineSource, publisher Publisher, status *StatusWriter) (*Scheduler, error) {
	set, err := cfg.settings()
	if err != nil {
		return nil, err
	}

	if status == nil {
		status = NewStatusWriter(nil, false)
	}

	return &Scheduler{
		source:       source,
		publisher:    publisher,
		status:       status,
		recorder:     nopRecorder{},
		pollPeriod:   set.pollPeriod,
		maxBatchSize: set.maxBatchSize,
	}, nil
}

func (s *Scheduler) SetRecorder(recorder Recorder) {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	s.recorder = recorder
}

func (s *Scheduler) Stats() Stats {
	return s.stats
}

// Run loops until the input ends, ctx is done, or a fatal error occurs. End
// of input and cancellation return nil.
func (s *Scheduler) Run(ctx context.Context) error {
	chunks := s.source.Chunks()

	timer := time.NewTimer(s.pollPeriod)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			log.Info(ctx, "forwarder interrupted, stopping")
			return nil
		}

		if len(s.pending) == 0 {
			if s.inputDone {
				return s.endOfInput(ctx)
			}

			resetTimer(timer, s.pollPeriod)

			select {
			case <-ctx.Done():
				log.Info(ctx, "forwarder interrupted, stopping")
				return nil

			case <-timer.C:
				continue

			case chunk, ok := <-chunks:
				if !ok {
					return s.endOfInput(ctx)
				}
				s.pending = chunk
			}
		}

		batch := s.drain(chunks)
		if err := s.dispatch(ctx, batch); err != nil {
			return err
		}
	}
}

// drain takes up to the max batch size from the pending lines, topping them
// up with any chunks which are already waiting. Lines beyond the cap stay
// pending for the next batch.
func (s *Scheduler) drain(chunks <-chan []string) Batch {
fill:
	for len(s.pending) < s.maxBatchSize {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				s.inputDone = true
				break fill
			}
			s.pending = append(s.pending, chunk...)
		default:
			break fill
		}
	}

	n := min(len(s.pending), s.maxBatchSize)
	batch := make(Batch, 0, n)
	for _, line := range s.pending[:n] {
		batch = append(batch, s.newMessage(line))
	}
	s.pending = s.pending[n:]

	return batch
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

func (s *Scheduler) newMessage(line string) Message {
	s.sequence++
	return Message{
		Sequence: s.sequence,
		Body:     []byte(line),
	}
}

// dispatch publishes every message of the batch in order. A rejected message
// does not stop the batch; a lost connection does.
func (s *Scheduler) dispatch(ctx context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	// the batch in hand is always finished, even when the run is cancelled.
	ctx = context.WithoutCancel(ctx)
	ctx = log.WithField(ctx, "batchSize", len(batch))

	s.stats.Batches++
	s.recorder.BatchDispatched(len(batch))

	var lost error
	for _, msg := range batch {
		start := time.Now()
		res := s.publisher.Publish(ctx, msg)
		s.recorder.MessagePublished(res.Status.String(), time.Since(start))

		if err := s.status.Report(res); err != nil {
			lost = fmt.Errorf("writing status: %w", err)
			break
		}

		switch res.Status {
		case StatusDelivered:
			s.stats.Delivered++
			log.WithField(ctx, "sequence", msg.Sequence).Debug("published message")

		case StatusRejected:
			s.stats.Rejected++
			log.WithFields(ctx, map[string]interface{}{
				"sequence": msg.Sequence,
				"error":    res.Err.Error(),
			}).Error("message rejected")

		default:
			lost = res.Err
		}

		if lost != nil {
			break
		}
	}

	flushErr := s.status.Flush()

	if lost != nil {
		return &FatalError{Op: "publish", Err: lost}
	}
	if flushErr != nil {
		return &FatalError{Op: "output", Err: fmt.Errorf("flushing status: %w", flushErr)}
	}

	log.Debug(ctx, "dispatched batch")
	return nil
}

func (s *Scheduler) endOfInput(ctx context.Context) error {
	if err := s.source.Err(); err != nil {
		return &FatalError{Op: "input", Err: err}
	}

	log.WithFields(ctx, map[string]interface{}{
		"batches":   s.stats.Batches,
		"delivered": s.stats.Delivered,
		"rejected":  s.stats.Rejected,
	}).Info("end of input")
	return nil
}
