package forwarder

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConnectionLost = errors.New("broker connection lost")
	ErrRejected       = errors.New("message rejected by broker")
)

// Message is a single line of input, newline stripped and never empty.
type Message struct {
	// Sequence is the 1-based arrival index of the line in the input stream.
	Sequence uint64
	Body     []byte
}

// Batch is an ordered group of messages collected in one scheduling cycle.
type Batch []Message

type Status int

const (
	StatusDelivered Status = iota
	StatusRejected
	StatusConnectionLost
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRejected:
		return "rejected"
	case StatusConnectionLost:
		return "connection_lost"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// PublishResult is the outcome of publishing one message. Err is set for
// Rejected and ConnectionLost.
type PublishResult struct {
	Status Status
	Err    error
}

func Delivered() PublishResult {
	return PublishResult{Status: StatusDelivered}
}

func Rejected(reason error) PublishResult {
	return PublishResult{
		Status: StatusRejected,
		Err:    fmt.Errorf("%w: %w", ErrRejected, reason),
	}
}

func ConnectionLost(reason error) PublishResult {
	if reason == nil {
		return PublishResult{Status: StatusConnectionLost, Err: ErrConnectionLost}
	}
	return PublishResult{
		Status: StatusConnectionLost,
		Err:    fmt.Errorf("%w: %w", ErrConnectionLost, reason),
	}
}

// Publisher performs one publish per message. Per-message failures are
// returned as data, never as a panic or process exit.
type Publisher interface {
	Publish(ctx context.Context, msg Message) PublishResult
}

// Broker is a Publisher which owns the lifecycle of its connection.
type Broker interface {
	Publisher
	Connect(ctx context.Context) error
	Close() error
}

// FatalError ends the run with a non-zero exit.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s error: %s", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
