package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pentops/log.go/log"
	"github.com/pentops/stdin-amqp/adapters/msgconvert"
	"github.com/pentops/stdin-amqp/apps/forwarder"
	amqp "github.com/rabbitmq/amqp091-go"
)

var errNotConnected = errors.New("publisher is not connected")

// Publisher owns a single AMQP connection and channel for its lifetime. It is
// not safe for concurrent use, and never reconnects.
type Publisher struct {
	config    AMQPConfig
	converter *msgconvert.Converter
	dial      dialFunc

	ch       channel
	conn     io.Closer
	confirms chan amqp.Confirmation
	closed   chan *amqp.Error
	closeErr error
}

var _ forwarder.Broker = (*Publisher)(nil)

func NewPublisher(config AMQPConfig, converter *msgconvert.Converter) (*Publisher, error) {
	if config.Server == "" {
		return nil, fmt.Errorf("missing $AMQP_SERVER")
	}
	if config.Exchange == "" {
		return nil, fmt.Errorf("missing $AMQP_EXCHANGE")
	}
	if _, err := config.connectTimeout(); err != nil {
		return nil, err
	}
	if converter == nil {
		return nil, fmt.Errorf("AMQP publisher requires a converter")
	}

	return &Publisher{
		config:    config,
		converter: converter,
		dial:      dial,
	}, nil
}

func (p *Publisher) Connect(ctx context.Context) error {
	ctx = log.WithFields(ctx, p.config.logFields())

	ch, conn, err := p.dial(ctx, p.config)
	if err != nil {
		log.WithError(ctx, err).Error("cannot connect to AMQP server")
		return fmt.Errorf("connecting to AMQP server %s vhost %s as %s: %w", p.config.Server, p.config.VHost, p.config.User, err)
	}

	p.ch = ch
	p.conn = conn
	p.closed = ch.NotifyClose(make(chan *amqp.Error, 1))

	if p.config.Confirm {
		if err := ch.Confirm(false); err != nil {
			_ = p.Close()
			return fmt.Errorf("enabling publisher confirms: %w", err)
		}
		p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	log.WithField(ctx, "confirm", p.config.Confirm).Info("connected to AMQP server")
	return nil
}

func (p *Publisher) Publish(ctx context.Context, msg forwarder.Message) forwarder.PublishResult {
	if p.ch == nil {
		return forwarder.ConnectionLost(errNotConnected)
	}

	if p.isClosed() {
		return forwarder.ConnectionLost(p.closeErr)
	}

	publishing := p.converter.AMQPPublishing(msg)

	err := p.ch.PublishWithContext(ctx,
		p.config.Exchange,   // exchange
		p.config.RoutingKey, // routing key
		false,               // mandatory
		false,               // immediate
		publishing,
	)
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) || p.isClosed() {
			return forwarder.ConnectionLost(err)
		}
		return forwarder.Rejected(err)
	}

	if p.confirms == nil {
		return forwarder.Delivered()
	}

	return p.awaitConfirm(ctx, msg)
}

// awaitConfirm blocks for the confirmation of the message just published.
// Only one message is ever in flight, so the next confirmation is its own.
func (p *Publisher) awaitConfirm(ctx context.Context, msg forwarder.Message) forwarder.PublishResult {
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.isClosed()
			return forwarder.ConnectionLost(p.closeErr)
		}
		if !confirm.Ack {
			return forwarder.Rejected(fmt.Errorf("broker nacked message %d (delivery tag %d)", msg.Sequence, confirm.DeliveryTag))
		}
		return forwarder.Delivered()

	case amqpErr, ok := <-p.closed:
		p.setCloseErr(amqpErr, ok)
		return forwarder.ConnectionLost(p.closeErr)

	case <-ctx.Done():
		// the confirm stream is out of step from here on
		return forwarder.ConnectionLost(ctx.Err())
	}
}

func (p *Publisher) isClosed() bool {
	if p.closeErr != nil {
		return true
	}
	select {
	case amqpErr, ok := <-p.closed:
		p.setCloseErr(amqpErr, ok)
		return true
	default:
	}
	return p.ch.IsClosed()
}

func (p *Publisher) setCloseErr(amqpErr *amqp.Error, ok bool) {
	if p.closeErr != nil {
		return
	}
	if ok && amqpErr != nil {
		p.closeErr = amqpErr
		return
	}
	p.closeErr = amqp.ErrClosed
}

// Close shuts the channel then the connection. It is safe to call more than
// once.
func (p *Publisher) Close() error {
	if p.ch == nil {
		return nil
	}

	var errs []error
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("closing channel: %w", err))
	}
	if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("closing connection: %w", err))
	}

	p.ch = nil
	p.conn = nil
	return errors.Join(errs...)
}
