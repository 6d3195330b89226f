package amqp

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/pentops/stdin-amqp/adapters/msgconvert"
	"github.com/pentops/stdin-amqp/apps/forwarder"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type testChannel struct {
	published []published
	publishErr error

	confirming bool
	confirms   chan amqp.Confirmation
	closes     chan *amqp.Error
	nack       func(tag uint64) bool

	closed     bool
	closeCalls int
}

func (tc *testChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if tc.publishErr != nil {
		return tc.publishErr
	}
	tc.published = append(tc.published, published{exchange: exchange, key: key, msg: msg})
	if tc.confirming {
		tag := uint64(len(tc.published))
		ack := tc.nack == nil || !tc.nack(tag)
		tc.confirms <- amqp.Confirmation{DeliveryTag: tag, Ack: ack}
	}
	return nil
}

func (tc *testChannel) Confirm(noWait bool) error {
	tc.confirming = true
	return nil
}

func (tc *testChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	tc.confirms = confirm
	return confirm
}

func (tc *testChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	tc.closes = c
	return c
}

func (tc *testChannel) IsClosed() bool {
	return tc.closed
}

func (tc *testChannel) Close() error {
	tc.closeCalls++
	tc.closed = true
	return nil
}

// shutdown emulates the broker closing the channel.
func (tc *testChannel) shutdown(reason *amqp.Error) {
	tc.closed = true
	tc.closes <- reason
	close(tc.closes)
	if tc.confirms != nil {
		close(tc.confirms)
	}
}

type testConn struct {
	closed bool
}

func (tc *testConn) Close() error {
	tc.closed = true
	return nil
}

func newTestPublisher(t *testing.T, cfg AMQPConfig, ch *testChannel, conn *testConn) *Publisher {
	t.Helper()
	conv, err := msgconvert.NewConverter(msgconvert.FormatConfig{Format: "json"}, "test")
	require.NoError(t, err)

	pub, err := NewPublisher(cfg, conv)
	require.NoError(t, err)

	pub.dial = func(ctx context.Context, cfg AMQPConfig) (channel, io.Closer, error) {
		return ch, conn, nil
	}
	return pub
}

func testAMQPConfig() AMQPConfig {
	return AMQPConfig{
		Server:     "localhost",
		Port:       5672,
		VHost:      "syslog",
		User:       "syslog",
		Password:   "secret",
		Queue:      "syslog",
		Exchange:   "logs",
		RoutingKey: "app.logs",
	}
}

func msg(seq uint64, body string) forwarder.Message {
	return forwarder.Message{Sequence: seq, Body: []byte(body)}
}

func TestPublishFireAndForget(t *testing.T) {
	ch := &testChannel{}
	conn := &testConn{}
	pub := newTestPublisher(t, testAMQPConfig(), ch, conn)

	ctx := context.Background()
	require.NoError(t, pub.Connect(ctx))

	res := pub.Publish(ctx, msg(1, `{"hello":"world"}`))
	assert.Equal(t, forwarder.StatusDelivered, res.Status)
	assert.NoError(t, res.Err)

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "logs", got.exchange)
	assert.Equal(t, "app.logs", got.key)
	assert.Equal(t, "text/json", got.msg.ContentType)
	assert.Equal(t, amqp.Transient, got.msg.DeliveryMode)
	assert.Equal(t, `{"hello":"world"}`, string(got.msg.Body))

	assert.False(t, ch.confirming)

	require.NoError(t, pub.Close())
	assert.Equal(t, 1, ch.closeCalls)
	assert.True(t, conn.closed)

	// second close is a no-op
	require.NoError(t, pub.Close())
	assert.Equal(t, 1, ch.closeCalls)
}

func TestPublishConfirmNack(t *testing.T) {
	ch := &testChannel{
		nack: func(tag uint64) bool { return tag == 3 },
	}
	cfg := testAMQPConfig()
	cfg.Confirm = true
	pub := newTestPublisher(t, cfg, ch, &testConn{})

	ctx := context.Background()
	require.NoError(t, pub.Connect(ctx))
	assert.True(t, ch.confirming)

	var statuses []forwarder.Status
	for seq := uint64(1); seq <= 5; seq++ {
		res := pub.Publish(ctx, msg(seq, "line"))
		statuses = append(statuses, res.Status)
		if seq == 3 {
			assert.ErrorIs(t, res.Err, forwarder.ErrRejected)
		}
	}

	assert.Equal(t, []forwarder.Status{
		forwarder.StatusDelivered,
		forwarder.StatusDelivered,
		forwarder.StatusRejected,
		forwarder.StatusDelivered,
		forwarder.StatusDelivered,
	}, statuses)
	assert.Len(t, ch.published, 5)
}

func TestPublishAfterChannelClosed(t *testing.T) {
	ch := &testChannel{}
	pub := newTestPublisher(t, testAMQPConfig(), ch, &testConn{})

	ctx := context.Background()
	require.NoError(t, pub.Connect(ctx))

	ch.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"})

	res := pub.Publish(ctx, msg(1, "line"))
	assert.Equal(t, forwarder.StatusConnectionLost, res.Status)
	assert.ErrorIs(t, res.Err, forwarder.ErrConnectionLost)
	assert.Contains(t, res.Err.Error(), "CONNECTION_FORCED")
	assert.Empty(t, ch.published)
}

func TestPublishErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("closed", func(t *testing.T) {
		ch := &testChannel{publishErr: amqp.ErrClosed}
		pub := newTestPublisher(t, testAMQPConfig(), ch, &testConn{})
		require.NoError(t, pub.Connect(ctx))

		res := pub.Publish(ctx, msg(1, "line"))
		assert.Equal(t, forwarder.StatusConnectionLost, res.Status)
	})

	t.Run("other", func(t *testing.T) {
		ch := &testChannel{publishErr: errors.New("frame too large")}
		pub := newTestPublisher(t, testAMQPConfig(), ch, &testConn{})
		require.NoError(t, pub.Connect(ctx))

		res := pub.Publish(ctx, msg(1, "line"))
		assert.Equal(t, forwarder.StatusRejected, res.Status)
	})

	t.Run("not connected", func(t *testing.T) {
		pub := newTestPublisher(t, testAMQPConfig(), &testChannel{}, &testConn{})
		res := pub.Publish(ctx, msg(1, "line"))
		assert.Equal(t, forwarder.StatusConnectionLost, res.Status)
	})
}

func TestConnectFailure(t *testing.T) {
	pub := newTestPublisher(t, testAMQPConfig(), nil, nil)
	dialErr := errors.New("dial tcp: connection refused")
	pub.dial = func(ctx context.Context, cfg AMQPConfig) (channel, io.Closer, error) {
		return nil, nil, dialErr
	}

	err := pub.Connect(context.Background())
	require.ErrorIs(t, err, dialErr)
	assert.Contains(t, err.Error(), "localhost")
	assert.NotContains(t, err.Error(), "secret")

	// nothing to close
	assert.NoError(t, pub.Close())
}

func TestNewPublisherValidates(t *testing.T) {
	conv, err := msgconvert.NewConverter(msgconvert.FormatConfig{}, "")
	require.NoError(t, err)

	cfg := testAMQPConfig()
	cfg.Exchange = ""
	_, err = NewPublisher(cfg, conv)
	assert.Error(t, err)

	cfg = testAMQPConfig()
	cfg.ConnectTimeout = "forever"
	_, err = NewPublisher(cfg, conv)
	assert.Error(t, err)

	_, err = NewPublisher(testAMQPConfig(), nil)
	assert.Error(t, err)
}

func TestURI(t *testing.T) {
	uri := testAMQPConfig().uri()
	assert.Equal(t, "amqp", uri.Scheme)
	assert.Equal(t, "localhost", uri.Host)
	assert.Equal(t, 5672, uri.Port)
	assert.Equal(t, "syslog", uri.Vhost)

	fields := testAMQPConfig().logFields()
	for _, val := range fields {
		assert.NotEqual(t, "secret", val)
	}
}

// TestForwarderOverAMQP runs the whole forwarder against a fake channel.
func TestForwarderOverAMQP(t *testing.T) {
	ch := &testChannel{
		nack: func(tag uint64) bool { return tag == 2 },
	}
	cfg := testAMQPConfig()
	cfg.Confirm = true
	pub := newTestPublisher(t, cfg, ch, &testConn{})

	app, err := forwarder.NewApp(forwarder.ForwarderConfig{
		PollPeriod:   "10ms",
		MaxBatchSize: 1024,
	}, pub, strings.NewReader("hello\nworld\nagain\n"), nil)
	require.NoError(t, err)

	require.NoError(t, app.Run(context.Background()))

	var bodies []string
	for _, p := range ch.published {
		bodies = append(bodies, string(p.msg.Body))
	}
	assert.Equal(t, []string{"hello", "world", "again"}, bodies)
	assert.Equal(t, 2, app.Stats().Delivered)
	assert.Equal(t, 1, app.Stats().Rejected)
	assert.True(t, ch.closed)
}
