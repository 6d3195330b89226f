package amqp

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPConfig struct {
	Server     string `env:"AMQP_SERVER" flag:"server" default:"amqphost"`
	Port       int    `env:"AMQP_PORT" flag:"port" default:"5672"`
	VHost      string `env:"AMQP_VHOST" flag:"vhost" default:"syslog"`
	User       string `env:"AMQP_USER" flag:"user" default:"syslog"`
	Password   string `env:"AMQP_PASSWORD" flag:"password" default:"syslog"`
	Queue      string `env:"AMQP_QUEUE" flag:"queue" default:"syslog"`
	Exchange   string `env:"AMQP_EXCHANGE" flag:"exchange" default:"syslog"`
	RoutingKey string `env:"AMQP_ROUTING_KEY" flag:"key" default:"syslog"`

	// Confirm waits for the broker to ack each message before the next.
	Confirm bool `env:"AMQP_CONFIRM" flag:"confirm" default:"false"`

	ConnectTimeout string `env:"AMQP_CONNECT_TIMEOUT" flag:"connect-timeout" default:"30s"`
}

func (cfg AMQPConfig) uri() amqp.URI {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Server,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		Vhost:    cfg.VHost,
	}
}

// logFields describe the target without the password.
func (cfg AMQPConfig) logFields() map[string]interface{} {
	return map[string]interface{}{
		"server":   fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		"vhost":    cfg.VHost,
		"queue":    cfg.Queue,
		"exchange": cfg.Exchange,
		"user":     cfg.User,
	}
}

func (cfg AMQPConfig) connectTimeout() (time.Duration, error) {
	if cfg.ConnectTimeout == "" {
		return 30 * time.Second, nil
	}
	timeout, err := time.ParseDuration(cfg.ConnectTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing AMQP_CONNECT_TIMEOUT %q: %w", cfg.ConnectTimeout, err)
	}
	return timeout, nil
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

var _ channel = (*amqp.Channel)(nil)

type dialFunc func(ctx context.Context, cfg AMQPConfig) (channel, io.Closer, error)

func dial(ctx context.Context, cfg AMQPConfig) (channel, io.Closer, error) {
	timeout, err := cfg.connectTimeout()
	if err != nil {
		return nil, nil, err
	}

	uri := cfg.uri()

	conn, err := amqp.DialConfig(uri.String(), amqp.Config{
		Vhost: cfg.VHost,
		SASL: []amqp.Authentication{&amqp.PlainAuth{
			Username: cfg.User,
			Password: cfg.Password,
		}},
		Properties: amqp.Table{
			"connection_name": "stdin-amqp",
		},
		Dial: func(network, addr string) (net.Conn, error) {
			dialer := net.Dialer{Timeout: timeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// covers the AMQP handshake, cleared by the library once open
			if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("opening channel: %w", err)
	}

	return ch, conn, nil
}
