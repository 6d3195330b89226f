package entrypoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pentops/log.go/log"
	"github.com/pentops/stdin-amqp/adapters/amqp"
	"github.com/pentops/stdin-amqp/adapters/eventbridge"
	"github.com/pentops/stdin-amqp/adapters/msgconvert"
	"github.com/pentops/stdin-amqp/apps/forwarder"
	"github.com/pentops/stdin-amqp/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const AppName = "stdin-amqp"

type Config struct {
	Debug   bool `env:"DEBUG" flag:"debug" default:"false"`
	Verbose bool `env:"VERBOSE" flag:"verbose" default:"false"`

	// LogFile receives the log instead of stderr, which the feeding process
	// may discard.
	LogFile string `env:"LOG_FILE" flag:"logfile" default:""`

	ForwarderConfig   forwarder.ForwarderConfig
	FormatConfig      msgconvert.FormatConfig
	AMQPConfig        amqp.AMQPConfig
	EventBridgeConfig eventbridge.EventBridgeConfig
	MetricsConfig     metrics.MetricsConfig
}

// LogLevel is WARN unless asked for more.
func (cfg Config) LogLevel() slog.Level {
	switch {
	case cfg.Debug:
		return slog.LevelDebug
	case cfg.Verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// Stdio is the line input and the status output.
type Stdio struct {
	In  io.Reader
	Out io.Writer
}

func FromConfig(ctx context.Context, envConfig Config, awsConfig AWSProvider, stdio Stdio) (*Runtime, error) {
	converter, err := msgconvert.NewConverter(envConfig.FormatConfig, AppName)
	if err != nil {
		return nil, err
	}

	var broker forwarder.Broker

	if envConfig.EventBridgeConfig.BusARN != "" {
		// Publish to EventBridge instead of AMQP
		if awsConfig == nil {
			return nil, fmt.Errorf("EVENTBRIDGE_ARN set without AWS config")
		}
		p, err := eventbridge.NewEventBridgePublisher(awsConfig.EventBridge, envConfig.EventBridgeConfig, converter)
		if err != nil {
			return nil, fmt.Errorf("creating eventbridge publisher: %w", err)
		}
		broker = p
	} else {
		p, err := amqp.NewPublisher(envConfig.AMQPConfig, converter)
		if err != nil {
			return nil, fmt.Errorf("creating amqp publisher: %w", err)
		}
		broker = p
	}

	app, err := forwarder.NewApp(envConfig.ForwarderConfig, broker, stdio.In, stdio.Out)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder: %w", err)
	}

	runtime := NewRuntime(app)

	if envConfig.MetricsConfig.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())

		m, err := metrics.New(reg)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		app.SetRecorder(m)

		runtime.metricsServer = metrics.NewServer(envConfig.MetricsConfig.Addr, reg)
	}

	log.WithFields(ctx, map[string]interface{}{
		"contentType": converter.ContentType(),
		"pollPeriod":  envConfig.ForwarderConfig.PollPeriod,
		"maxBatch":    envConfig.ForwarderConfig.MaxBatchSize,
	}).Debug("forwarder configured")

	return runtime, nil
}
