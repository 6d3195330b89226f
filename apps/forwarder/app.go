package forwarder

import (
	"context"
	"fmt"
	"io"

	"github.com/pentops/log.go/log"
)

// App connects the broker, forwards input lines until the input ends, then
// closes the broker.
type App struct {
	config   ForwarderConfig
	broker   Broker
	input    io.Reader
	output   io.Writer
	recorder Recorder

	stats Stats
}

func NewApp(config ForwarderConfig, broker Broker, input io.Reader, output io.Writer) (*App, error) {
	if _, err := config.settings(); err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, fmt.Errorf("forwarder requires a broker")
	}
	if input == nil {
		return nil, fmt.Errorf("forwarder requires an input")
	}

	return &App{
		config: config,
		broker: broker,
		input:  input,
		output: output,
	}, nil
}

func (app *App) SetRecorder(recorder Recorder) {
	app.recorder = recorder
}

// Stats returns the totals of the last completed Run.
func (app *App) Stats() Stats {
	return app.stats
}

func (app *App) Run(ctx context.Context) error {
	if err := app.broker.Connect(ctx); err != nil {
		return &FatalError{Op: "connect", Err: err}
	}

	defer func() {
		if err := app.broker.Close(); err != nil {
			log.WithError(ctx, err).Error("closing broker")
			return
		}
		log.Info(ctx, "closed broker connection")
	}()

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader := NewLineReader(app.input, app.config.MaxBatchSize)
	status := NewStatusWriter(app.output, app.config.StatusOutput)

	scheduler, err := NewScheduler(app.config, reader, app.broker, status)
	if err != nil {
		return err
	}
	scheduler.SetRecorder(app.recorder)

	reader.Start(readCtx)

	err = scheduler.Run(ctx)
	app.stats = scheduler.Stats()
	return err
}
