package entrypoint

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pentops/log.go/log"
	"github.com/pentops/stdin-amqp/apps/forwarder"
	"github.com/pentops/stdin-amqp/metrics"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	app           *forwarder.App
	metricsServer *metrics.Server
}

func NewRuntime(app *forwarder.App) *Runtime {
	return &Runtime{
		app: app,
	}
}

// Run forwards until the input ends. The metrics server, if any, only lives
// as long as the forwarder.
func (rt *Runtime) Run(ctx context.Context) error {
	log.Debug(ctx, "Forwarder Running")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runGroup, ctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	runGroup.Go(func() error {
		defer stopServer()
		return rt.app.Run(ctx)
	})

	if rt.metricsServer != nil {
		runGroup.Go(func() error {
			return rt.metricsServer.Run(serverCtx)
		})
	}

	if err := runGroup.Wait(); err != nil {
		log.WithError(ctx, err).Error("Error in forwarder")
		return err
	}

	log.Info(ctx, "Forwarder Stopped with no error")
	return nil
}
