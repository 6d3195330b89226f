package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/pentops/log.go/log"
	"github.com/pentops/runner/cliconf"
	"github.com/pentops/stdin-amqp/entrypoint"
)

var Version string = "dev"

func main() {
	ctx := context.Background()
	ctx = log.WithFields(ctx, map[string]interface{}{
		"application": entrypoint.AppName,
		"version":     Version,
		"pid":         os.Getpid(),
	})

	cfg := &entrypoint.Config{}

	args := os.Args[1:]
	configValue := reflect.ValueOf(cfg)
	parseError := cliconf.ParseCombined(configValue, args)
	if parseError != nil {
		log.WithError(ctx, parseError).Error("Config Failure")
		os.Exit(1)
	}

	logOut := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		f, err := entrypoint.OpenLogFile(cfg.LogFile)
		if err != nil {
			log.WithError(ctx, err).Error("Opening log file")
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	log.DefaultLogger = entrypoint.NewLogger(cfg.LogLevel(), logOut)

	if err := run(ctx, *cfg); err != nil {
		log.WithError(ctx, err).Error("Forwarder failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, envConfig entrypoint.Config) error {
	runtime, err := entrypoint.FromConfig(ctx, envConfig, entrypoint.NewDefaultAWSConfigBuilder(), entrypoint.Stdio{
		In:  os.Stdin,
		Out: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("from config: %w", err)
	}

	return runtime.Run(ctx)
}
