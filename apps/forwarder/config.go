package forwarder

import (
	"fmt"
	"time"
)

type ForwarderConfig struct {
	// PollPeriod is the longest the scheduler waits for input before ticking
	// again.
	PollPeriod string `env:"POLL_PERIOD" flag:"poll-period" default:"750ms"`

	// MaxBatchSize caps the number of lines dispatched in one cycle.
	MaxBatchSize int `env:"MAX_BATCH_SIZE" flag:"max-batch" default:"1024"`

	// StatusOutput writes one OK / ERROR line per message to the output.
	StatusOutput bool `env:"STATUS_OUTPUT" flag:"status-output" default:"false"`
}

type settings struct {
	pollPeriod   time.Duration
	maxBatchSize int
	statusOutput bool
}

func (cfg ForwarderConfig) settings() (settings, error) {
	period, err := time.ParseDuration(cfg.PollPeriod)
	if err != nil {
		return settings{}, fmt.Errorf("parsing POLL_PERIOD %q: %w", cfg.PollPeriod, err)
	}
	if period <= 0 {
		return settings{}, fmt.Errorf("POLL_PERIOD must be positive, got %s", period)
	}

	if cfg.MaxBatchSize < 1 {
		return settings{}, fmt.Errorf("MAX_BATCH_SIZE must be at least 1, got %d", cfg.MaxBatchSize)
	}

	return settings{
		pollPeriod:   period,
		maxBatchSize: cfg.MaxBatchSize,
		statusOutput: cfg.StatusOutput,
	}, nil
}
