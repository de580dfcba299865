package app

import (
	"context"
	"fmt"

	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/sdr"
)

// ConfigureSource applies cfg before streaming and logs what the backend
// actually accepted. A rejected parameter surfaces as a wrapped
// *sdr.ConfigError.
func ConfigureSource(ctx context.Context, src sdr.SampleSource, cfg sdr.Config, logger logging.Logger) (sdr.Config, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if err := src.Configure(ctx, cfg); err != nil {
		return sdr.Config{}, fmt.Errorf("configure SDR: %w", err)
	}
	actual := cfg
	if tuned, ok := src.(sdr.Tuned); ok {
		actual = tuned.Actual()
	}
	logger.Info("device configured",
		logging.Field{Key: "subsystem", Value: "device"},
		logging.Field{Key: "rate_msps", Value: actual.SampleRate / 1e6},
		logging.Field{Key: "target_freq_mhz", Value: cfg.Frequency / 1e6},
		logging.Field{Key: "actual_freq_mhz", Value: actual.Frequency / 1e6},
		logging.Field{Key: "lo_offset_khz", Value: actual.LOOffset / 1e3},
		logging.Field{Key: "gain_db", Value: actual.Gain})
	return actual, nil
}
