package app

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/telemetry-uploader/internal/config"
	"github.com/stacklok/telemetry-uploader/internal/payload"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return describeConfig(cmd.OutOrStdout(), cfg)
	},
}

func describeConfig(out io.Writer, cfg *config.Config) error {
	lines := []string{"Valid configuration"}
	for _, typ := range []payload.Type{payload.TypeSpans, payload.TypeLog, payload.TypeAttachment} {
		lines = append(lines, fmt.Sprintf("  %s endpoint: %s", typ, cfg.Endpoints.Endpoint(typ)))
	}
	lines = append(lines,
		fmt.Sprintf("  Cache: %s", cfg.Cache.Path),
		fmt.Sprintf("  Retention: %s", describeDuration(cfg.Cache.GetMaxAge())),
		fmt.Sprintf("  Quick retries: %d", cfg.Redundancy.GetAutomaticRetryCount()),
		fmt.Sprintf("  Attempts per payload: %d", cfg.Redundancy.GetMaximumAmountOfRetries()),
		fmt.Sprintf("  Sweep concurrency: %d", cfg.GetConcurrency()),
	)
	if cfg.Redundancy.GetRetryOnInternetConnected() {
		lines = append(lines, fmt.Sprintf("  Reachability: %s every %s",
			cfg.GetReachabilityAddress(), cfg.Reachability.GetInterval()))
	} else {
		lines = append(lines, "  Reachability: disabled")
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func describeDuration(d time.Duration) string {
	if d == 0 {
		return "unlimited"
	}
	return d.String()
}
