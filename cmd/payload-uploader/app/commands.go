// Package app provides the entry point for the payload uploader application.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/telemetry-uploader/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "payload-uploader",
	DisableAutoGenTag: true,
	Short:             "Durable telemetry payload uploader",
	Long: `payload-uploader caches telemetry payloads on disk and delivers them to the
collector, retrying across restarts and when connectivity is regained.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for the uploader.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	if err != nil {
		slog.Error("Error binding config flag", "error", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			slog.Error("Error retrieving format flag", "error", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				slog.Error("Error formatting version info as JSON", "error", err)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
		} else {
			slog.Info("payload-uploader version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform,
				"release", versions.IsRelease())
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
