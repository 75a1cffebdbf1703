package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/status"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Retry every cached payload once",
	Long: `Purge cached payloads older than the retention window and replay the rest,
then print what happened to them.

With --status the last recorded sweep is printed instead.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().Bool("status", false, "Print the last recorded sweep without sweeping")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	onlyStatus, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return runOneShot(cmd.Context(), cfg, func(ctx context.Context, coord *coordinator.Coordinator) error {
		if onlyStatus {
			return printLastSweep(ctx, coord, cmd.OutOrStdout())
		}
		return sweep(ctx, coord, cmd.OutOrStdout())
	})
}

func sweep(ctx context.Context, coord *coordinator.Coordinator, out io.Writer) error {
	report, err := coord.RetryCachedData(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	if report == nil {
		return fmt.Errorf("a sweep is already running")
	}
	return renderOutcomes(out, report.Duration, []outcome{
		{"purged", report.Purged},
		{"scheduled", report.Scheduled},
		{"skipped", report.Skipped},
		{"delivered", report.Delivered},
		{"deferred", report.Deferred},
		{"dropped", report.Dropped},
	})
}

func printLastSweep(ctx context.Context, coord *coordinator.Coordinator, out io.Writer) error {
	last, err := coord.SweepStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sweep status: %w", err)
	}
	if last == nil || last.Phase == "" {
		_, err := fmt.Fprintln(out, "no sweep recorded")
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	rows := [][]string{
		{"phase", string(last.Phase)},
		{"sweeps", strconv.Itoa(last.SweepCount)},
		{"last attempt", formatTime(last.LastAttempt)},
		{"last success", formatTime(last.LastSuccess)},
	}
	if last.Message != "" {
		rows = append(rows, []string{"message", last.Message})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	return renderOutcomes(out, last.Duration, outcomesOf(last))
}

type outcome struct {
	name  string
	count int
}

func outcomesOf(s *status.SweepStatus) []outcome {
	return []outcome{
		{"purged", s.Purged},
		{"scheduled", s.Scheduled},
		{"skipped", s.Skipped},
		{"delivered", s.Delivered},
		{"deferred", s.Deferred},
		{"dropped", s.Dropped},
	}
}

func renderOutcomes(out io.Writer, duration time.Duration, outcomes []outcome) error {
	table := tablewriter.NewWriter(out)
	table.Header("Outcome", "Payloads")
	for _, o := range outcomes {
		if err := table.Append([]string{o.name, strconv.Itoa(o.count)}); err != nil {
			return err
		}
	}
	table.Footer("took", duration.Round(time.Millisecond).String())
	return table.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
