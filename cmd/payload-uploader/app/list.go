package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/payload"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached payloads waiting for delivery",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().String("format", "", "Output format (json)")
}

type pendingEntry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	SizeBytes    int       `json:"size_bytes"`
	AttemptCount int       `json:"attempt_count"`
	PayloadTypes string    `json:"payload_types,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func runList(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return runOneShot(cmd.Context(), cfg, func(ctx context.Context, coord *coordinator.Coordinator) error {
		uploads, err := coord.Pending(ctx)
		if err != nil {
			return fmt.Errorf("failed to list cached payloads: %w", err)
		}
		return printPending(cmd.OutOrStdout(), uploads, format)
	})
}

func printPending(out io.Writer, uploads []payload.PendingUpload, format string) error {
	if format == "json" {
		entries := make([]pendingEntry, 0, len(uploads))
		for _, u := range uploads {
			entries = append(entries, pendingEntry{
				ID:           u.ID,
				Type:         u.Type.String(),
				SizeBytes:    len(u.Data),
				AttemptCount: u.AttemptCount,
				PayloadTypes: u.PayloadTypes,
				CreatedAt:    u.CreatedAt.UTC(),
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(uploads) == 0 {
		_, err := fmt.Fprintln(out, "no cached payloads")
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Type", "Size", "Attempts", "Created")
	for _, u := range uploads {
		row := []string{
			u.ID,
			u.Type.String(),
			strconv.Itoa(len(u.Data)),
			strconv.Itoa(u.AttemptCount),
			u.CreatedAt.Local().Format(time.RFC3339),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
