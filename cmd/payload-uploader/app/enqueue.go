package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/payload"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Cache a payload and upload it",
	Long: `Cache the content of a file (or stdin with --file -) as a payload and upload it.

Span and log payloads are sent with Content-Encoding: gzip, so their content
must already be compressed. Use --compress to gzip a raw file first.

With --wait=false the command returns once the payload is cached. It is then
delivered by the next sweep or by the running service. A payload whose upload
fails with a retriable error stays cached as well and is reported as cached.`,
	Args: cobra.NoArgs,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().String("type", "", "Payload type: spans, log or attachment (required)")
	enqueueCmd.Flags().String("id", "", "Payload identifier (defaults to a random UUID)")
	enqueueCmd.Flags().String("file", "", "File holding the payload, - for stdin (required)")
	enqueueCmd.Flags().String("payload-types", "", "Comma separated payload types forwarded to the collector")
	enqueueCmd.Flags().Bool("compress", false, "Gzip the file content before caching it")
	enqueueCmd.Flags().Bool("wait", true, "Wait until the upload finished")

	for _, name := range []string{"type", "file"} {
		if err := enqueueCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}
}

type enqueueOptions struct {
	id           string
	typ          payload.Type
	payloadTypes string
	compress     bool
	wait         bool
}

func runEnqueue(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	typeName, _ := flags.GetString("type")
	typ, err := payload.ParseType(typeName)
	if err != nil {
		return err
	}

	opts := enqueueOptions{typ: typ}
	opts.id, _ = flags.GetString("id")
	opts.payloadTypes, _ = flags.GetString("payload-types")
	opts.compress, _ = flags.GetBool("compress")
	opts.wait, _ = flags.GetBool("wait")
	if opts.id == "" {
		opts.id = uuid.NewString()
	}

	file, _ := flags.GetString("file")
	data, err := readPayload(file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return runOneShot(cmd.Context(), cfg, func(ctx context.Context, coord *coordinator.Coordinator) error {
		return enqueue(ctx, coord, data, opts, cmd.OutOrStdout())
	})
}

func readPayload(file string, stdin io.Reader) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file) // #nosec G304 -- the path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read payload file: %w", err)
	}
	return data, nil
}

// enqueue caches data and, when opts.wait is set, waits for the upload
func enqueue(ctx context.Context, coord *coordinator.Coordinator, data []byte, opts enqueueOptions, out io.Writer) error {
	if opts.compress {
		if opts.typ == payload.TypeAttachment {
			return fmt.Errorf("attachments are sent as multipart and cannot be compressed")
		}
		compressed, err := gzipBytes(data)
		if err != nil {
			return err
		}
		data = compressed
	}

	var enqueueOpts []coordinator.EnqueueOption
	if opts.payloadTypes != "" {
		enqueueOpts = append(enqueueOpts, coordinator.WithPayloadTypes(opts.payloadTypes))
	}

	delivery, err := coord.Enqueue(ctx, opts.id, opts.typ, data, enqueueOpts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue payload: %w", err)
	}

	status := "cached"
	if opts.wait {
		deferred, err := delivery.Settle(ctx)
		if err != nil {
			return fmt.Errorf("upload of %s failed: %w", delivery.Key(), err)
		}
		if deferred {
			slog.Warn("Upload failed with a retriable error, payload kept for the next sweep",
				"key", delivery.Key().String())
		} else {
			status = "delivered"
		}
	}

	_, err = fmt.Fprintf(out, "%s\t%s\t%s\n", opts.typ, opts.id, status)
	return err
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	return buf.Bytes(), nil
}
