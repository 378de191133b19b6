package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/store"
	"github.com/statlight/statlight/internal/uploader"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	Database    string
	ExcludeMpID int64
}

// BatchResult is the batch listing payload.
type BatchResult struct {
	MaxID    int64      `json:"max_id"`
	Count    int        `json:"count"`
	Messages []BatchRow `json:"messages"`
}

// BatchRow is one message in the batch listing.
type BatchRow struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	MpID      int64           `json:"mpid"`
	Payload   json.RawMessage `json:"payload"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Show the next upload batch",
		Long: `Show the messages the uploader would select next, in insertion
order, without changing their status.

Examples:
  statlight batch --db ./statlight.db
  statlight batch --db ./statlight.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to pipeline database (required)")
	cmd.Flags().Int64Var(&opts.ExcludeMpID, "exclude-mpid", message.TemporaryMpID, "mpid to exclude from selection")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runBatch(ctx context.Context, cmd *cobra.Command, opts *BatchOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer s.Close()

	batch, err := uploader.NewSelector(s).NextBatch(ctx, opts.ExcludeMpID)
	if err != nil {
		return WrapExitError(ExitCommandError, "select batch", err)
	}

	result := &BatchResult{
		MaxID:    batch.MaxID,
		Count:    len(batch.Messages),
		Messages: make([]BatchRow, 0, len(batch.Messages)),
	}
	for _, m := range batch.Messages {
		result.Messages = append(result.Messages, BatchRow{
			ID:        m.ID,
			SessionID: m.SessionID,
			MpID:      m.MpID,
			Payload:   json.RawMessage(m.Message),
		})
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	if result.Count == 0 {
		return out.Success("no messages ready for upload")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d message(s), max id %d\n", result.Count, result.MaxID)
	for _, row := range result.Messages {
		fmt.Fprintf(&b, "%6d  %s  mpid=%d  %s\n", row.ID, row.SessionID, row.MpID, row.Payload)
	}
	return out.Success(strings.TrimRight(b.String(), "\n"))
}
