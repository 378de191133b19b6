package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/session"
	"github.com/statlight/statlight/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Database string
}

// StatsResult summarizes a pipeline database.
type StatsResult struct {
	Messages  int `json:"messages"`
	Ready     int `json:"ready"`
	Uploaded  int `json:"uploaded"`
	Sessions  int `json:"sessions"`
	Open      int `json:"open_sessions"`
	Reporting int `json:"reporting_messages"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize a pipeline database",
		Long: `Summarize a pipeline database: message counts by status,
session counts by lifecycle state, and reporting queue depth.

Examples:
  statlight stats --db ./statlight.db
  statlight stats --db ./statlight.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to pipeline database (required)")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, opts *StatsOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer s.Close()

	result, err := collectStats(ctx, s)
	if err != nil {
		return WrapExitError(ExitCommandError, "collect stats", err)
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "messages:  %d (%d ready, %d uploaded)\n", result.Messages, result.Ready, result.Uploaded)
	fmt.Fprintf(&b, "sessions:  %d (%d open)\n", result.Sessions, result.Open)
	fmt.Fprintf(&b, "reporting: %d", result.Reporting)
	return out.Success(b.String())
}

func collectStats(ctx context.Context, s *store.Store) (*StatsResult, error) {
	result := &StatsResult{}

	var err error
	if result.Messages, err = s.MessageCount(ctx); err != nil {
		return nil, err
	}
	if result.Reporting, err = s.ReportingMessageCount(ctx); err != nil {
		return nil, err
	}

	rows, err := s.Query(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch message.Status(status) {
		case message.StatusReady, message.StatusBatchReady:
			result.Ready += n
		case message.StatusUploaded:
			result.Uploaded += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	result.Sessions = len(sessions)
	for _, info := range sessions {
		if info.Status == session.StatusOpen {
			result.Open++
		}
	}

	return result, nil
}
