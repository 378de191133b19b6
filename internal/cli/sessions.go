package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/statlight/statlight/internal/session"
	"github.com/statlight/statlight/internal/store"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Database string
	OpenOnly bool
}

// SessionRow is one session in the listing.
type SessionRow struct {
	ID             string `json:"session_id"`
	MpID           int64  `json:"mpid"`
	Start          string `json:"start"`
	End            string `json:"end"`
	ForegroundTime int64  `json:"foreground_ms"`
	Status         string `json:"status"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions in a pipeline database",
		Long: `List session rows with lifecycle state and timing.

Open sessions in an old database usually mean the process died uncleanly;
the SDK's orphan sweep closes them on next startup.

Examples:
  statlight sessions --db ./statlight.db
  statlight sessions --db ./statlight.db --open`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to pipeline database (required)")
	cmd.Flags().BoolVar(&opts.OpenOnly, "open", false, "only show open sessions")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runSessions(ctx context.Context, cmd *cobra.Command, opts *SessionsOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer s.Close()

	infos, err := s.Sessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "list sessions", err)
	}

	var rows []SessionRow
	for _, info := range infos {
		if opts.OpenOnly && info.Status != session.StatusOpen {
			continue
		}
		rows = append(rows, SessionRow{
			ID:             info.ID,
			MpID:           info.MpID,
			Start:          formatMillis(info.StartTime),
			End:            formatMillis(info.EndTime),
			ForegroundTime: info.ForegroundTime,
			Status:         statusName(info.Status),
		})
	}

	if opts.Format == "json" {
		return out.Success(rows)
	}

	if len(rows) == 0 {
		return out.Success("no sessions")
	}

	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  mpid=%d  %s  %s .. %s  fg=%dms",
			row.ID, row.MpID, row.Status, row.Start, row.End, row.ForegroundTime)
	}
	return out.Success(b.String())
}

func statusName(s session.Status) string {
	switch s {
	case session.StatusOpen:
		return "open"
	case session.StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
