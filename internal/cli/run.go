package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/statlight/statlight/internal/config"
	"github.com/statlight/statlight/internal/device"
	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/pipeline"
	"github.com/statlight/statlight/internal/session"
	"github.com/statlight/statlight/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the event pipeline",
		Long: `Start the statlight event pipeline from a config file.

The config supplies the database path, upload credentials, breadcrumb
limit, and dataplan tag. The pipeline opens the database (creating it if
it doesn't exist), sweeps sessions orphaned by a previous unclean exit,
and starts the single-writer command loop.

Example:
  statlight run --config ./statlight.yaml
  statlight run --config ./statlight.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// configCallbacks backs the pipeline's host callbacks with the loaded
// config: credentials come from the config file, everything else is logged.
type configCallbacks struct {
	cfg config.Config
}

func (c *configCallbacks) APIKey() (string, error) {
	if !c.cfg.HasCredentials() {
		return "", pipeline.ErrNoCredentials
	}
	return c.cfg.APIKey, nil
}

func (c *configCallbacks) DelayedStart() {}

func (c *configCallbacks) CheckForTrigger(ev *message.Event) {
	slog.Debug("event stored", "kind", string(ev.Kind), "id", ev.ID)
}

func (c *configCallbacks) EndUploadLoop() {
	slog.Debug("session ended, stopping upload loop")
}

func (c *configCallbacks) MessagesClearedForUpload() {}

func (c *configCallbacks) UploadRequested() {
	slog.Debug("immediate upload requested")
}

func (c *configCallbacks) OnAttributeChanged(change message.AttributionChange) {
	slog.Debug("user attribute changed",
		"key", change.Key,
		"mpid", change.MpID,
		"deleted", change.Deleted,
	)
}

// newProcessor assembles a processor and its session tracker from config.
func newProcessor(cfg config.Config, st *store.Store) (*pipeline.Processor, *session.Tracker) {
	tracker := session.NewTracker()
	proc := pipeline.New(st, tracker, &device.StaticProvider{}, &configCallbacks{cfg: cfg},
		pipeline.WithBreadcrumbLimit(cfg.BreadcrumbLimit),
		pipeline.WithDataplan(cfg.DataplanID, cfg.DataplanVersion),
	)
	return proc, tracker
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	slog.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	proc, _ := newProcessor(cfg, st)

	// Close out sessions left Open by a previous unclean exit before any
	// new traffic arrives.
	proc.Enqueue(pipeline.Command{
		Kind: pipeline.CommandEndOrphanSessions,
		MpID: message.TemporaryMpID,
	})

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	slog.Info("pipeline starting", "db", cfg.DBPath, "has_credentials", cfg.HasCredentials())
	fmt.Fprintln(cmd.OutOrStdout(), "Pipeline started. Press Ctrl-C to stop.")

	if err := proc.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "pipeline error", err)
	}

	slog.Info("pipeline stopped gracefully")
	return nil
}
