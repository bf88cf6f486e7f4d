package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/therassist/session-coordinator/internal/analysis"
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/session"
	"github.com/therassist/session-coordinator/internal/transport"
)

type runOptions struct {
	mode     string
	source   string
	envFile  bool
	sessionT string
	concern  string
	approach string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one session in the terminal",
		Long: "Runs a single session headless, printing the transcript, alerts and pathway guidance. " +
			"The session stops on Ctrl-C or when a file or script plays out, then the summary is printed.",
		Example: "  coordinator run --mode file --source session.wav\n" +
			"  coordinator run --mode scripted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "microphone", "capture mode: microphone, file or scripted")
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "media file, or YAML script in scripted mode")
	cmd.Flags().BoolVar(&opts.envFile, "env-file", true, "read a .env file before the environment")
	cmd.Flags().StringVar(&opts.sessionT, "session-type", "", "session type sent with analysis requests")
	cmd.Flags().StringVar(&opts.concern, "concern", "", "primary concern sent with analysis requests")
	cmd.Flags().StringVar(&opts.approach, "approach", "", "current therapeutic approach")
	return cmd
}

// parseMode accepts the short "scripted" alias for scripted-test mode
func parseMode(raw string) (domain.CaptureMode, error) {
	if raw == "scripted" {
		return domain.CaptureModeScripted, nil
	}
	mode := domain.CaptureMode(raw)
	if !mode.Valid() {
		return "", fmt.Errorf("unknown capture mode %q", raw)
	}
	return mode, nil
}

func runSession(cmd *cobra.Command, opts runOptions) error {
	mode, err := parseMode(opts.mode)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return err
	}

	// Logs go to stderr so stdout stays a readable session log
	observability.InitLogger(cfg.LogLevel, true)
	logger := observability.GetLogger()

	backend, err := transport.New(cfg)
	if err != nil {
		return err
	}

	out := newRenderer(cmd.OutOrStdout())
	ctrl := session.NewController(
		session.OptionsFromConfig(cfg),
		session.NewConfigFactory(cfg, backend),
		analysis.NewClientFromConfig(cfg),
		out,
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = ctrl.Close(ctx)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	req := session.StartRequest{
		Mode:   mode,
		Source: opts.source,
		Context: domain.SessionContext{
			SessionType:     opts.sessionT,
			PrimaryConcern:  opts.concern,
			CurrentApproach: opts.approach,
		},
	}
	if _, err := ctrl.Start(ctx, req); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	ended, err := ctrl.Ended(ctx)
	if err != nil {
		return err
	}

	select {
	case <-ended:
		logger.Info().Msg("Source played out, stopping session")
	case <-ctx.Done():
		logger.Info().Msg("Interrupted, stopping session")
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if _, err := ctrl.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}

	// A second interrupt abandons the summary
	waitCtx, cancelWait := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelWait()
	waitCtx, cancelTimeout := context.WithTimeout(waitCtx, time.Duration(cfg.AnalysisTimeout+30)*time.Second)
	defer cancelTimeout()

	summary, err := ctrl.WaitSummary(waitCtx)
	if err != nil {
		return fmt.Errorf("session summary failed: %w", err)
	}
	if summary == nil {
		fmt.Fprintln(cmd.OutOrStdout(), statusStyle.Render("No final transcript, no summary requested."))
	}
	return nil
}
