package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/ppiankov/threadstat/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	syncSince string
	syncUntil string
	syncEvery string
)

// syncOnceAction is swapped out in tests.
var syncOnceAction = syncOnce

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch posts, look up their insights and write every configured sink",
	Long: "sync fetches posts in the given window, or since the last successful run when no window is given. " +
		"With --every it repeats on an interval until interrupted.",
	RunE: syncAction,
}

func init() {
	syncCmd.Flags().StringVar(&syncSince, "since", "", "lower date bound, e.g. 2024-06-01 (overrides SINCE_DATE)")
	syncCmd.Flags().StringVar(&syncUntil, "until", "", "upper date bound (overrides UNTIL_DATE)")
	syncCmd.Flags().StringVar(&syncEvery, "every", "", "repeat interval, e.g. 1h (runs once when empty)")
	rootCmd.AddCommand(syncCmd)
}

func syncAction(cmd *cobra.Command, args []string) error {
	every, err := parseSyncEvery(syncEvery)
	if err != nil {
		return err
	}
	if every == 0 {
		return syncOnceAction(cmd, args)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Runs in progress see the interrupt through cmd.Context.
	cmd.SetContext(ctx)

	return runWatch(ctx, every, func() error {
		if err := syncOnceAction(cmd, args); err != nil {
			// One failed run should not end the loop.
			logging.Log.WithError(err).Error("sync failed")
		}
		return nil
	})
}

func parseSyncEvery(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse --every: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("--every must be positive, got %s", value)
	}
	return d, nil
}

// runWatch runs fn immediately, then every interval until ctx is done.
func runWatch(ctx context.Context, every time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(); err != nil {
				return err
			}
		}
	}
}

func syncOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	since, until := cfg.Sync.Since, cfg.Sync.Until
	if syncSince != "" {
		since = syncSince
	}
	if syncUntil != "" {
		until = syncUntil
	}

	report, err := a.syncer.Run(ctx, pipeline.Options{Since: since, Until: until})
	if errors.Is(err, pipeline.ErrAuthMissing) {
		fmt.Print(authHelp(cfg))
		return nil
	}
	if err != nil {
		return err
	}

	printReport(report)
	if a.sheets != nil && a.sheets.Written() > 0 {
		fmt.Printf("Spreadsheet: %s\n", a.sheets.URL())
	}
	return nil
}

func printReport(r *pipeline.Report) {
	switch r.Status {
	case pipeline.StatusNoNewData:
		fmt.Println("No new data: since and until are the same day.")
	case pipeline.StatusNoPosts:
		fmt.Println("No new posts.")
	default:
		fmt.Printf("Synced %d posts (%d insight lookups failed)", r.Enriched, r.Failed)
		if r.Status == pipeline.StatusPartial {
			fmt.Printf(", fetch stopped early: %s", r.FetchError)
		}
		fmt.Println()
	}
}
