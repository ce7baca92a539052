package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/threadstat/internal/config"
	"github.com/ppiankov/threadstat/internal/store"
	"github.com/ppiankov/threadstat/internal/token"
	"github.com/ppiankov/threadstat/internal/watermark"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and dependencies",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s (run 'threadstat init')", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := loadConfig()
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (watermark: %s, sinks: %s)", cfg.Watermark.Source, enabledSinks(cfg))

	// Token
	value, err := tokenProvider(cfg).Token(ctx)
	switch {
	case errors.Is(err, token.ErrNotFound):
		printCheck(false, "access token: set %s or run 'threadstat token set'", cfg.Threads.TokenEnv)
		ok = false
	case err != nil:
		printCheck(false, "access token: %v", err)
		ok = false
	default:
		printCheck(true, "access token %s", token.Mask(value))
	}

	// Database
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		printCheck(true, "database %s", cfg.Storage.Path)
		checkLastRun(ctx, db)
	}

	// Redis
	if cfg.Watermark.Source == "redis" {
		rc := cfg.Watermark.Redis
		rs, err := watermark.DialRedis(ctx, rc.Addr, rc.Password, rc.DB, rc.Key)
		if err != nil {
			printCheck(false, "redis: %v", err)
			ok = false
		} else {
			_ = rs.Close()
			printCheck(true, "redis %s", rc.Addr)
		}
	}

	// Sheets
	if cfg.Sinks.Sheets.Enabled() {
		if _, err := newSheetsAPI(ctx, cfg.Sinks.Sheets.CredentialsFile); err != nil {
			printCheck(false, "google sheets credentials: %v", err)
			ok = false
		} else {
			printCheck(true, "google sheets credentials")
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func checkLastRun(ctx context.Context, db *store.Store) {
	runs, err := db.RecentRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		printInfo("no runs recorded yet")
		return
	}
	last := runs[0]
	msg := fmt.Sprintf("last run %s: %s, %d posts", last.StartedAt.Format("2006-01-02 15:04"), last.Status, last.Posts)
	if last.Error != "" {
		msg += " (" + last.Error + ")"
	}
	printInfo("%s", msg)
}

func enabledSinks(cfg *config.Config) string {
	var names []string
	if cfg.Sinks.Sheets.Enabled() {
		names = append(names, "sheets")
	}
	if cfg.Sinks.JSON.Enabled() {
		names = append(names, "json")
	}
	if cfg.Sinks.CSV.Enabled() {
		names = append(names, "csv")
	}
	if cfg.Sinks.Markdown.Enabled() {
		names = append(names, "markdown")
	}
	if cfg.Sinks.StoreEnabled() {
		names = append(names, "store")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
