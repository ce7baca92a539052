// Package cli provides the command-line interface for threadstat.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/ppiankov/threadstat/internal/config"
	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const (
	envConfigDir  = "THREADSTAT_CONFIG_DIR"
	envAppEnv     = "THREADSTAT_ENV"
	defaultCfgDir = ".threadstat"
)

var (
	configDir string
	appEnv    string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "threadstat",
	Short: "Sync Threads post insights to Google Sheets, JSON and CSV",
	Long: "threadstat fetches your Threads posts, looks up views, likes, replies, reposts, quotes and shares " +
		"for each one, and writes the results to a spreadsheet, report files and a local database.",
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loadDotenv(appEnv)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("threadstat %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultConfigDir(), "config directory (env "+envConfigDir+")")
	rootCmd.PersistentFlags().StringVar(&appEnv, "env", os.Getenv(envAppEnv), "environment name for .env.<env> files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level from config")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func defaultConfigDir() string {
	if v := os.Getenv(envConfigDir); v != "" {
		return v
	}
	return defaultCfgDir
}

// loadDotenv loads .env files from the working directory and the config dir.
// Earlier files win: godotenv never overrides a variable that is already set,
// and real environment variables beat all of them.
func loadDotenv(env string) {
	for _, dir := range []string{".", configDir} {
		var files []string
		if env != "" {
			files = append(files, ".env."+env+".local")
		}
		files = append(files, ".env.local")
		if env != "" {
			files = append(files, ".env."+env)
		}
		files = append(files, ".env")

		for _, name := range files {
			// Missing files are expected.
			_ = godotenv.Load(filepath.Join(dir, name))
		}
	}
}

// loadConfig reads config.yaml and applies logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := logging.Setup(level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
