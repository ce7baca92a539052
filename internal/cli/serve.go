package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/ppiankov/threadstat/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an HTTP server that triggers syncs on POST /sync",
	RunE:  serveAction,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	if cfg.Server.APIKey == "" {
		logging.Log.Warnf("%s is not set, /sync and /runs are unauthenticated", cfg.Server.APIKeyEnv)
	}

	gin.SetMode(gin.ReleaseMode)
	handler := server.NewHandler(a.syncer, a.store, Version, logging.Log)
	return server.ListenAndServe(ctx, addr, server.NewEngine(handler, cfg.Server.APIKey), logging.Log)
}
