package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ppiankov/threadstat/internal/token"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the stored Threads access token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Save an access token to the token file (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  tokenSetAction,
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the masked token that sync would use",
	RunE:  tokenShowAction,
}

// tokenInput is swapped out in tests.
var tokenInput io.Reader = os.Stdin

func init() {
	tokenCmd.AddCommand(tokenSetCmd, tokenShowCmd)
	rootCmd.AddCommand(tokenCmd)
}

func tokenSetAction(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		line, err := bufio.NewReader(tokenInput).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read token: %w", err)
		}
		value = line
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("token is empty")
	}

	fs := token.NewFileStorage(cfg.Threads.TokenFile)
	if err := fs.Save(value); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Printf("Saved token %s to %s\n", token.Mask(value), fs.Path())
	return nil
}

func tokenShowAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	value, err := tokenProvider(cfg).Token(ctx)
	if errors.Is(err, token.ErrNotFound) {
		fmt.Print(authHelp(cfg))
		return nil
	}
	if err != nil {
		return err
	}

	source := cfg.Threads.TokenFile
	if cfg.Threads.Token != "" {
		source = "$" + cfg.Threads.TokenEnv
	}
	fmt.Printf("%s (from %s)\n", token.Mask(value), source)
	return nil
}
