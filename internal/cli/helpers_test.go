package cli

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/threadstat/internal/config"
)

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}

// useConfigDir points the CLI at dir and restores every package-level flag
// when the test ends.
func useConfigDir(t *testing.T, dir string) {
	t.Helper()

	oldConfigDir, oldEnv, oldLevel := configDir, appEnv, logLevel
	oldSince, oldUntil, oldEvery := syncSince, syncUntil, syncEvery
	oldMetric, oldLimit, oldFormat := statsMetric, statsLimit, statsFormat
	oldSheets, oldInput := newSheetsAPI, tokenInput
	t.Cleanup(func() {
		configDir, appEnv, logLevel = oldConfigDir, oldEnv, oldLevel
		syncSince, syncUntil, syncEvery = oldSince, oldUntil, oldEvery
		statsMetric, statsLimit, statsFormat = oldMetric, oldLimit, oldFormat
		newSheetsAPI, tokenInput = oldSheets, oldInput
	})

	configDir = dir
	appEnv = ""
	logLevel = "error"
	syncSince, syncUntil, syncEvery = "", "", ""
	statsMetric, statsLimit, statsFormat = "views", 10, "terminal"
}

// clearEnv blanks every variable config.Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvSinceDate, config.EnvUntilDate, config.EnvSpreadsheetID, config.EnvSheetName,
		config.DefaultTokenEnv, config.DefaultRedisPassEnv, config.DefaultServerKeyEnv, config.DefaultSheetsCredEnv,
		"REDIS_HOST", "REDIS_PORT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, config.DefaultConfigFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
