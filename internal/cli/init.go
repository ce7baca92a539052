package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/threadstat/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig), 0o644)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	// Secrets live in .env, readable by the owner only.
	envPath := filepath.Join(configDir, ".env")
	wrote, err = writeIfNotExists(envPath, []byte(exampleEnv), 0o600)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# threadstat configuration

threads:
  base_url: https://graph.threads.net/v1.0
  token_env: THREADS_ACCESS_TOKEN
  token_file: .threadstat/token.json
  timeout: 30s
  page_delay: 500ms
  insight_delay: 500ms

sync:
  # Leave both empty to resume from the last successful run.
  since: ""
  until: ""
  batch_size: 10

watermark:
  # store (local database), redis, or none
  source: store
  redis:
    addr: ""
    password_env: REDIS_PASSWD
    db: 0
    key: threadstat:last_run

storage:
  path: .threadstat/threadstat.db

sinks:
  sheets:
    spreadsheet_id: ""
    sheet_name: ThreadsData
    credentials_file: ""
  json:
    path: ""
    # s3_bucket: my-bucket
    # s3_region: us-east-1
  csv:
    path: ""
  markdown:
    path: ""
  store: true

privacy:
  redact:
    enabled: false
    patterns: []

server:
  addr: ":8080"
  api_key_env: THREADSTAT_API_KEY

log:
  level: info
  format: text
`

const exampleEnv = `# threadstat secrets, loaded before config.yaml is read
THREADS_ACCESS_TOKEN=
# SPREADSHEET_ID=
# SHEET_NAME=ThreadsData
# GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account.json
# REDIS_HOST=
# REDIS_PORT=6379
# REDIS_PASSWD=
# THREADSTAT_API_KEY=
`
