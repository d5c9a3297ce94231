package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/config"
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

	accountsPath := filepath.Join(configDir, config.DefaultAccountsFile)
	wrote, err = writeIfNotExists(accountsPath, []byte(exampleAccounts), 0o600)
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

const exampleConfig = `# relaypan configuration

target:
  username: "your_account_here"
  batch_size: 5

accounts:
  file: accounts.yaml

rotation:
  cooldown: 16m
  call_timeout: 30s

storage:
  path: relaypan.db
  retain_days: 30

publish:
  dir:
    path: out
  # sheets:
  #   spreadsheet_id: ""
  #   range: "Sheet1!A:A"
  #   credentials_file: service-account.json
  # drive:
  #   folder_id: ""
  #   credentials_file_env: RELAYPAN_DRIVE_CREDENTIALS
  # webhook:
  #   url_env: RELAYPAN_WEBHOOK_URL
  #   token_env: RELAYPAN_WEBHOOK_TOKEN
  #   timeout: 10s
  redact:
    enabled: false
    patterns: []
    # - "(?i)\\b[\\w.+-]+@[\\w-]+\\.[\\w.]+\\b"

lock:
  path: run.lock
  ttl: 10m
  # redis_url_env: RELAYPAN_REDIS_URL

# metrics:
#   pushgateway: "http://localhost:9091"

log:
  level: info
  format: console
`

const exampleAccounts = `# Credential pool. Order is rotation order; positions start at 0.
accounts: []
# - name: primary
#   bearer_token_env: RELAYPAN_TOKEN_0
# - name: backup
#   bearer_token_env: RELAYPAN_TOKEN_1
# - name: mirror
#   kind: feed
#   feed_url: "https://nitter.example/{username}/rss"
`
