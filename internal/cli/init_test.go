package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/relaypan/internal/config"
)

func TestInitCreatesLoadableConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "relaypan")
	useWorkspace(t, dir)

	out, err := captureStdout(t, func() error {
		return initAction(nil, nil)
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	requireContains(t, out, "Initialized "+dir+" with 2 config files.")

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Target.Username != "your_account_here" {
		t.Fatalf("username = %q", cfg.Target.Username)
	}
	if !cfg.Publish.Dir.Enabled() {
		t.Fatal("example config should enable the dir sink")
	}

	// The example pool is empty until the operator fills it in.
	if _, err := config.LoadAccounts(cfg.Resolve(cfg.Accounts.File)); err != config.ErrNoAccounts {
		t.Fatalf("LoadAccounts error = %v, want ErrNoAccounts", err)
	}

	info, err := os.Stat(filepath.Join(dir, config.DefaultAccountsFile))
	if err != nil {
		t.Fatalf("stat accounts: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("accounts file mode = %o, want 600", perm)
	}
}

func TestInitKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	useWorkspace(t, dir)
	writeTestFile(t, filepath.Join(dir, config.DefaultConfigFile), "custom: true\n")

	out, err := captureStdout(t, func() error {
		return initAction(nil, nil)
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	requireContains(t, out, "exists: ")
	requireContains(t, out, "with 1 config files.")

	data, err := os.ReadFile(filepath.Join(dir, config.DefaultConfigFile))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != "custom: true\n" {
		t.Fatalf("config overwritten: %q", data)
	}

	out, err = captureStdout(t, func() error {
		return initAction(nil, nil)
	})
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	requireContains(t, out, "already initialized")
}
