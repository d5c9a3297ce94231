package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/config"
	"github.com/ppiankov/relaypan/internal/privacy"
	"github.com/ppiankov/relaypan/internal/rotation"
	"github.com/ppiankov/relaypan/internal/store"
)

const redisPingTimeout = 3 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and storage",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(_ *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (@%s, batch %d, cooldown %s)",
		cfg.Target.Username, cfg.Target.BatchSize, cfg.Rotation.Cooldown.Duration)

	// Credential pool
	accounts, err := config.LoadAccounts(cfg.Resolve(cfg.Accounts.File))
	if err != nil {
		printCheck(false, "%s: %v", cfg.Accounts.File, err)
		ok = false
	} else {
		api, feed := 0, 0
		for _, a := range accounts {
			if a.Kind == config.AccountKindFeed {
				feed++
			} else {
				api++
			}
		}
		printCheck(true, "%s (%d api, %d feed)", cfg.Accounts.File, api, feed)
		for i, a := range accounts {
			if a.Kind == config.AccountKindAPI && a.BearerToken == "" {
				printCheck(false, "  [%d] %s: no bearer token", i, a.Name)
				ok = false
				continue
			}
			if a.Kind == config.AccountKindAPI {
				printInfo("  [%d] %s token %s", i, a.Name, privacy.Mask(a.BearerToken))
			}
		}
	}

	// Database
	dbPath := cfg.Resolve(cfg.Storage.Path)
	db, err := store.Open(dbPath)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		printCheck(true, "database %s", dbPath)
		checkRotationHealth(db, len(accounts))
	}

	// Sinks
	p := cfg.Publish
	if p.Sheets.Enabled() {
		auth, good := googleAuthStatus(cfg, p.Sheets.GoogleAuth)
		printCheck(good, "sheets %s (%s), %s", p.Sheets.SpreadsheetID, p.Sheets.Range, auth)
		ok = ok && good
	}
	if p.Drive.Enabled() {
		auth, good := googleAuthStatus(cfg, p.Drive.GoogleAuth)
		printCheck(good, "drive folder %s, %s", p.Drive.FolderID, auth)
		ok = ok && good
	}
	if p.Dir.Enabled() {
		dir := cfg.Resolve(p.Dir.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			printCheck(false, "publish dir %s: %v", dir, err)
			ok = false
		} else {
			printCheck(true, "publish dir %s", dir)
		}
	}
	if p.Webhook.Enabled() {
		printInfo("webhook configured")
	}

	// Run lock
	if cfg.Lock.RedisURL != "" {
		if err := pingRedis(cfg.Lock.RedisURL); err != nil {
			printCheck(false, "redis lock: %v", err)
			ok = false
		} else {
			printCheck(true, "redis lock %s", cfg.Lock.Key)
		}
	} else {
		printCheck(true, "file lock %s", cfg.Resolve(cfg.Lock.Path))
	}

	if cfg.Metrics.Pushgateway != "" {
		printInfo("metrics pushed to %s as job %s", cfg.Metrics.Pushgateway, cfg.Metrics.Job)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

// checkRotationHealth prints cooldown information. It never fails the check.
func checkRotationHealth(db *store.Store, pool int) {
	if pool == 0 {
		return
	}
	ctx := context.Background()

	state, err := db.LoadRotation(ctx)
	if err != nil {
		printInfo("rotation state unreadable: %v", err)
		return
	}
	norm := state.Normalize(pool)
	blocked := 0
	now := time.Now()
	for i := 0; i < pool; i++ {
		if b, _ := rotation.CheckBlocked(norm.Credentials[i], now); b {
			blocked++
		}
	}
	if blocked == pool {
		printInfo("all %d credentials are cooling down; the next pass will publish nothing", pool)
	} else if blocked > 0 {
		printInfo("%d of %d credentials cooling down", blocked, pool)
	}
	if len(state.Credentials) > pool {
		printInfo("%d stored positions beyond the current pool", len(state.Credentials)-pool)
	}

	if wm, ok, err := db.Watermark(ctx); err == nil {
		if ok {
			printInfo("last published post %d", wm)
		} else {
			printInfo("nothing published yet; the first pass publishes the newest original post")
		}
	}
}

func pingRedis(rawURL string) error {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
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

// googleAuthStatus describes how a Google sink authenticates. A credentials
// file must exist; a bare token works only until it expires.
func googleAuthStatus(cfg *config.Config, a config.GoogleAuth) (string, bool) {
	if a.CredentialsFile != "" {
		path := cfg.Resolve(a.CredentialsFile)
		if _, err := os.Stat(path); err != nil {
			return fmt.Sprintf("credentials %v", err), false
		}
		return "credentials " + path, true
	}
	if a.Token != "" {
		return "static token " + privacy.Mask(a.Token) + " (no refresh)", true
	}
	return "no credentials", false
}
