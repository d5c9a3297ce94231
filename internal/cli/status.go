package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/config"
	"github.com/ppiankov/relaypan/internal/report"
	"github.com/ppiankov/relaypan/internal/store"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential cooldowns, the rotation cursor and the watermark",
	RunE:  statusAction,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statusCmd)
}

func statusAction(cmd *cobra.Command, _ []string) error {
	formatter, err := newFormatter(statusFormat)
	if err != nil {
		return err
	}

	cfg, st, err := openWorkspace()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	accounts, err := config.LoadAccounts(cfg.Resolve(cfg.Accounts.File))
	if err != nil {
		return err
	}
	labels := make([]string, len(accounts))
	for i, a := range accounts {
		labels[i] = a.Name
	}

	ctx := cmd.Context()
	state, err := st.LoadRotation(ctx)
	if err != nil {
		return err
	}
	wm, ok, err := st.Watermark(ctx)
	if err != nil {
		return err
	}

	status := report.BuildStatus(cfg.Target.Username, labels, state, wm, ok, time.Now())
	return formatter.FormatStatus(os.Stdout, status)
}

// openWorkspace loads the config and opens its store.
func openWorkspace() (*config.Config, *store.Store, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, err
	}
	if _, err := setupLogger(cfg.Log); err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.Resolve(cfg.Storage.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, nil
}

func newFormatter(format string) (report.Formatter, error) {
	switch format {
	case "terminal", "":
		return report.NewTerminal(!noColor), nil
	case "json":
		return report.NewJSON(), nil
	default:
		return nil, fmt.Errorf("unknown format: %s (use terminal or json)", format)
	}
}
