package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/report"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently published posts and recorded passes",
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of entries per section")
	historyCmd.Flags().StringVar(&historyFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(historyCmd)
}

func historyAction(cmd *cobra.Command, _ []string) error {
	if historyLimit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", historyLimit)
	}
	formatter, err := newFormatter(historyFormat)
	if err != nil {
		return err
	}

	_, st, err := openWorkspace()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	published, err := st.RecentPublished(ctx, historyLimit)
	if err != nil {
		return err
	}
	runs, err := st.RecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}

	return formatter.FormatHistory(os.Stdout, report.History{
		Published: published,
		Runs:      runs,
		Now:       time.Now(),
	})
}
