package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var unblockAll bool

var unblockCmd = &cobra.Command{
	Use:   "unblock [position]",
	Short: "Clear the cooldown of one credential, or all with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  unblockAction,
}

func init() {
	unblockCmd.Flags().BoolVar(&unblockAll, "all", false, "clear every cooldown")
	rootCmd.AddCommand(unblockCmd)
}

func unblockAction(cmd *cobra.Command, args []string) error {
	pos := -1
	switch {
	case unblockAll && len(args) > 0:
		return errors.New("use either a position or --all")
	case unblockAll:
	case len(args) == 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid position %q", args[0])
		}
		pos = n
	default:
		return errors.New("a position or --all is required")
	}

	_, st, err := openWorkspace()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	n, err := st.Unblock(cmd.Context(), pos)
	if err != nil {
		return err
	}

	switch {
	case n == 0 && pos >= 0:
		fmt.Printf("Position %d is not cooling down.\n", pos)
	case n == 0:
		fmt.Println("No credentials are cooling down.")
	default:
		fmt.Printf("Cleared %d cooldown%s.\n", n, plural(n))
	}
	return nil
}

func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}
