// Package cli provides the command-line interface for relaypan.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigDir = ".relaypan"

var (
	configDir string
	logLevel  string
	logFormat string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "relaypan",
	Short: "Relay new posts from one account through a rotating credential pool",
	Long: "relaypan polls a single account's timeline, rotating through a pool of credentials and " +
		"cooling down the ones that hit rate limits, and republishes each new original post once.",
	SilenceUsage: true,
	RunE:         runAction,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("relaypan %s (%s)\n", Version, Commit)
	},
}

func init() {
	bindGlobalFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().StringVar(&runEvery, "every", "", "repeat passes at this interval (e.g. 5m)")
	rootCmd.AddCommand(versionCmd)
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configDir, "config", "c", defaultConfigDir, "config directory")
	fs.StringVar(&logLevel, "log-level", "", "override log.level from config")
	fs.StringVar(&logFormat, "log-format", "", "override log.format from config (console or json)")
	fs.BoolVar(&noColor, "no-color", false, "disable ANSI colors")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
