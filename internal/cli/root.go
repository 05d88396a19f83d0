// Package cli implements the nalar command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile     string
	logLevel    string
	plainOutput bool
)

// rootCmd represents the base command. Running nalar without a subcommand
// starts the interactive research session.
var rootCmd = &cobra.Command{
	Use:   "nalar",
	Short: "Nalar - web-research assistant",
	Long: `Nalar is an interactive research assistant. It answers questions by
driving a reason/act/observe loop against an inference backend and a web
search API, streaming the in-progress reasoning to the terminal.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runAsk,
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nalar/nalar.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain output: no markup, one line per event")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}
