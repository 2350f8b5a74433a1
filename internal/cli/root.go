// Package cli implements the voicebridge command line.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/voicebridge/voicebridge/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config

	// Global JSON output flag - inherited by all subcommands
	jsonOutput bool

	// Global color control flag - inherited by all subcommands
	noColor bool

	logLevelFlag  string
	logFormatFlag string

	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "voicebridge",
	Short: "Real-time bridge from a voice pipeline to connected desktop clients",
	Long: `voicebridge holds WebSocket connections from desktop clients and fans
voice recognition results out to them according to each client's mode:

  type     plain transcriptions only
  command  transcriptions and agent actions (currently the same as both)
  both     everything (default)

Quick Start:
  voicebridge serve                         # Listen on 0.0.0.0:8765/bridge
  voicebridge listen --mode command         # Watch results as a client
  voicebridge send "hello world"            # Submit a transcription
  voicebridge send --action execute --content "open -a Safari" "open safari"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || os.Getenv("NO_COLOR") != "" {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevelFlag
		}
		if cmd.Flags().Changed("log-format") {
			loaded.LogFormat = logFormatFlag
		}
		cfg = loaded
		return setupLogging(cfg, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/voicebridge/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "auto", "Log format: auto|text|json")

	rootCmd.AddCommand(
		newServeCmd(),
		newSendCmd(),
		newStatusCmd(),
		newListenCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": Version,
					"commit":  Commit,
					"date":    Date,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "voicebridge %s (commit %s, built %s)\n", Version, Commit, Date)
			return nil
		},
	}
}
