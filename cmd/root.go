package cmd

import (
	"fmt"
	"os"

	"abfahrt/pkg/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "abfahrt",
	Short: "A live terminal board of upcoming public transport departures",
	Long: `abfahrt polls a transport.rest departures API for one or more stations and
shows an auto-refreshing table with wait time and delay of every departure.

Keys: 'n' switches to the next configured station, 'q' quits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupConsoleLogging(debug)
	},
	RunE: runBoard,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log at debug level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Where the live board writes its log (overrides log_file)")
}
