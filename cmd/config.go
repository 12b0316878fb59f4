package cmd

import (
	"fmt"
	"strings"

	"abfahrt/pkg/config"
	"abfahrt/pkg/transit"
	"abfahrt/pkg/tui"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the board configuration",
	Long:  "View or edit the configuration file (stations, line filter, refresh rate). Without flags an interactive editor is started.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfigOrDefault()
		if err != nil {
			return err
		}

		client := transit.NewClient(transit.WithTimeout(cfg.FetchTimeoutDuration()))

		if show, _ := cmd.Flags().GetBool("show"); show {
			printConfig(cfg)
			return nil
		}

		addStation, _ := cmd.Flags().GetString("add-station")
		if addStation != "" {
			fmt.Printf("Searching %s for station: '%s'...\n", cfg.Source, addStation)

			locations, err := client.FetchLocations(cmd.Context(), cfg.Source, addStation)
			if err != nil {
				return fmt.Errorf("could not lookup station: %w", err)
			}
			if len(locations) == 0 {
				return fmt.Errorf("no matching stations found for '%s'", addStation)
			}

			// Snag the first/best match
			match := locations[0]
			for _, id := range cfg.StationIDs {
				if id == match.ID {
					fmt.Printf("%s (ID: %s) is already configured\n", match.Name, match.ID)
					return nil
				}
			}
			cfg.StationIDs = append(cfg.StationIDs, match.ID)

			if err := config.Save(cfg, cfgFile); err != nil {
				return err
			}

			fmt.Printf("✅ Station added: %s (ID: %s)\n", match.Name, match.ID)
			return nil
		}

		updated, err := tui.RunWizard(cmd.Context(), cfg, client)
		if err != nil {
			return err
		}
		if err := config.Save(updated, cfgFile); err != nil {
			return err
		}

		fmt.Printf("✅ Configuration saved to %s\n", cfgFile)
		return nil
	},
}

func printConfig(cfg *config.Config) {
	lines := "all"
	if len(cfg.Lines) > 0 {
		lines = strings.Join(cfg.Lines, ", ")
	}

	fmt.Printf("--- Current Configuration (%s) ---\n", cfgFile)
	fmt.Printf("Source:          %s\n", cfg.Source)
	fmt.Printf("Stations:        %s\n", strings.Join(cfg.StationIDs, ", "))
	fmt.Printf("Duration:        %d min\n", cfg.Duration)
	fmt.Printf("Refresh rate:    every %d ticks of %s\n", cfg.RefreshRate, cfg.TickInterval())
	fmt.Printf("Lines:           %s\n", lines)
	fmt.Printf("Show cancelled:  %t\n", cfg.ShowCancelled)
	fmt.Printf("Log file:        %s\n", cfg.LogFile)
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringP("add-station", "a", "", "Search for a station and add the best match")
	configCmd.Flags().Bool("show", false, "Print the current configuration")
}
