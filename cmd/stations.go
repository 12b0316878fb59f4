package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"abfahrt/pkg/config"
	"abfahrt/pkg/transit"

	"github.com/charmbracelet/huh/spinner"
	"github.com/spf13/cobra"
)

var stationsCmd = &cobra.Command{
	Use:   "stations <query>",
	Short: "Search for station ids to put into the configuration",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfigOrDefault()
		if err != nil {
			return err
		}

		query := strings.Join(args, " ")
		client := transit.NewClient(transit.WithTimeout(cfg.FetchTimeoutDuration()))

		var locations []transit.Location
		_ = spinner.New().
			Title(fmt.Sprintf("Searching %s for '%s'...", cfg.Source, query)).
			Action(func() {
				locations, err = client.FetchLocations(cmd.Context(), cfg.Source, query)
			}).
			Run()

		if err != nil {
			return fmt.Errorf("could not search stations: %w", err)
		}
		if len(locations) == 0 {
			return fmt.Errorf("no matching stations found for '%s'", query)
		}

		for _, loc := range locations {
			fmt.Printf("%-12s %s\n", loc.ID, loc.Name)
		}
		return nil
	},
}

// readConfigOrDefault reads the configuration without requiring it to be complete.
// A missing file yields the defaults.
func readConfigOrDefault() (*config.Config, error) {
	cfg, err := config.Read(cfgFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(stationsCmd)
}
