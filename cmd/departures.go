package cmd

import (
	"context"
	"fmt"
	"time"

	"abfahrt/pkg/config"
	"abfahrt/pkg/departures"
	"abfahrt/pkg/transit"
	"abfahrt/pkg/tui"

	"github.com/charmbracelet/huh/spinner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var departuresCmd = &cobra.Command{
	Use:   "departures",
	Short: "Print the upcoming departures once and exit",
	Long:  "Fetches the departures of every configured station (or the ones given with --station) and prints them as a table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if stations, _ := cmd.Flags().GetStringSlice("station"); len(stations) > 0 {
			cfg.StationIDs = stations
		}

		client := transit.NewClient(transit.WithTimeout(cfg.FetchTimeoutDuration()))

		for _, stationID := range cfg.StationIDs {
			if err := printDepartures(cmd.Context(), client, cfg, stationID); err != nil {
				fmt.Printf("❌ Failed to fetch departures for %s: %v\n", stationID, err)
			}
			fmt.Println()
		}

		return nil
	},
}

// fetchStation downloads the departures payload for one station behind a spinner.
func fetchStation(ctx context.Context, client *transit.Client, cfg *config.Config, stationID string) ([]byte, error) {
	var body []byte
	var err error

	_ = spinner.New().
		Title(fmt.Sprintf("Fetching live departures for station %s...", stationID)).
		Action(func() {
			body, err = client.Fetch(ctx, transit.DeparturesURL(cfg.Source, stationID, cfg.Duration))
		}).
		Run()

	return body, err
}

// stationName prefers the name carried in the payload and falls back to a stop lookup.
func stationName(ctx context.Context, client *transit.Client, cfg *config.Config, stationID string, body []byte) string {
	if name := departures.StationName(body); name != "" {
		return name
	}
	name, err := client.FetchStopName(ctx, cfg.Source, stationID)
	if err != nil {
		log.Debug().Err(err).Str("station", stationID).Msg("station name lookup failed")
		return "Station " + stationID
	}
	return name
}

func printDepartures(ctx context.Context, client *transit.Client, cfg *config.Config, stationID string) error {
	body, err := fetchStation(ctx, client, cfg, stationID)
	if err != nil {
		return err
	}

	rows := departures.Process(body, cfg.LineFilter(), cfg.ShowCancelled, time.Now())
	name := stationName(ctx, client, cfg, stationID, body)

	if len(rows) == 0 {
		fmt.Printf("%s: no upcoming departures found in the next %d minutes.\n", name, cfg.Duration)
		return nil
	}

	fmt.Println(tui.RenderTable(rows, name, cfg.AccentColor))
	return nil
}

func init() {
	rootCmd.AddCommand(departuresCmd)
	departuresCmd.Flags().StringSliceP("station", "s", nil, "Station id(s) to show instead of the configured ones")
}
