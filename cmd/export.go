package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"abfahrt/pkg/departures"
	"abfahrt/pkg/exporter"
	"abfahrt/pkg/transit"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the upcoming departures to an ICS file",
	Long:  `Fetch the departures of every configured station once and write them as calendar events to an .ics file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := transit.NewClient(transit.WithTimeout(cfg.FetchTimeoutDuration()))

		var stations []exporter.Station
		total := 0
		for _, stationID := range cfg.StationIDs {
			body, err := fetchStation(cmd.Context(), client, cfg, stationID)
			if err != nil {
				fmt.Printf("❌ Failed to fetch departures for %s: %v\n", stationID, err)
				continue
			}

			deps, err := departures.Parse(body, cfg.LineFilter(), false, time.Now())
			if err != nil {
				fmt.Printf("❌ Could not read departures for %s: %v\n", stationID, err)
				continue
			}

			stations = append(stations, exporter.Station{
				ID:         stationID,
				Name:       stationName(cmd.Context(), client, cfg, stationID, body),
				Departures: deps,
			})
			total += len(deps)
		}

		if len(stations) == 0 {
			return errors.New("no departures could be fetched")
		}

		file, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()

		if err := exporter.GenerateICS(stations, file); err != nil {
			return fmt.Errorf("failed to generate ICS: %w", err)
		}

		fmt.Printf("Successfully exported %d departures to %s\n", total, output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "departures.ics", "Output file path")
}
