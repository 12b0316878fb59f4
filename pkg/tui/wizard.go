package tui

import (
	"context"
	"fmt"
	"strings"

	"abfahrt/pkg/config"
	"abfahrt/pkg/transit"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
)

// RunWizard walks through choosing stations and filters and returns the edited
// configuration. cfg itself is left untouched; saving is up to the caller.
func RunWizard(ctx context.Context, cfg *config.Config, client *transit.Client) (*config.Config, error) {
	updated := *cfg
	theme := Theme(cfg.AccentColor)

	keep := true
	if len(cfg.StationIDs) > 0 {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Keep the %d configured station(s)?", len(cfg.StationIDs))).
				Value(&keep),
		)).WithTheme(theme).Run(); err != nil {
			return nil, err
		}
	}
	var stations []string
	if keep {
		stations = append(stations, cfg.StationIDs...)
	}

	for {
		var query string
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Search for a station").
				Placeholder("e.g. Berlin Alexanderplatz").
				Value(&query),
		)).WithTheme(theme).Run(); err != nil {
			return nil, err
		}

		if strings.TrimSpace(query) != "" {
			var locations []transit.Location
			var err error

			_ = spinner.New().
				Title(fmt.Sprintf("Searching %s for '%s'...", cfg.Source, query)).
				Action(func() {
					locations, err = client.FetchLocations(ctx, cfg.Source, query)
				}).
				Run()

			if err != nil {
				fmt.Println(errorStyle.Render(fmt.Sprintf("Search failed: %v", err)))
			} else if len(locations) == 0 {
				fmt.Println(errorStyle.Render(fmt.Sprintf("No stations found for '%s'.", query)))
			} else {
				var picked []string
				if err := huh.NewForm(huh.NewGroup(
					huh.NewMultiSelect[string]().
						Title("Which stations should the board show?").
						Options(stationOptions(locations, stations)...).
						Value(&picked),
				)).WithTheme(theme).Run(); err != nil {
					return nil, err
				}
				stations = mergeStations(stations, picked)
			}
		}

		more := false
		if err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%d station(s) selected. Search for another one?", len(stations))).
				Value(&more),
		)).WithTheme(theme).Run(); err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	if len(stations) == 0 {
		return nil, config.ErrNoStations
	}

	lines := strings.Join(cfg.Lines, ", ")
	showCancelled := cfg.ShowCancelled

	if err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Only show these lines").
			Description("Comma separated, leave empty to show every line").
			Value(&lines),
		huh.NewConfirm().
			Title("Show cancelled departures?").
			Value(&showCancelled),
	)).WithTheme(theme).Run(); err != nil {
		return nil, err
	}

	updated.StationIDs = stations
	updated.Lines = parseLines(lines)
	updated.ShowCancelled = showCancelled

	return &updated, nil
}

func stationOptions(locations []transit.Location, selected []string) []huh.Option[string] {
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}

	var options []huh.Option[string]
	for _, loc := range locations {
		if loc.ID == "" {
			continue
		}
		opt := huh.NewOption(fmt.Sprintf("%s (%s)", loc.Name, loc.ID), loc.ID)
		if chosen[loc.ID] {
			opt = opt.Selected(true)
		}
		options = append(options, opt)
	}
	return options
}

// mergeStations appends the ids in added that are not yet in existing.
func mergeStations(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range added {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func parseLines(s string) []string {
	var lines []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			lines = append(lines, part)
		}
	}
	return lines
}
