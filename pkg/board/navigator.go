package board

import "abfahrt/pkg/config"

// Navigator holds the configured stations and which one is on screen.
type Navigator struct {
	stations []string
	index    int
}

// NewNavigator starts at the first station. An empty list is a configuration error.
func NewNavigator(stations []string) (Navigator, error) {
	if len(stations) == 0 {
		return Navigator{}, config.ErrNoStations
	}
	return Navigator{stations: append([]string(nil), stations...)}, nil
}

// Advance moves to the next station, wrapping to the first after the last.
func (n Navigator) Advance() Navigator {
	if n.index >= len(n.stations)-1 {
		n.index = 0
	} else {
		n.index++
	}
	return n
}

func (n Navigator) Current() string { return n.stations[n.index] }

func (n Navigator) Index() int { return n.index }

func (n Navigator) Len() int { return len(n.stations) }
