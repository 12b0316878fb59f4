// Package board runs the live departure board: it decides when to fetch,
// reacts to key presses and hands freshly derived rows to a renderer.
package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"abfahrt/pkg/config"
	"abfahrt/pkg/departures"
	"abfahrt/pkg/transit"

	"github.com/rs/zerolog/log"
)

// Command is what a key press means to the board.
type Command int

const (
	CommandNone Command = iota
	CommandQuit
	CommandNext
)

// Input waits up to timeout for the next command. It returns CommandNone when
// nothing was pressed in time.
type Input interface {
	Poll(ctx context.Context, timeout time.Duration) (Command, error)
}

// Fetcher downloads a departures payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Renderer draws one frame.
type Renderer interface {
	Render(rows []departures.Row, metadata string)
}

// StopNamer resolves a station's display name when the payload does not carry one.
type StopNamer interface {
	FetchStopName(ctx context.Context, source string, stationID string) (string, error)
}

// State is everything the loop mutates between iterations.
type State struct {
	Nav             Navigator
	TicksSinceFetch int
	Snapshot        []byte
	// Decoded is Snapshot run through departures.Decode, nil when there is nothing usable
	Decoded  *departures.Snapshot
	Metadata string
}

type Loop struct {
	cfg      *config.Config
	filter   map[string]struct{}
	input    Input
	fetcher  Fetcher
	renderer Renderer
	namer    StopNamer
	now      func() time.Time

	names map[string]string
	state State
}

type Option func(*Loop)

// WithClock replaces time.Now for wait-time computation.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithStopNamer enables station name lookups for payloads without stop names.
func WithStopNamer(n StopNamer) Option {
	return func(l *Loop) { l.namer = n }
}

// New prepares a loop for cfg. The first iteration always fetches.
func New(cfg *config.Config, input Input, fetcher Fetcher, renderer Renderer, opts ...Option) (*Loop, error) {
	nav, err := NewNavigator(cfg.StationIDs)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		cfg:      cfg,
		filter:   cfg.LineFilter(),
		input:    input,
		fetcher:  fetcher,
		renderer: renderer,
		now:      time.Now,
		names:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.state = State{Nav: nav, TicksSinceFetch: cfg.RefreshRate}
	l.state.Metadata = l.label(nav.Current())

	return l, nil
}

// State returns a copy of the loop state.
func (l *Loop) State() State {
	return l.state
}

// Run iterates until the quit command, an input failure or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	log.Info().Strs("stations", l.cfg.StationIDs).Int("refresh_rate", l.cfg.RefreshRate).Msg("starting departure board")

	for {
		done, err := l.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if done {
			log.Info().Msg("quit requested")
			return nil
		}
	}
}

// Step performs one iteration: input, then refresh check, then render.
func (l *Loop) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}

	cmd, err := l.input.Poll(ctx, l.cfg.TickInterval())
	if err != nil {
		return true, fmt.Errorf("failed to read input: %w", err)
	}

	switch cmd {
	case CommandQuit:
		return true, nil
	case CommandNext:
		l.nextStation()
	}

	l.refresh(ctx)

	l.renderer.Render(l.state.Decoded.Rows(l.now()), l.state.Metadata)

	return false, nil
}

func (l *Loop) nextStation() {
	l.state.Nav = l.state.Nav.Advance()
	station := l.state.Nav.Current()

	// The old snapshot belongs to another station
	l.state.Snapshot = nil
	l.state.Decoded = nil
	l.state.TicksSinceFetch = l.cfg.RefreshRate
	l.state.Metadata = l.label(station)

	log.Info().Str("station", station).Int("index", l.state.Nav.Index()).Msg("switching station")
	l.renderer.Render(departures.LoadingRows(), l.state.Metadata)
}

func (l *Loop) refresh(ctx context.Context) {
	if l.state.TicksSinceFetch < l.cfg.RefreshRate {
		l.state.TicksSinceFetch++
		return
	}

	station := l.state.Nav.Current()
	url := transit.DeparturesURL(l.cfg.Source, station, l.cfg.Duration)

	fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeoutDuration())
	defer cancel()

	body, err := l.fetcher.Fetch(fetchCtx, url)
	if err != nil {
		// Keep the stale snapshot and retry on the next iteration
		log.Warn().Err(err).Str("station", station).Msg("fetch failed")
		return
	}

	log.Debug().Str("station", station).Int("bytes", len(body)).Msg("fetched departures")

	l.state.Snapshot = body
	l.state.TicksSinceFetch = 0

	decoded, err := departures.Decode(body, l.filter, l.cfg.ShowCancelled)
	if err != nil {
		log.Warn().Err(err).Str("station", station).Msg("unusable departures payload")
	}
	l.state.Decoded = decoded

	if decoded != nil && decoded.StationName != "" {
		l.names[station] = decoded.StationName
	} else if _, ok := l.names[station]; !ok && l.namer != nil {
		l.lookupName(ctx, station)
	}
	l.state.Metadata = l.label(station)
}

func (l *Loop) lookupName(ctx context.Context, station string) {
	nameCtx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeoutDuration())
	defer cancel()

	name, err := l.namer.FetchStopName(nameCtx, l.cfg.Source, station)
	if err != nil {
		log.Debug().Err(err).Str("station", station).Msg("station name lookup failed")
		return
	}
	l.names[station] = name
}

// label is the header text for station.
func (l *Loop) label(station string) string {
	name, ok := l.names[station]
	if !ok {
		name = "Station " + station
	}
	if n := l.state.Nav.Len(); n > 1 {
		return fmt.Sprintf("%s (%d/%d)", name, l.state.Nav.Index()+1, n)
	}
	return name
}
