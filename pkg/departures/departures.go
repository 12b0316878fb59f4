// Package departures turns a raw departures payload into the rows shown on the board.
package departures

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

const (
	// CancelledTag replaces wait and delay of a departure that will not run.
	CancelledTag = "CANCELLED"

	UnparseableMessage = "Can't parse the data, attempting again..."
	LoadingMessage     = "Loading the next station..."
)

// timestamp layouts accepted for when/plannedWhen, tried in order
var timeLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
}

var (
	// ErrUnparseable means the payload has no departures array.
	ErrUnparseable = errors.New("payload has no departures array")

	errMissingField = errors.New("required field missing")
)

// Severity classifies how a departure's delay is displayed.
type Severity int

const (
	OnTime Severity = iota
	Late
	Early
	Cancelled
)

func (s Severity) String() string {
	switch s {
	case OnTime:
		return "on time"
	case Late:
		return "late"
	case Early:
		return "early"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Classify maps a signed delay in minutes onto its display severity.
func Classify(delayMinutes int) Severity {
	switch {
	case delayMinutes > 0:
		return Late
	case delayMinutes < 0:
		return Early
	default:
		return OnTime
	}
}

// Departure is one scheduled vehicle leaving the station, derived fresh from each snapshot.
type Departure struct {
	Line        string
	Destination string
	Stop        string
	Cancelled   bool

	// Zero for cancelled departures
	When         time.Time
	PlannedWhen  time.Time
	WaitMinutes  int
	DelayMinutes int
}

// Row is what a renderer draws for one departure.
type Row struct {
	Line        string
	Destination string
	Wait        string
	Delay       string

	WaitMinutes  int
	DelayMinutes int
	Severity     Severity

	// Sentinel rows carry a status message in Destination instead of a departure
	Sentinel bool
}

func sentinelRow(message string) []Row {
	return []Row{{Destination: message, Sentinel: true}}
}

// UnparseableRows is shown while no usable payload is available.
func UnparseableRows() []Row {
	return sentinelRow(UnparseableMessage)
}

// LoadingRows is shown between switching stations and the first fetch for the new one.
func LoadingRows() []Row {
	return sentinelRow(LoadingMessage)
}

// minutesBetween returns whole minutes from b to a, truncated toward zero.
func minutesBetween(a, b time.Time) int {
	return int(a.Sub(b) / time.Minute)
}

func parseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ProcessDelay computes the wait until the actual departure and its delay
// against the planned time. The wait never goes below zero; the delay is signed.
func ProcessDelay(actual, planned string, now time.Time) (wait int, delay int, err error) {
	actualTime, err := parseTimestamp(actual)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid departure time %q: %w", actual, err)
	}
	plannedTime, err := parseTimestamp(planned)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid planned time %q: %w", planned, err)
	}

	return max(0, minutesBetween(actualTime, now)), minutesBetween(actualTime, plannedTime), nil
}

func requiredString(item jsoniter.Any, path ...interface{}) (string, error) {
	v := item.Get(path...)
	if v.ValueType() != jsoniter.StringValue {
		return "", fmt.Errorf("%w: %v", errMissingField, path)
	}
	return v.ToString(), nil
}

// absent reports whether a timestamp field is null or missing.
func absent(v jsoniter.Any) bool {
	t := v.ValueType()
	return t == jsoniter.NilValue || t == jsoniter.InvalidValue
}

// decodeItem reads one departure. The wait is left for Snapshot.Rows since it
// depends on the clock; everything else is fixed by the payload.
func decodeItem(item jsoniter.Any, filter map[string]struct{}, showCancelled bool) (Departure, bool, error) {
	line, err := requiredString(item, "line", "name")
	if err != nil {
		return Departure{}, false, err
	}
	// Filtering happens before any cancellation or delay handling
	if len(filter) > 0 {
		if _, ok := filter[line]; !ok {
			return Departure{}, false, nil
		}
	}

	destination, err := requiredString(item, "direction")
	if err != nil {
		return Departure{}, false, err
	}

	dep := Departure{
		Line:        line,
		Destination: destination,
		Stop:        item.Get("stop", "name").ToString(),
	}

	when, planned := item.Get("when"), item.Get("plannedWhen")
	if absent(when) || absent(planned) {
		if !showCancelled {
			return Departure{}, false, nil
		}
		dep.Cancelled = true
		return dep, true, nil
	}
	if when.ValueType() != jsoniter.StringValue || planned.ValueType() != jsoniter.StringValue {
		return Departure{}, false, errors.New("timestamps are not strings")
	}

	if dep.When, err = parseTimestamp(when.ToString()); err != nil {
		return Departure{}, false, fmt.Errorf("invalid departure time %q: %w", when.ToString(), err)
	}
	if dep.PlannedWhen, err = parseTimestamp(planned.ToString()); err != nil {
		return Departure{}, false, fmt.Errorf("invalid planned time %q: %w", planned.ToString(), err)
	}
	dep.DelayMinutes = minutesBetween(dep.When, dep.PlannedWhen)

	return dep, true, nil
}

// Snapshot is a decoded payload. It is built once per fetch and rendered
// against the clock as often as needed. A nil Snapshot renders as the
// unparseable sentinel.
type Snapshot struct {
	// StationName is the first non-empty stop name in the payload
	StationName string
	Departures  []Departure
}

type envelope struct {
	Departures *[]jsoniter.RawMessage `json:"departures"`
}

// Decode reads raw in a single pass. Items that are filtered out, or cancelled
// while showCancelled is false, are dropped; malformed items are dropped and
// logged. ErrUnparseable is returned when raw has no departures array.
func Decode(raw []byte, filter map[string]struct{}, showCancelled bool) (*Snapshot, error) {
	if len(raw) == 0 {
		return nil, ErrUnparseable
	}

	var p envelope
	if err := jsoniter.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if p.Departures == nil {
		return nil, ErrUnparseable
	}

	items := *p.Departures
	snap := &Snapshot{Departures: make([]Departure, 0, len(items))}
	for i, msg := range items {
		item := jsoniter.Get(msg)

		if snap.StationName == "" {
			if name := item.Get("stop", "name"); name.ValueType() == jsoniter.StringValue && name.ToString() != "" {
				snap.StationName = name.ToString()
			}
		}

		dep, keep, err := decodeItem(item, filter, showCancelled)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping malformed departure")
			continue
		}
		if keep {
			snap.Departures = append(snap.Departures, dep)
		}
	}

	return snap, nil
}

// At returns the departures with their wait measured from now.
func (s *Snapshot) At(now time.Time) []Departure {
	deps := make([]Departure, len(s.Departures))
	for i, d := range s.Departures {
		if !d.Cancelled {
			d.WaitMinutes = max(0, minutesBetween(d.When, now))
		}
		deps[i] = d
	}
	return deps
}

// Rows formats the snapshot for display at now.
func (s *Snapshot) Rows(now time.Time) []Row {
	if s == nil {
		return UnparseableRows()
	}

	deps := s.At(now)
	rows := make([]Row, len(deps))
	for i, d := range deps {
		rows[i] = ToRow(d)
	}
	return rows
}

// Parse extracts the departures of raw in their original order with waits
// measured from now. See Decode for what is left out.
func Parse(raw []byte, filter map[string]struct{}, showCancelled bool, now time.Time) ([]Departure, error) {
	snap, err := Decode(raw, filter, showCancelled)
	if err != nil {
		return nil, err
	}
	return snap.At(now), nil
}

// ToRow formats a departure for display.
func ToRow(d Departure) Row {
	if d.Cancelled {
		return Row{
			Line:        d.Line,
			Destination: d.Destination,
			Wait:        CancelledTag,
			Delay:       CancelledTag,
			Severity:    Cancelled,
		}
	}

	severity := Classify(d.DelayMinutes)
	delay := "(=)"
	if severity != OnTime {
		delay = strconv.Itoa(d.DelayMinutes) + `"`
	}

	return Row{
		Line:         d.Line,
		Destination:  d.Destination,
		Wait:         strconv.Itoa(d.WaitMinutes) + `"`,
		Delay:        delay,
		WaitMinutes:  d.WaitMinutes,
		DelayMinutes: d.DelayMinutes,
		Severity:     severity,
	}
}

// Process runs the whole pipeline over a raw payload. An unusable payload,
// including nil, yields a single sentinel row rather than an empty table.
func Process(raw []byte, filter map[string]struct{}, showCancelled bool, now time.Time) []Row {
	snap, err := Decode(raw, filter, showCancelled)
	if err != nil {
		return UnparseableRows()
	}
	return snap.Rows(now)
}

// StationName returns the stop name carried by the first departure, or "".
func StationName(raw []byte) string {
	var p envelope
	if len(raw) == 0 || jsoniter.Unmarshal(raw, &p) != nil || p.Departures == nil {
		return ""
	}
	for _, msg := range *p.Departures {
		name := jsoniter.Get(msg, "stop", "name")
		if name.ValueType() == jsoniter.StringValue && name.ToString() != "" {
			return name.ToString()
		}
	}
	return ""
}
