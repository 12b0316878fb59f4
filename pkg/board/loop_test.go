package board

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"abfahrt/pkg/config"
	"abfahrt/pkg/departures"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{"departures": [{"line":{"name":"S1"}, "direction":"Town", "when":"2024-01-01T10:05:00+00:00", "plannedWhen":"2024-01-01T10:00:00+00:00", "stop":{"name":"Central"}}]}`

type scriptedInput struct {
	commands []Command
	err      error
	polls    int
	timeouts []time.Duration
}

func (s *scriptedInput) Poll(ctx context.Context, timeout time.Duration) (Command, error) {
	s.polls++
	s.timeouts = append(s.timeouts, timeout)
	if len(s.commands) == 0 {
		if s.err != nil {
			return CommandNone, s.err
		}
		return CommandNone, nil
	}
	cmd := s.commands[0]
	s.commands = s.commands[1:]
	return cmd, nil
}

type recordingFetcher struct {
	urls    []string
	payload string
	// fail makes the n-th call (1-based) return an error
	fail map[int]bool
}

func (f *recordingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	if f.fail[len(f.urls)] {
		return nil, errors.New("network unreachable")
	}
	return []byte(f.payload), nil
}

type frame struct {
	rows     []departures.Row
	metadata string
}

type recordingRenderer struct {
	frames []frame
}

func (r *recordingRenderer) Render(rows []departures.Row, metadata string) {
	r.frames = append(r.frames, frame{rows: rows, metadata: metadata})
}

func (r *recordingRenderer) last() frame {
	return r.frames[len(r.frames)-1]
}

type fixedNamer struct {
	calls int
}

func (n *fixedNamer) FetchStopName(ctx context.Context, source string, stationID string) (string, error) {
	n.calls++
	return "Named " + stationID, nil
}

func testConfig(stations ...string) *config.Config {
	cfg := config.Default()
	cfg.Source = "api.example.org"
	cfg.StationIDs = stations
	cfg.RefreshRate = 5
	cfg.Duration = 30
	return cfg
}

func fixedClock() time.Time {
	return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
}

func stationOf(url string) string {
	rest := strings.TrimPrefix(url, "https://api.example.org/stops/")
	return rest[:strings.Index(rest, "/")]
}

func stepN(t *testing.T, l *Loop, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		done, err := l.Step(context.Background())
		require.NoError(t, err)
		require.False(t, done)
	}
}

func TestNew_NoStations(t *testing.T) {
	_, err := New(testConfig(), &scriptedInput{}, &recordingFetcher{}, &recordingRenderer{})
	assert.ErrorIs(t, err, config.ErrNoStations)
}

func TestLoop_FirstIterationFetches(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload}
	renderer := &recordingRenderer{}
	input := &scriptedInput{}

	l, err := New(testConfig("100"), input, fetcher, renderer, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 1)

	require.Len(t, fetcher.urls, 1)
	assert.Equal(t, "https://api.example.org/stops/100/departures?duration=30&linesOfStops=false&remarks=true&language=en", fetcher.urls[0])
	assert.Equal(t, []time.Duration{30 * time.Millisecond}, input.timeouts)

	require.Len(t, renderer.frames, 1)
	got := renderer.last()
	assert.Equal(t, "Central", got.metadata)
	require.Len(t, got.rows, 1)
	assert.Equal(t, "S1", got.rows[0].Line)
	assert.Equal(t, 5, got.rows[0].WaitMinutes)
	assert.Equal(t, departures.Late, got.rows[0].Severity)
	assert.Equal(t, 0, l.State().TicksSinceFetch)
}

func TestLoop_RefreshCadence(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload}
	l, err := New(testConfig("100", "200"), &scriptedInput{}, fetcher, &recordingRenderer{}, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 1)
	require.Len(t, fetcher.urls, 1)

	// Five quiet iterations count up to the refresh rate without fetching
	stepN(t, l, 5)
	assert.Len(t, fetcher.urls, 1)
	assert.Equal(t, 5, l.State().TicksSinceFetch)

	stepN(t, l, 1)
	require.Len(t, fetcher.urls, 2)
	assert.Equal(t, "100", stationOf(fetcher.urls[1]))

	stepN(t, l, 6)
	require.Len(t, fetcher.urls, 3)
	assert.Equal(t, "100", stationOf(fetcher.urls[2]))
}

func TestLoop_NextStationFetchesImmediately(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload}
	renderer := &recordingRenderer{}
	input := &scriptedInput{commands: []Command{CommandNone, CommandNone, CommandNext}}

	l, err := New(testConfig("100", "200"), input, fetcher, renderer, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 3)

	require.Len(t, fetcher.urls, 2)
	assert.Equal(t, "100", stationOf(fetcher.urls[0]))
	assert.Equal(t, "200", stationOf(fetcher.urls[1]))
	assert.Equal(t, 1, l.State().Nav.Index())
	assert.Equal(t, 0, l.State().TicksSinceFetch)

	// Loading frame drawn between the key press and the fetch
	require.Len(t, renderer.frames, 4)
	loading := renderer.frames[2]
	require.Len(t, loading.rows, 1)
	assert.True(t, loading.rows[0].Sentinel)
	assert.Equal(t, departures.LoadingMessage, loading.rows[0].Destination)
	assert.Equal(t, "Station 200 (2/2)", loading.metadata)

	assert.Equal(t, "Central (2/2)", renderer.last().metadata)
}

func TestLoop_NextStationWraps(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload}
	input := &scriptedInput{commands: []Command{CommandNone, CommandNext, CommandNext, CommandNext}}

	l, err := New(testConfig("100", "200", "300"), input, fetcher, &recordingRenderer{}, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 4)

	var stations []string
	for _, u := range fetcher.urls {
		stations = append(stations, stationOf(u))
	}
	assert.Equal(t, []string{"100", "200", "300", "100"}, stations)
	assert.Equal(t, 0, l.State().Nav.Index())
}

func TestLoop_FailedFetchRetriesNextIteration(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload, fail: map[int]bool{2: true}}
	renderer := &recordingRenderer{}

	l, err := New(testConfig("100"), &scriptedInput{}, fetcher, renderer, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 7)
	require.Len(t, fetcher.urls, 2)

	// The stale snapshot is still displayed and the counter was not reset
	assert.Equal(t, []byte(samplePayload), l.State().Snapshot)
	assert.Equal(t, 5, l.State().TicksSinceFetch)
	assert.Equal(t, "S1", renderer.last().rows[0].Line)

	stepN(t, l, 1)
	require.Len(t, fetcher.urls, 3)
	assert.Equal(t, 0, l.State().TicksSinceFetch)
}

func TestLoop_NoSnapshotShowsSentinel(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload, fail: map[int]bool{1: true}}
	renderer := &recordingRenderer{}

	l, err := New(testConfig("100"), &scriptedInput{}, fetcher, renderer, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 1)

	rows := renderer.last().rows
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Sentinel)
	assert.Equal(t, departures.UnparseableMessage, rows[0].Destination)
	assert.Equal(t, "Station 100", renderer.last().metadata)
}

func TestLoop_WaitTimeStaysLiveBetweenFetches(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload}
	renderer := &recordingRenderer{}

	clock := fixedClock()
	tick := func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	l, err := New(testConfig("100"), &scriptedInput{}, fetcher, renderer, WithClock(tick))
	require.NoError(t, err)

	stepN(t, l, 3)

	require.Len(t, fetcher.urls, 1)
	require.Len(t, renderer.frames, 3)
	assert.Equal(t, 4, renderer.frames[0].rows[0].WaitMinutes)
	assert.Equal(t, 3, renderer.frames[1].rows[0].WaitMinutes)
	assert.Equal(t, 2, renderer.frames[2].rows[0].WaitMinutes)
}

func TestLoop_Quit(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload}
	renderer := &recordingRenderer{}
	input := &scriptedInput{commands: []Command{CommandNone, CommandQuit}}

	l, err := New(testConfig("100"), input, fetcher, renderer, WithClock(fixedClock))
	require.NoError(t, err)

	require.NoError(t, l.Run(context.Background()))

	assert.Equal(t, 2, input.polls)
	assert.Len(t, fetcher.urls, 1)
	assert.Len(t, renderer.frames, 1, "quitting does not render another frame")
}

func TestLoop_InputErrorStopsRun(t *testing.T) {
	input := &scriptedInput{err: errors.New("terminal gone")}

	l, err := New(testConfig("100"), input, &recordingFetcher{payload: samplePayload}, &recordingRenderer{})
	require.NoError(t, err)

	assert.Error(t, l.Run(context.Background()))
}

func TestLoop_CancelledContextStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l, err := New(testConfig("100"), &scriptedInput{}, &recordingFetcher{payload: samplePayload}, &recordingRenderer{})
	require.NoError(t, err)

	assert.NoError(t, l.Run(ctx))
}

func TestLoop_LineFilterAndCancelled(t *testing.T) {
	cfg := testConfig("100")
	cfg.Lines = []string{"S1"}
	cfg.ShowCancelled = true

	fetcher := &recordingFetcher{payload: `{"departures": [
		{"line":{"name":"S2"}, "direction":"Harbour", "when":"2024-01-01T10:05:00+00:00", "plannedWhen":"2024-01-01T10:05:00+00:00"},
		{"line":{"name":"S1"}, "direction":"Airport", "when":null, "plannedWhen":"2024-01-01T10:05:00+00:00"}
	]}`}
	renderer := &recordingRenderer{}

	l, err := New(cfg, &scriptedInput{}, fetcher, renderer, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 1)

	rows := renderer.last().rows
	require.Len(t, rows, 1)
	assert.Equal(t, "Airport", rows[0].Destination)
	assert.Equal(t, departures.CancelledTag, rows[0].Wait)
}

func TestLoop_StopNamerFallback(t *testing.T) {
	fetcher := &recordingFetcher{payload: `{"departures": []}`}
	renderer := &recordingRenderer{}
	namer := &fixedNamer{}

	l, err := New(testConfig("100"), &scriptedInput{}, fetcher, renderer, WithClock(fixedClock), WithStopNamer(namer))
	require.NoError(t, err)

	stepN(t, l, 8)

	assert.Len(t, fetcher.urls, 2)
	assert.Equal(t, 1, namer.calls, "names are looked up once per station")
	assert.Equal(t, "Named 100", renderer.last().metadata)
	assert.Empty(t, renderer.last().rows)
}

func TestLoop_DecodesOncePerFetch(t *testing.T) {
	var buf bytes.Buffer
	old := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = old })

	fetcher := &recordingFetcher{payload: `{"departures": [
		{"line":{"name":"S4"}, "direction":"Garbage", "when":"soon", "plannedWhen":"2024-01-01T10:05:00+00:00"},
		{"line":{"name":"S1"}, "direction":"Town", "when":"2024-01-01T10:05:00+00:00", "plannedWhen":"2024-01-01T10:00:00+00:00"}
	]}`}
	renderer := &recordingRenderer{}

	l, err := New(testConfig("100"), &scriptedInput{}, fetcher, renderer, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 1)
	decoded := l.State().Decoded
	require.NotNil(t, decoded)

	stepN(t, l, 5)
	require.Len(t, fetcher.urls, 1)
	assert.Same(t, decoded, l.State().Decoded)
	assert.Len(t, renderer.frames, 6)
	assert.Equal(t, 1, strings.Count(buf.String(), "skipping malformed departure"))

	stepN(t, l, 1)
	require.Len(t, fetcher.urls, 2)
	assert.NotSame(t, decoded, l.State().Decoded)
	assert.Equal(t, 2, strings.Count(buf.String(), "skipping malformed departure"))
}

func TestLoop_NextStationDropsDecoded(t *testing.T) {
	fetcher := &recordingFetcher{payload: samplePayload, fail: map[int]bool{2: true}}
	input := &scriptedInput{commands: []Command{CommandNone, CommandNext}}

	l, err := New(testConfig("100", "200"), input, fetcher, &recordingRenderer{}, WithClock(fixedClock))
	require.NoError(t, err)

	stepN(t, l, 2)

	assert.Nil(t, l.State().Snapshot)
	assert.Nil(t, l.State().Decoded)
}

type slowFetcher struct {
	delay    time.Duration
	deadline time.Time
}

func (f *slowFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.deadline, _ = ctx.Deadline()
	time.Sleep(f.delay)
	return []byte(`{"departures": []}`), nil
}

type deadlineNamer struct {
	deadline time.Time
}

func (n *deadlineNamer) FetchStopName(ctx context.Context, source string, stationID string) (string, error) {
	n.deadline, _ = ctx.Deadline()
	return "Named " + stationID, nil
}

func TestLoop_NameLookupGetsItsOwnTimeout(t *testing.T) {
	fetcher := &slowFetcher{delay: 20 * time.Millisecond}
	namer := &deadlineNamer{}

	l, err := New(testConfig("100"), &scriptedInput{}, fetcher, &recordingRenderer{}, WithClock(fixedClock), WithStopNamer(namer))
	require.NoError(t, err)

	stepN(t, l, 1)

	require.False(t, fetcher.deadline.IsZero())
	require.False(t, namer.deadline.IsZero())
	assert.GreaterOrEqual(t, namer.deadline.Sub(fetcher.deadline), 20*time.Millisecond)
	assert.Equal(t, "Named 100", l.State().Metadata)
}
