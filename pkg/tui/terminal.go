package tui

import (
	"context"
	"errors"
	"sync"
	"time"

	"abfahrt/pkg/board"
	"abfahrt/pkg/departures"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
)

var errScreenClosed = errors.New("terminal screen closed")

// column widths in percent of the screen: line, destination, departure, delay
var columnPercents = [4]int{10, 60, 15, 15}

var columnTitles = [4]string{"Line", "Destination", "Departure", "Delay"}

var (
	headerTextStyle   = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	headerBorderStyle = tcell.StyleDefault.Foreground(tcell.ColorLightYellow)
	tableHeaderStyle  = tcell.StyleDefault.Foreground(tcell.ColorFuchsia)
	cellStyle         = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	lineStyle         = cellStyle.Bold(true)
)

func severityStyle(s departures.Severity) tcell.Style {
	switch s {
	case departures.Late, departures.Cancelled:
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	case departures.Early:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorLightGreen)
	}
}

// Terminal is the live full-screen board. It reads key presses for the
// loop and draws each frame it is handed.
type Terminal struct {
	screen tcell.Screen
	events chan tcell.Event
	quit   chan struct{}
	once   sync.Once
}

// NewTerminal takes over the terminal: alternate screen, raw input, hidden cursor.
// Close must be called to give it back.
func NewTerminal() (*Terminal, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	return newTerminal(screen), nil
}

// newTerminal wraps an initialised screen.
func newTerminal(screen tcell.Screen) *Terminal {
	screen.HideCursor()
	screen.Clear()

	t := &Terminal{
		screen: screen,
		events: make(chan tcell.Event, 16),
		quit:   make(chan struct{}),
	}
	go screen.ChannelEvents(t.events, t.quit)
	return t
}

// Close restores the terminal.
func (t *Terminal) Close() {
	t.once.Do(func() {
		close(t.quit)
		t.screen.Fini()
	})
}

// Poll implements board.Input.
func (t *Terminal) Poll(ctx context.Context, timeout time.Duration) (board.Command, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return board.CommandNone, ctx.Err()
	case <-timer.C:
		return board.CommandNone, nil
	case ev, ok := <-t.events:
		if !ok {
			return board.CommandNone, errScreenClosed
		}
		return t.handle(ev), nil
	}
}

func (t *Terminal) handle(ev tcell.Event) board.Command {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		t.screen.Sync()
	case *tcell.EventKey:
		// Raw mode swallows SIGINT, so Ctrl+C has to be handled here
		if ev.Key() == tcell.KeyCtrlC {
			return board.CommandQuit
		}
		if ev.Key() != tcell.KeyRune {
			return board.CommandNone
		}
		switch ev.Rune() {
		case 'q', 'Q':
			return board.CommandQuit
		case 'n', 'N':
			return board.CommandNext
		}
	}
	return board.CommandNone
}

// Render implements board.Renderer.
func (t *Terminal) Render(rows []departures.Row, metadata string) {
	t.screen.Clear()
	width, height := t.screen.Size()

	headerHeight := max(3, height/10)
	drawBox(t.screen, 0, 0, width, headerHeight, headerBorderStyle)
	drawCentered(t.screen, 1, (headerHeight-1)/2, width-2, metadata, headerTextStyle)

	x := columnOffsets(width)
	y := headerHeight
	for i, title := range columnTitles {
		drawText(t.screen, x[i], y, x[i+1]-x[i]-1, title, tableHeaderStyle)
	}
	// One blank line below the table header
	y += 2

	for _, row := range rows {
		if y >= height {
			break
		}
		drawText(t.screen, x[0], y, x[1]-x[0]-1, row.Line, lineStyle)
		drawText(t.screen, x[1], y, x[2]-x[1]-1, row.Destination, cellStyle)
		drawText(t.screen, x[2], y, x[3]-x[2]-1, row.Wait, cellStyle)
		drawText(t.screen, x[3], y, x[4]-x[3], row.Delay, severityStyle(row.Severity))
		y++
	}

	t.screen.Show()
}

// columnOffsets returns the start column of each table column plus the right edge.
func columnOffsets(width int) [5]int {
	var x [5]int
	for i, pct := range columnPercents {
		x[i+1] = x[i] + width*pct/100
	}
	x[4] = width
	return x
}

// drawText writes text into at most width cells. Wide runes take two cells and
// combining runes attach to the cell before them.
func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	col := 0
	var (
		last  rune
		combc []rune
	)
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			if col > 0 {
				combc = append(combc, r)
				screen.SetContent(x+col-runewidth.RuneWidth(last), y, last, combc, style)
			}
			continue
		}
		if col+w > width {
			return
		}
		screen.SetContent(x+col, y, r, nil, style)
		last, combc = r, nil
		col += w
	}
}

func drawCentered(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	text = runewidth.Truncate(text, max(0, width), "")
	drawText(screen, x+(width-runewidth.StringWidth(text))/2, y, width, text, style)
}

func drawBox(screen tcell.Screen, x, y, width, height int, style tcell.Style) {
	if width < 2 || height < 2 {
		return
	}
	right, bottom := x+width-1, y+height-1
	for col := x + 1; col < right; col++ {
		screen.SetContent(col, y, tcell.RuneHLine, nil, style)
		screen.SetContent(col, bottom, tcell.RuneHLine, nil, style)
	}
	for row := y + 1; row < bottom; row++ {
		screen.SetContent(x, row, tcell.RuneVLine, nil, style)
		screen.SetContent(right, row, tcell.RuneVLine, nil, style)
	}
	screen.SetContent(x, y, tcell.RuneULCorner, nil, style)
	screen.SetContent(right, y, tcell.RuneURCorner, nil, style)
	screen.SetContent(x, bottom, tcell.RuneLLCorner, nil, style)
	screen.SetContent(right, bottom, tcell.RuneLRCorner, nil, style)
}
