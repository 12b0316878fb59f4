package exporter

import (
	"fmt"
	"io"
	"time"

	"abfahrt/pkg/departures"

	ics "github.com/arran4/golang-ical"
)

// eventLength is how long each departure occupies in a calendar
const eventLength = 5 * time.Minute

// Station pairs a station with the departures fetched for it.
type Station struct {
	ID         string
	Name       string
	Departures []departures.Departure
}

// GenerateICS writes one event per departure of every station to w. Cancelled
// departures have no time to place them at and are left out.
func GenerateICS(stations []Station, w io.Writer) error {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//abfahrt//departures//EN")

	now := time.Now()

	for _, st := range stations {
		for i, d := range st.Departures {
			if d.Cancelled || d.When.IsZero() {
				continue
			}

			event := cal.AddEvent(fmt.Sprintf("%s-%s-%d@abfahrt", st.ID, d.PlannedWhen.UTC().Format("20060102T150405Z"), i))
			event.SetCreatedTime(now)
			event.SetDtStampTime(now)
			event.SetModifiedAt(now)
			event.SetStartAt(d.When)
			event.SetEndAt(d.When.Add(eventLength))
			event.SetSummary(fmt.Sprintf("%s → %s", d.Line, d.Destination))
			event.SetLocation(st.Name)
			event.SetDescription(describe(d))
		}
	}

	return cal.SerializeTo(w)
}

func describe(d departures.Departure) string {
	planned := d.PlannedWhen.Format("15:04")
	switch departures.Classify(d.DelayMinutes) {
	case departures.Late:
		return fmt.Sprintf("Planned %s, %d min late", planned, d.DelayMinutes)
	case departures.Early:
		return fmt.Sprintf("Planned %s, %d min early", planned, -d.DelayMinutes)
	}
	return fmt.Sprintf("Planned %s, on time", planned)
}
