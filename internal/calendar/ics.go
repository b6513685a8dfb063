package calendar

import (
	"errors"
	"fmt"
	"io"

	"github.com/dukerupert/calshare/internal/model"
	"github.com/emersion/go-ical"
)

const productID = "-//calshare//EN"

// ErrNothingToExport is returned for a calendar with no events. An
// iCalendar object must hold at least one component.
var ErrNothingToExport = errors.New("calendar has no events to export")

// EncodeICS writes the calendar's events as an iCalendar stream.
func EncodeICS(w io.Writer, c *model.Calendar) error {
	if len(c.Events) == 0 {
		return ErrNothingToExport
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText("X-WR-CALNAME", c.Name)

	for _, e := range c.Events {
		cal.Children = append(cal.Children, toVEvent(c.ID, e))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode ics: %w", err)
	}
	return nil
}

func toVEvent(calendarID string, e model.Event) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, e.ID+"@"+calendarID)
	ve.Props.SetText(ical.PropSummary, e.Name)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, e.UpdatedAt.UTC())
	ve.Props.SetDateTime(ical.PropCreated, e.CreatedAt.UTC())
	ve.Props.SetDateTime(ical.PropLastModified, e.UpdatedAt.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, e.EndTime.UTC())
	return ve
}
