// Package export renders cached allocation blocks as an iCalendar feed so
// planned work can be overlaid on a regular calendar.
package export

import (
	"fmt"
	"io"
	"time"

	ical "github.com/emersion/go-ical"
	"github.com/mkarlsen/planr/internal/planning"
)

// WriteICal writes one all-week VEVENT per allocation block. Block end
// dates are inclusive, iCalendar DTEND is exclusive, hence the one-day
// shift.
func WriteICal(w io.Writer, blocks []planning.AllocationBlock, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//planr//planr//EN")

	for _, block := range blocks {
		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, block.ID+"@planr")
		event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
		event.Props.SetDateTime(ical.PropDateTimeStart, block.StartDate)
		event.Props.SetDateTime(ical.PropDateTimeEnd, block.EndDate.AddDate(0, 0, 1))
		event.Props.SetText(ical.PropSummary, summaryFor(block))
		event.Props.SetText(ical.PropDescription, descriptionFor(block))
		cal.Children = append(cal.Children, event.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encoding calendar: %w", err)
	}
	return nil
}

func summaryFor(block planning.AllocationBlock) string {
	name := block.ProjectName
	if name == "" {
		name = block.ProjectNumber
	}
	if block.TaskName != "" {
		name += " / " + block.TaskName
	}
	return fmt.Sprintf("%s (%sh/day)", name, block.HoursPerDay)
}

func descriptionFor(block planning.AllocationBlock) string {
	resource := block.ResourceName
	if resource == "" {
		resource = block.ResourceNumber
	}
	return fmt.Sprintf("%s: %s hours planned on %s", resource, block.TotalHours, block.ProjectNumber)
}
