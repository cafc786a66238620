package ics

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
)

// ErrEmptyCalendar is returned for an empty payload.
var ErrEmptyCalendar = errors.New("ics: empty calendar")

// ParsedEvent is the subset of a VEVENT the importer looks at.
type ParsedEvent struct {
	UID      string
	Summary  string
	Kind     string
	Period   int
	Start    time.Time
	AllDay   bool
	RawRRule string
}

// ParseEvents reads every VEVENT of body. Times without a zone are read in
// loc. Events that cannot be read are logged and skipped.
func ParseEvents(body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyCalendar
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentProperty(PropKind)); p != nil {
		out.Kind = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentProperty(PropPeriod)); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Period = n
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, err := parseICSTime(dtStart.Value, tzidLocation(dtStart.ICalParameters, loc))
	if err != nil {
		return out, err
	}
	out.Start = start
	out.AllDay = !strings.Contains(dtStart.Value, "T")
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	return out, nil
}

var periodPrefix = regexp.MustCompile(`^\s*(\d+)\s*교시\s*`)

// ParseOverrides reads weekly timetable events back into manual overrides.
// The weekday comes from DTSTART; the period comes from X-TODAYWHAT-PERIOD
// or a leading "N교시" in the summary. Meal events are ignored.
func ParseOverrides(body []byte, loc *time.Location) ([]model.ManualOverride, error) {
	events, err := ParseEvents(body, loc)
	if err != nil {
		return nil, err
	}

	out := make([]model.ManualOverride, 0)
	for _, ev := range events {
		if ev.Kind == kindMeal {
			continue
		}
		if ev.RawRRule != "" && !strings.Contains(strings.ToUpper(ev.RawRRule), "FREQ=WEEKLY") {
			continue
		}
		content := ev.Summary
		period := ev.Period
		if m := periodPrefix.FindStringSubmatch(content); m != nil {
			if period == 0 {
				period, _ = strconv.Atoi(m[1])
			}
			content = content[len(m[0]):]
		}
		if period < 1 {
			appLog.Debug("ics event without period skipped", "uid", ev.UID)
			continue
		}
		out = append(out, model.ManualOverride{
			ID:      strings.TrimSuffix(ev.UID, uidDomain),
			Weekday: schedule.Weekday(ev.Start),
			Period:  period,
			Content: strings.TrimSpace(content),
		})
	}
	return out, nil
}

func tzidLocation(params map[string][]string, fallback *time.Location) *time.Location {
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return fallback
}

// parseICSTime parses a DATE or DATE-TIME value into loc. UTC values are
// converted; floating values and dates are read as loc wall time.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation(dateLayout, v, loc)
}
