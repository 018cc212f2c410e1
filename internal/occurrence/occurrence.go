// Package occurrence computes future trigger instants for reminder sources.
// All functions are pure: they take schedule parameters and a reference
// instant and return timestamps, without touching stores or timers.
//
// Day arithmetic is always done by calendar field in the reference instant's
// location, so a daily slot keeps its wall-clock hour across DST transitions.
package occurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/lembremed/lembremed/internal/model"
)

// continuousWindowDays bounds interval expansion for treatments without an
// end date. Continuous chains are kept alive by fire-time re-arming and the
// engine's maintenance sweep, not by expanding to infinity.
const continuousWindowDays = 30

// Offset is a one-shot slot produced for event- or expiry-based sources.
type Offset struct {
	Slot model.Slot
	At   time.Time
}

// DailyFirst returns the first future occurrence of a daily time-of-day slot.
// The clock is combined with today's date (or the start date, when it is
// still ahead) and rolled forward one calendar day while not strictly after
// now.
func DailyFirst(clock, startDate string, now time.Time) (time.Time, error) {
	h, m, err := model.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	base := now
	if startDate != "" {
		start, err := model.ParseDate(startDate, now.Location())
		if err != nil {
			return time.Time{}, err
		}
		if start.After(now) {
			base = start
		}
	}

	return NextDaily(h, m, base, now), nil
}

// NextDaily returns the instant of the hour:minute wall clock on base's day,
// rolled forward one calendar day at a time until strictly after `after`.
func NextDaily(hour, minute int, base, after time.Time) time.Time {
	loc := after.Location()
	t := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, loc)
	for !t.After(after) {
		t = time.Date(t.Year(), t.Month(), t.Day()+1, hour, minute, 0, 0, loc)
	}
	return t
}

// IntervalChain expands a fixed-interval dose chain into its initial cycle:
// start, start+interval, start+2·interval, … stopping at the first repeat of
// the starting wall-clock slot (lcm(interval, 24) hours after start) or at
// the treatment window end, whichever comes first. Later occurrences are the
// dispatcher's job: the chain record advances by one interval per fire.
//
// The window end is midnight after the last treatment day; continuous
// treatments use a 30-day proxy window.
func IntervalChain(startDate, startClock string, intervalHours, durationDays int, loc *time.Location) ([]time.Time, error) {
	if intervalHours <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", intervalHours)
	}
	start, err := model.ParseDateTime(startDate, startClock, loc)
	if err != nil {
		return nil, err
	}

	end := windowEnd(start, durationDays, loc)
	if cycleEnd := start.Add(time.Duration(lcm(intervalHours, 24)) * time.Hour); cycleEnd.Before(end) {
		end = cycleEnd
	}
	if !start.Before(end) {
		return nil, nil
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.HOURLY,
		Interval: intervalHours,
		Dtstart:  start,
		Until:    end.Add(-time.Second), // Until is inclusive; the window end is not
	})
	if err != nil {
		return nil, fmt.Errorf("building interval rule: %w", err)
	}
	return rule.All(), nil
}

// NextIntervalAfter returns the first chain occurrence strictly after
// `after`. Used both for re-arming after a fire and for healing a chain whose
// stored trigger drifted into the past.
func NextIntervalAfter(chainStart time.Time, intervalHours int, after time.Time) time.Time {
	if chainStart.After(after) {
		return chainStart
	}
	step := time.Duration(intervalHours) * time.Hour
	k := after.Sub(chainStart)/step + 1
	return chainStart.Add(time.Duration(k) * step)
}

// EventOffsets produces the one-shot slots for a single-event source
// (consultation or vaccine): 24 hours before, 2 hours before, and
// confirmAfterHours after the event. Offsets already past are omitted, never
// backfilled.
func EventOffsets(event time.Time, confirmAfterHours int, now time.Time) []Offset {
	candidates := []Offset{
		{Slot: model.SlotPre24h, At: event.Add(-24 * time.Hour)},
		{Slot: model.SlotPre2h, At: event.Add(-2 * time.Hour)},
		{Slot: model.SlotPostEvent, At: event.Add(time.Duration(confirmAfterHours) * time.Hour)},
	}
	return future(candidates, now)
}

// ExpiryOffsets produces the one-shot slots for a recipe validity date:
// 3 days before, 1 day before, day-of, and a renewal confirmation the day
// after, each at reminderHour local. Past offsets are omitted.
func ExpiryOffsets(validity time.Time, reminderHour int, now time.Time) []Offset {
	loc := validity.Location()
	at := func(dayDelta int) time.Time {
		return time.Date(validity.Year(), validity.Month(), validity.Day()+dayDelta, reminderHour, 0, 0, 0, loc)
	}
	candidates := []Offset{
		{Slot: model.SlotExpiry3d, At: at(-3)},
		{Slot: model.SlotExpiry1d, At: at(-1)},
		{Slot: model.SlotExpiryDay, At: at(0)},
		{Slot: model.SlotExpiryAfter, At: at(1)},
	}
	return future(candidates, now)
}

func future(candidates []Offset, now time.Time) []Offset {
	var out []Offset
	for _, c := range candidates {
		if c.At.After(now) {
			out = append(out, c)
		}
	}
	return out
}

func windowEnd(start time.Time, durationDays int, loc *time.Location) time.Time {
	if durationDays > 0 {
		return time.Date(start.Year(), start.Month(), start.Day()+durationDays, 0, 0, 0, 0, loc)
	}
	return start.AddDate(0, 0, continuousWindowDays)
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
