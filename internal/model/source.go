// Package model defines the shared types used across the sync engine, the
// reminder store, and the remote client: the four reminder source kinds and
// the logical slot taxonomy derived from them.
package model

import (
	"fmt"
	"time"
)

// Layouts used by the remote store for date and clock fields.
const (
	DateLayout  = "02/01/2006"
	ClockLayout = "15:04"
)

// ContinuousDuration marks a treatment with no end date.
const ContinuousDuration = -1

// Medicine frequency modes as stored remotely.
const (
	FrequencyTimesPerDay = "vezes_dia"
	FrequencyInterval    = "intervalo"
)

// SourceKind identifies which remote collection a source belongs to.
type SourceKind string

const (
	SourceMedicine     SourceKind = "medicine"
	SourceConsultation SourceKind = "consultation"
	SourceVaccine      SourceKind = "vaccine"
	SourceRecipe       SourceKind = "recipe"
)

// Slot identifies a logical reminder position within a source. A source owns
// at most one live reminder record per slot.
type Slot string

const (
	// SlotDose is a daily fixed time-of-day dose reminder. Recurring.
	SlotDose Slot = "dose"
	// SlotInterval is the head of a fixed-interval dose chain. Recurring.
	SlotInterval Slot = "interval"
	// SlotPre24h fires 24 hours before a consultation or vaccine. One-shot.
	SlotPre24h Slot = "pre_24h"
	// SlotPre2h fires 2 hours before a consultation or vaccine. One-shot.
	SlotPre2h Slot = "pre_2h"
	// SlotPostEvent asks for attendance confirmation after the event. One-shot.
	SlotPostEvent Slot = "post_event"
	// SlotExpiry3d, SlotExpiry1d and SlotExpiryDay warn about an approaching
	// recipe validity date. One-shot.
	SlotExpiry3d  Slot = "expiry_3d"
	SlotExpiry1d  Slot = "expiry_1d"
	SlotExpiryDay Slot = "expiry_day"
	// SlotExpiryAfter asks for renewal confirmation after expiry. One-shot.
	SlotExpiryAfter Slot = "expiry_after"
)

// Recurring reports whether a slot re-arms itself after firing. Everything
// except the two medicine slots fires exactly once.
func (s Slot) Recurring() bool {
	return s == SlotDose || s == SlotInterval
}

// Source is the capability shared by the four reminder source kinds.
type Source interface {
	SourceID() string
	Owner() string
	Kind() SourceKind
	// WantsReminders reports whether the source currently wants live
	// reminders (deleted/confirmed sources and toggled-off alarms don't).
	WantsReminders() bool
}

// Medicine is a remotely stored medicine with its treatment schedule.
type Medicine struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name"`
	Recipient string `json:"recipient"`

	// Dose is the free-text dose label ("50mg"); DoseQuantity is the number
	// of stock units consumed per intake.
	Dose         string  `json:"dose"`
	DoseQuantity float64 `json:"doseQuantity"`
	Stock        float64 `json:"stock"`

	// Frequency selects the schedule mode: FrequencyTimesPerDay uses Times,
	// FrequencyInterval uses StartTime + IntervalHours.
	Frequency     string   `json:"frequency"`
	Times         []string `json:"times,omitempty"`
	StartDate     string   `json:"startDate"`
	StartTime     string   `json:"startTime,omitempty"`
	IntervalHours int      `json:"intervalHours,omitempty"`

	// DurationDays is the treatment length in days, inclusive of the start
	// day. ContinuousDuration means no end date.
	DurationDays int `json:"durationDays"`

	AlarmsEnabled bool `json:"alarmsEnabled"`
}

func (m *Medicine) SourceID() string     { return m.ID }
func (m *Medicine) Owner() string        { return m.OwnerID }
func (m *Medicine) Kind() SourceKind     { return SourceMedicine }
func (m *Medicine) WantsReminders() bool { return m.AlarmsEnabled }

// Start returns the treatment start date parsed in loc.
func (m *Medicine) Start(loc *time.Location) (time.Time, error) {
	return ParseDate(m.StartDate, loc)
}

// TreatmentEnd returns the instant the treatment window closes: midnight
// after the last treatment day. ok is false for continuous treatments.
func (m *Medicine) TreatmentEnd(loc *time.Location) (end time.Time, ok bool, err error) {
	if m.DurationDays <= 0 {
		return time.Time{}, false, nil
	}
	start, err := m.Start(loc)
	if err != nil {
		return time.Time{}, false, err
	}
	// Calendar-day addition keeps the cutoff at local midnight across DST.
	end = time.Date(start.Year(), start.Month(), start.Day()+m.DurationDays, 0, 0, 0, 0, loc)
	return end, true, nil
}

// Consultation is a remotely stored medical appointment.
type Consultation struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Specialty string `json:"specialty"`
	Doctor    string `json:"doctor"`
	Location  string `json:"location"`
	Recipient string `json:"recipient"`

	Date string `json:"date"` // DateLayout
	Time string `json:"time"` // ClockLayout

	Attended bool `json:"attended"`
	Active   bool `json:"active"`
}

func (c *Consultation) SourceID() string     { return c.ID }
func (c *Consultation) Owner() string        { return c.OwnerID }
func (c *Consultation) Kind() SourceKind     { return SourceConsultation }
func (c *Consultation) WantsReminders() bool { return c.Active && !c.Attended }

// At returns the appointment instant in loc.
func (c *Consultation) At(loc *time.Location) (time.Time, error) {
	return ParseDateTime(c.Date, c.Time, loc)
}

// Vaccine is a remotely stored vaccination appointment.
type Vaccine struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name"`
	Recipient string `json:"recipient"`
	Location  string `json:"location"`

	Date string `json:"date"`
	Time string `json:"time"`

	Applied bool `json:"applied"`
	Active  bool `json:"active"`
}

func (v *Vaccine) SourceID() string     { return v.ID }
func (v *Vaccine) Owner() string        { return v.OwnerID }
func (v *Vaccine) Kind() SourceKind     { return SourceVaccine }
func (v *Vaccine) WantsReminders() bool { return v.Active && !v.Applied }

// At returns the vaccination instant in loc.
func (v *Vaccine) At(loc *time.Location) (time.Time, error) {
	return ParseDateTime(v.Date, v.Time, loc)
}

// Recipe is a remotely stored prescription with a validity date.
type Recipe struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Medicine  string `json:"medicine"`
	Recipient string `json:"recipient"`

	Validity string `json:"validity"` // DateLayout

	Active bool `json:"active"`
}

func (r *Recipe) SourceID() string     { return r.ID }
func (r *Recipe) Owner() string        { return r.OwnerID }
func (r *Recipe) Kind() SourceKind     { return SourceRecipe }
func (r *Recipe) WantsReminders() bool { return r.Active }

// ValidUntil returns the validity date at local midnight.
func (r *Recipe) ValidUntil(loc *time.Location) (time.Time, error) {
	return ParseDate(r.Validity, loc)
}

// ParseDate parses a DateLayout string into loc at midnight.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// ParseClock parses a ClockLayout string into hour and minute components.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing clock %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseDateTime combines a DateLayout date and ClockLayout time in loc.
func ParseDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}
