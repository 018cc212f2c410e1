package alarm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lembremed/lembremed/internal/occurrence"
	"github.com/lembremed/lembremed/internal/store"
)

// RecordStore is the slice of the record store the scheduler needs to
// persist healed triggers. Implemented by [store.Store].
type RecordStore interface {
	Update(ctx context.Context, rec *store.Record) error
}

// Scheduler arms wake-ups for reminder records. It guarantees that every
// registered trigger is strictly in the future: past-due triggers are rolled
// forward for recurring slots and deactivated for one-shot slots, so the
// facility never holds a stale wake-up after a device-off or killed-process
// gap.
type Scheduler struct {
	facility Facility
	records  RecordStore
	log      *slog.Logger
	now      func() time.Time
}

// NewScheduler creates a Scheduler wired to the given facility and record store.
func NewScheduler(facility Facility, records RecordStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		facility: facility,
		records:  records,
		log:      logger,
		now:      time.Now,
	}
}

// Arm registers exactly one wake-up for the record, keyed by its id.
// A second call with the same record replaces the pending wake-up.
//
// Past-due triggers self-heal: daily slots roll forward one calendar day at
// a time, interval slots advance along their chain, and one-shot slots are
// deactivated without arming. A denied exact-alarm capability degrades to
// inexact delivery; facility failures never propagate. The returned time is
// zero when the record ended up deactivated.
func (s *Scheduler) Arm(ctx context.Context, rec *store.Record) (time.Time, error) {
	if !rec.Active {
		s.facility.CancelWakeup(rec.ID)
		return time.Time{}, nil
	}

	now := s.now()
	next := rec.NextTrigger

	if next.IsZero() || !next.After(now) {
		healed, ok := s.heal(rec, now)
		if !ok {
			rec.Active = false
			if err := s.records.Update(ctx, rec); err != nil {
				return time.Time{}, err
			}
			s.facility.CancelWakeup(rec.ID)
			s.log.Info("past-due one-shot deactivated",
				"record_id", rec.ID,
				"slot", rec.Slot,
				"stale_trigger", rec.NextTrigger,
			)
			return time.Time{}, nil
		}
		s.log.Debug("healed past-due trigger",
			"record_id", rec.ID,
			"slot", rec.Slot,
			"from", next,
			"to", healed,
		)
		next = healed
		rec.NextTrigger = next
		if err := s.records.Update(ctx, rec); err != nil {
			return time.Time{}, err
		}
	}

	err := s.facility.ScheduleExactWakeup(rec.ID, next, PayloadFor(rec))
	if errors.Is(err, ErrExactUnavailable) {
		s.log.Warn("exact wakeups denied, degrading to inexact delivery", "record_id", rec.ID)
		s.facility.ScheduleWakeup(rec.ID, next, PayloadFor(rec))
	} else if err != nil {
		s.log.Error("scheduling wakeup", "record_id", rec.ID, "error", err)
	}
	return next, nil
}

// Cancel removes any pending wake-up for the record id. Idempotent.
func (s *Scheduler) Cancel(id int64) {
	s.facility.CancelWakeup(id)
}

// heal computes a future trigger for a record whose stored trigger is not
// strictly after now. ok is false for one-shot slots, which must never be
// armed with a stale timestamp.
func (s *Scheduler) heal(rec *store.Record, now time.Time) (time.Time, bool) {
	switch {
	case rec.Slot.Recurring() && rec.IntervalHours > 0:
		if rec.NextTrigger.IsZero() {
			// No chain position to advance from.
			return time.Time{}, false
		}
		return occurrence.NextIntervalAfter(rec.NextTrigger, rec.IntervalHours, now), true
	case rec.Slot.Recurring():
		return occurrence.NextDaily(rec.Hour, rec.Minute, now, now), true
	default:
		return time.Time{}, false
	}
}
