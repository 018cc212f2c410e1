package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/lembremed/lembremed/internal/alarm"
	"github.com/lembremed/lembremed/internal/model"
	"github.com/lembremed/lembremed/internal/occurrence"
	"github.com/lembremed/lembremed/internal/store"
)

// RecordStore is the slice of the record store the dispatcher and action
// handler need. Implemented by [store.Store].
type RecordStore interface {
	GetByID(ctx context.Context, id int64) (*store.Record, error)
	Update(ctx context.Context, rec *store.Record) error
}

// RemoteStore is the slice of the remote client the dispatcher and action
// handler need. Implemented by [remote.Client].
type RemoteStore interface {
	Medicine(ctx context.Context, id string) (*model.Medicine, error)
	UpdateMedicineStock(ctx context.Context, id string, stock float64) error
	ConfirmSource(ctx context.Context, kind model.SourceKind, id string) error
}

// Scheduler re-arms records after a fire. Implemented by [alarm.Scheduler].
type Scheduler interface {
	Arm(ctx context.Context, rec *store.Record) (time.Time, error)
	Cancel(id int64)
}

// handleTimeout bounds one wake-up's store and network work.
const handleTimeout = time.Minute

// Dispatcher handles fired wake-ups: it decides whether the reminder still
// applies, shows it, and re-arms the following occurrence. A crashed
// dispatcher silently breaks every future reminder, so HandleWakeup never
// panics and never propagates errors.
type Dispatcher struct {
	records  RecordStore
	remote   RemoteStore
	sched    Scheduler
	notifier Notifier
	log      *slog.Logger
	loc      *time.Location
}

// NewDispatcher creates a Dispatcher. Bind its HandleWakeup to the alarm
// facility.
func NewDispatcher(records RecordStore, remote RemoteStore, sched Scheduler, notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		records:  records,
		remote:   remote,
		sched:    sched,
		notifier: notifier,
		log:      logger,
		loc:      time.Local,
	}
}

// HandleWakeup processes one fired wake-up. It is the alarm facility
// callback and runs free-threaded relative to the rest of the daemon.
func (d *Dispatcher) HandleWakeup(p alarm.Payload) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher panic recovered", "record_id", p.RecordID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	rec, err := d.records.GetByID(ctx, p.RecordID)
	if err != nil {
		d.log.Error("loading record for wakeup", "record_id", p.RecordID, "error", err)
		return
	}
	if rec == nil || !rec.Active {
		// Record deleted or deactivated after the wake-up was armed.
		d.log.Debug("wakeup for absent record ignored", "record_id", p.RecordID)
		return
	}

	if rec.SourceKind == model.SourceMedicine {
		if done := d.checkMedicine(ctx, rec); done {
			return
		}
	}

	if err := d.notifier.Show(ctx, render(rec)); err != nil {
		// Denied display must never stop reminders from being tracked;
		// re-arming below still happens.
		d.log.Warn("notification delivery failed", "record_id", rec.ID, "error", err)
	}

	if !rec.Slot.Recurring() {
		// Pre-event, post-event and expiry slots fire exactly once.
		rec.Active = false
		if err := d.records.Update(ctx, rec); err != nil {
			d.log.Error("retiring one-shot record", "record_id", rec.ID, "error", err)
		}
		return
	}

	// The advanced trigger is written back before arming, so the next fire
	// and a restarted daemon both see the occurrence that was actually armed.
	rec.NextTrigger = d.followingOccurrence(rec)
	if err := d.records.Update(ctx, rec); err != nil {
		d.log.Error("persisting advanced trigger", "record_id", rec.ID, "error", err)
	}
	if _, err := d.sched.Arm(ctx, rec); err != nil {
		d.log.Error("re-arming record after fire", "record_id", rec.ID, "error", err)
	}
}

// checkMedicine enforces the treatment window and remote liveness for a
// medicine record at fire time. Window enforcement is deliberately deferred
// to fire time: duration and activation may have changed since scheduling.
// Returns true when the wake-up is fully handled (no notification, no re-arm).
func (d *Dispatcher) checkMedicine(ctx context.Context, rec *store.Record) bool {
	med, err := d.remote.Medicine(ctx, rec.SourceID)
	if err != nil {
		// A transient remote failure must not silence a dose reminder.
		d.log.Warn("loading medicine at fire time", "source_id", rec.SourceID, "error", err)
		return false
	}
	if med == nil || !med.WantsReminders() {
		d.log.Info("medicine gone or alarms disabled, deactivating record",
			"record_id", rec.ID, "source_id", rec.SourceID)
		d.deactivate(ctx, rec)
		return true
	}

	end, finite, err := med.TreatmentEnd(d.loc)
	if err != nil {
		d.log.Warn("computing treatment end", "source_id", rec.SourceID, "error", err)
		return false
	}
	if finite && !rec.NextTrigger.Before(end) {
		d.log.Info("treatment window elapsed, deactivating record",
			"record_id", rec.ID, "source_id", rec.SourceID, "window_end", end)
		d.deactivate(ctx, rec)
		return true
	}
	return false
}

func (d *Dispatcher) deactivate(ctx context.Context, rec *store.Record) {
	rec.Active = false
	if err := d.records.Update(ctx, rec); err != nil {
		d.log.Error("deactivating record", "record_id", rec.ID, "error", err)
	}
	d.sched.Cancel(rec.ID)
}

// followingOccurrence advances a recurring record by one period: daily slots
// move one calendar day (wall clock preserved), interval slots one interval.
func (d *Dispatcher) followingOccurrence(rec *store.Record) time.Time {
	if rec.IntervalHours > 0 {
		return rec.NextTrigger.Add(time.Duration(rec.IntervalHours) * time.Hour)
	}
	fired := rec.NextTrigger.In(d.loc)
	return occurrence.NextDaily(rec.Hour, rec.Minute, fired, fired)
}
