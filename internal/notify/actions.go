package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lembremed/lembremed/internal/occurrence"
)

// Actions processes user interaction with delivered notifications. Remote
// mutations are attempted first; the local record is only advanced once the
// remote side accepted the change, so a failed attempt can be retried by the
// next interaction or sync pass. There is no transaction across the two
// stores — best effort by design.
type Actions struct {
	records RecordStore
	remote  RemoteStore
	sched   Scheduler
	log     *slog.Logger
	loc     *time.Location
}

// NewActions creates the action handler.
func NewActions(records RecordStore, remote RemoteStore, sched Scheduler, logger *slog.Logger) *Actions {
	return &Actions{
		records: records,
		remote:  remote,
		sched:   sched,
		log:     logger,
		loc:     time.Local,
	}
}

// Handle dispatches a notification action by identifier.
func (a *Actions) Handle(ctx context.Context, actionID string, recordID int64) error {
	switch actionID {
	case ActionTaken:
		return a.DoseTaken(ctx, recordID)
	case ActionConfirm:
		return a.Confirm(ctx, recordID)
	default:
		return fmt.Errorf("unknown notification action %q", actionID)
	}
}

// DoseTaken records a taken dose: the medicine's stock is decremented
// remotely (clamped at zero) and the record advances one period. A missing
// record or medicine is a benign no-op.
func (a *Actions) DoseTaken(ctx context.Context, recordID int64) error {
	rec, err := a.records.GetByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("loading record %d: %w", recordID, err)
	}
	if rec == nil {
		a.log.Debug("taken action for absent record ignored", "record_id", recordID)
		return nil
	}

	med, err := a.remote.Medicine(ctx, rec.SourceID)
	if err != nil {
		a.log.Error("loading medicine for taken action", "source_id", rec.SourceID, "error", err)
		return err
	}
	if med != nil {
		stock := med.Stock - rec.DoseQuantity
		if stock < 0 {
			stock = 0
		}
		if err := a.remote.UpdateMedicineStock(ctx, med.ID, stock); err != nil {
			// Remote failed: leave the record untouched so the decrement can
			// be re-attempted.
			a.log.Error("updating stock", "source_id", med.ID, "error", err)
			return err
		}
	}

	if rec.Slot.Recurring() && rec.Active {
		if rec.IntervalHours > 0 {
			rec.NextTrigger = rec.NextTrigger.Add(time.Duration(rec.IntervalHours) * time.Hour)
		} else {
			base := rec.NextTrigger.In(a.loc)
			rec.NextTrigger = occurrence.NextDaily(rec.Hour, rec.Minute, base, base)
		}
		if err := a.records.Update(ctx, rec); err != nil {
			return fmt.Errorf("persisting record %d: %w", rec.ID, err)
		}
		if _, err := a.sched.Arm(ctx, rec); err != nil {
			return fmt.Errorf("re-arming record %d: %w", rec.ID, err)
		}
	}
	return nil
}

// Confirm records an attendance/renewal confirmation: the source is marked
// remotely and the one-shot record is deactivated. No re-arming.
func (a *Actions) Confirm(ctx context.Context, recordID int64) error {
	rec, err := a.records.GetByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("loading record %d: %w", recordID, err)
	}
	if rec == nil {
		a.log.Debug("confirm action for absent record ignored", "record_id", recordID)
		return nil
	}

	if err := a.remote.ConfirmSource(ctx, rec.SourceKind, rec.SourceID); err != nil {
		a.log.Error("confirming source", "source_id", rec.SourceID, "error", err)
		return err
	}

	rec.Active = false
	if err := a.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("deactivating record %d: %w", rec.ID, err)
	}
	a.sched.Cancel(rec.ID)
	return nil
}
