package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lembremed/lembremed/internal/model"
	"github.com/lembremed/lembremed/internal/occurrence"
	"github.com/lembremed/lembremed/internal/store"
)

// Stats tracks the number of mutations performed in a single reconcile pass.
type Stats struct {
	Created int // records inserted for newly tracked sources
	Removed int // sources whose records were dropped
	Skipped int // sources already tracked and left untouched
	Errors  int
}

// Options carries the schedule knobs the reconciler needs.
type Options struct {
	// ReminderHour is the local hour recipe expiry reminders fire at.
	ReminderHour int
	// ConfirmAfterHours is how long after an appointment the attendance
	// confirmation fires.
	ConfirmAfterHours int
	// Location resolves wall-clock schedules. Defaults to time.Local.
	Location *time.Location
}

// Reconciler performs a single reconcile pass for one owner. It is stateless
// between calls — all persistent state lives in the [RecordStore].
//
// A source that already has records is left alone: its live records are the
// authority on schedule progress, and rebuilding them would reset interval
// chains and resurrect dismissed one-shots. Records change only when the
// source appears, disappears, or stops wanting reminders.
type Reconciler struct {
	remote  RemoteSource
	records RecordStore
	sched   Scheduler
	opts    Options
	log     *slog.Logger

	now func() time.Time
}

// NewReconciler creates a Reconciler wired to the given remote source, record
// store and scheduler.
func NewReconciler(remote RemoteSource, records RecordStore, sched Scheduler, opts Options, logger *slog.Logger) *Reconciler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Reconciler{
		remote:  remote,
		records: records,
		sched:   sched,
		opts:    opts,
		log:     logger,
		now:     time.Now,
	}
}

// Run performs a full reconcile pass for the owner. It returns aggregate
// statistics and the first error encountered (the pass continues past
// individual source errors to maximise progress).
func (r *Reconciler) Run(ctx context.Context, owner string) (Stats, error) {
	var stats Stats
	var firstErr error

	collect := func(s Stats, err error) {
		stats.Created += s.Created
		stats.Removed += s.Removed
		stats.Skipped += s.Skipped
		stats.Errors += s.Errors
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	meds, err := r.remote.Medicines(ctx, owner)
	if err != nil {
		return stats, fmt.Errorf("fetching medicines: %w", err)
	}
	sources := make([]model.Source, 0, len(meds))
	for _, m := range meds {
		sources = append(sources, m)
	}
	collect(r.reconcileKind(ctx, model.SourceMedicine, sources))

	cons, err := r.remote.Consultations(ctx, owner)
	if err != nil {
		return stats, fmt.Errorf("fetching consultations: %w", err)
	}
	sources = sources[:0]
	for _, c := range cons {
		sources = append(sources, c)
	}
	collect(r.reconcileKind(ctx, model.SourceConsultation, sources))

	vacs, err := r.remote.Vaccines(ctx, owner)
	if err != nil {
		return stats, fmt.Errorf("fetching vaccines: %w", err)
	}
	sources = sources[:0]
	for _, v := range vacs {
		sources = append(sources, v)
	}
	collect(r.reconcileKind(ctx, model.SourceVaccine, sources))

	recs, err := r.remote.Recipes(ctx, owner)
	if err != nil {
		return stats, fmt.Errorf("fetching recipes: %w", err)
	}
	sources = sources[:0]
	for _, rc := range recs {
		sources = append(sources, rc)
	}
	collect(r.reconcileKind(ctx, model.SourceRecipe, sources))

	r.log.Info("reconcile complete",
		"created", stats.Created,
		"removed", stats.Removed,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)

	return stats, firstErr
}

// reconcileKind reconciles one source kind: tracks new sources, drops sources
// that vanished or stopped wanting reminders, skips the rest.
func (r *Reconciler) reconcileKind(ctx context.Context, kind model.SourceKind, sources []model.Source) (Stats, error) {
	var stats Stats
	var firstErr error

	fail := func(err error) {
		stats.Errors++
		if firstErr == nil {
			firstErr = err
		}
	}

	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		id := src.SourceID()
		if id == "" {
			// Half-created remote document; the next pass will pick it up.
			continue
		}
		seen[id] = true

		existing, err := r.records.GetBySourceID(ctx, id)
		if err != nil {
			r.log.Error("loading records for source", "source_id", id, "error", err)
			fail(err)
			continue
		}

		if !src.WantsReminders() {
			if len(existing) > 0 {
				if err := r.dropSource(ctx, id, existing); err != nil {
					fail(err)
					continue
				}
				stats.Removed++
			}
			continue
		}

		if len(existing) > 0 {
			stats.Skipped++
			continue
		}

		n, err := r.track(ctx, src)
		if err != nil {
			r.log.Error("tracking source", "kind", kind, "source_id", id, "error", err)
			fail(err)
			continue
		}
		stats.Created += n
	}

	// Sources tracked locally but gone remotely: deletions.
	tracked, err := r.records.TrackedSourceIDs(ctx, kind)
	if err != nil {
		return stats, fmt.Errorf("listing tracked %s sources: %w", kind, err)
	}
	for _, id := range tracked {
		if seen[id] {
			continue
		}
		r.log.Info("source deleted remotely, dropping records", "kind", kind, "source_id", id)
		existing, err := r.records.GetBySourceID(ctx, id)
		if err != nil {
			fail(err)
			continue
		}
		if err := r.dropSource(ctx, id, existing); err != nil {
			fail(err)
			continue
		}
		stats.Removed++
	}

	return stats, firstErr
}

// track builds and arms the records for a newly seen source. All records are
// inserted before any wake-up is armed, so a fire during tracking always
// finds its record. Returns the number of records created.
func (r *Reconciler) track(ctx context.Context, src model.Source) (int, error) {
	recs, err := r.build(src)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if err := r.records.Insert(ctx, rec); err != nil {
			return 0, fmt.Errorf("inserting %s record: %w", rec.Slot, err)
		}
	}
	for _, rec := range recs {
		if _, err := r.sched.Arm(ctx, rec); err != nil {
			return 0, fmt.Errorf("arming %s record: %w", rec.Slot, err)
		}
	}
	return len(recs), nil
}

// dropSource cancels and deletes every record of a source.
func (r *Reconciler) dropSource(ctx context.Context, sourceID string, recs []*store.Record) error {
	for _, rec := range recs {
		r.sched.Cancel(rec.ID)
	}
	if err := r.records.DeleteBySourceID(ctx, sourceID); err != nil {
		return fmt.Errorf("deleting records for %s: %w", sourceID, err)
	}
	return nil
}

// build materialises the reminder records for a source. Only future triggers
// are produced; offsets already past are omitted, never backfilled.
func (r *Reconciler) build(src model.Source) ([]*store.Record, error) {
	now := r.now().In(r.opts.Location)

	switch s := src.(type) {
	case *model.Medicine:
		return r.buildMedicine(s, now)
	case *model.Consultation:
		at, err := s.At(r.opts.Location)
		if err != nil {
			return nil, fmt.Errorf("parsing consultation time: %w", err)
		}
		offsets := occurrence.EventOffsets(at, r.opts.ConfirmAfterHours, now)
		return r.offsetRecords(src, s.Specialty, s.Recipient, s.Location, offsets), nil
	case *model.Vaccine:
		at, err := s.At(r.opts.Location)
		if err != nil {
			return nil, fmt.Errorf("parsing vaccine time: %w", err)
		}
		offsets := occurrence.EventOffsets(at, r.opts.ConfirmAfterHours, now)
		return r.offsetRecords(src, s.Name, s.Recipient, s.Location, offsets), nil
	case *model.Recipe:
		validity, err := s.ValidUntil(r.opts.Location)
		if err != nil {
			return nil, fmt.Errorf("parsing recipe validity: %w", err)
		}
		offsets := occurrence.ExpiryOffsets(validity, r.opts.ReminderHour, now)
		return r.offsetRecords(src, s.Medicine, s.Recipient, "", offsets), nil
	default:
		return nil, fmt.Errorf("unknown source type %T", src)
	}
}

// buildMedicine produces the dose records for a medicine: one per configured
// time-of-day, or a single record heading the interval chain.
func (r *Reconciler) buildMedicine(med *model.Medicine, now time.Time) ([]*store.Record, error) {
	switch med.Frequency {
	case model.FrequencyTimesPerDay:
		recs := make([]*store.Record, 0, len(med.Times))
		for _, clock := range med.Times {
			h, m, err := model.ParseClock(clock)
			if err != nil {
				return nil, fmt.Errorf("parsing dose time %q: %w", clock, err)
			}
			first, err := occurrence.DailyFirst(clock, med.StartDate, now)
			if err != nil {
				return nil, err
			}
			recs = append(recs, &store.Record{
				SourceID:     med.ID,
				SourceKind:   model.SourceMedicine,
				Slot:         model.SlotDose,
				Label:        med.Name,
				Recipient:    med.Recipient,
				Note:         med.Dose,
				DoseQuantity: med.DoseQuantity,
				Hour:         h,
				Minute:       m,
				NextTrigger:  first.UTC(),
				Active:       true,
			})
		}
		return recs, nil

	case model.FrequencyInterval:
		chain, err := occurrence.IntervalChain(med.StartDate, med.StartTime, med.IntervalHours, med.DurationDays, r.opts.Location)
		if err != nil {
			return nil, err
		}
		if len(chain) == 0 {
			return nil, nil
		}
		first := chain[0]
		for _, t := range chain {
			if t.After(now) {
				first = t
				break
			}
		}
		if !first.After(now) {
			// The whole initial cycle is in the past; resume the chain at
			// its next phase-preserving occurrence.
			first = occurrence.NextIntervalAfter(chain[0], med.IntervalHours, now)
		}
		return []*store.Record{{
			SourceID:      med.ID,
			SourceKind:    model.SourceMedicine,
			Slot:          model.SlotInterval,
			Label:         med.Name,
			Recipient:     med.Recipient,
			Note:          med.Dose,
			DoseQuantity:  med.DoseQuantity,
			Hour:          chain[0].Hour(),
			Minute:        chain[0].Minute(),
			IntervalHours: med.IntervalHours,
			NextTrigger:   first.UTC(),
			Active:        true,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown medicine frequency %q", med.Frequency)
	}
}

// offsetRecords turns one-shot offsets into records sharing the source's
// display fields.
func (r *Reconciler) offsetRecords(src model.Source, label, recipient, note string, offsets []occurrence.Offset) []*store.Record {
	recs := make([]*store.Record, 0, len(offsets))
	for _, off := range offsets {
		local := off.At.In(r.opts.Location)
		recs = append(recs, &store.Record{
			SourceID:    src.SourceID(),
			SourceKind:  src.Kind(),
			Slot:        off.Slot,
			Label:       label,
			Recipient:   recipient,
			Note:        note,
			Hour:        local.Hour(),
			Minute:      local.Minute(),
			NextTrigger: off.At.UTC(),
			Active:      true,
		})
	}
	return recs
}
