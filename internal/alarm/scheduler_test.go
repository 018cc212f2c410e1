package alarm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lembremed/lembremed/internal/model"
	"github.com/lembremed/lembremed/internal/store"
)

// --- fakes -------------------------------------------------------------------

type fakeFacility struct {
	mu        sync.Mutex
	pending   map[int64]time.Time
	inexact   map[int64]time.Time
	denyExact bool
}

func newFakeFacility() *fakeFacility {
	return &fakeFacility{
		pending: make(map[int64]time.Time),
		inexact: make(map[int64]time.Time),
	}
}

func (f *fakeFacility) ScheduleExactWakeup(key int64, at time.Time, _ Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyExact {
		return ErrExactUnavailable
	}
	f.pending[key] = at
	return nil
}

func (f *fakeFacility) ScheduleWakeup(key int64, at time.Time, _ Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inexact[key] = at
}

func (f *fakeFacility) CancelWakeup(key int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, key)
	delete(f.inexact, key)
}

type fakeRecords struct {
	mu      sync.Mutex
	updated []*store.Record
}

func (r *fakeRecords) Update(_ context.Context, rec *store.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.updated = append(r.updated, &cp)
	return nil
}

func newTestScheduler(f Facility, r RecordStore, now time.Time) *Scheduler {
	s := NewScheduler(f, r, slog.Default())
	s.now = func() time.Time { return now }
	return s
}

func dailyRecord(id int64, trigger time.Time) *store.Record {
	return &store.Record{
		ID:          id,
		SourceID:    "med-001",
		SourceKind:  model.SourceMedicine,
		Slot:        model.SlotDose,
		Hour:        8,
		Minute:      0,
		NextTrigger: trigger,
		Active:      true,
	}
}

// ---------------------------------------------------------------------------
// Arming
// ---------------------------------------------------------------------------

func TestArm_FutureTriggerArmedAsIs(t *testing.T) {
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	trigger := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	fac := newFakeFacility()
	sched := newTestScheduler(fac, &fakeRecords{}, now)

	armed, err := sched.Arm(context.Background(), dailyRecord(1, trigger))
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !armed.Equal(trigger) {
		t.Errorf("armed at %v, want %v", armed, trigger)
	}
	if at, ok := fac.pending[1]; !ok || !at.Equal(trigger) {
		t.Errorf("facility pending = %v, want wakeup at %v", fac.pending, trigger)
	}
}

// Every registered trigger must be strictly in the future at the moment of
// registration, even when the stored trigger is long past.
func TestArm_PastDueDailyHealsForward(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	stale := time.Date(2025, 6, 7, 8, 0, 0, 0, time.UTC) // three days past due
	fac := newFakeFacility()
	recs := &fakeRecords{}
	sched := newTestScheduler(fac, recs, now)

	rec := dailyRecord(1, stale)
	armed, err := sched.Arm(context.Background(), rec)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}

	want := time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC)
	if !armed.Equal(want) {
		t.Errorf("healed trigger = %v, want %v", armed, want)
	}
	if !armed.After(now) {
		t.Error("armed trigger is not strictly after now")
	}
	if len(recs.updated) != 1 || !recs.updated[0].NextTrigger.Equal(want) {
		t.Errorf("healed trigger not persisted: %+v", recs.updated)
	}
}

func TestArm_PastDueIntervalAdvancesChain(t *testing.T) {
	now := time.Date(2025, 6, 10, 11, 0, 0, 0, time.UTC)
	stale := time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC)
	fac := newFakeFacility()
	sched := newTestScheduler(fac, &fakeRecords{}, now)

	rec := dailyRecord(1, stale)
	rec.Slot = model.SlotInterval
	rec.IntervalHours = 8

	armed, err := sched.Arm(context.Background(), rec)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	// Chain phase preserved: 02:00 + 8h = 10:00 is still past, so 18:00.
	want := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	if !armed.Equal(want) {
		t.Errorf("healed chain trigger = %v, want %v", armed, want)
	}
}

func TestArm_PastDueOneShotDeactivates(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	fac := newFakeFacility()
	recs := &fakeRecords{}
	sched := newTestScheduler(fac, recs, now)

	rec := dailyRecord(1, now.Add(-time.Hour))
	rec.Slot = model.SlotPre24h

	armed, err := sched.Arm(context.Background(), rec)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !armed.IsZero() {
		t.Errorf("armed = %v, want zero for a stale one-shot", armed)
	}
	if len(recs.updated) != 1 || recs.updated[0].Active {
		t.Errorf("record not deactivated: %+v", recs.updated)
	}
	if len(fac.pending) != 0 {
		t.Errorf("facility has %d pending wakeups, want 0", len(fac.pending))
	}
}

func TestArm_ReplacesNotDuplicates(t *testing.T) {
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	fac := newFakeFacility()
	sched := newTestScheduler(fac, &fakeRecords{}, now)

	rec := dailyRecord(1, now.Add(time.Hour))
	if _, err := sched.Arm(context.Background(), rec); err != nil {
		t.Fatalf("first Arm: %v", err)
	}
	rec.NextTrigger = now.Add(2 * time.Hour)
	if _, err := sched.Arm(context.Background(), rec); err != nil {
		t.Fatalf("second Arm: %v", err)
	}

	if len(fac.pending) != 1 {
		t.Fatalf("pending wakeups = %d, want 1 (replace, not duplicate)", len(fac.pending))
	}
	if !fac.pending[1].Equal(now.Add(2 * time.Hour)) {
		t.Errorf("pending at %v, want the later trigger", fac.pending[1])
	}
}

func TestArm_ExactDeniedDegradesToInexact(t *testing.T) {
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	fac := newFakeFacility()
	fac.denyExact = true
	sched := newTestScheduler(fac, &fakeRecords{}, now)

	trigger := now.Add(time.Hour)
	armed, err := sched.Arm(context.Background(), dailyRecord(1, trigger))
	if err != nil {
		t.Fatalf("Arm must not fail on denied exact capability: %v", err)
	}
	if !armed.Equal(trigger) {
		t.Errorf("armed = %v, want %v", armed, trigger)
	}
	if at, ok := fac.inexact[1]; !ok || !at.Equal(trigger) {
		t.Errorf("inexact wakeup = %v, want one at %v", fac.inexact, trigger)
	}
}

func TestArm_InactiveRecordCancels(t *testing.T) {
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	fac := newFakeFacility()
	fac.pending[1] = now.Add(time.Hour)
	sched := newTestScheduler(fac, &fakeRecords{}, now)

	rec := dailyRecord(1, now.Add(time.Hour))
	rec.Active = false
	armed, err := sched.Arm(context.Background(), rec)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !armed.IsZero() {
		t.Errorf("armed = %v, want zero for inactive record", armed)
	}
	if len(fac.pending) != 0 {
		t.Error("pending wakeup survived arming an inactive record")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	fac := newFakeFacility()
	sched := newTestScheduler(fac, &fakeRecords{}, time.Now())

	// Cancelling a key that was never armed must be a no-op.
	sched.Cancel(42)
	sched.Cancel(42)
}

// ---------------------------------------------------------------------------
// TimerFacility
// ---------------------------------------------------------------------------

func TestTimerFacility_FiresOnce(t *testing.T) {
	fac := NewTimerFacility(slog.Default())
	defer fac.Stop()

	fired := make(chan Payload, 2)
	fac.Bind(func(p Payload) { fired <- p })

	if err := fac.ScheduleExactWakeup(7, time.Now().Add(10*time.Millisecond), Payload{RecordID: 7}); err != nil {
		t.Fatalf("ScheduleExactWakeup: %v", err)
	}

	select {
	case p := <-fired:
		if p.RecordID != 7 {
			t.Errorf("payload record id = %d, want 7", p.RecordID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wakeup never fired")
	}

	select {
	case <-fired:
		t.Fatal("wakeup fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	if fac.Pending() != 0 {
		t.Errorf("Pending = %d after fire, want 0", fac.Pending())
	}
}

func TestTimerFacility_RescheduleReplaces(t *testing.T) {
	fac := NewTimerFacility(slog.Default())
	defer fac.Stop()

	fired := make(chan Payload, 2)
	fac.Bind(func(p Payload) { fired <- p })

	// First schedule far out, then replace with a near trigger.
	if err := fac.ScheduleExactWakeup(1, time.Now().Add(time.Hour), Payload{RecordID: 1, Note: "old"}); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	if err := fac.ScheduleExactWakeup(1, time.Now().Add(10*time.Millisecond), Payload{RecordID: 1, Note: "new"}); err != nil {
		t.Fatalf("second schedule: %v", err)
	}
	if fac.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", fac.Pending())
	}

	select {
	case p := <-fired:
		if p.Note != "new" {
			t.Errorf("fired payload note = %q, want the replacing wakeup", p.Note)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replacing wakeup never fired")
	}
}

func TestTimerFacility_CancelStopsWakeup(t *testing.T) {
	fac := NewTimerFacility(slog.Default())
	defer fac.Stop()

	fired := make(chan Payload, 1)
	fac.Bind(func(p Payload) { fired <- p })

	if err := fac.ScheduleExactWakeup(3, time.Now().Add(20*time.Millisecond), Payload{RecordID: 3}); err != nil {
		t.Fatalf("ScheduleExactWakeup: %v", err)
	}
	fac.CancelWakeup(3)
	fac.CancelWakeup(3) // idempotent

	select {
	case <-fired:
		t.Fatal("cancelled wakeup fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerFacility_ReplaceDuringFireKeepsReplacement(t *testing.T) {
	fac := NewTimerFacility(slog.Default())
	defer fac.Stop()

	fired := make(chan Payload, 2)
	fac.Bind(func(p Payload) { fired <- p })

	// Arm an already-due wake-up and replace it immediately: even when the
	// due timer's callback is in flight, the replacement must stay armed and
	// cancellable.
	fac.ScheduleWakeup(7, time.Now().Add(-time.Millisecond), Payload{RecordID: 7, Note: "old"})
	fac.ScheduleWakeup(7, time.Now().Add(time.Hour), Payload{RecordID: 7, Note: "new"})

	// The due wake-up may deliver if it won the race before being replaced.
	select {
	case p := <-fired:
		if p.Note != "old" {
			t.Errorf("fired payload note = %q, want the due wakeup", p.Note)
		}
	case <-time.After(100 * time.Millisecond):
	}

	if fac.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1 (replacement still armed)", fac.Pending())
	}
	fac.CancelWakeup(7)
	if fac.Pending() != 0 {
		t.Errorf("Pending = %d after cancel, want 0", fac.Pending())
	}
}

func TestTimerFacility_DeniedExactStillSchedulesInexact(t *testing.T) {
	fac := NewTimerFacility(slog.Default())
	defer fac.Stop()
	fac.SetExactAllowed(false)

	if err := fac.ScheduleExactWakeup(1, time.Now().Add(time.Hour), Payload{}); !errors.Is(err, ErrExactUnavailable) {
		t.Fatalf("err = %v, want ErrExactUnavailable", err)
	}
	if fac.Pending() != 0 {
		t.Error("denied exact schedule registered a wakeup")
	}

	fac.ScheduleWakeup(1, time.Now().Add(time.Hour), Payload{})
	if fac.Pending() != 1 {
		t.Error("inexact schedule did not register a wakeup")
	}
}
