// Package alarm arms OS-level wake-ups for reminder records. The [Facility]
// interface is the OS alarm surface; [TimerFacility] is the in-process
// implementation used by the daemon. [Scheduler] sits on top and owns the
// self-healing logic that keeps armed triggers strictly in the future.
package alarm

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lembremed/lembremed/internal/model"
	"github.com/lembremed/lembremed/internal/store"
)

// ErrExactUnavailable is returned by a facility when the exact-wakeup
// capability has been revoked. Scheduling then degrades to best-effort
// inexact delivery instead of failing.
var ErrExactUnavailable = errors.New("exact wakeups unavailable")

// Payload carries enough denormalized data for the dispatcher to act on a
// wake-up without necessarily re-reading the stores first.
type Payload struct {
	RecordID   int64
	SourceID   string
	SourceKind model.SourceKind
	Slot       model.Slot
	Label      string
	Recipient  string
	Note       string
}

// PayloadFor builds the wake-up payload for a record.
func PayloadFor(rec *store.Record) Payload {
	return Payload{
		RecordID:   rec.ID,
		SourceID:   rec.SourceID,
		SourceKind: rec.SourceKind,
		Slot:       rec.Slot,
		Label:      rec.Label,
		Recipient:  rec.Recipient,
		Note:       rec.Note,
	}
}

// Callback is invoked when an armed wake-up fires. It runs on its own
// goroutine, free-threaded relative to the rest of the daemon.
type Callback func(p Payload)

// Facility is the OS alarm surface: one pending wake-up per key, scheduling
// the same key again replaces the previous wake-up.
type Facility interface {
	// ScheduleExactWakeup registers a wake-up that fires at `at` even in
	// low-power idle state. Returns ErrExactUnavailable when the exact
	// capability is denied; the wake-up is NOT registered in that case.
	ScheduleExactWakeup(key int64, at time.Time, p Payload) error

	// ScheduleWakeup registers a best-effort inexact wake-up.
	ScheduleWakeup(key int64, at time.Time, p Payload)

	// CancelWakeup cancels any pending wake-up for key. No-op if absent.
	CancelWakeup(key int64)
}

// TimerFacility implements Facility with in-process timers. The exact-allowed
// flag models the user-revocable exact-alarm permission.
type TimerFacility struct {
	mu     sync.Mutex
	timers map[int64]pendingTimer
	gen    uint64
	cb     Callback
	exact  bool
	log    *slog.Logger
}

// pendingTimer tags a timer with the generation it was armed in, so a fired
// timer's in-flight callback cannot remove the timer that replaced it.
type pendingTimer struct {
	timer *time.Timer
	gen   uint64
}

// NewTimerFacility creates a facility with the exact capability granted.
// Bind must be called before any wake-up fires.
func NewTimerFacility(logger *slog.Logger) *TimerFacility {
	return &TimerFacility{
		timers: make(map[int64]pendingTimer),
		exact:  true,
		log:    logger,
	}
}

// Bind sets the callback invoked when wake-ups fire.
func (f *TimerFacility) Bind(cb Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

// SetExactAllowed toggles the exact-wakeup capability.
func (f *TimerFacility) SetExactAllowed(allowed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exact = allowed
}

// ScheduleExactWakeup implements Facility.
func (f *TimerFacility) ScheduleExactWakeup(key int64, at time.Time, p Payload) error {
	f.mu.Lock()
	if !f.exact {
		f.mu.Unlock()
		return ErrExactUnavailable
	}
	f.schedule(key, at, p)
	f.mu.Unlock()
	return nil
}

// ScheduleWakeup implements Facility. In-process there is no distinction
// from an exact wake-up beyond skipping the capability check.
func (f *TimerFacility) ScheduleWakeup(key int64, at time.Time, p Payload) {
	f.mu.Lock()
	f.schedule(key, at, p)
	f.mu.Unlock()
}

// CancelWakeup implements Facility.
func (f *TimerFacility) CancelWakeup(key int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.timers[key]; ok {
		p.timer.Stop()
		delete(f.timers, key)
	}
}

// Pending returns the number of armed wake-ups.
func (f *TimerFacility) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Stop cancels all pending wake-ups. Called on daemon shutdown.
func (f *TimerFacility) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, p := range f.timers {
		p.timer.Stop()
		delete(f.timers, key)
	}
}

// schedule registers the timer for key, replacing any existing one.
// Callers must hold f.mu.
func (f *TimerFacility) schedule(key int64, at time.Time, p Payload) {
	if existing, ok := f.timers[key]; ok {
		existing.timer.Stop()
	}
	f.gen++
	gen := f.gen
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() {
		f.mu.Lock()
		// A generation mismatch means this timer was replaced or cancelled
		// while its callback was in flight: the current entry stays armed and
		// the stale payload is dropped.
		cur, ok := f.timers[key]
		stale := !ok || cur.gen != gen
		if !stale {
			delete(f.timers, key)
		}
		cb := f.cb
		f.mu.Unlock()

		if stale {
			return
		}
		if cb == nil {
			f.log.Error("wakeup fired with no callback bound", "key", key)
			return
		}
		cb(p)
	})
	f.timers[key] = pendingTimer{timer: t, gen: gen}
}
