// Package sync implements the reconciliation engine that keeps the local
// reminder records aligned with the remote store. It fetches the owner's
// medicines, consultations, vaccines and recipes, materialises reminder
// records for sources that want them, drops records for sources that
// disappeared, and arms a wake-up for every live record.
//
// The package contains two main components:
//
//   - [Reconciler] performs a single reconcile pass.
//   - [Engine] runs the polling loop, the startup re-arm pass, and the
//     nightly maintenance sweep.
package sync

import (
	"context"
	"time"

	"github.com/lembremed/lembremed/internal/model"
	"github.com/lembremed/lembremed/internal/store"
)

// RemoteSource provides read access to the owner's reminder sources.
// Implemented by [remote.Client].
type RemoteSource interface {
	Medicines(ctx context.Context, owner string) ([]*model.Medicine, error)
	Consultations(ctx context.Context, owner string) ([]*model.Consultation, error)
	Vaccines(ctx context.Context, owner string) ([]*model.Vaccine, error)
	Recipes(ctx context.Context, owner string) ([]*model.Recipe, error)
}

// RecordStore provides access to the reminder record database.
// Implemented by [store.Store].
type RecordStore interface {
	Insert(ctx context.Context, rec *store.Record) error
	GetBySourceID(ctx context.Context, sourceID string) ([]*store.Record, error)
	AllActive(ctx context.Context) ([]*store.Record, error)
	TrackedSourceIDs(ctx context.Context, kind model.SourceKind) ([]string, error)
	DeleteBySourceID(ctx context.Context, sourceID string) error
}

// Scheduler arms and cancels wake-ups for records.
// Implemented by [alarm.Scheduler].
type Scheduler interface {
	Arm(ctx context.Context, rec *store.Record) (time.Time, error)
	Cancel(id int64)
}
