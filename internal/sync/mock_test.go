package sync

import (
	"context"
	"sync"
	"time"

	"github.com/lembremed/lembremed/internal/model"
	"github.com/lembremed/lembremed/internal/store"
)

// --- Mock remote source ------------------------------------------------------

type mockRemote struct {
	mu            sync.Mutex
	medicines     []*model.Medicine
	consultations []*model.Consultation
	vaccines      []*model.Vaccine
	recipes       []*model.Recipe
	listErr       error
}

func (m *mockRemote) Medicines(_ context.Context, _ string) ([]*model.Medicine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.medicines, m.listErr
}

func (m *mockRemote) Consultations(_ context.Context, _ string) ([]*model.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consultations, m.listErr
}

func (m *mockRemote) Vaccines(_ context.Context, _ string) ([]*model.Vaccine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vaccines, m.listErr
}

func (m *mockRemote) Recipes(_ context.Context, _ string) ([]*model.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recipes, m.listErr
}

// --- Mock record store -------------------------------------------------------

type mockStore struct {
	mu     sync.Mutex
	nextID int64
	recs   map[int64]*store.Record
}

func newMockStore(recs ...*store.Record) *mockStore {
	m := &mockStore{recs: make(map[int64]*store.Record), nextID: 100}
	for _, r := range recs {
		m.recs[r.ID] = r
	}
	return m
}

func (m *mockStore) Insert(_ context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

func (m *mockStore) GetBySourceID(_ context.Context, sourceID string) ([]*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Record
	for _, r := range m.recs {
		if r.SourceID == sourceID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) AllActive(_ context.Context) ([]*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Record
	for _, r := range m.recs {
		if r.Active {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) TrackedSourceIDs(_ context.Context, kind model.SourceKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.recs {
		if r.SourceKind == kind && !seen[r.SourceID] {
			seen[r.SourceID] = true
			out = append(out, r.SourceID)
		}
	}
	return out, nil
}

func (m *mockStore) DeleteBySourceID(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.recs {
		if r.SourceID == sourceID {
			delete(m.recs, id)
		}
	}
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func (m *mockStore) bySlot(sourceID string, slot model.Slot) *store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.SourceID == sourceID && r.Slot == slot {
			cp := *r
			return &cp
		}
	}
	return nil
}

// --- Mock scheduler ----------------------------------------------------------

type mockSched struct {
	mu        sync.Mutex
	armed     []*store.Record
	cancelled []int64
}

func (m *mockSched) Arm(_ context.Context, rec *store.Record) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.armed = append(m.armed, &cp)
	return rec.NextTrigger, nil
}

func (m *mockSched) Cancel(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, id)
}

func (m *mockSched) armCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}
