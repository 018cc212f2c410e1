package notify

import (
	"context"
	"sync"
	"time"

	"github.com/lembremed/lembremed/internal/model"
	"github.com/lembremed/lembremed/internal/store"
)

// --- Mock record store -------------------------------------------------------

type mockRecords struct {
	mu   sync.Mutex
	recs map[int64]*store.Record
}

func newMockRecords(recs ...*store.Record) *mockRecords {
	m := &mockRecords{recs: make(map[int64]*store.Record)}
	for _, r := range recs {
		m.recs[r.ID] = r
	}
	return m
}

func (m *mockRecords) GetByID(_ context.Context, id int64) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRecords) Update(_ context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

func (m *mockRecords) get(id int64) *store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[id]
}

// --- Mock remote store -------------------------------------------------------

type stockUpdate struct {
	id    string
	stock float64
}

type mockRemote struct {
	mu         sync.Mutex
	meds       map[string]*model.Medicine
	medErr     error
	stockErr   error
	confirmErr error
	stocks     []stockUpdate
	confirmed  []string
}

func newMockRemote(meds ...*model.Medicine) *mockRemote {
	m := &mockRemote{meds: make(map[string]*model.Medicine)}
	for _, med := range meds {
		m.meds[med.ID] = med
	}
	return m
}

func (m *mockRemote) Medicine(_ context.Context, id string) (*model.Medicine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.medErr != nil {
		return nil, m.medErr
	}
	med, ok := m.meds[id]
	if !ok {
		return nil, nil
	}
	cp := *med
	return &cp, nil
}

func (m *mockRemote) UpdateMedicineStock(_ context.Context, id string, stock float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stockErr != nil {
		return m.stockErr
	}
	m.stocks = append(m.stocks, stockUpdate{id: id, stock: stock})
	if med, ok := m.meds[id]; ok {
		med.Stock = stock
	}
	return nil
}

func (m *mockRemote) ConfirmSource(_ context.Context, _ model.SourceKind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return m.confirmErr
	}
	m.confirmed = append(m.confirmed, id)
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

// --- Mock notifier -----------------------------------------------------------

type mockNotifier struct {
	mu    sync.Mutex
	shown []Notification
	err   error
}

func (m *mockNotifier) Show(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.shown = append(m.shown, n)
	return nil
}

func (m *mockNotifier) shownCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shown)
}
