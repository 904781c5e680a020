package license

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store for development and tests. It honors the
// same atomicity contracts as the Postgres storage (insert-if-absent ledger,
// compare-and-increment device slots) under a single mutex. Not suitable for
// multi-instance deployments.
type MemStore struct {
	mu        sync.Mutex
	licenses  map[string]*License // by key
	byPayment map[string]string   // sourcePaymentID -> key
	devices   map[string]map[string]time.Time
	events    map[string]time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		licenses:  make(map[string]*License),
		byPayment: make(map[string]string),
		devices:   make(map[string]map[string]time.Time),
		events:    make(map[string]time.Time),
	}
}

func (m *MemStore) CreateLicense(_ context.Context, l *License, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.events[eventID]; seen {
		return ErrEventProcessed
	}
	if _, dup := m.byPayment[l.SourcePaymentID]; dup {
		return ErrDuplicatePayment
	}
	cp := *l
	m.events[eventID] = time.Now().UTC()
	m.licenses[l.Key] = &cp
	m.byPayment[l.SourcePaymentID] = l.Key
	return nil
}

func (m *MemStore) SeenEvent(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, seen := m.events[eventID]
	return seen, nil
}

func (m *MemStore) GetLicense(_ context.Context, key string) (*License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.licenses[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemStore) GetLicenseByPayment(_ context.Context, sourcePaymentID string) (*License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byPayment[sourcePaymentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.licenses[key]
	return &cp, nil
}

func (m *MemStore) GetLicensesByEmail(_ context.Context, email string) ([]*License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*License
	for _, l := range m.licenses {
		if l.Customer.Email == email {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) Revoke(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.licenses[key]
	if !ok {
		return ErrNotFound
	}
	l.IsActive = false
	return nil
}

func (m *MemStore) RegisterDevice(_ context.Context, key, deviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.licenses[key]
	if !ok {
		return false, ErrNotFound
	}
	devs := m.devices[key]
	if devs == nil {
		devs = make(map[string]time.Time)
		m.devices[key] = devs
	}
	if _, known := devs[deviceID]; known {
		return true, nil
	}
	if l.UsedDevices >= l.MaxDevices {
		return false, ErrDeviceLimit
	}
	devs[deviceID] = time.Now().UTC()
	l.UsedDevices++
	return false, nil
}

// Corrupt overwrites a stored license without recomputing its integrity
// signature. Test hook for the tamper-detection path.
func (m *MemStore) Corrupt(key string, mutate func(*License)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.licenses[key]; ok {
		mutate(l)
	}
}
