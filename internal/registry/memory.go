package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/docbroker/docbroker/internal/models"
)

// MemoryStore keeps records in a map owned by the instance.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.DocumentRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.DocumentRecord)}
}

func (m *MemoryStore) Get(_ context.Context, normalizedURL string) (*models.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[normalizedURL]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Put(_ context.Context, rec models.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.NormalizedURL] = rec
	return nil
}

func (m *MemoryStore) Evict(_ context.Context, cutoff time.Time, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	if !cutoff.IsZero() {
		for k, rec := range m.records {
			if rec.LastAccessedAt.Before(cutoff) {
				delete(m.records, k)
				removed++
			}
		}
	}
	if keep > 0 && len(m.records) > keep {
		byAccess := make([]models.DocumentRecord, 0, len(m.records))
		for _, rec := range m.records {
			byAccess = append(byAccess, rec)
		}
		sort.Slice(byAccess, func(i, j int) bool {
			return byAccess[i].LastAccessedAt.After(byAccess[j].LastAccessedAt)
		})
		for _, rec := range byAccess[keep:] {
			delete(m.records, rec.NormalizedURL)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryStore) Close() error { return nil }
