package sessions

import (
	"fmt"
	"sync"
)

// InMemoryRegistry is an in-memory implementation of Registry
type InMemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Registry = (*InMemoryRegistry)(nil)

// NewInMemoryRegistry creates a new in-memory session registry
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		records: make(map[string]Record),
	}
}

// Get retrieves a session record by tenant ID
func (r *InMemoryRegistry) Get(tenantID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[tenantID]
	return record, ok
}

// Upsert creates or replaces the record for a tenant
func (r *InMemoryRegistry) Upsert(tenantID string, record Record) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record.TenantID = tenantID
	r.records[tenantID] = record
	return nil
}

// Remove deletes the record for a tenant. Removing a missing tenant is a no-op.
func (r *InMemoryRegistry) Remove(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, tenantID)
}

// Exists reports whether a record exists for the tenant
func (r *InMemoryRegistry) Exists(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.records[tenantID]
	return ok
}

// Tenants returns the tenant IDs of all existing records
func (r *InMemoryRegistry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.records))
	for tenantID := range r.records {
		ids = append(ids, tenantID)
	}
	return ids
}

// ActiveCount returns the number of records in a live state
func (r *InMemoryRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, record := range r.records {
		if record.State.Live() {
			count++
		}
	}
	return count
}
