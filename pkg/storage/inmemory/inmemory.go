// Package inmemory is a storage.Driver backed by a map, for tests and for
// running without a database.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/papercomputeco/switchboard/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu is a read write sync mutex for locking the mapping of records
	mu sync.RWMutex

	// records is keyed by interaction id
	records map[string]*storage.InteractionRecord
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		records: make(map[string]*storage.InteractionRecord),
	}
}

// Create stores a copy of rec.
func (d *Driver) Create(_ context.Context, rec *storage.InteractionRecord) error {
	if rec == nil {
		return errors.New("cannot store nil record")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[rec.ID]; ok {
		return fmt.Errorf("interaction %s already exists", rec.ID)
	}

	d.records[rec.ID] = clone(rec)
	return nil
}

// Update applies the terminal completion.
func (d *Driver) Update(_ context.Context, id string, c *storage.Completion) error {
	if c == nil {
		return errors.New("cannot apply nil completion")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return storage.NotFoundError{ID: id}
	}
	if rec.Completed() {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyCompleted, id)
	}

	c.Apply(rec)
	return nil
}

// Get returns a copy of the record.
func (d *Driver) Get(_ context.Context, id string) (*storage.InteractionRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}

	return clone(rec), nil
}

// List returns records newest first.
func (d *Driver) List(_ context.Context, opts storage.ListOptions) ([]*storage.InteractionRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*storage.InteractionRecord, 0, len(d.records))
	for _, rec := range d.records {
		if opts.ProviderID != "" && rec.ProviderID != opts.ProviderID {
			continue
		}
		result = append(result, clone(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

func clone(rec *storage.InteractionRecord) *storage.InteractionRecord {
	cp := *rec
	cp.RawRequest = append([]byte(nil), rec.RawRequest...)
	if rec.RawResponse != nil {
		cp.RawResponse = append([]byte(nil), rec.RawResponse...)
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
