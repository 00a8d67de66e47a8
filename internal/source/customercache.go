package source

import (
	"context"
	"sync"

	"bookmirror/internal/models"
)

// CustomerFetch fetches one customer record from the source.
type CustomerFetch func(ctx context.Context, id string) (*models.Customer, error)

// CustomerCache memoizes customer lookups for the lifetime of one run. Each
// id is fetched at most once; concurrent lookups of the same id collapse
// into a single remote call, with later callers waiting on the first.
type CustomerCache struct {
	fetch CustomerFetch

	mu      sync.Mutex
	entries map[string]*customerEntry
}

type customerEntry struct {
	ready chan struct{}
	cust  *models.Customer
	err   error
}

// NewCustomerCache constructs a cache over the given fetch function.
func NewCustomerCache(fetch CustomerFetch) *CustomerCache {
	return &CustomerCache{
		fetch:   fetch,
		entries: make(map[string]*customerEntry),
	}
}

// Get returns the cached customer for id, fetching on first use. Fetch
// outcomes, including skip outcomes for unresolvable ids, are cached so a
// missing customer is asked for only once per run.
func (c *CustomerCache) Get(ctx context.Context, id string) (*models.Customer, error) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if !ok {
		entry = &customerEntry{ready: make(chan struct{})}
		c.entries[id] = entry
		c.mu.Unlock()

		entry.cust, entry.err = c.fetch(ctx, id)
		close(entry.ready)
		return entry.cust, entry.err
	}
	c.mu.Unlock()

	select {
	case <-entry.ready:
		return entry.cust, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of ids looked up so far.
func (c *CustomerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
