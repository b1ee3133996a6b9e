package memory

import (
	"context"
	"sync"

	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/store"
)

type Catalog struct {
	mu       sync.RWMutex
	services map[string]domain.ServiceSnapshot
}

func NewCatalog(services ...domain.ServiceSnapshot) *Catalog {
	c := &Catalog{services: make(map[string]domain.ServiceSnapshot, len(services))}
	for _, s := range services {
		c.services[s.ID] = s
	}
	return c
}

// Put adds or replaces a service. Existing bookings keep the snapshot they were created with.
func (c *Catalog) Put(s domain.ServiceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[s.ID] = s
}

func (c *Catalog) GetService(ctx context.Context, serviceID string) (domain.ServiceSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.services[serviceID]
	if !ok {
		return domain.ServiceSnapshot{}, store.ErrNotFound
	}
	return s, nil
}
