package store

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cached is a write-through cache in front of another Store. Cached entries
// only change after the backing store accepted the write, so a failed Update
// leaves the previous value visible.
//
// Every Update and Delete bumps a per-subscriber version. A miss only fills
// the cache when the version it started from is still current, so a slow
// read never overwrites a newer write.
type Cached struct {
	backend Store
	loads   singleflight.Group
	// writeMu keeps cache updates in the order the backend committed them.
	writeMu sync.Mutex

	mu       sync.RWMutex
	entries  map[int64]*Settings
	versions map[int64]uint64
}

// NewCached wraps backend.
func NewCached(backend Store) *Cached {
	return &Cached{
		backend:  backend,
		entries:  make(map[int64]*Settings),
		versions: make(map[int64]uint64),
	}
}

func (c *Cached) lookup(id int64) (*Settings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (c *Cached) version(id int64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.versions[id]
}

// fill stores s unless a write happened since version was read.
func (c *Cached) fill(s *Settings, version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[s.SubscriberID] != version {
		return
	}
	c.entries[s.SubscriberID] = s.Clone()
}

// load reads id from the backend once per concurrent miss.
func (c *Cached) load(ctx context.Context, id int64, create bool) (*Settings, error) {
	if s, ok := c.lookup(id); ok {
		return s, nil
	}

	key := strconv.FormatInt(id, 10)
	if create {
		key = "create:" + key
	}
	v, err, _ := c.loads.Do(key, func() (any, error) {
		version := c.version(id)
		var (
			s   *Settings
			err error
		)
		if create {
			s, err = c.backend.GetOrCreate(ctx, id)
		} else {
			s, err = c.backend.Get(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		c.fill(s, version)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Settings).Clone(), nil
}

// GetOrCreate implements Store.
func (c *Cached) GetOrCreate(ctx context.Context, subscriberID int64) (*Settings, error) {
	return c.load(ctx, subscriberID, true)
}

// Get implements Store.
func (c *Cached) Get(ctx context.Context, subscriberID int64) (*Settings, error) {
	return c.load(ctx, subscriberID, false)
}

// Update implements Store.
func (c *Cached) Update(ctx context.Context, settings *Settings) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.backend.Update(ctx, settings); err != nil {
		return err
	}
	c.mu.Lock()
	c.versions[settings.SubscriberID]++
	c.entries[settings.SubscriberID] = settings.Clone()
	c.mu.Unlock()
	return nil
}

// Delete implements Store.
func (c *Cached) Delete(ctx context.Context, subscriberID int64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.backend.Delete(ctx, subscriberID); err != nil {
		return err
	}
	c.mu.Lock()
	c.versions[subscriberID]++
	delete(c.entries, subscriberID)
	c.mu.Unlock()
	return nil
}

// ListSubscriberIDs implements Store.
func (c *Cached) ListSubscriberIDs(ctx context.Context) ([]int64, error) {
	return c.backend.ListSubscriberIDs(ctx)
}

// Close implements Store.
func (c *Cached) Close() error {
	return c.backend.Close()
}

var _ Store = (*Cached)(nil)
