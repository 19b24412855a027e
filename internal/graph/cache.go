package graph

import "sync"

// refCache memoizes field/supertag reference resolution. Caches are scoped
// to the backend instance, not the process, so isolated instances in tests
// never share stale state. Entries are stored only on successful lookups; a
// failed resolution never poisons the cache.
type refCache struct {
	mu     sync.RWMutex
	fields map[string]*Field
	tags   map[string]*Supertag
}

func newRefCache() *refCache {
	return &refCache{
		fields: make(map[string]*Field),
		tags:   make(map[string]*Supertag),
	}
}

func (c *refCache) field(ref string) (*Field, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fields[ref]
	return f, ok
}

func (c *refCache) storeField(ref string, f *Field) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields[ref] = f
}

func (c *refCache) supertag(ref string) (*Supertag, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tags[ref]
	return t, ok
}

func (c *refCache) storeSupertag(ref string, t *Supertag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[ref] = t
}

// invalidate drops every cached entry that resolves to the given id. Called
// on purge so a recycled reference cannot serve a stale resolution.
func (c *refCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ref, f := range c.fields {
		if f.ID == id {
			delete(c.fields, ref)
		}
	}
	for ref, t := range c.tags {
		if t.ID == id {
			delete(c.tags, ref)
		}
	}
}

// displayName picks the human name for a field or supertag node: its content
// if set, otherwise its systemId.
func displayName(content, systemID string) string {
	if content != "" {
		return content
	}
	return systemID
}
