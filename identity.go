package tcms

import "sort"

// IdentityCache maps the keys of one class to live instances: the numeric id
// and any number of natural keys (name, login, "name/product" pairs) that
// alias the same instance. Entries are never evicted for size; they go away
// only through Clear.
type IdentityCache[T comparable] struct {
	class string
	byID  map[int]T
	byKey map[string]T
}

func newIdentityCache[T comparable](class string) *IdentityCache[T] {
	return &IdentityCache[T]{
		class: class,
		byID:  make(map[int]T),
		byKey: make(map[string]T),
	}
}

func (c *IdentityCache[T]) Class() string { return c.class }

func (c *IdentityCache[T]) Lookup(id int) (T, bool) {
	v, ok := c.byID[id]
	return v, ok
}

func (c *IdentityCache[T]) LookupKey(key string) (T, bool) {
	v, ok := c.byKey[key]
	return v, ok
}

// Index registers v under id (when non-zero) and every key. A later Index
// under the same key replaces the earlier instance.
func (c *IdentityCache[T]) Index(v T, id int, keys ...string) {
	if id != 0 {
		c.byID[id] = v
	}
	for _, k := range keys {
		if k != "" {
			c.byKey[k] = v
		}
	}
}

func (c *IdentityCache[T]) Clear() {
	clear(c.byID)
	clear(c.byKey)
}

// Len counts distinct instances.
func (c *IdentityCache[T]) Len() int {
	n := 0
	c.Each(func(T) { n++ })
	return n
}

// Each visits every distinct instance once: id-indexed ones in id order,
// then instances known only by a natural key, in key order.
func (c *IdentityCache[T]) Each(fn func(T)) {
	seen := make(map[T]struct{}, len(c.byID))
	ids := make([]int, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		v := c.byID[id]
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		fn(v)
	}

	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c.byKey[k]
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		fn(v)
	}
}
