package tcms

import (
	"context"
	"fmt"
	"time"
)

// object is the core every domain type embeds: identity, fetch timestamp and
// expiration. It never talks to the server by itself; fetching goes through
// ensure and Client.load so that the result lands in the identity cache.
type object struct {
	client     *Client
	class      string
	id         int
	fetched    bool
	fetchedAt  time.Time
	expiration time.Duration
	gen        uint64 // persistence generation observed at fetch time
}

func (c *Client) newObject(class string, exp time.Duration) object {
	return object{client: c, class: class, expiration: exp}
}

func (o *object) ID() int        { return o.id }
func (o *object) Class() string  { return o.class }
func (o *object) base() *object  { return o }
func (o *object) isDirty() bool  { return false }
func (o *object) Fetched() bool  { return o.fetched }
func (o *object) String() string { return fmt.Sprintf("%s#%d", o.class, o.id) }
func (o *object) key() string    { return fmt.Sprintf("%s:%d", o.class, o.id) }

func (o *object) naturalKeys() []string { return nil }

// FetchedAt is the time of the last fetch or push.
func (o *object) FetchedAt() time.Time { return o.fetchedAt }

func (o *object) expired() bool {
	if o.expiration < 0 {
		return false
	}
	return o.client.now().Sub(o.fetchedAt) > o.expiration
}

func (o *object) touch(gen uint64) {
	o.fetched = true
	o.fetchedAt = o.client.now()
	o.gen = gen
}

// idQuery is the remote lookup of an object known by id.
func (o *object) idQuery() (map[string]any, error) {
	if o.id == 0 {
		return nil, &AmbiguousInitializationError{Class: o.class, Reason: "no id or natural key to look up"}
	}
	return map[string]any{"id": o.id}, nil
}

// entity is what the identity caches and the generic helpers work with.
type entity interface {
	base() *object
	isDirty() bool
	// query is the filter that identifies the object remotely.
	query() (map[string]any, error)
	// apply copies inject fields into the object.
	apply(in Inject)
	naturalKeys() []string
	Inject() Inject
}

type cacheable interface {
	comparable
	entity
}

// ensure fetches e if it was never fetched or has expired. Objects with
// unpushed edits are never refetched.
func ensure(ctx context.Context, e entity) error {
	o := e.base()
	if o.fetched && (e.isDirty() || !o.expired()) {
		return nil
	}
	if o.fetched {
		o.client.log.Debug("object expired", Fields{"class": o.class, "id": o.id})
	}
	return o.client.load(ctx, e)
}

// load fetches e from the server and indexes it.
func (c *Client) load(ctx context.Context, e entity) error {
	o := e.base()
	q, err := e.query()
	if err != nil {
		return err
	}
	var gen uint64
	if o.id != 0 {
		gen = c.observe(o.key())
	}
	in, err := c.filterOne(ctx, o.class, q)
	if err != nil {
		return err
	}
	if o.id == 0 {
		o.id = in.Int("id")
		gen = c.observe(o.key())
	}
	e.apply(in)
	o.touch(gen)
	c.kindOf(o.class).index(e)
	c.log.Debug("object fetched", Fields{"class": o.class, "id": o.id})
	return nil
}

func remember[T cacheable](c *Client, cache *IdentityCache[T], v T) {
	if !c.retains() {
		return
	}
	cache.Index(v, v.base().id, v.naturalKeys()...)
}

func lookupAny[T cacheable](cache *IdentityCache[T], id int, keys []string) (T, bool) {
	if id != 0 {
		if v, ok := cache.Lookup(id); ok {
			return v, true
		}
	}
	for _, k := range keys {
		if v, ok := cache.LookupKey(k); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// byID returns the cached instance for id or a new unfetched one. No RPC.
func byID[T cacheable](c *Client, cache *IdentityCache[T], id int, mk func() T) T {
	if c.retains() {
		if v, ok := cache.Lookup(id); ok {
			return v
		}
	}
	v := mk()
	v.base().id = id
	remember(c, cache, v)
	return v
}

// fromInject materializes an object from data the server already returned.
// An existing instance for the same id or natural key is refreshed in place
// unless it has pending edits.
func fromInject[T cacheable](c *Client, cache *IdentityCache[T], in Inject, mk func() T) T {
	v := mk()
	o := v.base()
	o.id = in.Int("id")
	v.apply(in)
	if c.retains() {
		if cur, ok := lookupAny(cache, o.id, v.naturalKeys()); ok {
			refresh(c, cur, in)
			remember(c, cache, cur)
			return cur
		}
	}
	o.touch(c.observe(o.key()))
	remember(c, cache, v)
	return v
}

func refresh(c *Client, e entity, in Inject) {
	if e.isDirty() {
		return
	}
	o := e.base()
	if o.id == 0 {
		o.id = in.Int("id")
	}
	e.apply(in)
	o.touch(c.observe(o.key()))
}

// byKey resolves a natural key: a cached alias, or one filter call whose
// result is aliased to any instance already cached under the same id.
func byKey[T cacheable](ctx context.Context, c *Client, cache *IdentityCache[T], key string, query map[string]any, mk func() T) (T, error) {
	if c.retains() {
		if v, ok := cache.LookupKey(key); ok {
			return v, ensure(ctx, v)
		}
	}
	in, err := c.filterOne(ctx, cache.Class(), query)
	if err != nil {
		var zero T
		return zero, err
	}
	v := fromInject(c, cache, in, mk)
	if c.retains() {
		cache.Index(v, 0, key)
	}
	return v, nil
}

// fromInjects materializes every element of a list result.
func fromInjects[T cacheable](c *Client, cache *IdentityCache[T], res any, mk func() T) ([]T, error) {
	list, err := injectList(res)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(list))
	for i, in := range list {
		out[i] = fromInject(c, cache, in, mk)
	}
	return out, nil
}

// kind erases the element type of one identity cache for registry-wide work:
// Clear, Update, Stats and persistence.
type kind struct {
	class   string
	each    func(fn func(entity))
	clear   func()
	len     func() int
	index   func(e entity)
	lookup  func(id int) (entity, bool)
	restore func(in Inject) entity
}

func newKind[T cacheable](c *Client, cache *IdentityCache[T], mk func() T) kind {
	return kind{
		class: cache.Class(),
		each: func(fn func(entity)) {
			cache.Each(func(v T) { fn(v) })
		},
		clear: cache.Clear,
		len:   cache.Len,
		index: func(e entity) {
			if v, ok := e.(T); ok {
				remember(c, cache, v)
			}
		},
		lookup: func(id int) (entity, bool) {
			v, ok := cache.Lookup(id)
			return v, ok
		},
		restore: func(in Inject) entity {
			v := mk()
			v.base().id = in.Int("id")
			v.apply(in)
			remember(c, cache, v)
			return v
		},
	}
}

func (c *Client) findKind(class string) (kind, bool) {
	for _, k := range c.kinds {
		if k.class == class {
			return k, true
		}
	}
	return kind{}, false
}

func (c *Client) kindOf(class string) kind {
	k, ok := c.findKind(class)
	if !ok {
		panic("tcms: unknown class " + class)
	}
	return k
}
