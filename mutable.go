package tcms

import (
	"context"
	"sort"
)

// mutable adds the dirty flag to the object core. Setters mark the object
// dirty at once; Update pushes the whole field hash in one call.
type mutable struct {
	object
	dirty bool
}

func (m *mutable) isDirty() bool { return m.dirty }
func (m *mutable) mut() *mutable { return m }

// Dirty reports whether the object has edits that were not pushed yet.
func (m *mutable) Dirty() bool { return m.dirty }

// syncer is the type-erased side of a Container the owner needs.
type syncer interface {
	Update(ctx context.Context) error
	Modified() bool
	Sleep() ContainerState
	Wake(st ContainerState) bool
}

type updatable interface {
	entity
	mut() *mutable
	// hash is the full field set sent with <Class>.update.
	hash() map[string]any
	// attached returns the containers created so far, by relationship name.
	attached() map[string]syncer
	// relation returns the named container, creating it if needed.
	relation(name string) (syncer, bool)
}

// update pushes pending field edits, then flushes the owner's containers.
func update(ctx context.Context, u updatable) error {
	o, m := u.base(), u.mut()
	c := o.client
	if m.dirty {
		if _, err := c.call(ctx, o.class+".update", o.id, u.hash()); err != nil {
			return err
		}
		m.dirty = false
		c.invalidate(ctx, o.key())
		o.touch(c.observe(o.key()))
		c.log.Debug("object updated", Fields{"class": o.class, "id": o.id})
	}

	rels := u.attached()
	names := make([]string, 0, len(rels))
	for name := range rels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rels[name].Update(ctx); err != nil {
			return err
		}
	}
	return nil
}

// set runs assign on a fetched object and marks it dirty. Below
// CacheChanges the edit is pushed immediately.
func set(ctx context.Context, u updatable, assign func()) error {
	if err := ensure(ctx, u); err != nil {
		return err
	}
	assign()
	u.mut().dirty = true
	if !u.base().client.defers() {
		return update(ctx, u)
	}
	return nil
}

// get is the read path of every getter: fetch if needed, then read.
func get[V any](ctx context.Context, e entity, read func() V) (V, error) {
	if err := ensure(ctx, e); err != nil {
		var zero V
		return zero, err
	}
	return read(), nil
}

// create runs <Class>.create and materializes the returned object.
func create[T cacheable](ctx context.Context, c *Client, cache *IdentityCache[T], hash map[string]any, mk func() T) (T, error) {
	method := cache.Class() + ".create"
	res, err := c.call(ctx, method, hash)
	if err != nil {
		var zero T
		return zero, err
	}
	in, err := singleInject(method, res)
	if err != nil {
		var zero T
		return zero, err
	}
	v := fromInject(c, cache, in, mk)
	c.log.Info("object created", Fields{"class": cache.Class(), "id": v.base().id})
	return v, nil
}

// refOf is the id of an optional reference, 0 for nil.
// setRef is set for a required reference. A nil reference is rejected
// before anything is fetched.
func setRef[R interface {
	comparable
	ID() int
}](ctx context.Context, u updatable, field string, v R, assign func(id int)) error {
	var zero R
	if v == zero {
		return &AmbiguousInitializationError{Class: u.base().class, Reason: field + " is required"}
	}
	id := v.ID()
	return set(ctx, u, func() { assign(id) })
}

func refOf[T interface {
	comparable
	ID() int
}](v T) int {
	var zero T
	if v == zero {
		return 0
	}
	return v.ID()
}

func optUser(c *Client, id int) *User {
	if id == 0 {
		return nil
	}
	return c.User(id)
}

func tagsFrom(c *Client, list []Inject) []*Tag {
	out := make([]*Tag, len(list))
	for i, in := range list {
		out[i] = fromInject(c, c.tags, in, c.newTag)
	}
	return out
}
