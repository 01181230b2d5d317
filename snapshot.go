package tcms

import (
	"context"
	"sort"
	"time"

	"github.com/unkn0wn-root/tcms/persist"
)

// Record is one cached object in a persisted snapshot. Containers hold refs
// only; they are rebuilt through the identity caches on Load.
type Record struct {
	Class      string                    `json:"class" cbor:"class" msgpack:"class"`
	Inject     map[string]any            `json:"inject" cbor:"inject" msgpack:"inject"`
	FetchedAt  time.Time                 `json:"fetched_at" cbor:"fetched_at" msgpack:"fetched_at"`
	Containers map[string]ContainerState `json:"containers,omitempty" cbor:"containers,omitempty" msgpack:"containers,omitempty"`
}

// Save writes every fetched, clean object in the identity caches to the
// store. Objects with pending edits and modified containers are left out.
func (c *Client) Save(ctx context.Context) (persist.SaveResult, error) {
	if c.level != CachePersistent {
		return persist.SaveResult{}, ErrNotPersistent
	}
	items := make(map[string]Record)
	gens := make(map[string]uint64)
	for _, k := range c.kinds {
		k.each(func(e entity) {
			o := e.base()
			if !o.fetched || o.id == 0 || e.isDirty() {
				return
			}
			rec := Record{Class: o.class, Inject: e.Inject(), FetchedAt: o.fetchedAt}
			if u, ok := e.(updatable); ok {
				for name, ct := range u.attached() {
					if ct.Modified() {
						continue
					}
					st := ct.Sleep()
					if !st.Fetched {
						continue
					}
					if rec.Containers == nil {
						rec.Containers = make(map[string]ContainerState)
					}
					rec.Containers[name] = st
				}
			}
			items[o.key()] = rec
			gens[o.key()] = o.gen
		})
	}
	res, err := c.store.Save(ctx, items, gens)
	if err != nil {
		c.log.Error("snapshot save failed", Fields{"err": err, "records": len(items)})
		return res, err
	}
	c.log.Info("snapshot saved", Fields{"records": res.Saved, "skipped": len(res.Skipped), "bytes": res.Bytes})
	return res, nil
}

// Load restores a snapshot into the identity caches without RPC and returns
// the number of objects restored. A cached instance that is dirty or was
// fetched after the record wins over it. Containers are woken only when
// every member is cached, otherwise they fetch on next access.
func (c *Client) Load(ctx context.Context) (int, error) {
	if c.level != CachePersistent {
		return 0, ErrNotPersistent
	}
	recs, err := c.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	gens := c.store.SnapshotGens(keys)

	type sleeper struct {
		owner updatable
		state map[string]ContainerState
	}
	var sleepers []sleeper
	restored := 0
	for _, k := range c.kinds {
		for _, key := range keys {
			rec := recs[key]
			if rec.Class != k.class {
				continue
			}
			in := Inject(rec.Inject)
			e, ok := c.restore(k, in, rec.FetchedAt)
			if !ok {
				continue
			}
			e.base().gen = gens[key]
			restored++
			if u, ok := e.(updatable); ok && len(rec.Containers) > 0 {
				sleepers = append(sleepers, sleeper{owner: u, state: rec.Containers})
			}
		}
	}
	for _, key := range keys {
		if _, ok := c.findKind(recs[key].Class); !ok {
			c.log.Warn("snapshot record of unknown class", Fields{"key": key, "class": recs[key].Class})
		}
	}

	woken, refetch := 0, 0
	for _, s := range sleepers {
		names := make([]string, 0, len(s.state))
		for name := range s.state {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ct, ok := s.owner.relation(name)
			if !ok || ct.Modified() {
				continue
			}
			if ct.Wake(s.state[name]) {
				woken++
			} else {
				refetch++
			}
		}
	}
	c.log.Info("snapshot loaded", Fields{"records": len(recs), "restored": restored, "containers": woken, "refetch": refetch})
	return restored, nil
}

func (c *Client) restore(k kind, in Inject, fetchedAt time.Time) (entity, bool) {
	id := in.Int("id")
	if id == 0 {
		return nil, false
	}
	e, ok := k.lookup(id)
	if ok {
		o := e.base()
		if e.isDirty() || (o.fetched && !o.fetchedAt.Before(fetchedAt)) {
			return nil, false
		}
		e.apply(in)
	} else {
		e = k.restore(in)
	}
	o := e.base()
	o.fetched = true
	o.fetchedAt = fetchedAt
	return e, true
}
