package tcms

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/unkn0wn-root/tcms/transport"
)

// Item is anything a Container can hold. Ref is the identity used for set
// arithmetic and for sleeping: a numeric id, a tag name, "bug@system".
type Item interface {
	Ref() string
}

// binding is what a relationship supplies to the generic engine.
type binding[T Item] struct {
	fetch  func(ctx context.Context) ([]T, error)
	add    func(ctx context.Context, items []T) error
	remove func(ctx context.Context, items []T) error
	// resolve finds a cached item by ref without RPC; used by Wake.
	resolve func(ref string) (T, bool)

	// use is set on derived containers: writes fail and name this instead.
	use string
	// refetch reloads the set after an add so server-assigned ids are known.
	refetch bool
	// retryDuplicates splits a batched add that hit a duplicate entry.
	retryDuplicates bool
}

// Container keeps a remote set-valued relationship as two local sets.
// Add and Remove change only current; Update pushes the difference to
// original and then makes them equal again.
type Container[T Item] struct {
	client    *Client
	name      string // e.g. "TestCase.Tags"
	owner     *object
	b         binding[T]
	current   map[string]T
	original  map[string]T
	fetched   bool
	fetchedAt time.Time
	modified  bool
}

func newContainer[T Item](owner *object, rel string, b binding[T]) *Container[T] {
	return &Container[T]{
		client: owner.client,
		name:   owner.class + "." + rel,
		owner:  owner,
		b:      b,
	}
}

func (ct *Container[T]) Name() string { return ct.name }

// Modified reports whether current differs from original.
func (ct *Container[T]) Modified() bool { return ct.modified }

// load fetches the set on first touch or after expiry. A modified container
// is never reloaded: that would drop the pending edits.
func (ct *Container[T]) load(ctx context.Context) error {
	if ct.modified {
		return nil
	}
	if ct.fetched && !ct.expired() {
		return nil
	}
	items, err := ct.b.fetch(ctx)
	if err != nil {
		return err
	}
	ct.seed(items)
	ct.client.log.Debug("container fetched", Fields{"container": ct.name, "owner": ct.owner.id, "items": len(items)})
	return nil
}

func (ct *Container[T]) expired() bool {
	exp := ct.owner.expiration
	if exp < 0 {
		return false
	}
	return ct.client.now().Sub(ct.fetchedAt) > exp
}

// seed sets current and original to an authoritative set the caller
// already has, e.g. one nested in the owner's own inject.
func (ct *Container[T]) seed(items []T) {
	ct.current = toSet(items)
	ct.original = toSet(items)
	ct.fetched = true
	ct.fetchedAt = ct.client.now()
	ct.modified = false
}

// offer seeds from data nested in the owner's inject unless local edits
// are pending.
func (ct *Container[T]) offer(items []T) {
	if !ct.modified {
		ct.seed(items)
	}
}

func (ct *Container[T]) readOnly(op string) error {
	if ct.b.use == "" {
		return nil
	}
	return &InvalidOperationError{Container: ct.name, Op: op, Use: ct.b.use}
}

// Add puts items into current. Items already present are ignored.
func (ct *Container[T]) Add(ctx context.Context, items ...T) error {
	if err := ct.readOnly("Add"); err != nil {
		return err
	}
	if err := ct.load(ctx); err != nil {
		return err
	}
	changed := false
	for _, it := range items {
		r := it.Ref()
		if _, ok := ct.current[r]; ok {
			continue
		}
		ct.current[r] = it
		changed = true
	}
	return ct.changed(ctx, changed)
}

// Remove takes items out of current. Absent items are ignored.
func (ct *Container[T]) Remove(ctx context.Context, items ...T) error {
	if err := ct.readOnly("Remove"); err != nil {
		return err
	}
	if err := ct.load(ctx); err != nil {
		return err
	}
	changed := false
	for _, it := range items {
		r := it.Ref()
		if _, ok := ct.current[r]; !ok {
			continue
		}
		delete(ct.current, r)
		changed = true
	}
	return ct.changed(ctx, changed)
}

// Clear removes everything currently in the container.
func (ct *Container[T]) Clear(ctx context.Context) error {
	if err := ct.readOnly("Clear"); err != nil {
		return err
	}
	items, err := ct.Items(ctx)
	if err != nil {
		return err
	}
	return ct.Remove(ctx, items...)
}

func (ct *Container[T]) changed(ctx context.Context, changed bool) error {
	if !changed {
		return nil
	}
	ct.modified = !sameRefs(ct.current, ct.original)
	if !ct.client.defers() {
		return ct.Update(ctx)
	}
	return nil
}

// Update pushes current - original as one add and original - current as one
// remove, then original becomes a copy of current.
func (ct *Container[T]) Update(ctx context.Context) error {
	if !ct.modified {
		return nil
	}
	added := minus(ct.current, ct.original)
	removed := minus(ct.original, ct.current)
	ct.client.log.Debug("container update", Fields{"container": ct.name, "owner": ct.owner.id, "added": len(added), "removed": len(removed)})

	if len(added) > 0 {
		if err := ct.pushAdd(ctx, added); err != nil {
			return err
		}
		for _, it := range added {
			ct.original[it.Ref()] = it
		}
	}
	if len(removed) > 0 {
		if err := ct.b.remove(ctx, removed); err != nil {
			return err
		}
		for _, it := range removed {
			delete(ct.original, it.Ref())
		}
	}
	ct.modified = false

	if ct.b.refetch && len(added) > 0 {
		items, err := ct.b.fetch(ctx)
		if err != nil {
			// pushed already; the set is stale until the next read
			ct.fetched = false
			return err
		}
		ct.seed(items)
		return nil
	}
	ct.original = clone(ct.current)
	ct.fetchedAt = ct.client.now()
	return nil
}

func (ct *Container[T]) pushAdd(ctx context.Context, items []T) error {
	err := ct.b.add(ctx, items)
	if err == nil || !ct.b.retryDuplicates || !transport.IsDuplicate(err) {
		return err
	}
	if len(items) == 1 {
		return nil
	}
	ct.client.log.Warn("duplicate entry in batched add, retrying per item", Fields{"container": ct.name, "owner": ct.owner.id, "items": len(items)})
	for _, it := range items {
		if err := ct.b.add(ctx, []T{it}); err != nil && !transport.IsDuplicate(err) {
			return err
		}
	}
	return nil
}

// Items returns current sorted by ref.
func (ct *Container[T]) Items(ctx context.Context) ([]T, error) {
	if err := ct.load(ctx); err != nil {
		return nil, err
	}
	return sorted(ct.current), nil
}

func (ct *Container[T]) Has(ctx context.Context, item T) (bool, error) {
	return ct.HasRef(ctx, item.Ref())
}

func (ct *Container[T]) HasRef(ctx context.Context, ref string) (bool, error) {
	if err := ct.load(ctx); err != nil {
		return false, err
	}
	_, ok := ct.current[ref]
	return ok, nil
}

func (ct *Container[T]) Len(ctx context.Context) (int, error) {
	if err := ct.load(ctx); err != nil {
		return 0, err
	}
	return len(ct.current), nil
}

func (ct *Container[T]) Refs(ctx context.Context) ([]string, error) {
	if err := ct.load(ctx); err != nil {
		return nil, err
	}
	return sortedRefs(ct.current), nil
}

// Pending returns what the next Update would add and remove.
func (ct *Container[T]) Pending() (added, removed []T) {
	return minus(ct.current, ct.original), minus(ct.original, ct.current)
}

// ContainerState is a container reduced to bare refs.
type ContainerState struct {
	Fetched  bool     `json:"fetched" cbor:"fetched" msgpack:"fetched"`
	Current  []string `json:"current,omitempty" cbor:"current,omitempty" msgpack:"current,omitempty"`
	Original []string `json:"original,omitempty" cbor:"original,omitempty" msgpack:"original,omitempty"`
}

// Sleep reduces the container to refs. An unfetched container sleeps as
// the zero state.
func (ct *Container[T]) Sleep() ContainerState {
	if !ct.fetched {
		return ContainerState{}
	}
	return ContainerState{
		Fetched:  true,
		Current:  sortedRefs(ct.current),
		Original: sortedRefs(ct.original),
	}
}

// Wake restores a slept state if every ref resolves through the identity
// cache. Otherwise the container is reset and fetches on next access.
// A container with pending changes keeps them and reports false.
func (ct *Container[T]) Wake(st ContainerState) bool {
	if ct.modified {
		return false
	}
	ok := st.Fetched && ct.b.resolve != nil
	var cur, orig map[string]T
	if ok {
		cur, ok = ct.resolveAll(st.Current)
	}
	if ok {
		orig, ok = ct.resolveAll(st.Original)
	}
	if !ok {
		ct.current, ct.original = nil, nil
		ct.fetched, ct.modified = false, false
		return false
	}
	ct.current, ct.original = cur, orig
	ct.fetched = true
	ct.fetchedAt = ct.client.now()
	ct.modified = !sameRefs(cur, orig)
	return true
}

func (ct *Container[T]) resolveAll(refs []string) (map[string]T, bool) {
	out := make(map[string]T, len(refs))
	for _, r := range refs {
		v, ok := ct.b.resolve(r)
		if !ok {
			return nil, false
		}
		out[r] = v
	}
	return out, true
}

func toSet[T Item](items []T) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		m[it.Ref()] = it
	}
	return m
}

func clone[T Item](m map[string]T) map[string]T {
	out := make(map[string]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func minus[T Item](a, b map[string]T) []T {
	var out []T
	for _, r := range sortedRefs(a) {
		if _, ok := b[r]; !ok {
			out = append(out, a[r])
		}
	}
	return out
}

func sameRefs[T Item](a, b map[string]T) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if _, ok := b[r]; !ok {
			return false
		}
	}
	return true
}

func sorted[T Item](m map[string]T) []T {
	refs := sortedRefs(m)
	out := make([]T, len(refs))
	for i, r := range refs {
		out[i] = m[r]
	}
	return out
}

// sortedRefs orders refs numerically when they are all integers.
func sortedRefs[T Item](m map[string]T) []string {
	refs := make([]string, 0, len(m))
	for r := range m {
		refs = append(refs, r)
	}
	sortRefs(refs)
	return refs
}

func sortRefs(refs []string) {
	nums := make(map[string]int, len(refs))
	for _, r := range refs {
		n, err := strconv.Atoi(r)
		if err != nil {
			sort.Strings(refs)
			return
		}
		nums[r] = n
	}
	sort.Slice(refs, func(i, j int) bool { return nums[refs[i]] < nums[refs[j]] })
}

func idRef(id int) string { return strconv.Itoa(id) }

func refID(ref string) (int, bool) {
	n, err := strconv.Atoi(ref)
	return n, err == nil
}

// ids collects numeric ids of items in order.
func ids[T interface{ ID() int }](items []T) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.ID()
	}
	return out
}
