// Package persist stores a snapshot of generation-stamped records in a
// pluggable byte store. It backs the persistent cache level of tcms: the
// client saves every cached object as one record keyed "<Class>:<id>" and
// restores them on the next start without talking to the server.
//
// Each record carries the generation its key had when the object was fetched.
// Invalidate bumps the generation, so a record saved before the bump is
// rejected on save and dropped on load, even by another process when the
// generations live in Redis.
//
// Pattern:
//
//	obs := store.SnapshotGen(k)   // before the remote read
//	v   := fetch(k)
//	_, _ = store.Save(ctx, map[string]V{k: v}, map[string]uint64{k: obs})
package persist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/unkn0wn-root/tcms/internal/util"
	tlog "github.com/unkn0wn-root/tcms/log"
	c "github.com/unkn0wn-root/tcms/persist/codec"
	gen "github.com/unkn0wn-root/tcms/persist/genstore"
	"github.com/unkn0wn-root/tcms/persist/internal/wire"
	pr "github.com/unkn0wn-root/tcms/persist/provider"
)

const defaultTTL = 24 * time.Hour

// Store is a generation-checked snapshot of records of type V.
type Store[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Save replaces the snapshot with every item whose observed generation is
	// still current. Items without an observed generation are skipped.
	Save(ctx context.Context, items map[string]V, observedGens map[string]uint64) (SaveResult, error)
	// Load returns the records of the snapshot that are still current.
	Load(ctx context.Context) (map[string]V, error)
	// Drop deletes the snapshot.
	Drop(ctx context.Context) error

	Invalidate(ctx context.Context, key string) error
	SnapshotGen(key string) uint64
	SnapshotGens(keys []string) map[string]uint64
}

type SaveResult struct {
	Saved   int
	Skipped []string
	Bytes   int
}

// Options tune a Store. Namespace, Provider and Codec are required.
type Options[V any] struct {
	Namespace string // e.g. "tcms:prod"; isolates snapshots sharing a provider
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger   tlog.Logger   // nil => tlog.Nop
	Hooks    Hooks         // nil => NopHooks
	TTL      time.Duration // snapshot lifetime; 0 => 24h, < 0 => no expiry
	GenStore gen.GenStore  // nil => in-process LocalGenStore
	Disabled bool
}

type store[V any] struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[V]
	log      tlog.Logger
	hooks    Hooks
	ttl      time.Duration
	gen      gen.GenStore
	enabled  bool
}

var _ Store[struct{}] = (*store[struct{}])(nil)

func New[V any](opts Options[V]) (Store[V], error) {
	return newStore(opts)
}

func newStore[V any](opts Options[V]) (*store[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("persist: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("persist: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("persist: namespace is required")
	}

	s := &store[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		enabled:  !opts.Disabled,
	}
	s.log = util.Coalesce[tlog.Logger](opts.Logger, tlog.Nop{})
	s.hooks = util.Coalesce[Hooks](opts.Hooks, NopHooks{})
	s.ttl = util.Coalesce(opts.TTL, defaultTTL)
	if s.ttl < 0 {
		s.ttl = 0
	}
	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		s.gen = gen.NewLocalGenStore()
	}
	return s, nil
}

func (s *store[V]) Enabled() bool { return s.enabled }

func (s *store[V]) Close(ctx context.Context) error {
	if s.gen != nil {
		_ = s.gen.Close(ctx)
	}
	if s.provider != nil {
		return s.provider.Close(ctx)
	}
	return nil
}

func (s *store[V]) Save(ctx context.Context, items map[string]V, observedGens map[string]uint64) (SaveResult, error) {
	var res SaveResult
	if !s.enabled {
		return res, ErrDisabled
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	current, err := s.gen.SnapshotMany(ctx, keys)
	if err != nil {
		s.hooks.GenSnapshotError(len(keys), err)
		return res, fmt.Errorf("persist: snapshot generations: %w", err)
	}

	wireItems := make([]wire.Item, 0, len(keys))
	for _, k := range keys {
		obs, ok := observedGens[k]
		if !ok {
			res.Skipped = append(res.Skipped, k)
			s.hooks.RecordDropped(k, "not_observed")
			continue
		}
		if current[k] != obs {
			// invalidated after the object was fetched
			res.Skipped = append(res.Skipped, k)
			s.hooks.RecordDropped(k, "gen_mismatch")
			continue
		}
		payload, err := s.codec.Encode(items[k])
		if err != nil {
			res.Skipped = append(res.Skipped, k)
			s.hooks.RecordDropped(k, "value_encode")
			s.log.Warn("record encode failed", tlog.Fields{"key": k, "err": err})
			continue
		}
		wireItems = append(wireItems, wire.Item{Key: k, Gen: obs, Payload: payload})
	}

	b, err := wire.Encode(wireItems)
	if err != nil {
		return res, err
	}
	sk := s.snapshotKey()
	ok, err := s.provider.Set(ctx, sk, b, int64(len(b)), s.ttl)
	if err != nil {
		return res, err
	}
	if !ok {
		s.hooks.ProviderSetRejected(sk)
		return res, ErrRejected
	}
	res.Saved = len(wireItems)
	res.Bytes = len(b)
	s.log.Debug("snapshot saved", tlog.Fields{"ns": s.ns, "records": res.Saved, "skipped": len(res.Skipped), "bytes": res.Bytes})
	return res, nil
}

func (s *store[V]) Load(ctx context.Context) (map[string]V, error) {
	out := make(map[string]V)
	if !s.enabled {
		return out, nil
	}
	sk := s.snapshotKey()
	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil || !ok {
		return out, err
	}
	items, err := wire.Decode(raw)
	if err != nil {
		_ = s.provider.Del(ctx, sk)
		s.hooks.SelfHeal(sk, "corrupt")
		s.log.Warn("corrupt snapshot deleted", tlog.Fields{"key": sk})
		return out, nil
	}

	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	current, err := s.gen.SnapshotMany(ctx, keys)
	if err != nil {
		// without generations nothing can be trusted
		s.hooks.GenSnapshotError(len(keys), err)
		return out, fmt.Errorf("persist: snapshot generations: %w", err)
	}

	for _, it := range items {
		if current[it.Key] != it.Gen {
			s.hooks.RecordDropped(it.Key, "gen_mismatch")
			continue
		}
		v, err := s.codec.Decode(it.Payload)
		if err != nil {
			s.hooks.RecordDropped(it.Key, "value_decode")
			continue
		}
		out[it.Key] = v
	}
	s.log.Debug("snapshot loaded", tlog.Fields{"ns": s.ns, "records": len(out), "stored": len(items)})
	return out, nil
}

func (s *store[V]) Drop(ctx context.Context) error {
	return s.provider.Del(ctx, s.snapshotKey())
}

func (s *store[V]) Invalidate(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}
	g, err := s.gen.Bump(ctx, key)
	if err != nil {
		s.hooks.GenBumpError(key, err)
		return &InvalidateError{Key: key, Err: err}
	}
	s.log.Debug("record invalidated", tlog.Fields{"key": key, "gen": g})
	return nil
}

func (s *store[V]) SnapshotGen(key string) uint64 {
	g, err := s.gen.Snapshot(context.Background(), key)
	if err != nil {
		// 0 never matches a bumped key, so Save rejects it once gens are readable
		s.hooks.GenSnapshotError(1, err)
		return 0
	}
	return g
}

func (s *store[V]) SnapshotGens(keys []string) map[string]uint64 {
	m, err := s.gen.SnapshotMany(context.Background(), keys)
	if err != nil {
		s.hooks.GenSnapshotError(len(keys), err)
		out := make(map[string]uint64, len(keys))
		for _, k := range keys {
			out[k] = s.SnapshotGen(k)
		}
		return out
	}
	return m
}

func (s *store[V]) snapshotKey() string {
	return "snap:" + s.ns
}
