// Package tcms is a cached object model over the remote API of a test case
// management service. Remote objects (plans, runs, cases, case runs and the
// reference data they point at) are exposed as Go values that fetch lazily,
// share one instance per id through per-class identity caches, and push local
// edits back as diffs.
//
// Components:
//   - Client: owns the transport, the cache level and every IdentityCache.
//   - object core: id, fetch timestamp and expiration; getters fetch when the
//     object was never fetched or has expired.
//   - mutable core: dirty flag and Update, which pushes the full field hash.
//   - Container: a set-valued relationship kept as current/original sets;
//     Add/Remove only touch current and Update pushes the delta.
//
// Cache levels:
//
//	CacheNone        every lookup builds a fresh instance, writes go out at once
//	CacheChanges     fresh instances, writes deferred until Update
//	CacheObjects     instances retained per id until they expire, writes deferred
//	CachePersistent  as CacheObjects, plus Save/Load through a persist.Store
//
// Typical use:
//
//	c, _ := tcms.New(tcms.Options{Transport: rpc})
//	tc := c.TestCase(1234)
//	_ = tc.Tags().AddNames(ctx, "Tier1")
//	_ = tc.SetNotes(ctx, "rewritten")
//	err := tc.Update(ctx) // pushes the notes, then add_tag for Tier1
//
// A Client is not safe for concurrent use.
package tcms
