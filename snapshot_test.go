package tcms

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tcms/internal/fakerpc"
	"github.com/unkn0wn-root/tcms/persist"
	"github.com/unkn0wn-root/tcms/persist/codec"
	gen "github.com/unkn0wn-root/tcms/persist/genstore"
	pr "github.com/unkn0wn-root/tcms/persist/provider"
	"github.com/unkn0wn-root/tcms/persist/provider/bigcache"
)

func newBigcache(t *testing.T) pr.Provider {
	t.Helper()
	ctx := context.Background()
	p, err := bigcache.New(ctx, bigcache.Config{})
	if err != nil {
		t.Fatalf("bigcache.New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(ctx) })
	return p
}

func newSnapshotStore(t *testing.T, p pr.Provider, gs gen.GenStore, codecName string) persist.Store[Record] {
	t.Helper()
	cd, err := codec.ByName[Record](codecName)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	st, err := persist.New(persist.Options[Record]{
		Namespace: "tcms:test",
		Provider:  p,
		Codec:     cd,
		GenStore:  gs,
	})
	if err != nil {
		t.Fatalf("persist.New: %v", err)
	}
	return st
}

func newPersistentClient(t *testing.T, srv *fakerpc.Server, clk *clock, st persist.Store[Record]) *Client {
	t.Helper()
	c, err := New(Options{Transport: srv, Level: CachePersistent, Store: st, Now: clk.now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// warm fetches a plan, a run with two cases and the tags of case 1.
func warm(t *testing.T, c *Client) {
	t.Helper()
	ctx := context.Background()
	if _, err := c.TestPlan(1).Name(ctx); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := c.TestRun(1).Summary(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := c.TestRun(1).Cases().Items(ctx); err != nil {
		t.Fatalf("run cases: %v", err)
	}
	if _, err := c.TestCase(1).Tags().Names(ctx); err != nil {
		t.Fatalf("tags: %v", err)
	}
}

func seedLinks(t *testing.T, srv *fakerpc.Server) {
	t.Helper()
	ctx := context.Background()
	if _, err := srv.Call(ctx, "TestRun.add_cases", 1, []int{1, 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Call(ctx, "TestCase.add_tag", 1, "Tier1"); err != nil {
		t.Fatal(err)
	}
	srv.ResetCalls()
}

func TestSaveLoadWithoutRPC(t *testing.T) {
	for _, name := range []string{"json", "cbor", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			srv := fakerpc.New()
			seedWorld(srv)
			seedLinks(t, srv)
			clk := newClock()
			st := newSnapshotStore(t, newBigcache(t), nil, name)

			a := newPersistentClient(t, srv, clk, st)
			warm(t, a)
			res, err := a.Save(ctx)
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if res.Saved == 0 || len(res.Skipped) != 0 {
				t.Fatalf("Save = %+v", res)
			}
			srv.ResetCalls()

			b := newPersistentClient(t, srv, clk, st)
			n, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if n != res.Saved {
				t.Fatalf("restored %d; saved %d", n, res.Saved)
			}
			if name, _ := b.TestPlan(1).Name(ctx); name != "Regression" {
				t.Fatalf("plan name = %q", name)
			}
			if s, _ := b.TestRun(1).Summary(ctx); s != "nightly" {
				t.Fatalf("run summary = %q", s)
			}
			refs, err := b.TestRun(1).Cases().Refs(ctx)
			if err != nil || !slices.Equal(refs, []string{"1", "2"}) {
				t.Fatalf("run cases = %v, %v", refs, err)
			}
			if s, _ := b.TestCase(2).Summary(ctx); s != "case 2" {
				t.Fatalf("case 2 summary = %q", s)
			}
			tags, err := b.TestCase(1).Tags().Names(ctx)
			if err != nil || !slices.Equal(tags, []string{"Tier1"}) {
				t.Fatalf("tags = %v, %v", tags, err)
			}
			if n := srv.Count(""); n != 0 {
				t.Fatalf("restored client made %d calls: %+v", n, srv.Calls())
			}
		})
	}
}

func TestSaveSkipsPendingEdits(t *testing.T) {
	ctx := context.Background()
	srv := fakerpc.New()
	seedWorld(srv)
	clk := newClock()
	st := newSnapshotStore(t, newBigcache(t), nil, "json")

	a := newPersistentClient(t, srv, clk, st)
	_ = a.TestCase(1).SetNotes(ctx, "unpushed")
	_, _ = a.TestCase(2).Summary(ctx)
	if _, err := a.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b := newPersistentClient(t, srv, clk, st)
	if _, err := b.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	srv.ResetCalls()
	notes, _ := b.TestCase(1).Notes(ctx)
	if notes != "" {
		t.Fatalf("dirty object leaked into the snapshot: %q", notes)
	}
	if n := srv.Count("TestCase.filter"); n != 1 {
		t.Fatalf("case 1 should be fetched, filter = %d", n)
	}
}

func TestInvalidatedRecordsDroppedAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	srv := fakerpc.New()
	seedWorld(srv)
	seedLinks(t, srv)
	clk := newClock()
	shared := newBigcache(t)
	gens := gen.NewRedisGenStore(rdb, "tcms:test", 0)
	// two stores over the same bytes and generations behave like two processes
	stA := newSnapshotStore(t, shared, gens, "cbor")
	stB := newSnapshotStore(t, shared, gens, "cbor")

	a := newPersistentClient(t, srv, clk, stA)
	warm(t, a)
	saved, err := a.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	b := newPersistentClient(t, srv, clk, stB)
	if _, err := b.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := b.TestCase(1).SetNotes(ctx, "changed by b"); err != nil {
		t.Fatalf("SetNotes: %v", err)
	}
	if err := b.TestCase(1).Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !mr.Exists("gen:tcms:test:TestCase:1") {
		t.Fatalf("update did not bump the shared generation: %v", mr.Keys())
	}

	// a's snapshot is still the stored one; its case 1 record is stale now
	c := newPersistentClient(t, srv, clk, stA)
	n, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != saved.Saved-1 {
		t.Fatalf("restored %d; want %d", n, saved.Saved-1)
	}
	srv.ResetCalls()
	notes, err := c.TestCase(1).Notes(ctx)
	if err != nil || notes != "changed by b" {
		t.Fatalf("Notes = %q, %v", notes, err)
	}
	if n := srv.Count("TestCase.filter"); n != 1 {
		t.Fatalf("stale case not refetched: filter = %d", n)
	}

	// a's in-memory copy predates the bump, so saving it again skips it
	res, err := a.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !slices.Contains(res.Skipped, "TestCase:1") {
		t.Fatalf("Skipped = %v; want TestCase:1", res.Skipped)
	}
}

func TestLoadKeepsFresherLiveObjects(t *testing.T) {
	ctx := context.Background()
	srv := fakerpc.New()
	seedWorld(srv)
	clk := newClock()
	st := newSnapshotStore(t, newBigcache(t), nil, "json")

	a := newPersistentClient(t, srv, clk, st)
	_, _ = a.TestCase(3).Summary(ctx)
	if _, err := a.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	srv.Seed("TestCase", fakerpc.Row{"id": 3, "summary": "renamed", "category_id": 1, "priority_id": 1, "case_status_id": 2})
	clk.advance(1)
	b := newPersistentClient(t, srv, clk, st)
	live := b.TestCase(3)
	_, _ = live.Summary(ctx)
	if _, err := b.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.TestCase(3) != live {
		t.Fatalf("Load replaced the live instance")
	}
	if s, _ := live.Summary(ctx); s != "renamed" {
		t.Fatalf("summary = %q; older snapshot won", s)
	}
}

func TestLoadKeepsPendingContainerEdits(t *testing.T) {
	ctx := context.Background()
	srv := fakerpc.New()
	seedWorld(srv)
	seedLinks(t, srv)
	clk := newClock()
	st := newSnapshotStore(t, newBigcache(t), nil, "json")

	a := newPersistentClient(t, srv, clk, st)
	warm(t, a)
	if _, err := a.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b := newPersistentClient(t, srv, clk, st)
	run := b.TestRun(1)
	if err := run.Cases().Add(ctx, b.TestCase(3)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	srv.ResetCalls()
	if _, err := b.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !run.Cases().Modified() {
		t.Fatalf("Load discarded the pending add")
	}
	refs, err := run.Cases().Refs(ctx)
	if err != nil || !slices.Equal(refs, []string{"1", "2", "3"}) {
		t.Fatalf("Refs = %v, %v", refs, err)
	}
	if err := run.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	calls := srv.CallsTo("TestRun.add_cases")
	if len(calls) != 1 || !slices.Equal(paramInts(t, calls[0].Params[1]), []int{3}) {
		t.Fatalf("add_cases calls = %v", calls)
	}
}

func TestSaveLoadRequirePersistentLevel(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newWorld(t, CacheObjects)
	if _, err := c.Save(ctx); !errors.Is(err, ErrNotPersistent) {
		t.Fatalf("Save = %v", err)
	}
	if _, err := c.Load(ctx); !errors.Is(err, ErrNotPersistent) {
		t.Fatalf("Load = %v", err)
	}
}
