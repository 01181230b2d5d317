package tcms

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/unkn0wn-root/tcms/transport"
)

func TestTagsAddDeferredUntilUpdate(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)

	tc := c.TestCase(1)
	tags := tc.Tags()
	if err := tags.AddNames(ctx, "Tier1"); err != nil {
		t.Fatalf("AddNames: %v", err)
	}
	has, err := tags.HasName(ctx, "Tier1")
	if err != nil || !has {
		t.Fatalf("HasName before update = %v, %v; want true", has, err)
	}
	if n := srv.Count("TestCase.add_tag"); n != 0 {
		t.Fatalf("add_tag calls before update = %d; want 0", n)
	}

	if err := tc.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n := srv.Count("TestCase.add_tag"); n != 1 {
		t.Fatalf("add_tag calls after update = %d; want 1", n)
	}

	c.Clear()
	fresh := c.TestCase(1)
	if fresh == tc {
		t.Fatalf("expected a new instance after Clear")
	}
	has, err = fresh.Tags().HasName(ctx, "Tier1")
	if err != nil || !has {
		t.Fatalf("fresh HasName = %v, %v; want true", has, err)
	}
}

func TestBatchedAddSendsNetDelta(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	a, b, cc := c.Component(1), c.Component(2), c.Component(3)
	comps := c.TestCase(1).Components()

	if err := comps.Add(ctx, a, b); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := comps.Add(ctx, b, cc); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := comps.Remove(ctx, b); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := comps.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	adds := srv.CallsTo("TestCase.add_component")
	if len(adds) != 1 {
		t.Fatalf("add_component calls = %d; want 1", len(adds))
	}
	if got := paramInts(t, adds[0].Params[1]); !slices.Equal(got, []int{1, 3}) {
		t.Fatalf("add_component ids = %v; want [1 3]", got)
	}
	if n := srv.Count("TestCase.remove_component"); n != 0 {
		t.Fatalf("remove_component calls = %d; want 0", n)
	}
}

func TestUpdateLeavesContainerClean(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newWorld(t, CacheObjects)
	tags := c.TestPlan(1).Tags()

	if err := tags.AddNames(ctx, "a", "b"); err != nil {
		t.Fatalf("AddNames: %v", err)
	}
	if err := tags.RemoveNames(ctx, "a"); err != nil {
		t.Fatalf("RemoveNames: %v", err)
	}
	if !tags.Modified() {
		t.Fatalf("expected modified")
	}
	if err := tags.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if tags.Modified() {
		t.Fatalf("modified after update")
	}
	added, removed := tags.Pending()
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("pending after update = %v, %v", added, removed)
	}
	st := tags.Sleep()
	if !slices.Equal(st.Current, st.Original) || !slices.Equal(st.Current, []string{"b"}) {
		t.Fatalf("state after update = %+v", st)
	}
}

func TestAddTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newWorld(t, CacheObjects)
	comps := c.TestCase(2).Components()
	x := c.Component(2)

	if err := comps.Add(ctx, x); err != nil {
		t.Fatalf("Add: %v", err)
	}
	once, _ := comps.Refs(ctx)
	if err := comps.Add(ctx, x); err != nil {
		t.Fatalf("Add: %v", err)
	}
	twice, _ := comps.Refs(ctx)
	if !slices.Equal(once, twice) {
		t.Fatalf("refs after second add = %v; want %v", twice, once)
	}
	added, _ := comps.Pending()
	if len(added) != 1 {
		t.Fatalf("pending adds = %d; want 1", len(added))
	}
}

func TestAddThenRemoveCancels(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	tags := c.TestCase(1).Tags()

	if err := tags.AddNames(ctx, "flaky"); err != nil {
		t.Fatalf("AddNames: %v", err)
	}
	if err := tags.RemoveNames(ctx, "flaky"); err != nil {
		t.Fatalf("RemoveNames: %v", err)
	}
	if tags.Modified() {
		t.Fatalf("add+remove should leave the container unmodified")
	}
	if err := tags.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n := srv.Count("TestCase.add_tag") + srv.Count("TestCase.remove_tag"); n != 0 {
		t.Fatalf("tag calls = %d; want 0", n)
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newWorld(t, CacheObjects)
	tags := c.TestCase(1).Tags()
	if err := tags.RemoveNames(ctx, "never-there"); err != nil {
		t.Fatalf("RemoveNames: %v", err)
	}
	if tags.Modified() {
		t.Fatalf("removing an absent item must not modify")
	}
}

func TestModifiedContainerNotRefetched(t *testing.T) {
	ctx := context.Background()
	c, srv, clk := newWorld(t, CacheObjects)
	tags := c.TestCase(1).Tags()
	if err := tags.AddNames(ctx, "pending"); err != nil {
		t.Fatalf("AddNames: %v", err)
	}
	if n := srv.Count("TestCase.get_tags"); n != 1 {
		t.Fatalf("get_tags = %d; want 1", n)
	}

	clk.advance(3 * time.Hour)
	names, err := tags.Names(ctx)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if !slices.Equal(names, []string{"pending"}) {
		t.Fatalf("names = %v", names)
	}
	if n := srv.Count("TestCase.get_tags"); n != 1 {
		t.Fatalf("modified container refetched: get_tags = %d", n)
	}

	// once pushed, an expired set is fetched again, once
	if err := tags.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	clk.advance(2 * time.Hour)
	_, _ = tags.Names(ctx)
	_, _ = tags.Names(ctx)
	if n := srv.Count("TestCase.get_tags"); n != 2 {
		t.Fatalf("get_tags after expiry = %d; want 2", n)
	}
}

func TestDuplicateBatchRetriedPerItem(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	comps := c.TestCase(1).Components()
	if _, err := comps.Len(ctx); err != nil {
		t.Fatalf("Len: %v", err)
	}
	// someone else links component 2 after our fetch
	if _, err := srv.Call(ctx, "TestCase.add_component", 1, []int{2}); err != nil {
		t.Fatalf("seed link: %v", err)
	}
	srv.ResetCalls()

	if err := comps.Add(ctx, c.Component(1), c.Component(2), c.Component(3)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := comps.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// one failed batch, then one call per item
	if n := srv.Count("TestCase.add_component"); n != 4 {
		t.Fatalf("add_component calls = %d; want 4", n)
	}

	c.Clear()
	refs, err := c.TestCase(1).Components().Refs(ctx)
	if err != nil {
		t.Fatalf("Refs: %v", err)
	}
	if !slices.Equal(refs, []string{"1", "2", "3"}) {
		t.Fatalf("server components = %v", refs)
	}
}

func TestOtherFaultsPropagate(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	comps := c.TestCase(1).Components()
	if err := comps.Add(ctx, c.Component(1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	srv.FailOnce("TestCase.add_component", "database is locked")

	err := comps.Update(ctx)
	var f *ServerFault
	if !errors.As(err, &f) {
		t.Fatalf("Update err = %v; want fault", err)
	}
	if transport.IsDuplicate(err) {
		t.Fatalf("fault must not look like a duplicate")
	}
	if !comps.Modified() {
		t.Fatalf("failed update must keep the pending edit")
	}
	if n := srv.Count("TestCase.add_component"); n != 1 {
		t.Fatalf("add_component calls = %d; want 1 (no retry)", n)
	}
	if err := comps.Update(ctx); err != nil {
		t.Fatalf("second Update: %v", err)
	}
}

func TestDuplicateOnTagsIsNotRetried(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	tags := c.TestCase(1).Tags()
	if err := tags.AddNames(ctx, "x"); err != nil {
		t.Fatalf("AddNames: %v", err)
	}
	srv.FailOnce("TestCase.add_tag", "Duplicate entry 'x' for key 'name'")
	if err := tags.Update(ctx); !transport.IsDuplicate(err) {
		t.Fatalf("Update err = %v; want duplicate fault", err)
	}
}

func TestDerivedContainersRejectWrites(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)

	cases := []struct {
		name string
		err  error
		use  string
	}{
		{"RunCaseRuns.Add", c.TestRun(1).CaseRuns().Add(ctx, c.CaseRun(1)), "TestRun.Cases"},
		{"RunCaseRuns.Clear", c.TestRun(1).CaseRuns().Clear(ctx), "TestRun.Cases"},
		{"PlanRuns.Remove", c.TestPlan(1).Runs().Remove(ctx, c.TestRun(1)), "Client.NewTestRun"},
		{"CasePlans.Add", c.TestPlan(1).CasePlans().Add(ctx, &CasePlan{Case: c.TestCase(1)}), "TestPlan.Cases"},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, ErrInvalidOperation) {
			t.Fatalf("%s: err = %v; want ErrInvalidOperation", tc.name, tc.err)
		}
		var ioe *InvalidOperationError
		if !errors.As(tc.err, &ioe) || ioe.Use != tc.use {
			t.Fatalf("%s: err = %v; want use %s", tc.name, tc.err, tc.use)
		}
	}
	if n := srv.Count(""); n != 0 {
		t.Fatalf("rejected writes made %d calls", n)
	}
}

func TestSleepWakeWithoutRPC(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	tc := c.TestCase(1)
	if err := tc.Tags().AddNames(ctx, "a", "b"); err != nil {
		t.Fatalf("AddNames: %v", err)
	}
	if err := tc.Components().Add(ctx, c.Component(1), c.Component(3)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := tc.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// the components themselves must be cached, not just their ids
	for _, id := range []int{1, 3} {
		if _, err := c.Component(id).Name(ctx); err != nil {
			t.Fatalf("Component(%d): %v", id, err)
		}
	}
	tagState, compState := tc.Tags().Sleep(), tc.Components().Sleep()
	srv.ResetCalls()

	tags := newTags(&tc.object)
	comps := newComponents(&tc.object)
	if !tags.Wake(tagState) || !comps.Wake(compState) {
		t.Fatalf("Wake failed with every item cached")
	}
	if got := tags.Sleep(); !slices.Equal(got.Current, tagState.Current) || !slices.Equal(got.Original, tagState.Original) {
		t.Fatalf("tags state = %+v; want %+v", got, tagState)
	}
	refs, _ := comps.Refs(ctx)
	if !slices.Equal(refs, []string{"1", "3"}) {
		t.Fatalf("component refs = %v", refs)
	}
	if n := srv.Count(""); n != 0 {
		t.Fatalf("wake made %d calls; want 0", n)
	}
}

func TestWakeWithUnknownRefFetchesAgain(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	comps := c.TestPlan(1).Components()
	if comps.Wake(ContainerState{Fetched: true, Current: []string{"77"}, Original: []string{"77"}}) {
		t.Fatalf("Wake succeeded with an uncached component")
	}
	if _, err := comps.Len(ctx); err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n := srv.Count("TestPlan.get_components"); n != 1 {
		t.Fatalf("get_components = %d; want 1", n)
	}
}

func TestWakeKeepsPendingChanges(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	comps := c.TestPlan(1).Components()
	if err := comps.Add(ctx, c.Component(2)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if comps.Wake(ContainerState{Fetched: true}) {
		t.Fatalf("Wake replaced a modified container")
	}
	if !comps.Modified() {
		t.Fatalf("pending add dropped by Wake")
	}
	if err := comps.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	calls := srv.CallsTo("TestPlan.add_component")
	if len(calls) != 1 || !slices.Equal(paramInts(t, calls[0].Params[1]), []int{2}) {
		t.Fatalf("add_component calls = %v", calls)
	}
}

func TestBugsAttachThenDetach(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	bugs := c.TestCase(2).Bugs()

	if err := bugs.AddBug(ctx, 4242, 1); err != nil {
		t.Fatalf("AddBug: %v", err)
	}
	if err := bugs.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n := srv.Count("TestCase.attach_bug"); n != 1 {
		t.Fatalf("attach_bug = %d; want 1", n)
	}
	items, err := bugs.Items(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("Items = %v, %v", items, err)
	}
	if items[0].ID() == 0 || items[0].Case() != c.TestCase(2) {
		t.Fatalf("bug after refetch = %+v", items[0])
	}

	if err := bugs.RemoveBug(ctx, 4242, 1); err != nil {
		t.Fatalf("RemoveBug: %v", err)
	}
	if err := bugs.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	detach := srv.CallsTo("TestCase.detach_bug")
	if len(detach) != 1 || !slices.Equal(paramInts(t, detach[0].Params[1]), []int{items[0].ID()}) {
		t.Fatalf("detach_bug calls = %+v", detach)
	}
	if srv.Row("Bug", items[0].ID()) != nil {
		t.Fatalf("bug record still on server")
	}
}

func TestChildPlansReparent(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	parent, child := c.TestPlan(1), c.TestPlan(2)

	if err := parent.Children().Add(ctx, child); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := parent.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := srv.Row("TestPlan", 2)["parent_id"]; got != float64(1) {
		t.Fatalf("child parent_id = %v; want 1", got)
	}
	if child.Dirty() {
		t.Fatalf("child left dirty")
	}

	if err := parent.Children().Remove(ctx, child); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := parent.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := srv.Row("TestPlan", 2)["parent_id"]; got != nil {
		t.Fatalf("child parent_id = %v; want nil", got)
	}
}

func TestRunCasesBatchedAndCaseRunsFollow(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	run := c.TestRun(1)

	if n, err := run.CaseRuns().Len(ctx); err != nil || n != 0 {
		t.Fatalf("CaseRuns.Len = %d, %v", n, err)
	}
	if err := run.Cases().Add(ctx, c.TestCase(1), c.TestCase(2), c.TestCase(3)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := run.Cases().Remove(ctx, c.TestCase(3)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := run.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	adds := srv.CallsTo("TestRun.add_cases")
	if len(adds) != 1 || !slices.Equal(paramInts(t, adds[0].Params[1]), []int{1, 2}) {
		t.Fatalf("add_cases calls = %+v", adds)
	}
	if n := srv.Count("TestRun.remove_cases"); n != 0 {
		t.Fatalf("remove_cases = %d; want 0", n)
	}
	if n, err := run.CaseRuns().Len(ctx); err != nil || n != 2 {
		t.Fatalf("CaseRuns.Len after update = %d, %v; want 2", n, err)
	}

	if err := run.Cases().Remove(ctx, c.TestCase(1), c.TestCase(2)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := run.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rm := srv.CallsTo("TestRun.remove_cases")
	if len(rm) != 1 || !slices.Equal(paramInts(t, rm[0].Params[1]), []int{1, 2}) {
		t.Fatalf("remove_cases calls = %+v", rm)
	}
}

func TestPlanCasesAndSortkeys(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheObjects)
	srv.Link(1, 3, 10)
	plan := c.TestPlan(1)

	if err := plan.Cases().Add(ctx, c.TestCase(1), c.TestCase(2)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := plan.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	links := srv.CallsTo("TestCase.link_plan")
	if len(links) != 1 || !slices.Equal(paramInts(t, links[0].Params[0]), []int{1, 2}) {
		t.Fatalf("link_plan calls = %+v", links)
	}

	ordered, err := plan.CasePlans().Ordered(ctx)
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}
	if len(ordered) != 3 || ordered[2] != c.TestCase(3) {
		t.Fatalf("ordered = %v", ordered)
	}
	if k, ok, _ := plan.CasePlans().Sortkey(ctx, c.TestCase(3)); !ok || k != 10 {
		t.Fatalf("sortkey = %d, %v; want 10", k, ok)
	}

	plans, err := c.TestCase(1).Plans().Refs(ctx)
	if err != nil || !slices.Equal(plans, []string{"1"}) {
		t.Fatalf("case plans = %v, %v", plans, err)
	}
	if err := c.TestCase(1).Plans().Remove(ctx, plan); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.TestCase(1).Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n := srv.Count("TestCase.unlink_plan"); n != 1 {
		t.Fatalf("unlink_plan = %d; want 1", n)
	}
}

func TestContainersSyncImmediatelyBelowChanges(t *testing.T) {
	ctx := context.Background()
	c, srv, _ := newWorld(t, CacheNone)
	tags := c.TestCase(1).Tags()
	if err := tags.AddNames(ctx, "now"); err != nil {
		t.Fatalf("AddNames: %v", err)
	}
	if tags.Modified() {
		t.Fatalf("container left modified at CacheNone")
	}
	if n := srv.Count("TestCase.add_tag"); n != 1 {
		t.Fatalf("add_tag = %d; want 1", n)
	}
	if got := srv.TagNames("TestCase", 1); !slices.Equal(got, []string{"now"}) {
		t.Fatalf("server tags = %v", got)
	}
}
