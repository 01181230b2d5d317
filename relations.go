package tcms

import (
	"context"
	"sort"
)

// Relationship names, used as container keys in persisted records.
const (
	relTags       = "Tags"
	relComponents = "Components"
	relBugs       = "Bugs"
	relChildren   = "ChildPlans"
	relCases      = "Cases"
	relPlans      = "Plans"
	relSortkeys   = "CasePlans"
	relRuns       = "Runs"
	relCaseRuns   = "CaseRuns"
)

// TagContainer is the tag set of a case, plan or run. Tags go out one
// add_tag or remove_tag call per name.
type TagContainer struct {
	*Container[*Tag]
}

func newTags(o *object) *TagContainer {
	c := o.client
	return &TagContainer{newContainer(o, relTags, binding[*Tag]{
		fetch: func(ctx context.Context) ([]*Tag, error) {
			res, err := c.call(ctx, o.class+".get_tags", o.id)
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.tags, res, c.newTag)
		},
		add: func(ctx context.Context, tags []*Tag) error {
			for _, t := range tags {
				if _, err := c.call(ctx, o.class+".add_tag", o.id, t.name); err != nil {
					return err
				}
			}
			return nil
		},
		remove: func(ctx context.Context, tags []*Tag) error {
			for _, t := range tags {
				if _, err := c.call(ctx, o.class+".remove_tag", o.id, t.name); err != nil {
					return err
				}
			}
			return nil
		},
		resolve: func(ref string) (*Tag, bool) { return c.tags.LookupKey(nameKey(ref)) },
	})}
}

func (tc *TagContainer) AddNames(ctx context.Context, names ...string) error {
	return tc.Add(ctx, tc.client.Tags(names...)...)
}

func (tc *TagContainer) RemoveNames(ctx context.Context, names ...string) error {
	return tc.Remove(ctx, tc.client.Tags(names...)...)
}

func (tc *TagContainer) HasName(ctx context.Context, name string) (bool, error) {
	return tc.HasRef(ctx, name)
}

// Names returns the tag names in order.
func (tc *TagContainer) Names(ctx context.Context) ([]string, error) {
	return tc.Refs(ctx)
}

// newComponents binds <Owner>.get_components / add_component (batched) /
// remove_component (per item). A batched add that hits an existing link is
// split so the remaining components still get linked.
func newComponents(o *object) *Container[*Component] {
	c := o.client
	return newContainer(o, relComponents, binding[*Component]{
		fetch: func(ctx context.Context) ([]*Component, error) {
			res, err := c.call(ctx, o.class+".get_components", o.id)
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.components, res, c.newComponent)
		},
		add: func(ctx context.Context, items []*Component) error {
			_, err := c.call(ctx, o.class+".add_component", o.id, ids(items))
			return err
		},
		remove: func(ctx context.Context, items []*Component) error {
			for _, m := range items {
				if _, err := c.call(ctx, o.class+".remove_component", o.id, m.id); err != nil {
					return err
				}
			}
			return nil
		},
		resolve:         resolveID(c.components),
		retryDuplicates: true,
	})
}

// BugContainer holds the bugs attached to a case or a case run.
type BugContainer struct {
	*Container[*Bug]
}

// newBugs binds attach_bug (batched dicts) and detach_bug (batched record
// ids). After an attach the set is reloaded to learn the record ids.
// stamp fills the attachment target into a bug inject.
func newBugs(o *object, stamp func(ctx context.Context, in Inject) error) *BugContainer {
	c := o.client
	mine := func(b *Bug) bool {
		if o.class == classCaseRun {
			return b.caseRunID == o.id
		}
		return b.caseID == o.id
	}
	return &BugContainer{newContainer(o, relBugs, binding[*Bug]{
		fetch: func(ctx context.Context) ([]*Bug, error) {
			res, err := c.call(ctx, o.class+".get_bugs", o.id)
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.bugs, res, c.newBug)
		},
		add: func(ctx context.Context, bugs []*Bug) error {
			dicts := make([]map[string]any, len(bugs))
			for i, b := range bugs {
				in := Inject{"bug_id": b.bugID, "bug_system_id": b.system}
				if b.summary != "" {
					in["summary"] = b.summary
				}
				if err := stamp(ctx, in); err != nil {
					return err
				}
				dicts[i] = in
			}
			_, err := c.call(ctx, o.class+".attach_bug", dicts)
			return err
		},
		remove: func(ctx context.Context, bugs []*Bug) error {
			recs := make([]int, 0, len(bugs))
			for _, b := range bugs {
				if b.id != 0 {
					recs = append(recs, b.id)
				}
			}
			if len(recs) == 0 {
				return nil
			}
			_, err := c.call(ctx, o.class+".detach_bug", o.id, recs)
			return err
		},
		resolve: func(ref string) (*Bug, bool) {
			var found *Bug
			c.bugs.Each(func(b *Bug) {
				if found == nil && b.Ref() == ref && mine(b) {
					found = b
				}
			})
			return found, found != nil
		},
		refetch: true,
	})}
}

// AddBug attaches bug number bugID from tracker system.
func (bc *BugContainer) AddBug(ctx context.Context, bugID, system int) error {
	return bc.Add(ctx, bc.client.NewBug(bugID, system))
}

// RemoveBug detaches bug number bugID from tracker system.
func (bc *BugContainer) RemoveBug(ctx context.Context, bugID, system int) error {
	return bc.Remove(ctx, bc.client.NewBug(bugID, system))
}

// newChildPlans lists plans whose parent is the owner. Adding or removing
// a child rewrites the child's parent and pushes the child.
func newChildPlans(p *TestPlan) *Container[*TestPlan] {
	o := &p.object
	c := o.client
	reparent := func(ctx context.Context, plans []*TestPlan, parent int) error {
		for _, child := range plans {
			if err := set(ctx, child, func() { child.parent = parent }); err != nil {
				return err
			}
			if err := child.Update(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return newContainer(o, relChildren, binding[*TestPlan]{
		fetch: func(ctx context.Context) ([]*TestPlan, error) {
			res, err := c.call(ctx, classTestPlan+".filter", map[string]any{"parent_id": o.id})
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.plans, res, c.newTestPlan)
		},
		add: func(ctx context.Context, plans []*TestPlan) error {
			return reparent(ctx, plans, o.id)
		},
		remove: func(ctx context.Context, plans []*TestPlan) error {
			return reparent(ctx, plans, 0)
		},
		resolve: resolveID(c.plans),
	})
}

// newPlanCases binds the cases of a plan: TestCase.link_plan batched over
// cases, TestCase.unlink_plan per case.
func newPlanCases(o *object) *Container[*TestCase] {
	c := o.client
	return newContainer(o, relCases, binding[*TestCase]{
		fetch: func(ctx context.Context) ([]*TestCase, error) {
			res, err := c.call(ctx, classTestPlan+".get_test_cases", o.id)
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.cases, res, c.newTestCase)
		},
		add: func(ctx context.Context, cases []*TestCase) error {
			_, err := c.call(ctx, classTestCase+".link_plan", ids(cases), o.id)
			return err
		},
		remove: func(ctx context.Context, cases []*TestCase) error {
			for _, tc := range cases {
				if _, err := c.call(ctx, classTestCase+".unlink_plan", tc.id, o.id); err != nil {
					return err
				}
			}
			return nil
		},
		resolve: resolveID(c.cases),
	})
}

// newCasePlans is the same link seen from the case.
func newCasePlans(o *object) *Container[*TestPlan] {
	c := o.client
	return newContainer(o, relPlans, binding[*TestPlan]{
		fetch: func(ctx context.Context) ([]*TestPlan, error) {
			res, err := c.call(ctx, classTestCase+".get_plans", o.id)
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.plans, res, c.newTestPlan)
		},
		add: func(ctx context.Context, plans []*TestPlan) error {
			_, err := c.call(ctx, classTestCase+".link_plan", o.id, ids(plans))
			return err
		},
		remove: func(ctx context.Context, plans []*TestPlan) error {
			for _, p := range plans {
				if _, err := c.call(ctx, classTestCase+".unlink_plan", o.id, p.id); err != nil {
					return err
				}
			}
			return nil
		},
		resolve: resolveID(c.plans),
	})
}

// CasePlan is one plan-case link with the case's position in the plan.
type CasePlan struct {
	Case    *TestCase
	Sortkey int
}

func (cp *CasePlan) Ref() string { return cp.Case.Ref() }

// SortkeyContainer is a read-only view of a plan's cases with their
// sortkeys. Links are written through TestPlan.Cases.
type SortkeyContainer struct {
	*Container[*CasePlan]
}

func newSortkeys(o *object) *SortkeyContainer {
	c := o.client
	return &SortkeyContainer{newContainer(o, relSortkeys, binding[*CasePlan]{
		fetch: func(ctx context.Context) ([]*CasePlan, error) {
			res, err := c.call(ctx, classTestPlan+".get_test_cases", o.id)
			if err != nil {
				return nil, err
			}
			list, err := injectList(res)
			if err != nil {
				return nil, err
			}
			out := make([]*CasePlan, len(list))
			for i, in := range list {
				out[i] = &CasePlan{Case: fromInject(c, c.cases, in, c.newTestCase), Sortkey: in.Int("sortkey")}
			}
			return out, nil
		},
		use: classTestPlan + "." + relCases,
	})}
}

// Ordered returns the plan's cases by sortkey, then id.
func (sc *SortkeyContainer) Ordered(ctx context.Context) ([]*TestCase, error) {
	links, err := sc.Items(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(links, func(i, j int) bool { return links[i].Sortkey < links[j].Sortkey })
	out := make([]*TestCase, len(links))
	for i, l := range links {
		out[i] = l.Case
	}
	return out, nil
}

// Sortkey returns the position of tc in the plan.
func (sc *SortkeyContainer) Sortkey(ctx context.Context, tc *TestCase) (int, bool, error) {
	links, err := sc.Items(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, l := range links {
		if l.Case.id == tc.id {
			return l.Sortkey, true, nil
		}
	}
	return 0, false, nil
}

// newRunCases binds TestRun.add_cases / remove_cases, both batched.
func newRunCases(o *object) *Container[*TestCase] {
	c := o.client
	return newContainer(o, relCases, binding[*TestCase]{
		fetch: func(ctx context.Context) ([]*TestCase, error) {
			res, err := c.call(ctx, classTestRun+".get_test_cases", o.id)
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.cases, res, c.newTestCase)
		},
		add: func(ctx context.Context, cases []*TestCase) error {
			_, err := c.call(ctx, classTestRun+".add_cases", o.id, ids(cases))
			return err
		},
		remove: func(ctx context.Context, cases []*TestCase) error {
			_, err := c.call(ctx, classTestRun+".remove_cases", o.id, ids(cases))
			return err
		},
		resolve: resolveID(c.cases),
	})
}

// newRunCaseRuns lists the case runs of a run. They come into existence by
// adding cases to the run.
func newRunCaseRuns(o *object) *Container[*CaseRun] {
	c := o.client
	return newContainer(o, relCaseRuns, binding[*CaseRun]{
		fetch: func(ctx context.Context) ([]*CaseRun, error) {
			res, err := c.call(ctx, classTestRun+".get_test_case_runs", o.id)
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.caseRuns, res, c.newCaseRun)
		},
		resolve: resolveID(c.caseRuns),
		use:     classTestRun + "." + relCases,
	})
}

// newPlanRuns lists the runs of a plan. Runs are created with NewTestRun.
func newPlanRuns(o *object) *Container[*TestRun] {
	c := o.client
	return newContainer(o, relRuns, binding[*TestRun]{
		fetch: func(ctx context.Context) ([]*TestRun, error) {
			res, err := c.call(ctx, classTestPlan+".get_test_runs", o.id)
			if err != nil {
				return nil, err
			}
			return fromInjects(c, c.runs, res, c.newTestRun)
		},
		resolve: resolveID(c.runs),
		use:     "Client.NewTestRun",
	})
}

func resolveID[T cacheable](cache *IdentityCache[T]) func(string) (T, bool) {
	return func(ref string) (T, bool) {
		id, ok := refID(ref)
		if !ok {
			var zero T
			return zero, false
		}
		return cache.Lookup(id)
	}
}
