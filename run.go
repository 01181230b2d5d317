package tcms

import "context"

// TestRun is one execution of a plan against a build.
type TestRun struct {
	mutable
	summary string
	notes   string
	plan    int
	build   int
	manager int
	tester  int
	status  RunStatus

	tags     *TagContainer
	cases    *Container[*TestCase]
	caseRuns *Container[*CaseRun]
}

func (c *Client) newTestRun() *TestRun {
	return &TestRun{mutable: mutable{object: c.newObject(classTestRun, c.exp)}}
}

func (c *Client) TestRun(id int) *TestRun { return byID(c, c.runs, id, c.newTestRun) }

func (c *Client) TestRuns(ctx context.Context, query map[string]any) ([]*TestRun, error) {
	res, err := c.call(ctx, classTestRun+".filter", query)
	if err != nil {
		return nil, err
	}
	return fromInjects(c, c.runs, res, c.newTestRun)
}

// RunSpec describes a run to create. Plan, Build, Manager and Summary are
// required. Cases are added to the run on creation.
type RunSpec struct {
	Plan    *TestPlan
	Build   *Build
	Manager *User
	Tester  *User
	Summary string
	Notes   string
	Cases   []*TestCase
}

// NewTestRun creates a run on the server. This is the only way to add a run
// to a plan.
func (c *Client) NewTestRun(ctx context.Context, s RunSpec) (*TestRun, error) {
	switch {
	case s.Summary == "":
		return nil, &AmbiguousInitializationError{Class: classTestRun, Reason: "summary is required"}
	case s.Plan == nil || s.Build == nil || s.Manager == nil:
		return nil, &AmbiguousInitializationError{Class: classTestRun, Reason: "plan, build and manager are required"}
	}
	hash := map[string]any{
		"summary":           s.Summary,
		"notes":             s.Notes,
		"plan_id":           s.Plan.ID(),
		"build_id":          s.Build.ID(),
		"manager_id":        s.Manager.ID(),
		"default_tester_id": idOrNil(refOf(s.Tester)),
	}
	if len(s.Cases) > 0 {
		hash["case"] = ids(s.Cases)
	}
	r, err := create(ctx, c, c.runs, hash, c.newTestRun)
	if err != nil {
		return nil, err
	}
	if len(s.Cases) > 0 {
		r.Cases().seed(s.Cases)
	}
	return r, nil
}

func (r *TestRun) Ref() string { return idRef(r.id) }

func (r *TestRun) Summary(ctx context.Context) (string, error) {
	return get(ctx, r, func() string { return r.summary })
}

func (r *TestRun) SetSummary(ctx context.Context, s string) error {
	return set(ctx, r, func() { r.summary = s })
}

func (r *TestRun) Notes(ctx context.Context) (string, error) {
	return get(ctx, r, func() string { return r.notes })
}

func (r *TestRun) SetNotes(ctx context.Context, s string) error {
	return set(ctx, r, func() { r.notes = s })
}

func (r *TestRun) Plan(ctx context.Context) (*TestPlan, error) {
	return get(ctx, r, func() *TestPlan { return r.client.TestPlan(r.plan) })
}

func (r *TestRun) Build(ctx context.Context) (*Build, error) {
	return get(ctx, r, func() *Build { return r.client.Build(r.build) })
}

func (r *TestRun) SetBuild(ctx context.Context, b *Build) error {
	return setRef(ctx, r, "build", b, func(id int) { r.build = id })
}

func (r *TestRun) Manager(ctx context.Context) (*User, error) {
	return get(ctx, r, func() *User { return optUser(r.client, r.manager) })
}

func (r *TestRun) SetManager(ctx context.Context, u *User) error {
	return set(ctx, r, func() { r.manager = refOf(u) })
}

func (r *TestRun) Tester(ctx context.Context) (*User, error) {
	return get(ctx, r, func() *User { return optUser(r.client, r.tester) })
}

func (r *TestRun) SetTester(ctx context.Context, u *User) error {
	return set(ctx, r, func() { r.tester = refOf(u) })
}

func (r *TestRun) Status(ctx context.Context) (RunStatus, error) {
	return get(ctx, r, func() RunStatus { return r.status })
}

func (r *TestRun) SetStatus(ctx context.Context, s RunStatus) error {
	return set(ctx, r, func() { r.status = s })
}

func (r *TestRun) Tags() *TagContainer {
	if r.tags == nil {
		r.tags = newTags(&r.object)
	}
	return r.tags
}

// Cases is the set of cases in the run; adding a case creates its case run.
func (r *TestRun) Cases() *Container[*TestCase] {
	if r.cases == nil {
		r.cases = newRunCases(&r.object)
	}
	return r.cases
}

// CaseRuns is read-only; change it through Cases.
func (r *TestRun) CaseRuns() *Container[*CaseRun] {
	if r.caseRuns == nil {
		r.caseRuns = newRunCaseRuns(&r.object)
	}
	return r.caseRuns
}

func (r *TestRun) Update(ctx context.Context) error {
	casesChanged := r.cases != nil && r.cases.Modified()
	if err := update(ctx, r); err != nil {
		return err
	}
	// case runs appear or vanish with the cases
	if casesChanged && r.caseRuns != nil {
		r.caseRuns.fetched = false
	}
	return nil
}

func (r *TestRun) query() (map[string]any, error) { return r.idQuery() }

func (r *TestRun) apply(in Inject) {
	r.summary = in.String("summary")
	r.notes = in.String("notes")
	r.plan = in.Int("plan_id")
	r.build = in.Int("build_id")
	r.manager = in.Int("manager_id")
	r.tester = in.Int("default_tester_id")
	r.status = RunStatus(in.Int("status"))
	if tags, ok := in.List("tags"); ok {
		r.Tags().offer(tagsFrom(r.client, tags))
	}
}

func (r *TestRun) hash() map[string]any {
	return map[string]any{
		"summary":           r.summary,
		"notes":             r.notes,
		"plan_id":           r.plan,
		"build_id":          r.build,
		"manager_id":        idOrNil(r.manager),
		"default_tester_id": idOrNil(r.tester),
		"status":            int(r.status),
	}
}

func (r *TestRun) Inject() Inject {
	in := Inject(r.hash())
	in["id"] = r.id
	return in
}

func (r *TestRun) attached() map[string]syncer {
	m := make(map[string]syncer)
	if r.tags != nil {
		m[relTags] = r.tags
	}
	if r.cases != nil {
		m[relCases] = r.cases
	}
	if r.caseRuns != nil {
		m[relCaseRuns] = r.caseRuns
	}
	return m
}

func (r *TestRun) relation(name string) (syncer, bool) {
	switch name {
	case relTags:
		return r.Tags(), true
	case relCases:
		return r.Cases(), true
	case relCaseRuns:
		return r.CaseRuns(), true
	}
	return nil, false
}

func (r *TestRun) String() string { return labelled(&r.object, r.summary) }
