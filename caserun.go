package tcms

import "context"

// CaseRun is the execution record of one case within one run.
type CaseRun struct {
	mutable
	run      int
	testCase int
	build    int
	status   Status
	assignee int
	notes    string
	sortkey  int

	bugs *BugContainer
}

func (c *Client) newCaseRun() *CaseRun {
	return &CaseRun{mutable: mutable{object: c.newObject(classCaseRun, c.exp)}}
}

func (c *Client) CaseRun(id int) *CaseRun { return byID(c, c.caseRuns, id, c.newCaseRun) }

// CaseRunSpec describes a case run to create. Run and Case are required;
// Build defaults to the run's build on the server and Status to StatusIdle.
type CaseRunSpec struct {
	Run      *TestRun
	Case     *TestCase
	Build    *Build
	Assignee *User
	Status   Status
	Notes    string
}

func (c *Client) NewCaseRun(ctx context.Context, s CaseRunSpec) (*CaseRun, error) {
	if s.Run == nil || s.Case == nil {
		return nil, &AmbiguousInitializationError{Class: classCaseRun, Reason: "run and case are required"}
	}
	if s.Status == 0 {
		s.Status = StatusIdle
	}
	hash := map[string]any{
		"run_id":             s.Run.ID(),
		"case_id":            s.Case.ID(),
		"build_id":           idOrNil(refOf(s.Build)),
		"assignee_id":        idOrNil(refOf(s.Assignee)),
		"case_run_status_id": int(s.Status),
		"notes":              s.Notes,
	}
	return create(ctx, c, c.caseRuns, hash, c.newCaseRun)
}

func (cr *CaseRun) Ref() string { return idRef(cr.id) }

func (cr *CaseRun) Run(ctx context.Context) (*TestRun, error) {
	return get(ctx, cr, func() *TestRun { return cr.client.TestRun(cr.run) })
}

func (cr *CaseRun) Case(ctx context.Context) (*TestCase, error) {
	return get(ctx, cr, func() *TestCase { return cr.client.TestCase(cr.testCase) })
}

func (cr *CaseRun) Build(ctx context.Context) (*Build, error) {
	return get(ctx, cr, func() *Build {
		if cr.build == 0 {
			return nil
		}
		return cr.client.Build(cr.build)
	})
}

func (cr *CaseRun) SetBuild(ctx context.Context, b *Build) error {
	return set(ctx, cr, func() { cr.build = refOf(b) })
}

func (cr *CaseRun) Status(ctx context.Context) (Status, error) {
	return get(ctx, cr, func() Status { return cr.status })
}

func (cr *CaseRun) SetStatus(ctx context.Context, s Status) error {
	return set(ctx, cr, func() { cr.status = s })
}

func (cr *CaseRun) Assignee(ctx context.Context) (*User, error) {
	return get(ctx, cr, func() *User { return optUser(cr.client, cr.assignee) })
}

func (cr *CaseRun) SetAssignee(ctx context.Context, u *User) error {
	return set(ctx, cr, func() { cr.assignee = refOf(u) })
}

func (cr *CaseRun) Notes(ctx context.Context) (string, error) {
	return get(ctx, cr, func() string { return cr.notes })
}

func (cr *CaseRun) SetNotes(ctx context.Context, s string) error {
	return set(ctx, cr, func() { cr.notes = s })
}

func (cr *CaseRun) Sortkey(ctx context.Context) (int, error) {
	return get(ctx, cr, func() int { return cr.sortkey })
}

// Bugs attached here are also attached to the case.
func (cr *CaseRun) Bugs() *BugContainer {
	if cr.bugs == nil {
		cr.bugs = newBugs(&cr.object, func(ctx context.Context, in Inject) error {
			if err := ensure(ctx, cr); err != nil {
				return err
			}
			in["case_run_id"] = cr.id
			in["case_id"] = cr.testCase
			return nil
		})
	}
	return cr.bugs
}

func (cr *CaseRun) Update(ctx context.Context) error { return update(ctx, cr) }

func (cr *CaseRun) query() (map[string]any, error) { return cr.idQuery() }

func (cr *CaseRun) apply(in Inject) {
	cr.run = in.Int("run_id")
	cr.testCase = in.Int("case_id")
	cr.build = in.Int("build_id")
	cr.status = Status(in.Int("case_run_status_id"))
	cr.assignee = in.Int("assignee_id")
	cr.notes = in.String("notes")
	cr.sortkey = in.Int("sortkey")
}

func (cr *CaseRun) hash() map[string]any {
	return map[string]any{
		"build_id":           idOrNil(cr.build),
		"case_run_status_id": int(cr.status),
		"assignee_id":        idOrNil(cr.assignee),
		"notes":              cr.notes,
		"sortkey":            cr.sortkey,
	}
}

func (cr *CaseRun) Inject() Inject {
	in := Inject(cr.hash())
	in["id"] = cr.id
	in["run_id"] = cr.run
	in["case_id"] = cr.testCase
	return in
}

func (cr *CaseRun) attached() map[string]syncer {
	m := make(map[string]syncer)
	if cr.bugs != nil {
		m[relBugs] = cr.bugs
	}
	return m
}

func (cr *CaseRun) relation(name string) (syncer, bool) {
	if name == relBugs {
		return cr.Bugs(), true
	}
	return nil, false
}
