package tcms

import "context"

// TestCase is a mutable test case.
type TestCase struct {
	mutable
	summary     string
	script      string
	arguments   string
	requirement string
	notes       string
	automated   bool
	category    int
	priority    Priority
	status      CaseStatus
	author      int
	tester      int
	sortkey     int

	tags       *TagContainer
	components *Container[*Component]
	bugs       *BugContainer
	plans      *Container[*TestPlan]
}

func (c *Client) newTestCase() *TestCase {
	return &TestCase{mutable: mutable{object: c.newObject(classTestCase, c.exp)}}
}

func (c *Client) TestCase(id int) *TestCase { return byID(c, c.cases, id, c.newTestCase) }

func (c *Client) TestCases(ctx context.Context, query map[string]any) ([]*TestCase, error) {
	res, err := c.call(ctx, classTestCase+".filter", query)
	if err != nil {
		return nil, err
	}
	return fromInjects(c, c.cases, res, c.newTestCase)
}

// CaseSpec describes a case to create. Summary, Category and Priority are
// required; Status defaults to CaseProposed.
type CaseSpec struct {
	Summary     string
	Category    *Category
	Priority    Priority
	Status      CaseStatus
	Tester      *User
	Script      string
	Arguments   string
	Requirement string
	Notes       string
	Automated   bool
	Plans       []*TestPlan
}

func (c *Client) NewTestCase(ctx context.Context, s CaseSpec) (*TestCase, error) {
	switch {
	case s.Summary == "":
		return nil, &AmbiguousInitializationError{Class: classTestCase, Reason: "summary is required"}
	case s.Category == nil || s.Priority == 0:
		return nil, &AmbiguousInitializationError{Class: classTestCase, Reason: "category and priority are required"}
	}
	if s.Status == 0 {
		s.Status = CaseProposed
	}
	hash := map[string]any{
		"summary":           s.Summary,
		"category_id":       s.Category.ID(),
		"priority_id":       int(s.Priority),
		"case_status_id":    int(s.Status),
		"default_tester_id": idOrNil(refOf(s.Tester)),
		"script":            s.Script,
		"arguments":         s.Arguments,
		"requirement":       s.Requirement,
		"notes":             s.Notes,
		"is_automated":      s.Automated,
	}
	if len(s.Plans) > 0 {
		hash["plan"] = ids(s.Plans)
	}
	tc, err := create(ctx, c, c.cases, hash, c.newTestCase)
	if err != nil {
		return nil, err
	}
	if len(s.Plans) > 0 {
		tc.Plans().seed(s.Plans)
	}
	return tc, nil
}

func (tc *TestCase) Ref() string { return idRef(tc.id) }

func (tc *TestCase) Summary(ctx context.Context) (string, error) {
	return get(ctx, tc, func() string { return tc.summary })
}

func (tc *TestCase) SetSummary(ctx context.Context, s string) error {
	return set(ctx, tc, func() { tc.summary = s })
}

func (tc *TestCase) Script(ctx context.Context) (string, error) {
	return get(ctx, tc, func() string { return tc.script })
}

func (tc *TestCase) SetScript(ctx context.Context, s string) error {
	return set(ctx, tc, func() { tc.script = s })
}

func (tc *TestCase) Arguments(ctx context.Context) (string, error) {
	return get(ctx, tc, func() string { return tc.arguments })
}

func (tc *TestCase) SetArguments(ctx context.Context, s string) error {
	return set(ctx, tc, func() { tc.arguments = s })
}

func (tc *TestCase) Requirement(ctx context.Context) (string, error) {
	return get(ctx, tc, func() string { return tc.requirement })
}

func (tc *TestCase) SetRequirement(ctx context.Context, s string) error {
	return set(ctx, tc, func() { tc.requirement = s })
}

func (tc *TestCase) Notes(ctx context.Context) (string, error) {
	return get(ctx, tc, func() string { return tc.notes })
}

func (tc *TestCase) SetNotes(ctx context.Context, s string) error {
	return set(ctx, tc, func() { tc.notes = s })
}

func (tc *TestCase) Automated(ctx context.Context) (bool, error) {
	return get(ctx, tc, func() bool { return tc.automated })
}

func (tc *TestCase) SetAutomated(ctx context.Context, v bool) error {
	return set(ctx, tc, func() { tc.automated = v })
}

func (tc *TestCase) Category(ctx context.Context) (*Category, error) {
	return get(ctx, tc, func() *Category { return tc.client.Category(tc.category) })
}

func (tc *TestCase) SetCategory(ctx context.Context, g *Category) error {
	return setRef(ctx, tc, "category", g, func(id int) { tc.category = id })
}

func (tc *TestCase) Priority(ctx context.Context) (Priority, error) {
	return get(ctx, tc, func() Priority { return tc.priority })
}

func (tc *TestCase) SetPriority(ctx context.Context, p Priority) error {
	return set(ctx, tc, func() { tc.priority = p })
}

func (tc *TestCase) Status(ctx context.Context) (CaseStatus, error) {
	return get(ctx, tc, func() CaseStatus { return tc.status })
}

func (tc *TestCase) SetStatus(ctx context.Context, s CaseStatus) error {
	return set(ctx, tc, func() { tc.status = s })
}

func (tc *TestCase) Author(ctx context.Context) (*User, error) {
	return get(ctx, tc, func() *User { return optUser(tc.client, tc.author) })
}

func (tc *TestCase) Tester(ctx context.Context) (*User, error) {
	return get(ctx, tc, func() *User { return optUser(tc.client, tc.tester) })
}

func (tc *TestCase) SetTester(ctx context.Context, u *User) error {
	return set(ctx, tc, func() { tc.tester = refOf(u) })
}

// Sortkey is the default position of the case in new plans.
func (tc *TestCase) Sortkey(ctx context.Context) (int, error) {
	return get(ctx, tc, func() int { return tc.sortkey })
}

func (tc *TestCase) SetSortkey(ctx context.Context, n int) error {
	return set(ctx, tc, func() { tc.sortkey = n })
}

func (tc *TestCase) Tags() *TagContainer {
	if tc.tags == nil {
		tc.tags = newTags(&tc.object)
	}
	return tc.tags
}

func (tc *TestCase) Components() *Container[*Component] {
	if tc.components == nil {
		tc.components = newComponents(&tc.object)
	}
	return tc.components
}

func (tc *TestCase) Bugs() *BugContainer {
	if tc.bugs == nil {
		tc.bugs = newBugs(&tc.object, func(_ context.Context, in Inject) error {
			in["case_id"] = tc.id
			return nil
		})
	}
	return tc.bugs
}

// Plans are the plans the case is linked to.
func (tc *TestCase) Plans() *Container[*TestPlan] {
	if tc.plans == nil {
		tc.plans = newCasePlans(&tc.object)
	}
	return tc.plans
}

func (tc *TestCase) Update(ctx context.Context) error { return update(ctx, tc) }

func (tc *TestCase) query() (map[string]any, error) { return tc.idQuery() }

func (tc *TestCase) apply(in Inject) {
	tc.summary = in.String("summary")
	tc.script = in.String("script")
	tc.arguments = in.String("arguments")
	tc.requirement = in.String("requirement")
	tc.notes = in.String("notes")
	tc.automated = in.Bool("is_automated")
	tc.category = in.Int("category_id")
	tc.priority = Priority(in.Int("priority_id"))
	tc.status = CaseStatus(in.Int("case_status_id"))
	tc.author = in.Int("author_id")
	tc.tester = in.Int("default_tester_id")
	tc.sortkey = in.Int("sortkey")
	if tags, ok := in.List("tags"); ok {
		tc.Tags().offer(tagsFrom(tc.client, tags))
	}
}

func (tc *TestCase) hash() map[string]any {
	return map[string]any{
		"summary":           tc.summary,
		"script":            tc.script,
		"arguments":         tc.arguments,
		"requirement":       tc.requirement,
		"notes":             tc.notes,
		"is_automated":      tc.automated,
		"category_id":       tc.category,
		"priority_id":       int(tc.priority),
		"case_status_id":    int(tc.status),
		"default_tester_id": idOrNil(tc.tester),
		"sortkey":           tc.sortkey,
	}
}

func (tc *TestCase) Inject() Inject {
	in := Inject(tc.hash())
	in["id"] = tc.id
	in["author_id"] = idOrNil(tc.author)
	return in
}

func (tc *TestCase) attached() map[string]syncer {
	m := make(map[string]syncer)
	if tc.tags != nil {
		m[relTags] = tc.tags
	}
	if tc.components != nil {
		m[relComponents] = tc.components
	}
	if tc.bugs != nil {
		m[relBugs] = tc.bugs
	}
	if tc.plans != nil {
		m[relPlans] = tc.plans
	}
	return m
}

func (tc *TestCase) relation(name string) (syncer, bool) {
	switch name {
	case relTags:
		return tc.Tags(), true
	case relComponents:
		return tc.Components(), true
	case relBugs:
		return tc.Bugs(), true
	case relPlans:
		return tc.Plans(), true
	}
	return nil, false
}

func (tc *TestCase) String() string { return labelled(&tc.object, tc.summary) }
