package tcms

import "context"

// TestPlan is a mutable test plan.
type TestPlan struct {
	mutable
	name     string
	product  int
	version  int
	planType int
	parent   int
	author   int
	owner    int
	active   bool
	document string

	tags       *TagContainer
	components *Container[*Component]
	children   *Container[*TestPlan]
	cases      *Container[*TestCase]
	sortkeys   *SortkeyContainer
	runs       *Container[*TestRun]
}

func (c *Client) newTestPlan() *TestPlan {
	return &TestPlan{mutable: mutable{object: c.newObject(classTestPlan, c.exp)}}
}

// TestPlan returns the plan with id without contacting the server.
func (c *Client) TestPlan(id int) *TestPlan { return byID(c, c.plans, id, c.newTestPlan) }

// TestPlans runs TestPlan.filter and materializes every match.
func (c *Client) TestPlans(ctx context.Context, query map[string]any) ([]*TestPlan, error) {
	res, err := c.call(ctx, classTestPlan+".filter", query)
	if err != nil {
		return nil, err
	}
	return fromInjects(c, c.plans, res, c.newTestPlan)
}

// PlanSpec describes a plan to create. Name, Product, Version and Type are
// required.
type PlanSpec struct {
	Name     string
	Product  *Product
	Version  *Version
	Type     *PlanType
	Parent   *TestPlan
	Owner    *User
	Document string
	Disabled bool
}

// NewTestPlan creates a plan on the server.
func (c *Client) NewTestPlan(ctx context.Context, s PlanSpec) (*TestPlan, error) {
	switch {
	case s.Name == "":
		return nil, &AmbiguousInitializationError{Class: classTestPlan, Reason: "name is required"}
	case s.Product == nil || s.Version == nil || s.Type == nil:
		return nil, &AmbiguousInitializationError{Class: classTestPlan, Reason: "product, version and type are required"}
	}
	hash := map[string]any{
		"name":               s.Name,
		"product_id":         s.Product.ID(),
		"product_version_id": s.Version.ID(),
		"type_id":            s.Type.ID(),
		"parent_id":          idOrNil(refOf(s.Parent)),
		"owner_id":           idOrNil(refOf(s.Owner)),
		"is_active":          !s.Disabled,
		"text":               s.Document,
	}
	return create(ctx, c, c.plans, hash, c.newTestPlan)
}

func (p *TestPlan) Ref() string { return idRef(p.id) }

func (p *TestPlan) Name(ctx context.Context) (string, error) {
	return get(ctx, p, func() string { return p.name })
}

func (p *TestPlan) SetName(ctx context.Context, name string) error {
	return set(ctx, p, func() { p.name = name })
}

func (p *TestPlan) Product(ctx context.Context) (*Product, error) {
	return get(ctx, p, func() *Product { return p.client.Product(p.product) })
}

func (p *TestPlan) SetProduct(ctx context.Context, v *Product) error {
	return setRef(ctx, p, "product", v, func(id int) { p.product = id })
}

func (p *TestPlan) Version(ctx context.Context) (*Version, error) {
	return get(ctx, p, func() *Version { return p.client.Version(p.version) })
}

func (p *TestPlan) SetVersion(ctx context.Context, v *Version) error {
	return setRef(ctx, p, "version", v, func(id int) { p.version = id })
}

func (p *TestPlan) Type(ctx context.Context) (*PlanType, error) {
	return get(ctx, p, func() *PlanType { return p.client.PlanType(p.planType) })
}

func (p *TestPlan) SetType(ctx context.Context, v *PlanType) error {
	return setRef(ctx, p, "type", v, func(id int) { p.planType = id })
}

func (p *TestPlan) Status(ctx context.Context) (PlanStatus, error) {
	return get(ctx, p, func() PlanStatus {
		if p.active {
			return PlanEnabled
		}
		return PlanDisabled
	})
}

func (p *TestPlan) SetStatus(ctx context.Context, s PlanStatus) error {
	return set(ctx, p, func() { p.active = s == PlanEnabled })
}

// Parent is nil for a top-level plan.
func (p *TestPlan) Parent(ctx context.Context) (*TestPlan, error) {
	return get(ctx, p, func() *TestPlan {
		if p.parent == 0 {
			return nil
		}
		return p.client.TestPlan(p.parent)
	})
}

func (p *TestPlan) SetParent(ctx context.Context, parent *TestPlan) error {
	return set(ctx, p, func() { p.parent = refOf(parent) })
}

func (p *TestPlan) Author(ctx context.Context) (*User, error) {
	return get(ctx, p, func() *User { return optUser(p.client, p.author) })
}

func (p *TestPlan) Owner(ctx context.Context) (*User, error) {
	return get(ctx, p, func() *User { return optUser(p.client, p.owner) })
}

func (p *TestPlan) SetOwner(ctx context.Context, u *User) error {
	return set(ctx, p, func() { p.owner = refOf(u) })
}

func (p *TestPlan) Document(ctx context.Context) (string, error) {
	return get(ctx, p, func() string { return p.document })
}

func (p *TestPlan) SetDocument(ctx context.Context, text string) error {
	return set(ctx, p, func() { p.document = text })
}

func (p *TestPlan) Tags() *TagContainer {
	if p.tags == nil {
		p.tags = newTags(&p.object)
	}
	return p.tags
}

func (p *TestPlan) Components() *Container[*Component] {
	if p.components == nil {
		p.components = newComponents(&p.object)
	}
	return p.components
}

// Children are the plans whose parent is p.
func (p *TestPlan) Children() *Container[*TestPlan] {
	if p.children == nil {
		p.children = newChildPlans(p)
	}
	return p.children
}

func (p *TestPlan) Cases() *Container[*TestCase] {
	if p.cases == nil {
		p.cases = newPlanCases(&p.object)
	}
	return p.cases
}

// CasePlans is the read-only sortkey view of Cases.
func (p *TestPlan) CasePlans() *SortkeyContainer {
	if p.sortkeys == nil {
		p.sortkeys = newSortkeys(&p.object)
	}
	return p.sortkeys
}

// Runs is read-only; create runs with Client.NewTestRun.
func (p *TestPlan) Runs() *Container[*TestRun] {
	if p.runs == nil {
		p.runs = newPlanRuns(&p.object)
	}
	return p.runs
}

// Update pushes pending edits of the plan and its containers.
func (p *TestPlan) Update(ctx context.Context) error { return update(ctx, p) }

func (p *TestPlan) query() (map[string]any, error) { return p.idQuery() }

func (p *TestPlan) apply(in Inject) {
	p.name = in.String("name")
	p.product = in.Int("product_id")
	p.version = in.Int("product_version_id")
	p.planType = in.Int("type_id")
	p.parent = in.Int("parent_id")
	p.author = in.Int("author_id")
	p.owner = in.Int("owner_id")
	p.active = in.Bool("is_active")
	p.document = in.String("text")
	if tags, ok := in.List("tags"); ok {
		p.Tags().offer(tagsFrom(p.client, tags))
	}
}

func (p *TestPlan) hash() map[string]any {
	return map[string]any{
		"name":               p.name,
		"product_id":         p.product,
		"product_version_id": p.version,
		"type_id":            p.planType,
		"parent_id":          idOrNil(p.parent),
		"owner_id":           idOrNil(p.owner),
		"is_active":          p.active,
		"text":               p.document,
	}
}

func (p *TestPlan) Inject() Inject {
	in := Inject(p.hash())
	in["id"] = p.id
	in["author_id"] = idOrNil(p.author)
	return in
}

func (p *TestPlan) attached() map[string]syncer {
	m := make(map[string]syncer)
	if p.tags != nil {
		m[relTags] = p.tags
	}
	if p.components != nil {
		m[relComponents] = p.components
	}
	if p.children != nil {
		m[relChildren] = p.children
	}
	if p.cases != nil {
		m[relCases] = p.cases
	}
	if p.sortkeys != nil {
		m[relSortkeys] = p.sortkeys
	}
	if p.runs != nil {
		m[relRuns] = p.runs
	}
	return m
}

func (p *TestPlan) relation(name string) (syncer, bool) {
	switch name {
	case relTags:
		return p.Tags(), true
	case relComponents:
		return p.Components(), true
	case relChildren:
		return p.Children(), true
	case relCases:
		return p.Cases(), true
	case relSortkeys:
		return p.CasePlans(), true
	case relRuns:
		return p.Runs(), true
	}
	return nil, false
}

func (p *TestPlan) String() string { return labelled(&p.object, p.name) }
