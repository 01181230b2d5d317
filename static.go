package tcms

import (
	"context"
	"fmt"
	"strings"
)

const (
	classProduct   = "Product"
	classVersion   = "Version"
	classBuild     = "Build"
	classCategory  = "Category"
	classPlanType  = "PlanType"
	classComponent = "Component"
	classTag       = "Tag"
	classUser      = "User"
	classBug       = "Bug"
	classTestPlan  = "TestPlan"
	classTestRun   = "TestRun"
	classTestCase  = "TestCase"
	classCaseRun   = "TestCaseRun"
)

func nameKey(name string) string { return "name=" + name }

// productID rejects a nil product for lookups scoped by product.
func productID(class string, p *Product) (int, error) {
	if p == nil {
		return 0, &AmbiguousInitializationError{Class: class, Reason: "product is required"}
	}
	return p.ID(), nil
}

func productKey(name string, product int) string {
	return fmt.Sprintf("name=%s/product=%d", name, product)
}

// Product is read-only reference data.
type Product struct {
	object
	name string
}

func (c *Client) newProduct() *Product {
	return &Product{object: c.newObject(classProduct, c.staticExp)}
}

// Product returns the product with id without contacting the server.
func (c *Client) Product(id int) *Product { return byID(c, c.products, id, c.newProduct) }

func (c *Client) ProductByName(ctx context.Context, name string) (*Product, error) {
	return byKey(ctx, c, c.products, nameKey(name), map[string]any{"name": name}, c.newProduct)
}

func (p *Product) Ref() string { return idRef(p.id) }

func (p *Product) Name(ctx context.Context) (string, error) {
	return get(ctx, p, func() string { return p.name })
}

func (p *Product) query() (map[string]any, error) {
	if p.id == 0 && p.name != "" {
		return map[string]any{"name": p.name}, nil
	}
	return p.idQuery()
}

func (p *Product) apply(in Inject) { p.name = in.String("name") }

func (p *Product) naturalKeys() []string {
	if p.name == "" {
		return nil
	}
	return []string{nameKey(p.name)}
}

func (p *Product) Inject() Inject { return Inject{"id": p.id, "name": p.name} }

func (p *Product) String() string { return labelled(&p.object, p.name) }

// Version is a product version, unique per product by value.
type Version struct {
	object
	value   string
	product int
}

func (c *Client) newVersion() *Version {
	return &Version{object: c.newObject(classVersion, c.staticExp)}
}

func (c *Client) Version(id int) *Version { return byID(c, c.versions, id, c.newVersion) }

func (c *Client) VersionByName(ctx context.Context, value string, product *Product) (*Version, error) {
	pid, err := productID(classVersion, product)
	if err != nil {
		return nil, err
	}
	return byKey(ctx, c, c.versions, productKey(value, pid),
		map[string]any{"value": value, "product_id": pid}, c.newVersion)
}

func (v *Version) Ref() string { return idRef(v.id) }

func (v *Version) Name(ctx context.Context) (string, error) {
	return get(ctx, v, func() string { return v.value })
}

func (v *Version) Product(ctx context.Context) (*Product, error) {
	return get(ctx, v, func() *Product { return v.client.Product(v.product) })
}

func (v *Version) query() (map[string]any, error) { return v.idQuery() }

func (v *Version) apply(in Inject) {
	v.value = in.String("value")
	v.product = in.Int("product_id")
}

func (v *Version) naturalKeys() []string {
	if v.value == "" || v.product == 0 {
		return nil
	}
	return []string{productKey(v.value, v.product)}
}

func (v *Version) Inject() Inject {
	return Inject{"id": v.id, "value": v.value, "product_id": v.product}
}

func (v *Version) String() string { return labelled(&v.object, v.value) }

// Build is a product build, unique per product by name.
type Build struct {
	object
	name    string
	product int
}

func (c *Client) newBuild() *Build {
	return &Build{object: c.newObject(classBuild, c.staticExp)}
}

func (c *Client) Build(id int) *Build { return byID(c, c.builds, id, c.newBuild) }

func (c *Client) BuildByName(ctx context.Context, name string, product *Product) (*Build, error) {
	pid, err := productID(classBuild, product)
	if err != nil {
		return nil, err
	}
	return byKey(ctx, c, c.builds, productKey(name, pid),
		map[string]any{"name": name, "product_id": pid}, c.newBuild)
}

func (b *Build) Ref() string { return idRef(b.id) }

func (b *Build) Name(ctx context.Context) (string, error) {
	return get(ctx, b, func() string { return b.name })
}

func (b *Build) Product(ctx context.Context) (*Product, error) {
	return get(ctx, b, func() *Product { return b.client.Product(b.product) })
}

func (b *Build) query() (map[string]any, error) { return b.idQuery() }

func (b *Build) apply(in Inject) {
	b.name = in.String("name")
	b.product = in.Int("product_id")
}

func (b *Build) naturalKeys() []string {
	if b.name == "" || b.product == 0 {
		return nil
	}
	return []string{productKey(b.name, b.product)}
}

func (b *Build) Inject() Inject {
	return Inject{"id": b.id, "name": b.name, "product_id": b.product}
}

func (b *Build) String() string { return labelled(&b.object, b.name) }

// Category groups test cases within a product.
type Category struct {
	object
	name        string
	product     int
	description string
}

func (c *Client) newCategory() *Category {
	return &Category{object: c.newObject(classCategory, c.staticExp)}
}

func (c *Client) Category(id int) *Category { return byID(c, c.categories, id, c.newCategory) }

func (c *Client) CategoryByName(ctx context.Context, name string, product *Product) (*Category, error) {
	pid, err := productID(classCategory, product)
	if err != nil {
		return nil, err
	}
	return byKey(ctx, c, c.categories, productKey(name, pid),
		map[string]any{"name": name, "product_id": pid}, c.newCategory)
}

func (g *Category) Ref() string { return idRef(g.id) }

func (g *Category) Name(ctx context.Context) (string, error) {
	return get(ctx, g, func() string { return g.name })
}

func (g *Category) Description(ctx context.Context) (string, error) {
	return get(ctx, g, func() string { return g.description })
}

func (g *Category) Product(ctx context.Context) (*Product, error) {
	return get(ctx, g, func() *Product { return g.client.Product(g.product) })
}

func (g *Category) query() (map[string]any, error) { return g.idQuery() }

func (g *Category) apply(in Inject) {
	g.name = in.String("name")
	g.product = in.Int("product_id")
	g.description = in.String("description")
}

func (g *Category) naturalKeys() []string {
	if g.name == "" || g.product == 0 {
		return nil
	}
	return []string{productKey(g.name, g.product)}
}

func (g *Category) Inject() Inject {
	return Inject{"id": g.id, "name": g.name, "product_id": g.product, "description": g.description}
}

func (g *Category) String() string { return labelled(&g.object, g.name) }

// PlanType classifies test plans.
type PlanType struct {
	object
	name string
}

func (c *Client) newPlanType() *PlanType {
	return &PlanType{object: c.newObject(classPlanType, c.staticExp)}
}

func (c *Client) PlanType(id int) *PlanType { return byID(c, c.planTypes, id, c.newPlanType) }

func (c *Client) PlanTypeByName(ctx context.Context, name string) (*PlanType, error) {
	return byKey(ctx, c, c.planTypes, nameKey(name), map[string]any{"name": name}, c.newPlanType)
}

func (t *PlanType) Ref() string { return idRef(t.id) }

func (t *PlanType) Name(ctx context.Context) (string, error) {
	return get(ctx, t, func() string { return t.name })
}

func (t *PlanType) query() (map[string]any, error) { return t.idQuery() }

func (t *PlanType) apply(in Inject) { t.name = in.String("name") }

func (t *PlanType) naturalKeys() []string {
	if t.name == "" {
		return nil
	}
	return []string{nameKey(t.name)}
}

func (t *PlanType) Inject() Inject { return Inject{"id": t.id, "name": t.name} }

func (t *PlanType) String() string { return labelled(&t.object, t.name) }

// Component is a product component cases and plans can be filed under.
type Component struct {
	object
	name        string
	product     int
	description string
}

func (c *Client) newComponent() *Component {
	return &Component{object: c.newObject(classComponent, c.staticExp)}
}

func (c *Client) Component(id int) *Component { return byID(c, c.components, id, c.newComponent) }

func (c *Client) ComponentByName(ctx context.Context, name string, product *Product) (*Component, error) {
	pid, err := productID(classComponent, product)
	if err != nil {
		return nil, err
	}
	return byKey(ctx, c, c.components, productKey(name, pid),
		map[string]any{"name": name, "product_id": pid}, c.newComponent)
}

func (m *Component) Ref() string { return idRef(m.id) }

func (m *Component) Name(ctx context.Context) (string, error) {
	return get(ctx, m, func() string { return m.name })
}

func (m *Component) Description(ctx context.Context) (string, error) {
	return get(ctx, m, func() string { return m.description })
}

func (m *Component) Product(ctx context.Context) (*Product, error) {
	return get(ctx, m, func() *Product { return m.client.Product(m.product) })
}

func (m *Component) query() (map[string]any, error) { return m.idQuery() }

func (m *Component) apply(in Inject) {
	m.name = in.String("name")
	m.product = in.Int("product_id")
	m.description = in.String("description")
}

func (m *Component) naturalKeys() []string {
	if m.name == "" || m.product == 0 {
		return nil
	}
	return []string{productKey(m.name, m.product)}
}

func (m *Component) Inject() Inject {
	return Inject{"id": m.id, "name": m.name, "product_id": m.product, "description": m.description}
}

func (m *Component) String() string { return labelled(&m.object, m.name) }

// Tag is identified by its name; the id is learned on first fetch.
type Tag struct {
	object
	name string
}

func (c *Client) newTag() *Tag {
	return &Tag{object: c.newObject(classTag, c.staticExp)}
}

// Tag returns the tag called name. No RPC: tags are created on the server
// by the first add_tag that uses them.
func (c *Client) Tag(name string) *Tag {
	if c.retains() {
		if t, ok := c.tags.LookupKey(nameKey(name)); ok {
			return t
		}
	}
	t := c.newTag()
	t.name = name
	remember(c, c.tags, t)
	return t
}

// Tags maps names to tags.
func (c *Client) Tags(names ...string) []*Tag {
	out := make([]*Tag, len(names))
	for i, n := range names {
		out[i] = c.Tag(n)
	}
	return out
}

func (t *Tag) Ref() string { return t.name }

// Name needs no fetch.
func (t *Tag) Name() string { return t.name }

func (t *Tag) query() (map[string]any, error) {
	if t.id == 0 {
		return map[string]any{"name": t.name}, nil
	}
	return t.idQuery()
}

func (t *Tag) apply(in Inject) { t.name = in.String("name") }

func (t *Tag) naturalKeys() []string { return []string{nameKey(t.name)} }

func (t *Tag) Inject() Inject { return Inject{"id": t.id, "name": t.name} }

func (t *Tag) String() string { return t.name }

// User is an account on the service.
type User struct {
	object
	login     string
	email     string
	firstName string
	lastName  string
}

func (c *Client) newUser() *User {
	return &User{object: c.newObject(classUser, c.staticExp)}
}

func (c *Client) User(id int) *User { return byID(c, c.users, id, c.newUser) }

func (c *Client) UserByLogin(ctx context.Context, login string) (*User, error) {
	return byKey(ctx, c, c.users, "login="+login, map[string]any{"username": login}, c.newUser)
}

func (c *Client) UserByEmail(ctx context.Context, email string) (*User, error) {
	return byKey(ctx, c, c.users, "email="+email, map[string]any{"email": email}, c.newUser)
}

func (u *User) Ref() string { return idRef(u.id) }

func (u *User) Login(ctx context.Context) (string, error) {
	return get(ctx, u, func() string { return u.login })
}

func (u *User) Email(ctx context.Context) (string, error) {
	return get(ctx, u, func() string { return u.email })
}

// Name is "first last", or the login when both are empty.
func (u *User) Name(ctx context.Context) (string, error) {
	return get(ctx, u, func() string {
		n := strings.TrimSpace(u.firstName + " " + u.lastName)
		if n == "" {
			return u.login
		}
		return n
	})
}

func (u *User) query() (map[string]any, error) { return u.idQuery() }

func (u *User) apply(in Inject) {
	u.login = in.String("username")
	u.email = in.String("email")
	u.firstName = in.String("first_name")
	u.lastName = in.String("last_name")
}

func (u *User) naturalKeys() []string {
	var keys []string
	if u.login != "" {
		keys = append(keys, "login="+u.login)
	}
	if u.email != "" {
		keys = append(keys, "email="+u.email)
	}
	return keys
}

func (u *User) Inject() Inject {
	return Inject{"id": u.id, "username": u.login, "email": u.email, "first_name": u.firstName, "last_name": u.lastName}
}

func (u *User) String() string { return labelled(&u.object, u.login) }

// labelled renders "Class#id (label)" for fetched objects.
func labelled(o *object, label string) string {
	if !o.fetched || label == "" {
		return o.String()
	}
	return fmt.Sprintf("%s (%s)", o.String(), label)
}
