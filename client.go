package tcms

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/unkn0wn-root/tcms/internal/util"
	"github.com/unkn0wn-root/tcms/persist"
	"github.com/unkn0wn-root/tcms/transport"
)

// Client is the registry: it owns the transport, the cache level and one
// IdentityCache per class. Domain objects keep a pointer back to it.
type Client struct {
	rpc       transport.Transport
	level     CacheLevel
	exp       time.Duration
	staticExp time.Duration
	log       Logger
	store     persist.Store[Record]
	now       func() time.Time
	calls     int

	products   *IdentityCache[*Product]
	versions   *IdentityCache[*Version]
	builds     *IdentityCache[*Build]
	categories *IdentityCache[*Category]
	planTypes  *IdentityCache[*PlanType]
	components *IdentityCache[*Component]
	tags       *IdentityCache[*Tag]
	users      *IdentityCache[*User]
	bugs       *IdentityCache[*Bug]
	plans      *IdentityCache[*TestPlan]
	runs       *IdentityCache[*TestRun]
	cases      *IdentityCache[*TestCase]
	caseRuns   *IdentityCache[*CaseRun]

	// kinds in dependency order: reference data before the objects that
	// point at it, so Load can wake containers in one pass.
	kinds []kind
}

func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	c := &Client{
		rpc:       opts.Transport,
		level:     util.Coalesce(opts.Level, defaultLevel),
		exp:       util.Coalesce(opts.Expiration, defaultExpiration),
		staticExp: util.Coalesce(opts.StaticExpiration, NeverExpire),
		log:       util.Coalesce[Logger](opts.Logger, NopLogger{}),
		store:     opts.Store,
		now:       opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if _, ok := cacheLevelNames[c.level]; !ok {
		return nil, fmt.Errorf("tcms: invalid cache level %d", int(c.level))
	}
	if c.level == CachePersistent && c.store == nil {
		return nil, fmt.Errorf("tcms: %s cache level requires a store", c.level)
	}

	c.products = newIdentityCache[*Product](classProduct)
	c.versions = newIdentityCache[*Version](classVersion)
	c.builds = newIdentityCache[*Build](classBuild)
	c.categories = newIdentityCache[*Category](classCategory)
	c.planTypes = newIdentityCache[*PlanType](classPlanType)
	c.components = newIdentityCache[*Component](classComponent)
	c.tags = newIdentityCache[*Tag](classTag)
	c.users = newIdentityCache[*User](classUser)
	c.bugs = newIdentityCache[*Bug](classBug)
	c.plans = newIdentityCache[*TestPlan](classTestPlan)
	c.runs = newIdentityCache[*TestRun](classTestRun)
	c.cases = newIdentityCache[*TestCase](classTestCase)
	c.caseRuns = newIdentityCache[*CaseRun](classCaseRun)

	c.kinds = []kind{
		newKind(c, c.products, c.newProduct),
		newKind(c, c.versions, c.newVersion),
		newKind(c, c.builds, c.newBuild),
		newKind(c, c.categories, c.newCategory),
		newKind(c, c.planTypes, c.newPlanType),
		newKind(c, c.components, c.newComponent),
		newKind(c, c.tags, c.newTag),
		newKind(c, c.users, c.newUser),
		newKind(c, c.bugs, c.newBug),
		newKind(c, c.plans, c.newTestPlan),
		newKind(c, c.runs, c.newTestRun),
		newKind(c, c.cases, c.newTestCase),
		newKind(c, c.caseRuns, c.newCaseRun),
	}
	return c, nil
}

func (c *Client) Level() CacheLevel { return c.level }

// SetLevel reconfigures caching. Dropping below CacheObjects clears every
// identity cache; pending edits on objects the caller still holds survive.
func (c *Client) SetLevel(level CacheLevel) error {
	if _, ok := cacheLevelNames[level]; !ok {
		return fmt.Errorf("tcms: invalid cache level %d", int(level))
	}
	if level == CachePersistent && c.store == nil {
		return fmt.Errorf("tcms: %s cache level requires a store", level)
	}
	c.level = level
	if !c.retains() {
		c.Clear()
	}
	c.log.Debug("cache level changed", Fields{"level": level.String()})
	return nil
}

// Clear drops every identity cache.
func (c *Client) Clear() {
	for _, k := range c.kinds {
		k.clear()
	}
}

// Update flushes every cached object with pending edits, owners first and
// then their containers.
func (c *Client) Update(ctx context.Context) error {
	for _, k := range c.kinds {
		var err error
		k.each(func(e entity) {
			if err != nil {
				return
			}
			if u, ok := e.(interface{ Update(context.Context) error }); ok {
				err = u.Update(ctx)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Stats is a snapshot of client activity.
type Stats struct {
	Calls   int            // remote calls issued
	Objects map[string]int // cached instances per class
}

func (c *Client) Stats() Stats {
	s := Stats{Calls: c.calls, Objects: make(map[string]int, len(c.kinds))}
	for _, k := range c.kinds {
		if n := k.len(); n > 0 {
			s.Objects[k.class] = n
		}
	}
	return s
}

func (c *Client) retains() bool { return c.level >= CacheObjects }
func (c *Client) defers() bool  { return c.level >= CacheChanges }
func (c *Client) persists() bool {
	return c.level == CachePersistent && c.store != nil && c.store.Enabled()
}

func (c *Client) call(ctx context.Context, method string, params ...any) (any, error) {
	c.calls++
	c.log.Debug("rpc call", Fields{"method": method})
	res, err := c.rpc.Call(ctx, method, params...)
	if err != nil {
		c.log.Warn("rpc fault", Fields{"method": method, "err": err})
		return nil, err
	}
	return res, nil
}

func (c *Client) filter(ctx context.Context, class string, query map[string]any) ([]Inject, error) {
	res, err := c.call(ctx, class+".filter", query)
	if err != nil {
		return nil, err
	}
	return injectList(res)
}

// filterOne runs a lookup that must match exactly one object.
func (c *Client) filterOne(ctx context.Context, class string, query map[string]any) (Inject, error) {
	list, err := c.filter(ctx, class, query)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, &NotFoundError{Class: class, Key: queryKey(query)}
	case 1:
		return list[0], nil
	default:
		return nil, &AmbiguousMatchError{Class: class, Key: queryKey(query), Count: len(list)}
	}
}

// observe returns the persistence generation of key, read before a fetch.
func (c *Client) observe(key string) uint64 {
	if !c.persists() {
		return 0
	}
	return c.store.SnapshotGen(key)
}

func (c *Client) invalidate(ctx context.Context, key string) {
	if !c.persists() {
		return
	}
	if err := c.store.Invalidate(ctx, key); err != nil {
		c.log.Warn("invalidate failed", Fields{"key": key, "err": err})
	}
}

// queryKey renders a filter query as "k=v/k=v" with sorted keys.
func queryKey(q map[string]any) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, q[k])
	}
	return strings.Join(parts, "/")
}
