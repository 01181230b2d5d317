package tcms

import (
	"testing"
	"time"

	"github.com/spf13/cast"

	"github.com/unkn0wn-root/tcms/internal/fakerpc"
)

type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// seedWorld loads a small service: one product with its reference data,
// users 1-2, plans 1-2, cases 1-3, components 1-3 and run 1 on plan 1.
func seedWorld(srv *fakerpc.Server) {
	srv.Seed("Product", fakerpc.Row{"id": 1, "name": "tcms"})
	srv.Seed("Version", fakerpc.Row{"id": 1, "value": "1.0", "product_id": 1})
	srv.Seed("Build", fakerpc.Row{"id": 1, "name": "b1", "product_id": 1})
	srv.Seed("Category", fakerpc.Row{"id": 1, "name": "--default--", "product_id": 1, "description": ""})
	srv.Seed("PlanType", fakerpc.Row{"id": 1, "name": "Function"})
	srv.Seed("User", fakerpc.Row{"id": 1, "username": "alice", "email": "alice@example.com", "first_name": "Alice", "last_name": "Doe"})
	srv.Seed("User", fakerpc.Row{"id": 2, "username": "bob", "email": "bob@example.com"})
	for i, n := range []string{"ui", "api", "db"} {
		srv.Seed("Component", fakerpc.Row{"id": i + 1, "name": n, "product_id": 1, "description": ""})
	}
	srv.Seed("TestPlan", fakerpc.Row{
		"id": 1, "name": "Regression", "product_id": 1, "product_version_id": 1,
		"type_id": 1, "parent_id": nil, "author_id": 1, "owner_id": 1, "is_active": true, "text": "",
	})
	srv.Seed("TestPlan", fakerpc.Row{
		"id": 2, "name": "Smoke", "product_id": 1, "product_version_id": 1,
		"type_id": 1, "parent_id": nil, "author_id": 1, "owner_id": nil, "is_active": true, "text": "",
	})
	for i := 1; i <= 3; i++ {
		srv.Seed("TestCase", fakerpc.Row{
			"id": i, "summary": "case " + cast.ToString(i), "script": "", "arguments": "",
			"requirement": "", "notes": "", "is_automated": false, "category_id": 1,
			"priority_id": 1, "case_status_id": 2, "author_id": 1, "default_tester_id": nil, "sortkey": 0,
		})
	}
	srv.Seed("TestRun", fakerpc.Row{
		"id": 1, "summary": "nightly", "notes": "", "plan_id": 1, "build_id": 1,
		"manager_id": 1, "default_tester_id": nil, "status": 0,
	})
}

func newWorld(t *testing.T, level CacheLevel) (*Client, *fakerpc.Server, *clock) {
	t.Helper()
	srv := fakerpc.New()
	seedWorld(srv)
	clk := newClock()
	c, err := New(Options{Transport: srv, Level: level, Now: clk.now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv, clk
}

// paramInts reads a logged id-list parameter.
func paramInts(t *testing.T, v any) []int {
	t.Helper()
	list, ok := v.([]any)
	if !ok {
		t.Fatalf("param %v (%T) is not a list", v, v)
	}
	out := make([]int, len(list))
	for i, e := range list {
		out[i] = cast.ToInt(e)
	}
	return out
}
