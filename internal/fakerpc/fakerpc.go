// Package fakerpc is an in-memory stand-in for the test case management
// service. It implements transport.Transport, keeps a call log and answers
// the procedures the tcms object model uses. Params and results go through
// a JSON round trip so callers see the same shapes as over the wire.
package fakerpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/unkn0wn-root/tcms/transport"
)

type Row = map[string]any

// Call is one logged procedure call.
type Call struct {
	Method string
	Params []any
}

type link struct{ plan, tc int }

type Server struct {
	// NestTags embeds a "tags" list in TestCase.filter results.
	NestTags bool

	rows       map[string]map[int]Row
	next       map[string]int
	tags       map[string]map[string]bool // "Class:id" -> tag names
	components map[string]map[int]bool    // "Class:id" -> component ids
	links      map[link]int               // plan-case link -> sortkey
	faults     map[string][]string
	calls      []Call
}

var _ transport.Transport = (*Server)(nil)

func New() *Server {
	return &Server{
		rows:       make(map[string]map[int]Row),
		next:       make(map[string]int),
		tags:       make(map[string]map[string]bool),
		components: make(map[string]map[int]bool),
		links:      make(map[link]int),
		faults:     make(map[string][]string),
	}
}

// Seed inserts a row and returns its id. A row without "id" gets the next one.
func (s *Server) Seed(class string, row Row) int {
	r := roundTrip(row).(Row)
	id := cast.ToInt(r["id"])
	if id == 0 {
		id = s.nextID(class)
	} else if id > s.next[class] {
		s.next[class] = id
	}
	r["id"] = id
	s.table(class)[id] = r
	return id
}

// Row returns a copy of a stored row, nil if missing.
func (s *Server) Row(class string, id int) Row {
	r, ok := s.table(class)[id]
	if !ok {
		return nil
	}
	return roundTrip(r).(Row)
}

// TagNames lists the tags of an owner such as ("TestCase", 1).
func (s *Server) TagNames(class string, id int) []string {
	var out []string
	for n := range s.tags[ownerKey(class, id)] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Link links a case to a plan with a sortkey.
func (s *Server) Link(plan, tc, sortkey int) { s.links[link{plan, tc}] = sortkey }

// FailOnce makes the next call of method fail with message.
func (s *Server) FailOnce(method, message string) {
	s.faults[method] = append(s.faults[method], message)
}

func (s *Server) Calls() []Call { return append([]Call(nil), s.calls...) }

// Count returns how many times method was called; "" counts everything.
func (s *Server) Count(method string) int {
	if method == "" {
		return len(s.calls)
	}
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// CallsTo returns the logged calls of method.
func (s *Server) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) ResetCalls() { s.calls = nil }

func (s *Server) Call(ctx context.Context, method string, params ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ps []any
	if len(params) > 0 {
		ps = roundTrip(params).([]any)
	}
	s.calls = append(s.calls, Call{Method: method, Params: ps})

	if q := s.faults[method]; len(q) > 0 {
		s.faults[method] = q[1:]
		return nil, &transport.Fault{Method: method, Message: q[0]}
	}
	res, err := s.dispatch(method, ps)
	if err != nil {
		return nil, &transport.Fault{Method: method, Message: err.Error()}
	}
	return roundTrip(res), nil
}

func (s *Server) dispatch(method string, ps []any) (any, error) {
	class, op, ok := strings.Cut(method, ".")
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	arg := func(i int) any {
		if i < len(ps) {
			return ps[i]
		}
		return nil
	}

	switch op {
	case "filter":
		q, _ := arg(0).(map[string]any)
		return s.filter(class, q), nil
	case "create":
		h, _ := arg(0).(map[string]any)
		return s.create(class, h)
	case "update":
		h, _ := arg(1).(map[string]any)
		return s.update(class, cast.ToInt(arg(0)), h)
	case "get_tags":
		return s.getTags(class, cast.ToInt(arg(0))), nil
	case "add_tag":
		return nil, s.addTag(class, cast.ToInt(arg(0)), cast.ToString(arg(1)))
	case "remove_tag":
		delete(s.tags[ownerKey(class, cast.ToInt(arg(0)))], cast.ToString(arg(1)))
		return nil, nil
	case "get_components":
		return s.getComponents(class, cast.ToInt(arg(0))), nil
	case "add_component":
		return nil, s.addComponents(class, cast.ToInt(arg(0)), ints(arg(1)))
	case "remove_component":
		delete(s.components[ownerKey(class, cast.ToInt(arg(0)))], cast.ToInt(arg(1)))
		return nil, nil
	case "get_bugs":
		return s.getBugs(class, cast.ToInt(arg(0))), nil
	case "attach_bug":
		return s.attachBugs(arg(0))
	case "detach_bug":
		for _, id := range ints(arg(1)) {
			delete(s.table("Bug"), id)
		}
		return nil, nil
	}

	switch method {
	case "TestPlan.get_test_cases":
		return s.planCases(cast.ToInt(arg(0))), nil
	case "TestPlan.get_test_runs":
		return s.filter("TestRun", map[string]any{"plan_id": arg(0)}), nil
	case "TestCase.get_plans":
		return s.casePlans(cast.ToInt(arg(0))), nil
	case "TestCase.link_plan":
		for _, tc := range ints(arg(0)) {
			for _, p := range ints(arg(1)) {
				if _, ok := s.links[link{p, tc}]; !ok {
					s.links[link{p, tc}] = cast.ToInt(s.table("TestCase")[tc]["sortkey"])
				}
			}
		}
		return nil, nil
	case "TestCase.unlink_plan":
		delete(s.links, link{cast.ToInt(arg(1)), cast.ToInt(arg(0))})
		return nil, nil
	case "TestRun.get_test_cases":
		return s.runCases(cast.ToInt(arg(0))), nil
	case "TestRun.get_test_case_runs":
		return s.filter("TestCaseRun", map[string]any{"run_id": arg(0)}), nil
	case "TestRun.add_cases":
		s.addRunCases(cast.ToInt(arg(0)), ints(arg(1)))
		return nil, nil
	case "TestRun.remove_cases":
		s.removeRunCases(cast.ToInt(arg(0)), ints(arg(1)))
		return nil, nil
	}
	return nil, fmt.Errorf("unknown method %q", method)
}

func (s *Server) filter(class string, q map[string]any) []Row {
	var out []Row
	for _, id := range s.ids(class) {
		r := s.table(class)[id]
		if matches(r, q) {
			out = append(out, s.decorate(class, r))
		}
	}
	return out
}

func (s *Server) decorate(class string, r Row) Row {
	if class != "TestCase" || !s.NestTags {
		return r
	}
	out := Row{}
	for k, v := range r {
		out[k] = v
	}
	out["tags"] = s.getTags(class, cast.ToInt(r["id"]))
	return out
}

func (s *Server) create(class string, h Row) (Row, error) {
	if h == nil {
		return nil, fmt.Errorf("%s.create: values required", class)
	}
	r := Row{}
	for k, v := range h {
		if k != "case" && k != "plan" {
			r[k] = v
		}
	}
	id := s.nextID(class)
	r["id"] = id
	if class == "TestPlan" || class == "TestCase" {
		if _, ok := r["author_id"]; !ok {
			r["author_id"] = 1
		}
	}
	if class == "TestRun" {
		if _, ok := r["status"]; !ok {
			r["status"] = 0
		}
	}
	s.table(class)[id] = r
	if class == "TestRun" {
		s.addRunCases(id, ints(h["case"]))
	}
	if class == "TestCase" {
		for _, p := range ints(h["plan"]) {
			s.links[link{p, id}] = 0
		}
	}
	return r, nil
}

func (s *Server) update(class string, id int, h Row) (Row, error) {
	r, ok := s.table(class)[id]
	if !ok {
		return nil, fmt.Errorf("%s matching query does not exist: id=%d", class, id)
	}
	for k, v := range h {
		r[k] = v
	}
	return r, nil
}

func (s *Server) getTags(class string, id int) []Row {
	var out []Row
	for _, n := range s.TagNames(class, id) {
		out = append(out, s.tagRow(n))
	}
	return out
}

func (s *Server) tagRow(name string) Row {
	for _, r := range s.table("Tag") {
		if r["name"] == name {
			return r
		}
	}
	id := s.nextID("Tag")
	r := Row{"id": id, "name": name}
	s.table("Tag")[id] = r
	return r
}

func (s *Server) addTag(class string, id int, name string) error {
	if name == "" {
		return fmt.Errorf("tag name required")
	}
	s.tagRow(name)
	k := ownerKey(class, id)
	if s.tags[k] == nil {
		s.tags[k] = make(map[string]bool)
	}
	s.tags[k][name] = true
	return nil
}

func (s *Server) getComponents(class string, id int) []Row {
	var out []Row
	set := s.components[ownerKey(class, id)]
	for _, cid := range s.ids("Component") {
		if set[cid] {
			out = append(out, s.table("Component")[cid])
		}
	}
	return out
}

// addComponents is all or nothing, like one INSERT of several rows.
func (s *Server) addComponents(class string, id int, cids []int) error {
	k := ownerKey(class, id)
	for _, cid := range cids {
		if s.components[k][cid] {
			return fmt.Errorf("Duplicate entry '%d-%d' for key 'component_id'", id, cid)
		}
	}
	if s.components[k] == nil {
		s.components[k] = make(map[int]bool)
	}
	for _, cid := range cids {
		s.components[k][cid] = true
	}
	return nil
}

func (s *Server) getBugs(class string, id int) []Row {
	field := "case_id"
	if class == "TestCaseRun" {
		field = "case_run_id"
	}
	return s.filter("Bug", map[string]any{field: id})
}

func (s *Server) attachBugs(v any) ([]Row, error) {
	list, ok := v.([]any)
	if !ok {
		list = []any{v}
	}
	var out []Row
	for _, e := range list {
		h, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("attach_bug: expected dicts, got %T", e)
		}
		r, _ := s.create("Bug", h)
		out = append(out, r)
	}
	return out, nil
}

func (s *Server) planCases(plan int) []Row {
	var out []Row
	for _, id := range s.ids("TestCase") {
		if sk, ok := s.links[link{plan, id}]; ok {
			r := Row{}
			for k, v := range s.table("TestCase")[id] {
				r[k] = v
			}
			r["sortkey"] = sk
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) casePlans(tc int) []Row {
	var out []Row
	for _, id := range s.ids("TestPlan") {
		if _, ok := s.links[link{id, tc}]; ok {
			out = append(out, s.table("TestPlan")[id])
		}
	}
	return out
}

func (s *Server) runCases(run int) []Row {
	in := make(map[int]bool)
	for _, cr := range s.table("TestCaseRun") {
		if cast.ToInt(cr["run_id"]) == run {
			in[cast.ToInt(cr["case_id"])] = true
		}
	}
	var out []Row
	for _, id := range s.ids("TestCase") {
		if in[id] {
			out = append(out, s.table("TestCase")[id])
		}
	}
	return out
}

func (s *Server) addRunCases(run int, cases []int) {
	have := make(map[int]bool)
	for _, cr := range s.table("TestCaseRun") {
		if cast.ToInt(cr["run_id"]) == run {
			have[cast.ToInt(cr["case_id"])] = true
		}
	}
	build := s.table("TestRun")[run]["build_id"]
	for _, tc := range cases {
		if have[tc] {
			continue
		}
		id := s.nextID("TestCaseRun")
		s.table("TestCaseRun")[id] = Row{
			"id": id, "run_id": run, "case_id": tc, "build_id": build,
			"case_run_status_id": 1, "notes": "", "sortkey": 0,
		}
	}
}

func (s *Server) removeRunCases(run int, cases []int) {
	drop := make(map[int]bool, len(cases))
	for _, tc := range cases {
		drop[tc] = true
	}
	t := s.table("TestCaseRun")
	for id, cr := range t {
		if cast.ToInt(cr["run_id"]) == run && drop[cast.ToInt(cr["case_id"])] {
			delete(t, id)
		}
	}
}

func (s *Server) table(class string) map[int]Row {
	t, ok := s.rows[class]
	if !ok {
		t = make(map[int]Row)
		s.rows[class] = t
	}
	return t
}

func (s *Server) nextID(class string) int {
	s.next[class]++
	return s.next[class]
}

func (s *Server) ids(class string) []int {
	t := s.table(class)
	out := make([]int, 0, len(t))
	for id := range t {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func ownerKey(class string, id int) string { return fmt.Sprintf("%s:%d", class, id) }

func matches(r Row, q map[string]any) bool {
	for k, want := range q {
		if cast.ToString(r[k]) != cast.ToString(want) {
			return false
		}
	}
	return true
}

// ints accepts one id or a list of ids.
func ints(v any) []int {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]int, len(x))
		for i, e := range x {
			out[i] = cast.ToInt(e)
		}
		return out
	default:
		return []int{cast.ToInt(x)}
	}
}

func roundTrip(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("fakerpc: marshal %T: %v", v, err))
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("fakerpc: unmarshal: %v", err))
	}
	if m, ok := out.(map[string]any); ok {
		return Row(m)
	}
	return out
}
