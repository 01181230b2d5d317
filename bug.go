package tcms

import "fmt"

// Bug is an external bug attached to a test case or a case run. Containers
// compare bugs by Ref (bug number and tracker), not by the server record id,
// which only exists after the attachment was pushed. Cached bugs are indexed
// by that record id.
type Bug struct {
	object
	bugID     int
	system    int
	caseID    int
	caseRunID int
	summary   string
}

func (c *Client) newBug() *Bug {
	return &Bug{object: c.newObject(classBug, c.staticExp)}
}

// NewBug describes bug number bugID in tracker system, ready to be added to
// a Bugs container. It is not cached until the server reports it back.
func (c *Client) NewBug(bugID, system int) *Bug {
	b := c.newBug()
	b.bugID = bugID
	b.system = system
	return b
}

func bugRef(bugID, system int) string { return fmt.Sprintf("%d@%d", bugID, system) }

func (b *Bug) Ref() string     { return bugRef(b.bugID, b.system) }
func (b *Bug) BugID() int      { return b.bugID }
func (b *Bug) System() int     { return b.system }
func (b *Bug) Summary() string { return b.summary }

// Case is the test case the bug is attached to, nil for a fresh bug.
func (b *Bug) Case() *TestCase {
	if b.caseID == 0 {
		return nil
	}
	return b.client.TestCase(b.caseID)
}

// CaseRun is the case run the bug is attached to, if any.
func (b *Bug) CaseRun() *CaseRun {
	if b.caseRunID == 0 {
		return nil
	}
	return b.client.CaseRun(b.caseRunID)
}

func (b *Bug) query() (map[string]any, error) { return b.idQuery() }

func (b *Bug) apply(in Inject) {
	b.bugID = in.Int("bug_id")
	b.system = in.Int("bug_system_id")
	b.caseID = in.Int("case_id")
	b.caseRunID = in.Int("case_run_id")
	b.summary = in.String("summary")
}

func (b *Bug) Inject() Inject {
	return Inject{
		"id":            b.id,
		"bug_id":        b.bugID,
		"bug_system_id": b.system,
		"case_id":       idOrNil(b.caseID),
		"case_run_id":   idOrNil(b.caseRunID),
		"summary":       b.summary,
	}
}

func (b *Bug) String() string { return "Bug " + b.Ref() }
