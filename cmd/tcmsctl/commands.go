package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/urfave/cli/v3"

	"github.com/unkn0wn-root/tcms"
)

func argID(cmd *cli.Command, i int, what string) (int, error) {
	s := cmd.Args().Get(i)
	if s == "" {
		return 0, fmt.Errorf("tcmsctl: missing %s id", what)
	}
	id, err := cast.ToIntE(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("tcmsctl: invalid %s id %q", what, s)
	}
	return id, nil
}

func (a *app) caseCommand() *cli.Command {
	return &cli.Command{
		Name:  "case",
		Usage: "test cases",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "print a case with its tags and components",
				ArgsUsage: "CASE_ID",
				Action:    a.caseShow,
			},
			{
				Name:      "tag",
				Usage:     "add or remove tags",
				ArgsUsage: "CASE_ID",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "add", Usage: "tag to add"},
					&cli.StringSliceFlag{Name: "remove", Usage: "tag to remove"},
				},
				Action: a.caseTag,
			},
			{
				Name:      "status",
				Usage:     "set the case status",
				ArgsUsage: "CASE_ID STATUS",
				Action:    a.caseStatus,
			},
		},
	}
}

func (a *app) caseShow(ctx context.Context, cmd *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	id, err := argID(cmd, 0, "case")
	if err != nil {
		return err
	}
	tc := c.TestCase(id)
	status, err := tc.Status(ctx)
	if err != nil {
		return err
	}
	prio, err := tc.Priority(ctx)
	if err != nil {
		return err
	}
	auto, err := tc.Automated(ctx)
	if err != nil {
		return err
	}
	tags, err := tc.Tags().Names(ctx)
	if err != nil {
		return err
	}
	comps, err := tc.Components().Items(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(comps))
	for _, comp := range comps {
		n, err := comp.Name(ctx)
		if err != nil {
			return err
		}
		names = append(names, n)
	}

	fmt.Fprintln(a.out, tc)
	fmt.Fprintf(a.out, "  status:     %s\n", status)
	fmt.Fprintf(a.out, "  priority:   %s\n", prio)
	fmt.Fprintf(a.out, "  automated:  %t\n", auto)
	fmt.Fprintf(a.out, "  tags:       %s\n", strings.Join(tags, ", "))
	fmt.Fprintf(a.out, "  components: %s\n", strings.Join(names, ", "))
	return nil
}

func (a *app) caseTag(ctx context.Context, cmd *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	id, err := argID(cmd, 0, "case")
	if err != nil {
		return err
	}
	tags := c.TestCase(id).Tags()
	if add := cmd.StringSlice("add"); len(add) > 0 {
		if err := tags.AddNames(ctx, add...); err != nil {
			return err
		}
	}
	if rm := cmd.StringSlice("remove"); len(rm) > 0 {
		if err := tags.RemoveNames(ctx, rm...); err != nil {
			return err
		}
	}
	if err := tags.Update(ctx); err != nil {
		return err
	}
	names, err := tags.Names(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, strings.Join(names, ", "))
	return nil
}

func (a *app) caseStatus(ctx context.Context, cmd *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	id, err := argID(cmd, 0, "case")
	if err != nil {
		return err
	}
	st, err := tcms.ParseCaseStatus(cmd.Args().Get(1))
	if err != nil {
		return err
	}
	tc := c.TestCase(id)
	if err := tc.SetStatus(ctx, st); err != nil {
		return err
	}
	return tc.Update(ctx)
}

func (a *app) planCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "test plans",
		Commands: []*cli.Command{
			{
				Name:      "cases",
				Usage:     "list the cases of a plan in sort order",
				ArgsUsage: "PLAN_ID",
				Action:    a.planCases,
			},
			{
				Name:      "children",
				Usage:     "list child plans",
				ArgsUsage: "PLAN_ID",
				Action:    a.planChildren,
			},
		},
	}
}

func (a *app) planCases(ctx context.Context, cmd *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	id, err := argID(cmd, 0, "plan")
	if err != nil {
		return err
	}
	view := c.TestPlan(id).CasePlans()
	cases, err := view.Ordered(ctx)
	if err != nil {
		return err
	}
	for _, tc := range cases {
		key, _, err := view.Sortkey(ctx, tc)
		if err != nil {
			return err
		}
		summary, err := tc.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%5d  %s %s\n", key, tc.Ref(), summary)
	}
	return nil
}

func (a *app) planChildren(ctx context.Context, cmd *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	id, err := argID(cmd, 0, "plan")
	if err != nil {
		return err
	}
	kids, err := c.TestPlan(id).Children().Items(ctx)
	if err != nil {
		return err
	}
	for _, p := range kids {
		name, err := p.Name(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s\n", p.Ref(), name)
	}
	return nil
}

func (a *app) runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "test runs",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "print a run and the status of its case runs",
				ArgsUsage: "RUN_ID",
				Action:    a.runShow,
			},
			{
				Name:      "add",
				Usage:     "add cases to a run",
				ArgsUsage: "RUN_ID CASE_ID...",
				Action:    a.runAdd,
			},
		},
	}
}

func (a *app) runShow(ctx context.Context, cmd *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	id, err := argID(cmd, 0, "run")
	if err != nil {
		return err
	}
	run := c.TestRun(id)
	status, err := run.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s [%s]\n", run, status)

	crs, err := run.CaseRuns().Items(ctx)
	if err != nil {
		return err
	}
	for _, cr := range crs {
		st, err := cr.Status(ctx)
		if err != nil {
			return err
		}
		tc, err := cr.Case(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "  %s case %s %s\n", cr.Ref(), tc.Ref(), st)
	}
	return nil
}

func (a *app) runAdd(ctx context.Context, cmd *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	id, err := argID(cmd, 0, "run")
	if err != nil {
		return err
	}
	if cmd.Args().Len() < 2 {
		return fmt.Errorf("tcmsctl: no cases given")
	}
	cases := make([]*tcms.TestCase, 0, cmd.Args().Len()-1)
	for i := 1; i < cmd.Args().Len(); i++ {
		cid, err := argID(cmd, i, "case")
		if err != nil {
			return err
		}
		cases = append(cases, c.TestCase(cid))
	}
	rc := c.TestRun(id).Cases()
	if err := rc.Add(ctx, cases...); err != nil {
		return err
	}
	return rc.Update(ctx)
}

func (a *app) caseRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "caserun",
		Usage: "case runs",
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "record a result",
				ArgsUsage: "CASERUN_ID STATUS",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "notes", Usage: "replace the notes"},
				},
				Action: a.caseRunStatus,
			},
		},
	}
}

func (a *app) caseRunStatus(ctx context.Context, cmd *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	id, err := argID(cmd, 0, "case run")
	if err != nil {
		return err
	}
	st, err := tcms.ParseStatus(cmd.Args().Get(1))
	if err != nil {
		return err
	}
	cr := c.CaseRun(id)
	if err := cr.SetStatus(ctx, st); err != nil {
		return err
	}
	if cmd.IsSet("notes") {
		if err := cr.SetNotes(ctx, cmd.String("notes")); err != nil {
			return err
		}
	}
	return cr.Update(ctx)
}

func (a *app) cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "local cache",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "print cached objects per class and remote calls made",
				Action: a.cacheStats,
			},
			{
				Name:  "drop",
				Usage: "delete the persistent snapshot",
				Action: func(ctx context.Context, _ *cli.Command) error {
					if _, err := a.client(ctx); err != nil {
						return err
					}
					if a.rt.Store == nil {
						return tcms.ErrNotPersistent
					}
					a.skipSave = true
					return a.rt.Store.Drop(ctx)
				},
			},
		},
	}
}

func (a *app) cacheStats(ctx context.Context, _ *cli.Command) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	st := c.Stats()
	classes := make([]string, 0, len(st.Objects))
	for k := range st.Objects {
		classes = append(classes, k)
	}
	sort.Strings(classes)
	fmt.Fprintf(a.out, "level: %s\n", c.Level())
	fmt.Fprintf(a.out, "calls: %d\n", st.Calls)
	for _, k := range classes {
		fmt.Fprintf(a.out, "%-12s %d\n", k, st.Objects[k])
	}
	return nil
}
