package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/unkn0wn-root/tcms"
	"github.com/unkn0wn-root/tcms/config"
)

// buildFunc turns a loaded config into a runtime. Tests swap in a fake server.
type buildFunc func(ctx context.Context, cfg *config.Config, logs io.Writer) (*config.Runtime, error)

type app struct {
	out, errw io.Writer
	build     buildFunc

	cfg      *config.Config
	rt       *config.Runtime
	skipSave bool
}

func newApp(out, errw io.Writer, build buildFunc) *app {
	if build == nil {
		build = config.Build
	}
	return &app{out: out, errw: errw, build: build}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:      "tcmsctl",
		Usage:     "TCMS command line client",
		Writer:    a.out,
		ErrWriter: a.errw,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a yaml or json config file",
				Sources: cli.NewValueSourceChain(cli.EnvVar("TCMS_CONFIG")),
			},
			&cli.StringFlag{
				Name:    "url",
				Usage:   "JSON-RPC endpoint",
				Sources: cli.NewValueSourceChain(cli.EnvVar("TCMS_URL")),
			},
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "login for basic auth",
				Sources: cli.NewValueSourceChain(cli.EnvVar("TCMS_USERNAME")),
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "password for basic auth",
				Sources: cli.NewValueSourceChain(cli.EnvVar("TCMS_PASSWORD")),
			},
			&cli.StringFlag{
				Name:  "cache",
				Usage: "cache level: none, changes, objects or persistent",
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "log backend: zap, logrus, slog or none",
			},
		},
		Before: a.before,
		After:  a.after,
		Commands: []*cli.Command{
			a.caseCommand(),
			a.planCommand(),
			a.runCommand(),
			a.caseRunCommand(),
			a.cacheCommand(),
		},
	}
}

func (a *app) loadConfig(cmd *cli.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadBytes(nil, config.FormatYAML)
	}
	if err != nil {
		return nil, err
	}
	if v := cmd.String("url"); v != "" {
		cfg.Server.URL = v
	}
	if v := cmd.String("username"); v != "" {
		cfg.Server.Username = v
	}
	if v := cmd.String("password"); v != "" {
		cfg.Server.Password = v
	}
	if v := cmd.String("cache"); v != "" {
		cfg.Cache.Level = v
	}
	if v := cmd.String("log"); v != "" {
		cfg.Log.Backend = v
	}
	return cfg, cfg.Validate()
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Args().Len() == 0 {
		return ctx, nil
	}
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return ctx, err
	}
	a.cfg = cfg
	return ctx, nil
}

// after pushes deferred changes, saves the snapshot and releases the runtime.
func (a *app) after(ctx context.Context, _ *cli.Command) error {
	if a.rt == nil {
		return nil
	}
	rt := a.rt
	a.rt = nil

	err := rt.Client.Update(ctx)
	if err == nil && !a.skipSave && rt.Client.Level() == tcms.CachePersistent {
		_, err = rt.Client.Save(ctx)
	}
	return errors.Join(err, rt.Close(ctx))
}

// client builds the runtime on first use and, at the persistent level,
// restores the previous snapshot.
func (a *app) client(ctx context.Context) (*tcms.Client, error) {
	if a.rt != nil {
		return a.rt.Client, nil
	}
	if a.cfg == nil {
		return nil, fmt.Errorf("tcmsctl: no configuration loaded")
	}
	rt, err := a.build(ctx, a.cfg, a.errw)
	if err != nil {
		return nil, err
	}
	a.rt = rt
	if rt.Client.Level() == tcms.CachePersistent {
		n, err := rt.Client.Load(ctx)
		if err != nil {
			rt.Logger.Warn("snapshot not restored", tcms.Fields{"err": err})
		} else {
			rt.Logger.Debug("snapshot restored", tcms.Fields{"objects": n})
		}
	}
	return rt.Client, nil
}
