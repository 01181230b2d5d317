package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdslog "log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/tcms"
	tlogrus "github.com/unkn0wn-root/tcms/log/logrus"
	tslog "github.com/unkn0wn-root/tcms/log/slog"
	tzap "github.com/unkn0wn-root/tcms/log/zap"
	"github.com/unkn0wn-root/tcms/persist"
	"github.com/unkn0wn-root/tcms/persist/codec"
	gen "github.com/unkn0wn-root/tcms/persist/genstore"
	pr "github.com/unkn0wn-root/tcms/persist/provider"
	"github.com/unkn0wn-root/tcms/persist/provider/bigcache"
	"github.com/unkn0wn-root/tcms/persist/provider/redis"
	"github.com/unkn0wn-root/tcms/persist/provider/ristretto"
	"github.com/unkn0wn-root/tcms/persist/sloghooks"
	"github.com/unkn0wn-root/tcms/transport"
	"github.com/unkn0wn-root/tcms/transport/jsonrpc"
)

// Runtime is a Client together with the resources Build opened for it.
type Runtime struct {
	Client *tcms.Client
	Logger tcms.Logger
	Store  persist.Store[tcms.Record] // nil below the persistent level

	closers []func(context.Context) error
}

// Close releases the store and the transport.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i](ctx))
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Build dials nothing: the transport connects lazily and the redis client on
// first command. Logs go to w.
func Build(ctx context.Context, cfg *Config, w io.Writer) (*Runtime, error) {
	rpc, err := cfg.NewTransport()
	if err != nil {
		return nil, err
	}
	return BuildWith(ctx, cfg, rpc, w)
}

// BuildWith is Build over an existing transport; tests use it with a fake.
func BuildWith(ctx context.Context, cfg *Config, rpc transport.Transport, w io.Writer) (*Runtime, error) {
	lg, err := cfg.NewLogger(w)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Logger: lg}
	if cl, ok := rpc.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, func(context.Context) error { return cl.Close() })
	}

	if cfg.Level() == tcms.CachePersistent {
		st, err := cfg.NewStore(ctx, lg, w)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		rt.Store = st
		rt.closers = append(rt.closers, st.Close)
	}

	rt.Client, err = tcms.New(cfg.Options(rpc, lg, rt.Store))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// Options maps the cache section onto tcms.Options.
func (c *Config) Options(rpc transport.Transport, lg tcms.Logger, st persist.Store[tcms.Record]) tcms.Options {
	return tcms.Options{
		Transport:        rpc,
		Level:            c.Level(),
		Expiration:       c.Cache.Expiration,
		StaticExpiration: c.Cache.StaticExpiration,
		Logger:           lg,
		Store:            st,
	}
}

func (c *Config) NewTransport() (*jsonrpc.Client, error) {
	return jsonrpc.New(jsonrpc.Config{
		URL:      c.Server.URL,
		Username: c.Server.Username,
		Password: c.Server.Password,
		Timeout:  c.Server.Timeout,
		Headers:  c.Server.Headers,
	})
}

// NewLogger builds the configured backend writing to w.
func (c *Config) NewLogger(w io.Writer) (tcms.Logger, error) {
	switch c.Log.Backend {
	case "zap":
		lvl, err := zapcore.ParseLevel(c.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		return tzap.New(zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl))), nil
	case "logrus":
		lvl, err := logrus.ParseLevel(c.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return tlogrus.New(l), nil
	case "slog":
		h, err := c.slogHandler(w)
		if err != nil {
			return nil, err
		}
		return tslog.Logger{L: stdslog.New(h)}, nil
	default:
		return tcms.NopLogger{}, nil
	}
}

func (c *Config) slogHandler(w io.Writer) (stdslog.Handler, error) {
	var lvl stdslog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return stdslog.NewTextHandler(w, &stdslog.HandlerOptions{Level: lvl}), nil
}

// NewStore builds the snapshot store from the persist section. With the
// redis provider, generations live in the same redis so other processes see
// invalidations.
func (c *Config) NewStore(ctx context.Context, lg tcms.Logger, w io.Writer) (persist.Store[tcms.Record], error) {
	p := c.Persist
	inner, err := codec.ByName[tcms.Record](p.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	var cd codec.Codec[tcms.Record] = inner
	if p.MaxDecode > 0 {
		cd = codec.Limit[tcms.Record]{Inner: inner, MaxDecode: p.MaxDecode}
	}

	var (
		prov pr.Provider
		gs   gen.GenStore
	)
	switch p.Provider {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     p.Redis.Addr,
			Password: p.Redis.Password,
			DB:       p.Redis.DB,
		})
		rp, err := redis.New(redis.Config{Client: rdb, CloseClient: true})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		prov = rp
		gs = gen.NewRedisGenStore(rdb, p.Namespace, p.Redis.GenTTL)
	case "ristretto":
		prov, err = ristretto.New(ristretto.Config{
			NumCounters: p.Ristretto.NumCounters,
			MaxCost:     p.Ristretto.MaxCostMB << 20,
			BufferItems: p.Ristretto.BufferItems,
		})
	default:
		prov, err = bigcache.New(ctx, bigcache.Config{
			LifeWindow:         p.TTL,
			MaxEntrySize:       p.Bigcache.MaxEntrySize,
			HardMaxCacheSizeMB: p.Bigcache.HardMaxCacheSizeMB,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("config: %s provider: %w", p.Provider, err)
	}

	opts := persist.Options[tcms.Record]{
		Namespace: p.Namespace,
		Provider:  prov,
		Codec:     cd,
		Logger:    lg,
		TTL:       p.TTL,
		GenStore:  gs,
	}
	if p.LogEvents {
		h, err := c.slogHandler(w)
		if err != nil {
			_ = prov.Close(ctx)
			return nil, err
		}
		opts.Hooks = sloghooks.New(stdslog.New(h).With("component", "tcms.persist"), sloghooks.Options{DropEvery: p.DropEvery})
	}
	st, err := persist.New(opts)
	if err != nil {
		_ = prov.Close(ctx)
		return nil, err
	}
	return st, nil
}
