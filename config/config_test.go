package config

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/unkn0wn-root/tcms"
	"github.com/unkn0wn-root/tcms/internal/fakerpc"
	tlog "github.com/unkn0wn-root/tcms/log"
)

const sampleYAML = `
server:
  url: http://tcms.local/json-rpc/
  username: alice
  password: secret
  timeout: 5s
  headers:
    X-Team: qa
cache:
  level: Persistent
  expiration: 30m
  static_expiration: -1ns
persist:
  namespace: qa
  codec: msgpack
  ttl: 2h
  max_decode: 65536
log:
  backend: zap
  level: debug
`

func TestLoadBytesYAML(t *testing.T) {
	cfg, err := LoadBytes([]byte(sampleYAML), FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.Server.URL != "http://tcms.local/json-rpc/" || cfg.Server.Username != "alice" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.Timeout != 5*time.Second {
		t.Fatalf("timeout = %v", cfg.Server.Timeout)
	}
	if cfg.Server.Headers["x-team"] != "qa" && cfg.Server.Headers["X-Team"] != "qa" {
		t.Fatalf("headers = %v", cfg.Server.Headers)
	}
	if cfg.Level() != tcms.CachePersistent {
		t.Fatalf("level = %v", cfg.Level())
	}
	if cfg.Cache.Expiration != 30*time.Minute || cfg.Cache.StaticExpiration >= 0 {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	if cfg.Persist.Codec != "msgpack" || cfg.Persist.TTL != 2*time.Hour || cfg.Persist.MaxDecode != 65536 {
		t.Fatalf("persist = %+v", cfg.Persist)
	}
	// unset provider falls back
	if cfg.Persist.Provider != "bigcache" {
		t.Fatalf("provider = %q", cfg.Persist.Provider)
	}
}

func TestLoadBytesJSON(t *testing.T) {
	data := `{"server":{"url":"http://x/"},"cache":{"level":"changes"},"persist":{"provider":"redis","redis":{"addr":"r:6379","db":2,"gen_ttl":"1h"}}}`
	cfg, err := LoadBytes([]byte(data), FormatJSON)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.Level() != tcms.CacheChanges {
		t.Fatalf("level = %v", cfg.Level())
	}
	r := cfg.Persist.Redis
	if r.Addr != "r:6379" || r.DB != 2 || r.GenTTL != time.Hour {
		t.Fatalf("redis = %+v", r)
	}
}

func TestLoadBytesDefaults(t *testing.T) {
	cfg, err := LoadBytes(nil, FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.Level() != tcms.CacheObjects {
		t.Fatalf("level = %v", cfg.Level())
	}
	if cfg.Persist.Namespace != "tcms" || cfg.Persist.Codec != "json" || cfg.Log.Backend != "none" {
		t.Fatalf("defaults = %+v %+v", cfg.Persist, cfg.Log)
	}
}

func TestLoadBytesInvalid(t *testing.T) {
	cases := map[string]string{
		"level":    "cache: {level: forever}",
		"provider": "persist: {provider: memcached}",
		"codec":    "persist: {codec: gob}",
		"backend":  "log: {backend: syslog}",
		"decode":   "persist: {max_decode: -1}",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadBytes([]byte(in), FormatYAML); !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
	if _, err := LoadBytes([]byte("server: ["), FormatYAML); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("malformed: err = %v", err)
	}
	if _, err := LoadBytes([]byte("{}"), Format("toml")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("format: err = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tcms.yml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Persist.Namespace != "qa" {
		t.Fatalf("namespace = %q", cfg.Persist.Namespace)
	}

	if _, err := Load(""); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("empty: err = %v", err)
	}
	if _, err := Load(filepath.Join(dir, "tcms.ini")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ini: err = %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("missing: err = %v", err)
	}
}

func TestNewLoggerBackends(t *testing.T) {
	for _, backend := range []string{"zap", "logrus", "slog"} {
		t.Run(backend, func(t *testing.T) {
			cfg := &Config{Log: Log{Backend: backend, Level: "info"}}
			var buf bytes.Buffer
			lg, err := cfg.NewLogger(&buf)
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			lg.Debug("hidden", nil)
			lg.Info("fetched", tlog.Fields{"class": "TestCase"})
			out := buf.String()
			if !strings.Contains(out, "fetched") || !strings.Contains(out, "TestCase") {
				t.Fatalf("output = %q", out)
			}
			if strings.Contains(out, "hidden") {
				t.Fatalf("debug line written at info level: %q", out)
			}
		})
	}

	cfg := &Config{Log: Log{Backend: "zap", Level: "loud"}}
	if _, err := cfg.NewLogger(io.Discard); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad level: err = %v", err)
	}
	cfg = &Config{Log: Log{Backend: "none"}}
	if lg, err := cfg.NewLogger(io.Discard); err != nil || lg == nil {
		t.Fatalf("none: %v %v", lg, err)
	}
}

func TestNewTransportRequiresURL(t *testing.T) {
	cfg, err := LoadBytes(nil, FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.NewTransport(); err == nil {
		t.Fatal("transport without url built")
	}
	if _, err := Build(context.Background(), cfg, io.Discard); err == nil {
		t.Fatal("Build without url succeeded")
	}
}

func seedCase(srv *fakerpc.Server) {
	srv.Seed("TestCase", fakerpc.Row{
		"id": 1, "summary": "login works", "script": "", "arguments": "",
		"requirement": "", "notes": "", "is_automated": false, "category_id": 1,
		"priority_id": 1, "case_status_id": 2, "author_id": 1, "default_tester_id": nil, "sortkey": 0,
	})
}

func TestBuildWithObjectsLevel(t *testing.T) {
	ctx := context.Background()
	cfg, err := LoadBytes([]byte("cache: {level: objects, expiration: 10m}"), FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	srv := fakerpc.New()
	seedCase(srv)
	rt, err := BuildWith(ctx, cfg, srv, io.Discard)
	if err != nil {
		t.Fatalf("BuildWith: %v", err)
	}
	defer rt.Close(ctx)
	if rt.Store != nil {
		t.Fatal("store built below persistent level")
	}
	if rt.Client.Level() != tcms.CacheObjects {
		t.Fatalf("level = %v", rt.Client.Level())
	}
	s, err := rt.Client.TestCase(1).Summary(ctx)
	if err != nil || s != "login works" {
		t.Fatalf("Summary = %q, %v", s, err)
	}
	if _, err := rt.Client.Save(ctx); !errors.Is(err, tcms.ErrNotPersistent) {
		t.Fatalf("Save = %v", err)
	}
}

func TestBuildProviders(t *testing.T) {
	ctx := context.Background()
	for _, p := range []string{"bigcache", "ristretto"} {
		t.Run(p, func(t *testing.T) {
			in := "cache: {level: persistent}\npersist: {provider: " + p + ", codec: cbor, log_events: true}\nlog: {level: debug}"
			cfg, err := LoadBytes([]byte(in), FormatYAML)
			if err != nil {
				t.Fatal(err)
			}
			srv := fakerpc.New()
			seedCase(srv)
			rt, err := BuildWith(ctx, cfg, srv, io.Discard)
			if err != nil {
				t.Fatalf("BuildWith: %v", err)
			}
			defer rt.Close(ctx)
			if _, err := rt.Client.TestCase(1).Summary(ctx); err != nil {
				t.Fatal(err)
			}
			res, err := rt.Client.Save(ctx)
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if res.Saved != 1 {
				t.Fatalf("saved = %d", res.Saved)
			}
		})
	}
}

// Two runtimes on one redis: the second restores what the first saved
// without talking to the server.
func TestBuildRedisSharedSnapshot(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	in := "cache: {level: persistent}\npersist: {provider: redis, namespace: shared, redis: {addr: " + mr.Addr() + "}}"
	cfg, err := LoadBytes([]byte(in), FormatYAML)
	if err != nil {
		t.Fatal(err)
	}

	srv := fakerpc.New()
	seedCase(srv)
	first, err := BuildWith(ctx, cfg, srv, io.Discard)
	if err != nil {
		t.Fatalf("BuildWith: %v", err)
	}
	if _, err := first.Client.TestCase(1).Summary(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Client.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	empty := fakerpc.New()
	second, err := BuildWith(ctx, cfg, empty, io.Discard)
	if err != nil {
		t.Fatalf("BuildWith: %v", err)
	}
	defer second.Close(ctx)
	n, err := second.Client.Load(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Load = %d, %v", n, err)
	}
	s, err := second.Client.TestCase(1).Summary(ctx)
	if err != nil || s != "login works" {
		t.Fatalf("Summary = %q, %v", s, err)
	}
	if got := empty.Count(""); got != 0 {
		t.Fatalf("restored runtime made %d calls", got)
	}
}
