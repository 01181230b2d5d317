// Package config loads tcms settings from YAML or JSON and builds the
// transport, snapshot store and logger a Client needs.
//
//	server:
//	  url: https://tcms.example.com/json-rpc/
//	  username: alice
//	cache:
//	  level: persistent
//	  expiration: 30m
//	persist:
//	  provider: redis
//	  codec: msgpack
//	  redis:
//	    addr: localhost:6379
//	log:
//	  backend: zap
//	  level: debug
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/unkn0wn-root/tcms"
	"github.com/unkn0wn-root/tcms/internal/util"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var (
	ErrEmptyPath         = errors.New("config: path is empty")
	ErrUnsupportedFormat = errors.New("config: unsupported format")
	ErrLoadFailed        = errors.New("config: load failed")
	ErrInvalid           = errors.New("config: invalid")
)

type Config struct {
	Server  Server  `koanf:"server"`
	Cache   Cache   `koanf:"cache"`
	Persist Persist `koanf:"persist"`
	Log     Log     `koanf:"log"`
}

type Server struct {
	URL      string            `koanf:"url"`
	Username string            `koanf:"username"`
	Password string            `koanf:"password"`
	Timeout  time.Duration     `koanf:"timeout"`
	Headers  map[string]string `koanf:"headers"`
}

type Cache struct {
	Level            string        `koanf:"level"`      // none | changes | objects | persistent
	Expiration       time.Duration `koanf:"expiration"` // negative => never
	StaticExpiration time.Duration `koanf:"static_expiration"`
}

type Persist struct {
	Namespace string        `koanf:"namespace"`
	Provider  string        `koanf:"provider"` // bigcache | ristretto | redis
	Codec     string        `koanf:"codec"`    // json | cbor | msgpack
	TTL       time.Duration `koanf:"ttl"`
	MaxDecode int           `koanf:"max_decode"` // bytes per record; 0 => unlimited
	LogEvents bool          `koanf:"log_events"`
	DropEvery uint64        `koanf:"drop_every"`

	Redis     Redis     `koanf:"redis"`
	Ristretto Ristretto `koanf:"ristretto"`
	Bigcache  Bigcache  `koanf:"bigcache"`
}

type Redis struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	GenTTL   time.Duration `koanf:"gen_ttl"`
}

type Ristretto struct {
	NumCounters int64 `koanf:"num_counters"`
	MaxCostMB   int64 `koanf:"max_cost_mb"`
	BufferItems int64 `koanf:"buffer_items"`
}

type Bigcache struct {
	HardMaxCacheSizeMB int `koanf:"hard_max_cache_size_mb"`
	MaxEntrySize       int `koanf:"max_entry_size"`
}

type Log struct {
	Backend string `koanf:"backend"` // zap | logrus | slog | none
	Level   string `koanf:"level"`
}

// Load reads path and picks the parser from its extension.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return LoadBytes(data, format)
}

// LoadBytes parses data in the given format. Empty data yields the defaults.
func LoadBytes(data []byte, format Format) (*Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, ErrUnsupportedFormat
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	c.Cache.Level = util.Coalesce(strings.ToLower(c.Cache.Level), tcms.CacheObjects.String())
	c.Persist.Namespace = util.Coalesce(c.Persist.Namespace, "tcms")
	c.Persist.Provider = util.Coalesce(strings.ToLower(c.Persist.Provider), "bigcache")
	c.Persist.Codec = util.Coalesce(strings.ToLower(c.Persist.Codec), "json")
	c.Persist.Redis.Addr = util.Coalesce(c.Persist.Redis.Addr, "localhost:6379")
	c.Persist.Ristretto.NumCounters = util.Coalesce(c.Persist.Ristretto.NumCounters, int64(10_000))
	c.Persist.Ristretto.MaxCostMB = util.Coalesce(c.Persist.Ristretto.MaxCostMB, int64(64))
	c.Persist.Ristretto.BufferItems = util.Coalesce(c.Persist.Ristretto.BufferItems, int64(64))
	c.Log.Backend = util.Coalesce(strings.ToLower(c.Log.Backend), "none")
	c.Log.Level = util.Coalesce(strings.ToLower(c.Log.Level), "info")
}

// Validate reports the first setting that cannot be built.
func (c *Config) Validate() error {
	level, err := tcms.ParseCacheLevel(c.Cache.Level)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch c.Persist.Provider {
	case "bigcache", "ristretto", "redis":
	default:
		return fmt.Errorf("%w: unknown persist provider %q", ErrInvalid, c.Persist.Provider)
	}
	switch c.Persist.Codec {
	case "json", "cbor", "msgpack":
	default:
		return fmt.Errorf("%w: unknown persist codec %q", ErrInvalid, c.Persist.Codec)
	}
	switch c.Log.Backend {
	case "zap", "logrus", "slog", "none":
	default:
		return fmt.Errorf("%w: unknown log backend %q", ErrInvalid, c.Log.Backend)
	}
	if c.Persist.MaxDecode < 0 {
		return fmt.Errorf("%w: persist.max_decode must not be negative", ErrInvalid)
	}
	if level == tcms.CachePersistent && c.Persist.Namespace == "" {
		return fmt.Errorf("%w: persist.namespace is required", ErrInvalid)
	}
	return nil
}

// Level returns the parsed cache level. Validate has already accepted it.
func (c *Config) Level() tcms.CacheLevel {
	l, _ := tcms.ParseCacheLevel(c.Cache.Level)
	return l
}

func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", ErrUnsupportedFormat
	}
}
