// Package redis keeps cache snapshots in Redis so several processes (or
// restarts of one) share them.
//
// persist.Store writes one value per namespace under "snap:<namespace>": the
// codec-encoded wire records of every cached object, tagged with the
// generation each record was saved at. genstore.RedisGenStore keeps those
// generations under "gen:<namespace>:<key>" on the same server, so an
// invalidation made by one process drops the stale record for the others.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/tcms/persist/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// Redis is a persist provider backed by a go-redis client. Values are stored
// as plain strings with an optional TTL; cost is ignored.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ pr.Provider = (*Redis)(nil)

// Config names the client to use. The client may be shared with a
// genstore.RedisGenStore.
type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
}

// New returns a provider over cfg.Client or ErrNilClient.
func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// Close releases the client only when this provider owns it.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
