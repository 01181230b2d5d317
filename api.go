package tcms

import (
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/tcms/persist"
	"github.com/unkn0wn-root/tcms/transport"
)

// CacheLevel selects how much the client keeps between calls.
type CacheLevel int

const (
	CacheNone CacheLevel = iota + 1
	CacheChanges
	CacheObjects
	CachePersistent
)

var cacheLevelNames = map[CacheLevel]string{
	CacheNone:       "none",
	CacheChanges:    "changes",
	CacheObjects:    "objects",
	CachePersistent: "persistent",
}

func (l CacheLevel) String() string {
	if s, ok := cacheLevelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("CacheLevel(%d)", int(l))
}

// ParseCacheLevel accepts the names printed by String, case-insensitively.
func ParseCacheLevel(s string) (CacheLevel, error) {
	for l, name := range cacheLevelNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("tcms: unknown cache level %q", s)
}

// NeverExpire disables expiration for a class of objects.
const NeverExpire time.Duration = -1

const (
	defaultExpiration = time.Hour
	defaultLevel      = CacheObjects
)

// Options configure a Client. Only Transport is required.
type Options struct {
	Transport transport.Transport

	Level            CacheLevel    // 0 => CacheObjects
	Expiration       time.Duration // plans, runs, cases, case runs; 0 => 1h
	StaticExpiration time.Duration // reference data; 0 => NeverExpire
	Logger           Logger        // nil => NopLogger

	// Store receives snapshots at CachePersistent. Required at that level.
	Store persist.Store[Record]

	// Now is the clock used for fetch timestamps; nil => time.Now.
	Now func() time.Time
}
