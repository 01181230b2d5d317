package genstore

import (
	"context"
	"time"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// LocalGenStore keeps generations in process memory. Like the rest of tcms it
// assumes a single caller goroutine; there is no locking and no background
// sweep, call Cleanup explicitly if the key space grows.
type LocalGenStore struct {
	gens map[string]localGenEntry
	now  func() time.Time
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore() *LocalGenStore {
	return &LocalGenStore{gens: make(map[string]localGenEntry), now: time.Now}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	return s.gens[k].Gen, nil
}

func (s *LocalGenStore) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	for _, k := range ks {
		out[k] = s.gens[k].Gen
	}
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	e := s.gens[k]
	e.Gen++
	e.UpdatedAt = s.now()
	s.gens[k] = e
	return e.Gen, nil
}

// Cleanup forgets keys whose last bump is older than retention. A forgotten
// key reads as generation 0, so records saved before the bump stay invalid
// only if they were saved at a non-zero generation.
func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)
	for k, e := range s.gens {
		if e.UpdatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
}

func (s *LocalGenStore) Len() int { return len(s.gens) }

func (s *LocalGenStore) Close(context.Context) error { return nil }
