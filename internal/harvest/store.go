// Package harvest implements the external-context harvesters (C13): one
// goroutine per source on its own freshness interval, publishing an
// immutable snapshot via atomic pointer swap so readers (the rule engine)
// never lock. Grounded on the reference domain's external-context
// snapshot design note: "harvesters build a new map, then publish
// atomically."
package harvest

import (
	"sync/atomic"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

// Store holds the current external-context snapshot behind an atomic
// pointer; Snapshot() never blocks on a harvester in flight.
type Store struct {
	ptr atomic.Pointer[domain.ContextSnapshot]
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	s.ptr.Store(&domain.ContextSnapshot{TakenAt: time.Time{}, Entries: map[string]domain.ContextEntry{}})
	return s
}

// Snapshot returns the current immutable context snapshot, with TakenAt
// advanced to now so freshness checks are evaluated against the read
// instant rather than the last publish instant.
func (s *Store) Snapshot(now time.Time) domain.ContextSnapshot {
	cur := s.ptr.Load()
	return domain.ContextSnapshot{TakenAt: now, Entries: cur.Entries}
}

// Publish merges newEntries into a fresh copy of the current entry set
// and atomically swaps it in, retrying the load-merge-store under CAS so
// two harvesters publishing concurrently never lose one source's entries
// to a lost update.
func (s *Store) Publish(newEntries map[string]domain.ContextEntry) {
	for {
		cur := s.ptr.Load()
		merged := make(map[string]domain.ContextEntry, len(cur.Entries)+len(newEntries))
		for k, v := range cur.Entries {
			merged[k] = v
		}
		for k, v := range newEntries {
			merged[k] = v
		}
		next := &domain.ContextSnapshot{TakenAt: time.Now(), Entries: merged}
		if s.ptr.CompareAndSwap(cur, next) {
			return
		}
	}
}
