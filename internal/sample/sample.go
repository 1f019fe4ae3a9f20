// Package sample defines the unit of collected data and the registries
// that own per-FQCN history.
package sample

import (
	"time"

	"github.com/cornelk/hashmap"
	"github.com/srg/blecollector/internal/decode"
	"github.com/srg/blecollector/internal/fqcn"
	"github.com/srg/blecollector/internal/ring"
)

// Sample is one decoded characteristic read or notification.
type Sample struct {
	FQCN  fqcn.FQCN
	TS    time.Time
	Value decode.Value
	Raw   []byte
}

// defaultHistorySize backstops registries created without an explicit
// per-FQCN capacity; callers normally size rings from configuration.
const defaultHistorySize = 10

// entry pairs an FQCN with its ring so Keys()/SnapshotAll() can recover the
// structured key from the string-keyed map beneath them.
type entry struct {
	key  fqcn.FQCN
	ring *ring.Ring[Sample]
}

// Registry owns the samples[FQCN] -> ring(Sample) map. One Session ever
// writes to a given FQCN's ring (I2); many readers (the HTTP surface) may
// snapshot it concurrently, which is why the map itself is a concurrent
// hashmap and each ring is its own mutex-protected buffer. Keyed by the
// FQCN's string form, matching the string-keyed hashmap.Map usage the rest
// of this codebase already relies on.
type Registry struct {
	entries *hashmap.Map[string, *entry]
}

// NewRegistry creates an empty sample registry.
func NewRegistry() *Registry {
	return &Registry{entries: hashmap.New[string, *entry]()}
}

// Push records a sample, creating the FQCN's ring on first use with the
// given capacity.
func (r *Registry) Push(key fqcn.FQCN, capacity int, s Sample) {
	r.entryFor(key, capacity).ring.Push(s)
}

// entryFor returns the entry for key, lazily creating it with capacity (or
// defaultHistorySize if capacity <= 0) on first access.
func (r *Registry) entryFor(key fqcn.FQCN, capacity int) *entry {
	k := key.String()
	if existing, ok := r.entries.Get(k); ok {
		return existing
	}
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	created := &entry{key: key, ring: ring.New[Sample](capacity)}
	actual, _ := r.entries.GetOrInsert(k, created)
	return actual
}

// Snapshot returns the current history for key, oldest first, and whether
// the FQCN has ever been written.
func (r *Registry) Snapshot(key fqcn.FQCN) ([]Sample, bool) {
	e, ok := r.entries.Get(key.String())
	if !ok {
		return nil, false
	}
	return e.ring.Snapshot(), true
}

// SnapshotAll returns every FQCN's current history, oldest first.
func (r *Registry) SnapshotAll() map[fqcn.FQCN][]Sample {
	out := make(map[fqcn.FQCN][]Sample)
	r.entries.Range(func(_ string, e *entry) bool {
		out[e.key] = e.ring.Snapshot()
		return true
	})
	return out
}

// Keys returns every FQCN with at least one recorded sample.
func (r *Registry) Keys() []fqcn.FQCN {
	var keys []fqcn.FQCN
	r.entries.Range(func(_ string, e *entry) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys
}
