package webhook

import (
	"sync"
	"time"
)

// Dedup defaults.
const (
	DefaultDedupTTL        = 5 * time.Minute
	DefaultDedupMaxEntries = 500
)

type dedupEntry struct {
	seen     time.Time
	inFlight bool
	result   *RouteResult
}

// Deduplicator remembers recently seen delivery ids so forge retries of the
// same delivery are not processed twice. All state sits behind one mutex.
type Deduplicator struct {
	mu         sync.Mutex
	entries    map[string]*dedupEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// DedupOpts holds parameters for creating a Deduplicator.
type DedupOpts struct {
	TTL        time.Duration    // defaults to DefaultDedupTTL
	MaxEntries int              // sweep threshold; defaults to DefaultDedupMaxEntries
	Now        func() time.Time // defaults to time.Now
}

// NewDeduplicator creates a Deduplicator.
func NewDeduplicator(opts DedupOpts) *Deduplicator {
	d := &Deduplicator{
		entries:    make(map[string]*dedupEntry),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        opts.Now,
	}
	if d.ttl <= 0 {
		d.ttl = DefaultDedupTTL
	}
	if d.maxEntries <= 0 {
		d.maxEntries = DefaultDedupMaxEntries
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// IsDuplicate records id and reports whether it was already recorded. An
// empty id is never a duplicate and is not recorded.
func (d *Deduplicator) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[id]; ok {
		return true
	}
	d.record(id, &dedupEntry{seen: d.now()})
	return false
}

// Claim is an in-flight delivery. Exactly one of Commit or Abort must be
// called.
type Claim struct {
	d    *Deduplicator
	id   string
	done bool
}

// Begin claims id for processing. If id is already recorded, duplicate is
// true and cached holds its result, which is nil while another request is
// still processing it. An empty id yields a no-op claim.
func (d *Deduplicator) Begin(id string) (claim *Claim, cached *RouteResult, duplicate bool) {
	if id == "" {
		return &Claim{}, nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[id]; ok {
		return nil, e.result, true
	}
	d.record(id, &dedupEntry{seen: d.now(), inFlight: true})
	return &Claim{d: d, id: id}, nil, false
}

// Commit marks the delivery as processed and caches its result for
// duplicates.
func (c *Claim) Commit(result *RouteResult) {
	if c == nil || c.d == nil || c.done {
		return
	}
	c.done = true
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if e, ok := c.d.entries[c.id]; ok {
		e.inFlight = false
		e.seen = c.d.now()
		e.result = result
	}
}

// Abort forgets the delivery so a retry is processed again.
func (c *Claim) Abort() {
	if c == nil || c.d == nil || c.done {
		return
	}
	c.done = true
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	delete(c.d.entries, c.id)
}

// record stores e and sweeps when the cache is over its ceiling. Callers
// hold d.mu.
func (d *Deduplicator) record(id string, e *dedupEntry) {
	d.entries[id] = e
	if len(d.entries) > d.maxEntries {
		d.sweepLocked()
	}
}

// Sweep removes entries older than the TTL and returns how many it removed.
// In-flight claims are kept.
func (d *Deduplicator) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweepLocked()
}

func (d *Deduplicator) sweepLocked() int {
	cutoff := d.now().Add(-d.ttl)
	removed := 0
	for id, e := range d.entries {
		if !e.inFlight && e.seen.Before(cutoff) {
			delete(d.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered deliveries.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
