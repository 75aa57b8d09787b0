// Package debounce turns a noisy per-frame boolean signal into a sustained one,
// tracked independently for each identity reported by an external tracker.
package debounce

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Debouncer defaults.
const (
	// DefaultThreshold is the number of consecutive true frames required
	// before the debounced signal holds (~1.2s at 25fps).
	DefaultThreshold = 30
	// DefaultEvictAfter is the number of consecutive frames an identity may
	// be missing before its entry is dropped (~6s at 25fps).
	DefaultEvictAfter = 150
)

// AbsencePolicy decides what happens to an identity's counter when a frame
// closes without that identity having been updated.
type AbsencePolicy int

const (
	// AbsenceReset zeroes the counter of identities missing from a frame.
	AbsenceReset AbsencePolicy = iota
	// AbsencePreserve keeps the counter until the identity is evicted.
	AbsencePreserve
)

// String returns the config name of the policy.
func (p AbsencePolicy) String() string {
	switch p {
	case AbsenceReset:
		return "reset"
	case AbsencePreserve:
		return "preserve"
	default:
		return fmt.Sprintf("AbsencePolicy(%d)", int(p))
	}
}

// ParseAbsencePolicy parses "reset" or "preserve".
func ParseAbsencePolicy(s string) (AbsencePolicy, error) {
	switch s {
	case "", "reset":
		return AbsenceReset, nil
	case "preserve":
		return AbsencePreserve, nil
	default:
		return AbsenceReset, fmt.Errorf("unknown absence policy %q", s)
	}
}

// Config holds debouncer options. Zero values select the defaults.
type Config struct {
	Threshold  uint
	EvictAfter uint64
	Absence    AbsencePolicy
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		EvictAfter: DefaultEvictAfter,
		Absence:    AbsenceReset,
	}
}

type entry struct {
	count    uint
	lastSeen uint64
}

// Entry is a point-in-time view of one identity's state.
type Entry[K comparable] struct {
	ID       K      `json:"id"`
	Count    uint   `json:"count"`
	LastSeen uint64 `json:"last_seen"`
	Active   bool   `json:"active"`
}

// Debouncer keeps a consecutive-true-frame counter per identity.
//
// A Debouncer belongs to exactly one video stream. Update may be called once
// per identity per frame; EndFrame closes the frame, applies the absence
// policy and evicts stale identities.
type Debouncer[K comparable] struct {
	config  Config
	frame   uint64
	entries map[K]*entry
	mu      sync.Mutex
}

// New creates a Debouncer. Threshold values below 1 fall back to
// DefaultThreshold and a zero EvictAfter falls back to DefaultEvictAfter.
func New[K comparable](config Config) *Debouncer[K] {
	if config.Threshold < 1 {
		config.Threshold = DefaultThreshold
	}
	if config.EvictAfter == 0 {
		config.EvictAfter = DefaultEvictAfter
	}
	return &Debouncer[K]{
		config:  config,
		entries: make(map[K]*entry),
	}
}

// Update feeds one raw observation for id and reports whether the signal has
// now been true for at least Threshold consecutive frames.
func (d *Debouncer[K]) Update(id K, raw bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		e = &entry{}
		d.entries[id] = e
	}
	e.lastSeen = d.frame

	if raw {
		e.count++
	} else {
		e.count = 0
	}

	return e.count >= d.config.Threshold
}

// EndFrame closes the current frame. Identities not updated during it are
// reset or kept according to the absence policy, and identities missing for
// EvictAfter consecutive frames are removed. It returns the evicted ids.
func (d *Debouncer[K]) EndFrame() []K {
	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted []K
	for id, e := range d.entries {
		if e.lastSeen == d.frame {
			continue
		}
		if d.config.Absence == AbsenceReset {
			e.count = 0
		}
		if d.frame-e.lastSeen >= d.config.EvictAfter {
			delete(d.entries, id)
			evicted = append(evicted, id)
		}
	}

	d.frame++
	return evicted
}

// Count returns the current counter for id (0 when unknown).
func (d *Debouncer[K]) Count(id K) uint {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[id]; ok {
		return e.count
	}
	return 0
}

// Active reports whether id currently holds the debounced signal.
func (d *Debouncer[K]) Active(id K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	return ok && e.count >= d.config.Threshold
}

// Len returns the number of tracked identities.
func (d *Debouncer[K]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Frame returns the index of the frame currently open.
func (d *Debouncer[K]) Frame() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

// Threshold returns the effective threshold.
func (d *Debouncer[K]) Threshold() uint {
	return d.config.Threshold
}

// Forget drops id immediately.
func (d *Debouncer[K]) Forget(id K) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

// Reset drops every identity and restarts the frame counter.
func (d *Debouncer[K]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[K]*entry)
	d.frame = 0
}

// Snapshot returns every tracked identity, most recently seen first. Ties are
// ordered by the id's printed form.
func (d *Debouncer[K]) Snapshot() []Entry[K] {
	d.mu.Lock()
	out := make([]Entry[K], 0, len(d.entries))
	for id, e := range d.entries {
		out = append(out, Entry[K]{
			ID:       id,
			Count:    e.count,
			LastSeen: e.lastSeen,
			Active:   e.count >= d.config.Threshold,
		})
	}
	d.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry[K]) int {
		if c := cmp.Compare(b.LastSeen, a.LastSeen); c != 0 {
			return c
		}
		return cmp.Compare(fmt.Sprint(a.ID), fmt.Sprint(b.ID))
	})
	return out
}
