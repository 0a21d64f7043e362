// Package cache implements the small fixed-capacity structures PTH uses
// to preserve ordering across a deferred decision: the release-reorder
// cache and the tap/hold release trackers. All use bitmask-indexed fixed
// arrays with count-trailing-zeros allocation, so finding a free slot is
// O(1) and the whole structure lives in a handful of bytes.
//
// One ordering caveat is accepted rather than fixed: when the active
// tap-hold key was held instantly, a BeforeSecond-cached release may
// flush after an instant-held second press even though physically the
// release preceded it. Modifiers affect keys at press time, not release
// time, so the user-visible effect is unchanged.
package cache

import (
	"math/bits"

	"github.com/maatthc/jgandert-qmk-modules/internal/event"
)

// Capacity is the fixed size of the release cache and both release sets.
const Capacity = 8

// Phase tags a cached release as having occurred before or after the
// second key was pressed; the partition governs flush order during
// commit.
type Phase uint8

const (
	BeforeSecond Phase = iota
	AfterSecond
)

// Record is a single cached event, full enough to replay at flush time.
type Record struct {
	Position event.Position
	Pressed  bool
	TimeMS   uint16
	Phase    Phase
}

// ReleaseCache is the 8-slot release-reorder cache. On overflow the caller
// must process the event directly; ReleaseCache itself never blocks or
// drops silently — Add reports whether it had room.
type ReleaseCache struct {
	used [Capacity]Record
	mask uint8 // bit i set => slot i holds a valid record
}

// Add inserts a record, returning false if the cache is full (caller must
// then process the event directly instead).
func (c *ReleaseCache) Add(r Record) bool {
	free := ^c.mask
	if free == 0 {
		return false
	}
	slot := bits.TrailingZeros8(free)
	c.used[slot] = r
	c.mask |= 1 << uint(slot)
	return true
}

// Len reports how many records are currently cached.
func (c *ReleaseCache) Len() int {
	return bits.OnesCount8(c.mask)
}

// Full reports whether the cache has no free slots.
func (c *ReleaseCache) Full() bool { return c.mask == ^uint8(0)&(1<<Capacity-1) }

// Flush returns all cached records for the given phase in slot order, and
// removes them from the cache. Slots are allocated lowest-free-first via
// TrailingZeros8, so slot order equals insertion order as long as no
// slot freed by an earlier flush has been reused; a record added after
// flushing one phase can land in a lower slot than older records of the
// other phase. The engine flushes both phases back to back at commit and
// adds nothing in between, so its replays keep insertion order.
func (c *ReleaseCache) Flush(phase Phase) []Record {
	var out []Record
	for slot := 0; slot < Capacity; slot++ {
		if c.mask&(1<<uint(slot)) == 0 {
			continue
		}
		if c.used[slot].Phase != phase {
			continue
		}
		out = append(out, c.used[slot])
		c.mask &^= 1 << uint(slot)
	}
	return out
}

// Reset empties the cache.
func (c *ReleaseCache) Reset() { c.mask = 0 }

// TapReleaseSet tracks positions of tap-hold keys committed as tap but
// not yet physically released, so the eventual release emits an
// unregister of the tap keycode rather than the default hold action.
// Keyed on position, not keycode: a release arriving on a different layer
// than its press still resolves correctly.
type TapReleaseSet struct {
	positions [Capacity]event.Position
	mask      uint8
}

// Add inserts a position, returning false if the set is full.
func (s *TapReleaseSet) Add(p event.Position) bool {
	if s.Contains(p) {
		return true
	}
	free := ^s.mask
	if free == 0 {
		return false
	}
	slot := bits.TrailingZeros8(free)
	s.positions[slot] = p
	s.mask |= 1 << uint(slot)
	return true
}

// Contains reports whether p is tracked (O(k) over set bits).
func (s *TapReleaseSet) Contains(p event.Position) bool {
	m := s.mask
	for m != 0 {
		slot := bits.TrailingZeros8(m)
		m &^= 1 << uint(slot)
		if s.positions[slot] == p {
			return true
		}
	}
	return false
}

// Remove deletes p from the set if present.
func (s *TapReleaseSet) Remove(p event.Position) {
	m := s.mask
	for m != 0 {
		slot := bits.TrailingZeros8(m)
		m &^= 1 << uint(slot)
		if s.positions[slot] == p {
			s.mask &^= 1 << uint(slot)
			return
		}
	}
}

// Full reports whether the set has no free slots.
func (s *TapReleaseSet) Full() bool { return s.mask == ^uint8(0)&(1<<Capacity-1) }

// HeldRelease is one entry in a HeldReleaseSet: the code to unregister
// when the position is eventually physically released.
type HeldRelease struct {
	Position event.Position
	Code     uint16
}

// HeldReleaseSet is the hold-side mirror of TapReleaseSet: positions whose
// tap-hold key has already committed to hold before its own physical
// release arrived (e.g. a same-side roll, a second key's own release, or
// housekeeping's min-overlap-reached commit all decide well before the
// PTH key itself comes back up), together with the code that must be
// unregistered once that release does arrive. Same 8-slot bitmask
// allocation as TapReleaseSet.
type HeldReleaseSet struct {
	entries [Capacity]HeldRelease
	mask    uint8
}

// Add records (or updates) the code to unregister for p, returning false
// if the set is full and has no entry for p already.
func (s *HeldReleaseSet) Add(p event.Position, code uint16) bool {
	if _, idx, ok := s.find(p); ok {
		s.entries[idx].Code = code
		return true
	}
	free := ^s.mask
	if free == 0 {
		return false
	}
	slot := bits.TrailingZeros8(free)
	s.entries[slot] = HeldRelease{Position: p, Code: code}
	s.mask |= 1 << uint(slot)
	return true
}

func (s *HeldReleaseSet) find(p event.Position) (HeldRelease, int, bool) {
	m := s.mask
	for m != 0 {
		slot := bits.TrailingZeros8(m)
		m &^= 1 << uint(slot)
		if s.entries[slot].Position == p {
			return s.entries[slot], slot, true
		}
	}
	return HeldRelease{}, 0, false
}

// Contains reports whether p is tracked.
func (s *HeldReleaseSet) Contains(p event.Position) bool {
	_, _, ok := s.find(p)
	return ok
}

// Take removes and returns the code recorded for p, if present.
func (s *HeldReleaseSet) Take(p event.Position) (code uint16, ok bool) {
	entry, idx, found := s.find(p)
	if !found {
		return 0, false
	}
	s.mask &^= 1 << uint(idx)
	return entry.Code, true
}
