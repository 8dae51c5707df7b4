// Package queue implements the ordered passage queue and chain
// assignment of spec.md §4.7. It owns the queue-entry id, the passage
// ordering, and the mapping of each entry to the decoder-buffer chain
// bound to it for that entry's full lifetime (spec.md §3).
//
// There is no teacher analogue: the teacher toolkit plays exactly one
// file at a time and has no concept of a queue or of chains at all.
// This package is new, grounded directly on spec.md §4.7's chain
// assignment rules, generalized from the teacher's single-file model
// the same way pkg/buffermanager generalizes its single-stream metrics
// struct into a per-chain state machine.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wkmp/playback/pkg/tick"
	"github.com/wkmp/playback/pkg/types"
)

// Entry is one queued passage: a stable id, the passage itself, the
// enqueue timestamp, and the mutable cached endpoint spec.md §3
// describes. ChainIndex is -1 while the entry waits for a free chain.
type Entry struct {
	ID             string
	Passage        *types.Passage
	EnqueuedAt     time.Time
	CachedEndTicks tick.Tick
	ChainIndex     int
}

const unassigned = -1

// Manager owns the ordered queue and the chain-assignment map. One
// Manager serves the whole engine.
type Manager struct {
	mu         sync.Mutex
	numChains  int
	entries    []*Entry
	byID       map[string]*Entry
	freeChains []int // ascending; lowest-index-first assignment
}

// New creates a manager with numChains chains (spec.md's
// maximum_decode_streams), all initially free.
func New(numChains int) *Manager {
	free := make([]int, numChains)
	for i := range free {
		free[i] = i
	}
	return &Manager{
		numChains:  numChains,
		byID:       make(map[string]*Entry),
		freeChains: free,
	}
}

// Enqueue appends passage to the tail of the queue, assigning it the
// lowest free chain index if one is available, or leaving it to wait
// otherwise (spec.md §4.7's chain assignment rule). Endpoint defaulting
// (ApplyDefaults) must already have been applied by the caller; Enqueue
// seeds CachedEndTicks from passage.EndTime if known.
func (m *Manager) Enqueue(passage *types.Passage) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Entry{
		ID:         uuid.New().String(),
		Passage:    passage,
		EnqueuedAt: time.Now(),
		ChainIndex: unassigned,
	}
	if passage.EndTime != nil {
		e.CachedEndTicks = *passage.EndTime
	}

	if len(m.freeChains) > 0 {
		e.ChainIndex = m.freeChains[0]
		m.freeChains = m.freeChains[1:]
	}

	m.entries = append(m.entries, e)
	m.byID[e.ID] = e
	return e
}

// Remove deletes the entry with the given id from the queue, releasing
// its chain (if assigned) back to the free pool and promoting the
// earliest still-waiting entry onto it, per spec.md §4.7's "a chain is
// released only on completion... or removal."
func (m *Manager) Remove(id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("queue: unknown entry %q", id)
	}
	m.removeLocked(e)
	return e, nil
}

// Advance removes the queue's front entry — the one whose passage just
// completed playback — releasing its chain and promoting the next
// waiting entry onto it. This is spec.md §4.7's next(), named for what
// it does: there is exactly one "advance on completion" operation and
// it always concerns the current front of the queue.
func (m *Manager) Advance() (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return nil, fmt.Errorf("queue: empty")
	}
	e := m.entries[0]
	m.removeLocked(e)
	return e, nil
}

// removeLocked deletes e from the ordered slice and the id index, and
// releases its chain (if any) back to the free pool in sorted position
// so the next Enqueue still assigns lowest-free-index-first. Caller
// must hold m.mu.
func (m *Manager) removeLocked(e *Entry) {
	for i, cand := range m.entries {
		if cand == e {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	delete(m.byID, e.ID)

	if e.ChainIndex != unassigned {
		m.releaseChainLocked(e.ChainIndex)
		e.ChainIndex = unassigned
		m.assignWaitingLocked()
	}
}

// releaseChainLocked returns idx to the free pool, keeping it sorted.
func (m *Manager) releaseChainLocked(idx int) {
	pos := sort.SearchInts(m.freeChains, idx)
	m.freeChains = append(m.freeChains, 0)
	copy(m.freeChains[pos+1:], m.freeChains[pos:])
	m.freeChains[pos] = idx
}

// assignWaitingLocked hands the lowest free chain index to the earliest
// queued entry still without one, repeating while both exist. Entries
// ahead of it in the queue keep their own chain indices unchanged,
// preserving spec.md §4.7's stability guarantee.
func (m *Manager) assignWaitingLocked() {
	for _, e := range m.entries {
		if len(m.freeChains) == 0 {
			return
		}
		if e.ChainIndex == unassigned {
			e.ChainIndex = m.freeChains[0]
			m.freeChains = m.freeChains[1:]
		}
	}
}

// Clear empties the queue and releases every assigned chain, leaving
// the manager in the same stable state as a freshly constructed one.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.byID = make(map[string]*Entry)
	free := make([]int, m.numChains)
	for i := range free {
		free[i] = i
	}
	m.freeChains = free
}

// UpdateEndpoint records a newly discovered or recomputed endpoint for
// id. The caller (the engine) is responsible for deciding whether the
// entry's queue position (0 or 1) warrants recomputing crossfade timing
// against its neighbour, per spec.md §4.7.
func (m *Manager) UpdateEndpoint(id string, endTicks tick.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("queue: unknown entry %q", id)
	}
	e.CachedEndTicks = endTicks
	return nil
}

// Position returns id's zero-based position in the queue, computed
// independently of its chain index (spec.md §4.7: "reporting code
// computes queue position independently from chain index").
func (m *Manager) Position(id string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.entries {
		if e.ID == id {
			return i, true
		}
	}
	return 0, false
}

// EntryAt returns the entry at zero-based queue position pos, or false
// if pos is out of range.
func (m *Manager) EntryAt(pos int) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos < 0 || pos >= len(m.entries) {
		return nil, false
	}
	return m.entries[pos], true
}

// Get returns the entry with the given id, or false if it is not queued.
func (m *Manager) Get(id string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	return e, ok
}

// Len returns the number of queued entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns a copy of the queue's entries in order, safe to
// iterate without holding the manager's lock.
func (m *Manager) Snapshot() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
