// Package buffermanager implements the per-chain state machine and
// event bus of spec.md §4.4: it owns the managed-buffer bookkeeping
// (state, readiness, endpoint discovery) layered on top of a
// pkg/playout.Buffer, and is the single source of truth other
// components subscribe to (spec.md §9).
package buffermanager

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wkmp/playback/pkg/events"
	"github.com/wkmp/playback/pkg/outputring"
	"github.com/wkmp/playback/pkg/playout"
)

// State is one of the one-directional chain states of spec.md §3.
type State int

const (
	Empty State = iota
	Filling
	Ready
	Playing
	Finished
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case Filling:
		return "Filling"
	case Ready:
		return "Ready"
	case Playing:
		return "Playing"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Thresholds holds the configurable values of spec.md §6 this package
// consults. All are expressed in working-sample-rate frames, already
// converted from the configured millisecond values at construction.
type Thresholds struct {
	ReadyFrames        uint64 // min_buffer_threshold_ms, converted
	FirstPassageFrames uint64 // first_passage_threshold_ms, converted
	ExhaustionFrames   uint64 // exhaustion_threshold
}

// managedBuffer is one chain's bookkeeping record.
type managedBuffer struct {
	queueEntryID string
	state        State
	buffer       *playout.Buffer

	readyNotified bool
}

// Manager owns every chain's managed-buffer record. One Manager serves
// the whole engine; chains are addressed by index.
type Manager struct {
	mu         sync.Mutex
	chains     []*managedBuffer
	thresholds Thresholds
	everPlayed atomic.Bool
	bus        *events.Bus
}

// New creates a manager for numChains chains (spec.md's
// maximum_decode_streams), publishing to bus.
func New(numChains int, thresholds Thresholds, bus *events.Bus) *Manager {
	return &Manager{
		chains:     make([]*managedBuffer, numChains),
		thresholds: thresholds,
		bus:        bus,
	}
}

// currentReadyThreshold returns the readiness threshold in frames: the
// reduced cold-start value until the very first passage has ever begun
// playback, then the configured steady-state value permanently.
func (m *Manager) currentReadyThreshold() uint64 {
	if m.everPlayed.Load() {
		return m.thresholds.ReadyFrames
	}
	if m.thresholds.FirstPassageFrames < m.thresholds.ReadyFrames {
		return m.thresholds.FirstPassageFrames
	}
	return m.thresholds.ReadyFrames
}

// Register allocates a managed buffer for chainIndex in state Empty,
// backed by a fresh playout buffer of capacityFrames.
func (m *Manager) Register(chainIndex int, queueEntryID string, capacityFrames int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chains[chainIndex] = &managedBuffer{
		queueEntryID: queueEntryID,
		state:        Empty,
		buffer:       playout.New(capacityFrames),
	}
}

// Buffer returns the playout buffer backing chainIndex, or nil if the
// chain is not registered.
func (m *Manager) Buffer(chainIndex int) *playout.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb := m.chains[chainIndex]
	if cb == nil {
		return nil
	}
	return cb.buffer
}

// PushSamples writes samples into chainIndex's buffer, bounded by its
// remaining capacity, and returns the number of frames actually stored.
// The decode pipeline uses the return value to implement backpressure
// and must call NotifySamplesAppended with the same count afterward.
func (m *Manager) PushSamples(chainIndex int, samples []outputring.Frame) int {
	m.mu.Lock()
	cb := m.chains[chainIndex]
	m.mu.Unlock()
	if cb == nil {
		return 0
	}
	return cb.buffer.Append(samples)
}

// NotifySamplesAppended updates chain state after a chunk push: the
// first append transitions Empty→Filling, and every append re-checks
// the readiness threshold, emitting ReadyForStart exactly once.
func (m *Manager) NotifySamplesAppended(chainIndex int, n int) {
	if n == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cb := m.chains[chainIndex]
	if cb == nil {
		return
	}

	if cb.state == Empty {
		m.transition(chainIndex, cb, Filling)
	}

	m.checkReady(chainIndex, cb)
}

// checkReady promotes a Filling chain to Ready once enough frames are
// buffered, or once decode has fully completed (so a short passage that
// finishes decoding before crossing the frame threshold still becomes
// playable instead of stalling in Filling forever).
func (m *Manager) checkReady(chainIndex int, cb *managedBuffer) {
	if cb.state != Filling || cb.readyNotified {
		return
	}

	threshold := m.currentReadyThreshold()
	if cb.buffer.Headroom() >= threshold || cb.buffer.IsComplete() {
		m.transition(chainIndex, cb, Ready)
		cb.readyNotified = true
		m.bus.Publish(events.ChainEvent{
			Kind:         events.KindReadyForStart,
			ChainIndex:   chainIndex,
			QueueEntryID: cb.queueEntryID,
		})
	}
}

// SetDiscoveredEndpoint records the decoder's EOF-discovered endpoint
// for a passage whose end_time was undefined, completing the buffer and
// emitting EndpointDiscovered. Per spec.md §5's ordering guarantee, this
// always precedes any Finished emission for the same chain.
func (m *Manager) SetDiscoveredEndpoint(chainIndex int, endTicks int64, totalSamples uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb := m.chains[chainIndex]
	if cb == nil {
		return
	}

	cb.buffer.Finalize(totalSamples)
	m.bus.Publish(events.ChainEvent{
		Kind:         events.KindEndpointDiscovered,
		ChainIndex:   chainIndex,
		QueueEntryID: cb.queueEntryID,
		EndTicks:     endTicks,
		TotalSamples: totalSamples,
	})

	m.checkReady(chainIndex, cb)
	m.checkFinished(chainIndex, cb)
}

// Finalize completes the buffer for a passage whose end_time was
// already known (no endpoint discovery needed), and may trigger
// Playing→Finished if already drained.
func (m *Manager) Finalize(chainIndex int, totalSamples uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb := m.chains[chainIndex]
	if cb == nil {
		return
	}

	cb.buffer.Finalize(totalSamples)
	m.checkReady(chainIndex, cb)
	m.checkFinished(chainIndex, cb)
}

// StartPlayback transitions Ready→Playing or Finished→Playing — both
// are legitimate entry points, since the decoder may complete a short
// passage (or one with end_time == start_time) before the mixer ever
// starts reading it. Any other source state is a caller error: it is
// logged and the state is left unchanged, per spec.md §4.4.
func (m *Manager) StartPlayback(chainIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb := m.chains[chainIndex]
	if cb == nil {
		return fmt.Errorf("buffermanager: chain %d not registered", chainIndex)
	}

	switch cb.state {
	case Ready, Finished:
		m.transition(chainIndex, cb, Playing)
		if !m.everPlayed.Load() {
			m.everPlayed.Store(true)
		}
		return nil
	default:
		slog.Warn("start_playback on chain not in Ready or Finished state",
			"chain", chainIndex, "state", cb.state.String())
		return fmt.Errorf("buffermanager: invalid state for start_playback: %s", cb.state)
	}
}

// AdvanceRead is called after the mixer has read n frames from the
// chain's buffer (the buffer's own Read advances read_position), and
// emits Exhausted when headroom drops below the exhaustion
// threshold during Playing.
func (m *Manager) AdvanceRead(chainIndex int, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb := m.chains[chainIndex]
	if cb == nil || n == 0 {
		return
	}

	if cb.state == Playing && cb.buffer.Headroom() < m.thresholds.ExhaustionFrames {
		m.bus.Publish(events.ChainEvent{
			Kind:         events.KindExhausted,
			ChainIndex:   chainIndex,
			QueueEntryID: cb.queueEntryID,
		})
	}

	m.checkFinished(chainIndex, cb)
}

// checkFinished transitions Playing→Finished once the buffer is fully
// drained (decode complete and read caught up to the known total).
func (m *Manager) checkFinished(chainIndex int, cb *managedBuffer) {
	if cb.state == Finished {
		return
	}
	if cb.buffer.IsExhausted() {
		if cb.state == Playing {
			m.transition(chainIndex, cb, Finished)
		} else {
			cb.state = Finished
		}
		m.bus.Publish(events.ChainEvent{
			Kind:         events.KindFinished,
			ChainIndex:   chainIndex,
			QueueEntryID: cb.queueEntryID,
		})
	}
}

// transition moves cb to newState and emits StateChanged. Caller must
// hold m.mu.
func (m *Manager) transition(chainIndex int, cb *managedBuffer, newState State) {
	old := cb.state
	cb.state = newState
	m.bus.Publish(events.ChainEvent{
		Kind:         events.KindStateChanged,
		ChainIndex:   chainIndex,
		QueueEntryID: cb.queueEntryID,
		OldState:     old.String(),
		NewState:     newState.String(),
	})
}

// QueueEntryID returns the queue entry bound to chainIndex, or false if
// the chain is not registered. The mixer uses this to translate a
// chain-level completion into the queue-entry-keyed PassageCompleted
// event spec.md §4.8 describes.
func (m *Manager) QueueEntryID(chainIndex int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb := m.chains[chainIndex]
	if cb == nil {
		return "", false
	}
	return cb.queueEntryID, true
}

// State returns the current state of chainIndex.
func (m *Manager) State(chainIndex int) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb := m.chains[chainIndex]
	if cb == nil {
		return Empty
	}
	return cb.state
}

// Release clears chainIndex's managed buffer, returning it to Empty for
// reassignment by the queue manager.
func (m *Manager) Release(chainIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[chainIndex] = nil
}
