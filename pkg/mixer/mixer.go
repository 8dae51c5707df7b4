// Package mixer implements the crossfade mixer of spec.md §4.8: the
// single component that pulls frames out of the buffer-manager chains,
// combines at most two of them during a crossfade, applies master
// volume, and overlays the pause/resume envelope on top of whatever
// else is playing. It produces exactly one working-sample-rate frame
// per call, which the engine's refill task batches into pkg/outputring.
//
// There is no teacher analogue — the teacher toolkit owns a single
// decode-to-output path with no concept of overlapping passages — so
// this package is new, grounded on the state-machine style of
// pkg/buffermanager (explicit named states, one mutex, transition
// helpers) and on pkg/fade for the curve math itself.
package mixer

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/wkmp/playback/pkg/buffermanager"
	"github.com/wkmp/playback/pkg/fade"
	"github.com/wkmp/playback/pkg/outputring"
)

// Frame is one interleaved L+R sample pair at the working sample rate.
type Frame = outputring.Frame

// Kind is one of the mixer states of spec.md §3.
type Kind int

const (
	KindNone Kind = iota
	KindSinglePassage
	KindCrossfading
	KindPaused
	KindResuming
)

func (k Kind) String() string {
	switch k {
	case KindSinglePassage:
		return "SinglePassage"
	case KindCrossfading:
		return "Crossfading"
	case KindPaused:
		return "Paused"
	case KindResuming:
		return "Resuming"
	default:
		return "None"
	}
}

// state is the mixer's internal state record. ChainA is the sole
// playing chain in SinglePassage, or the fading-out chain in
// Crossfading; ChainB is the fading-in chain in Crossfading.
// Prev holds the state Paused/Resuming will restore once they end.
type state struct {
	kind   Kind
	chainA int
	chainB int
	prev   *state
}

// NextInfo describes the successor the engine wants the mixer to
// cross (or cut) into once the current front passage nears its end.
// The engine computes DurationFrames from the two passages' lead-out
// and lead-in windows (spec.md §4.8: "min(lead_out_duration,
// lead_in_duration)") and supplies it once per queue advance.
type NextInfo struct {
	ChainIndex     int
	DurationFrames int64 // 0 means gapless: cut directly, no overlap
	CurveOut       fade.Curve
	CurveIn        fade.Curve
}

// Callbacks notify the engine of mixer-driven lifecycle events.
type Callbacks struct {
	// OnPassageCompleted fires once a chain has been fully played out
	// (its buffer exhausted) and the mixer has moved past it, so the
	// engine can advance the queue and release the chain.
	OnPassageCompleted func(queueEntryID string)
}

// Config holds the mixer's tunable parameters, all spec.md §6 values
// already converted to WSR frame counts at construction.
type Config struct {
	PauseDecayFactor float64 // multiplicative decay applied per frame while paused
	PauseDecayFloor  float64 // decay never drops the envelope below this
	ResumeRampFrames int64   // equal-power ramp length for Resuming
	MinStartLevel    uint64  // mixer_min_start_level, in frames
}

// DefaultConfig returns spec.md §6's documented mixer defaults.
func DefaultConfig() Config {
	return Config{
		PauseDecayFactor: 0.96875,
		PauseDecayFloor:  0.0001778,
		ResumeRampFrames: 4410, // 100ms at 44.1kHz
		MinStartLevel:    44100,
	}
}

// Mixer implements the state machine of spec.md §4.8. One Mixer serves
// the whole engine; ProduceFrame is called once per output frame by
// the refill task, never from the real-time audio callback itself.
type Mixer struct {
	mu sync.Mutex

	manager *buffermanager.Manager
	cb      Callbacks
	cfg     Config

	st            state
	next          *NextInfo
	crossfadePair *NextInfo

	volume atomicFloat

	crossfadeElapsed int64

	pausedBase    Frame
	pauseEnvelope float64
	rampPos       int64

	lastFrame Frame
}

// New creates a mixer in state None with volume 1.0.
func New(manager *buffermanager.Manager, cb Callbacks, cfg Config) *Mixer {
	m := &Mixer{manager: manager, cb: cb, cfg: cfg}
	m.volume.store(1.0)
	return m
}

// SetVolume sets the master volume multiplier, clamped to [0,1]. Safe
// to call concurrently with ProduceFrame; the value is read atomically.
func (m *Mixer) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	m.volume.store(v)
}

// Volume returns the current master volume multiplier.
func (m *Mixer) Volume() float64 {
	return m.volume.load()
}

// State returns the mixer's current state kind, for reporting.
func (m *Mixer) State() Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.kind
}

// BeginSinglePassage transitions None→SinglePassage(chainIndex),
// calling buffermanager.StartPlayback on the chain. It enforces
// mixer_min_start_level: a chain that is Ready but has not yet
// buffered the configured minimum is rejected unless it is already
// Finished (a short passage that finished decoding before reaching
// the threshold must still be playable).
func (m *Mixer) BeginSinglePassage(chainIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkStartGateLocked(chainIndex); err != nil {
		return err
	}
	if err := m.manager.StartPlayback(chainIndex); err != nil {
		return err
	}
	m.st = state{kind: KindSinglePassage, chainA: chainIndex}
	return nil
}

func (m *Mixer) checkStartGateLocked(chainIndex int) error {
	buf := m.manager.Buffer(chainIndex)
	if buf == nil {
		return fmt.Errorf("mixer: chain %d not registered", chainIndex)
	}
	if m.manager.State(chainIndex) == buffermanager.Finished {
		return nil
	}
	required := m.cfg.MinStartLevel
	if capacity := uint64(buf.Capacity()); required > capacity {
		required = capacity
	}
	if buf.Headroom() < required {
		return fmt.Errorf("mixer: chain %d below mixer_min_start_level", chainIndex)
	}
	return nil
}

// SetNext records the successor the mixer should cross (or cut) into
// once the current front passage's remaining play time falls to
// info.DurationFrames.
func (m *Mixer) SetNext(info NextInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := info
	m.next = &next
}

// ClearNext cancels a previously set successor (e.g. the entry was
// removed from the queue before the crossfade began).
func (m *Mixer) ClearNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = nil
}

// Pause transitions into Paused, freezing all chain reads and decaying
// the last emitted frame toward silence. Pause overlays whatever state
// was active (SinglePassage or Crossfading); it is a no-op if already
// paused.
func (m *Mixer) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.kind == KindPaused {
		return
	}
	prev := m.st
	m.st = state{kind: KindPaused, prev: &prev}
	m.pausedBase = m.lastFrame
	m.pauseEnvelope = 1.0
}

// Resume transitions into Resuming, ramping playback back in over an
// equal-power window before restoring the state Pause overlaid. It is
// a no-op unless currently Paused.
func (m *Mixer) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.kind != KindPaused {
		return
	}
	prev := m.st.prev
	m.st = state{kind: KindResuming, prev: prev}
	m.rampPos = 0
}

// ProduceFrame produces exactly one output frame, advancing whatever
// internal state the current mixer state implies (reading and
// consuming chain frames, decaying a pause envelope, or ramping a
// resume envelope). It never blocks.
func (m *Mixer) ProduceFrame() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Frame
	switch m.st.kind {
	case KindPaused:
		out = m.producePausedLocked()
	case KindResuming:
		out = m.produceResumingLocked()
	case KindSinglePassage, KindCrossfading:
		out = m.produceActiveLocked()
	default:
		out = Frame{}
	}

	m.lastFrame = out
	return out
}

// producePausedLocked decays the frame frozen at the moment Pause was
// called geometrically toward (but never below) the configured floor,
// per spec.md §4.8 step 1: "advance the pause envelope... applied to
// the last valid frame." The envelope is applied to that one frozen
// base frame every call, not to the previous call's already-decayed
// output, so the amplitude follows PauseDecayFactor^n exactly.
func (m *Mixer) producePausedLocked() Frame {
	m.pauseEnvelope *= m.cfg.PauseDecayFactor
	if m.pauseEnvelope < m.cfg.PauseDecayFloor {
		m.pauseEnvelope = m.cfg.PauseDecayFloor
	}
	return scale(m.pausedBase, m.pauseEnvelope)
}

// produceResumingLocked advances an equal-power ramp from 0 to 1 while
// the state Pause overlaid keeps producing frames normally underneath
// it (so chain reads, crossfade transitions, and exhaustion all still
// advance during the ramp); once the ramp completes that state is
// restored permanently and future frames are unscaled.
func (m *Mixer) produceResumingLocked() Frame {
	m.rampPos++
	t := fade.Position(m.rampPos, 0, m.cfg.ResumeRampFrames)
	mult := fade.In(fade.EqualPower, t)

	restored := state{kind: KindNone}
	if m.st.prev != nil {
		restored = *m.st.prev
	}
	m.st = restored
	out := m.produceActiveOrNoneLocked()
	advanced := m.st

	if m.rampPos >= m.cfg.ResumeRampFrames {
		m.st = advanced
		return scale(out, mult)
	}
	m.st = state{kind: KindResuming, prev: &advanced}
	return scale(out, mult)
}

func (m *Mixer) produceActiveOrNoneLocked() Frame {
	if m.st.kind == KindNone {
		return Frame{}
	}
	return m.produceActiveLocked()
}

// produceActiveLocked implements both SinglePassage and Crossfading
// production, since a SinglePassage step may itself discover it is
// time to begin crossfading (spec.md §4.8: triggered when the front
// chain's remaining play time falls to the crossfade duration and the
// successor is Ready-or-later) and fall through to the crossfade path
// for the very same frame.
func (m *Mixer) produceActiveLocked() Frame {
	if m.st.kind == KindSinglePassage {
		m.maybeBeginCrossfadeLocked()
	}

	if m.st.kind == KindCrossfading {
		return m.produceCrossfadeLocked()
	}
	return m.produceSingleLocked()
}

func (m *Mixer) maybeBeginCrossfadeLocked() {
	if m.next == nil || m.next.DurationFrames <= 0 {
		return
	}
	buf := m.manager.Buffer(m.st.chainA)
	if buf == nil {
		return
	}
	remaining := remainingFrames(buf)
	if remaining > m.next.DurationFrames {
		return
	}
	if !m.chainReadyOrLaterLocked(m.next.ChainIndex) {
		return
	}

	next := *m.next
	if m.manager.State(next.ChainIndex) != buffermanager.Playing {
		if err := m.manager.StartPlayback(next.ChainIndex); err != nil {
			return
		}
	}

	elapsed := next.DurationFrames - remaining
	if elapsed < 0 {
		elapsed = 0
	}
	m.st = state{kind: KindCrossfading, chainA: m.st.chainA, chainB: next.ChainIndex}
	m.crossfadeElapsed = elapsed
	m.crossfadePair = &next
	m.next = nil
}

func (m *Mixer) chainReadyOrLaterLocked(chainIndex int) bool {
	switch m.manager.State(chainIndex) {
	case buffermanager.Ready, buffermanager.Playing, buffermanager.Finished:
		return true
	default:
		return false
	}
}

func (m *Mixer) produceSingleLocked() Frame {
	chain := m.st.chainA
	buf := m.manager.Buffer(chain)
	if buf == nil {
		m.st = state{kind: KindNone}
		return Frame{}
	}

	frames, _ := buf.Read(1)
	m.manager.AdvanceRead(chain, 1)
	out := scale(frames[0], m.Volume())

	if buf.IsExhausted() {
		m.onCompletedLocked(chain)
		m.advancePastExhaustionLocked()
	}
	return out
}

func (m *Mixer) produceCrossfadeLocked() Frame {
	chainA, chainB := m.st.chainA, m.st.chainB
	bufA := m.manager.Buffer(chainA)
	bufB := m.manager.Buffer(chainB)
	if bufA == nil || bufB == nil {
		m.st = state{kind: KindNone}
		return Frame{}
	}

	framesA, _ := bufA.Read(1)
	m.manager.AdvanceRead(chainA, 1)
	framesB, _ := bufB.Read(1)
	m.manager.AdvanceRead(chainB, 1)

	t := fade.Position(m.crossfadeElapsed, 0, m.crossfadePair.DurationFrames)
	outMult := fade.Out(m.crossfadePair.CurveOut, t)
	inMult := fade.In(m.crossfadePair.CurveIn, t)
	m.crossfadeElapsed++

	mixed := Frame{
		clampSample(framesA[0][0]*float32(outMult) + framesB[0][0]*float32(inMult)),
		clampSample(framesA[0][1]*float32(outMult) + framesB[0][1]*float32(inMult)),
	}
	out := scale(mixed, m.Volume())

	if bufA.IsExhausted() {
		m.onCompletedLocked(chainA)
		m.st = state{kind: KindSinglePassage, chainA: chainB}
		m.crossfadePair = nil
	}
	return out
}

// advancePastExhaustionLocked moves SinglePassage on once its chain is
// exhausted: straight into the already-armed successor if one was set
// for a gapless (zero-duration) transition, or into None if there is
// nothing queued yet.
func (m *Mixer) advancePastExhaustionLocked() {
	if m.next != nil {
		next := *m.next
		if m.manager.State(next.ChainIndex) != buffermanager.Playing {
			if err := m.manager.StartPlayback(next.ChainIndex); err != nil {
				m.st = state{kind: KindNone}
				return
			}
		}
		m.st = state{kind: KindSinglePassage, chainA: next.ChainIndex}
		m.next = nil
		return
	}
	m.st = state{kind: KindNone}
}

func (m *Mixer) onCompletedLocked(chainIndex int) {
	if m.cb.OnPassageCompleted == nil {
		return
	}
	if id, ok := m.manager.QueueEntryID(chainIndex); ok {
		m.cb.OnPassageCompleted(id)
	}
}

// chainBuffer is the subset of playout.Buffer's API remainingFrames
// needs, kept narrow so it can be exercised with a test fake.
type chainBuffer interface {
	TotalSamples() (uint64, bool)
	ReadPosition() uint64
}

// remainingFrames returns the number of unread frames left in buf, or
// a value large enough that no crossfade threshold will ever be
// considered reached while the endpoint remains undiscovered.
func remainingFrames(buf chainBuffer) int64 {
	total, known := buf.TotalSamples()
	if !known {
		return math.MaxInt64
	}
	read := buf.ReadPosition()
	if read >= total {
		return 0
	}
	return int64(total - read)
}

func scale(f Frame, mult float64) Frame {
	return Frame{
		clampSample(f[0] * float32(mult)),
		clampSample(f[1] * float32(mult)),
	}
}

func clampSample(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// atomicFloat is a lock-free float64 holder, following the same
// bit-packed atomic pattern pkg/outputring uses for its last-frame
// slot, so master volume can be read from a hot path without a mutex.
type atomicFloat struct {
	bits atomic.Uint64
}

func (a *atomicFloat) store(v float64) {
	a.bits.Store(math.Float64bits(v))
}

func (a *atomicFloat) load() float64 {
	return math.Float64frombits(a.bits.Load())
}
