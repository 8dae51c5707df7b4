// Package engine implements the playback engine orchestration of
// spec.md §4.9: the task that owns the queue and chain-assignment map,
// subscribes to the buffer-manager event bus, computes decode priority
// from queue position, and wires the decoder, queue manager, buffer
// manager, and mixer together behind the small control surface of
// spec.md §6.
//
// There is no teacher analogue for orchestration itself — the teacher
// plays exactly one file with no queue — but the goroutine/channel
// lifecycle (Start/Shutdown, a stop channel, a WaitGroup) follows
// pkg/audioplayer/player.go's shape, and the periodic status-reporting
// loop follows cmd/player.go's monitorBufferStatus.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wkmp/playback/pkg/buffermanager"
	"github.com/wkmp/playback/pkg/decodepipeline"
	"github.com/wkmp/playback/pkg/decoder"
	"github.com/wkmp/playback/pkg/events"
	"github.com/wkmp/playback/pkg/mixer"
	"github.com/wkmp/playback/pkg/outputring"
	"github.com/wkmp/playback/pkg/queue"
	"github.com/wkmp/playback/pkg/tick"
	"github.com/wkmp/playback/pkg/types"
)

// Config holds every spec.md §6 parameter the engine needs, already
// converted to working-sample-rate frame counts where the components
// underneath operate on frames rather than milliseconds/seconds.
type Config struct {
	WorkingSampleRate      int
	MaxDecodeStreams       int
	PlayoutBufferFrames    int
	Thresholds             buffermanager.Thresholds
	DecoderConfig          decoder.Config
	MixerConfig            mixer.Config
	PreBufferFrames        int64 // pre_buffer_seconds, converted
	DefaultCrossfadeFrames int64 // default_crossfade_duration_ms, converted
	OutputRingFrames       int
	RefillPeriod           time.Duration
	RefillBlockFrames      int
	StatusReportPeriod     time.Duration // BufferChainStatus cadence, default 1s
	PositionReportPeriod   time.Duration // PositionUpdate cadence, spec.md requires >=10Hz
}

// DefaultConfig returns spec.md §6's documented defaults, already
// converted to frame counts at 44,100 Hz.
func DefaultConfig() Config {
	const wsr = 44100
	return Config{
		WorkingSampleRate:      wsr,
		MaxDecodeStreams:       12,
		PlayoutBufferFrames:    661_941,
		Thresholds:             buffermanager.Thresholds{ReadyFrames: 132_300, FirstPassageFrames: 22_050, ExhaustionFrames: 220_500},
		DecoderConfig:          decoder.DefaultConfig(),
		MixerConfig:            mixer.DefaultConfig(),
		PreBufferFrames:        15 * wsr,
		DefaultCrossfadeFrames: 0,
		OutputRingFrames:       8820, // 200ms
		RefillPeriod:           20 * time.Millisecond,
		RefillBlockFrames:      882, // 20ms at 44.1kHz
		StatusReportPeriod:     time.Second,
		PositionReportPeriod:   100 * time.Millisecond,
	}
}

// EventKind identifies one of the emitted-event kinds of spec.md §6.
type EventKind int

const (
	EventPassageStarted EventKind = iota
	EventPassageCompleted
	EventPositionUpdate
	EventQueueChanged
	EventVolumeChanged
	EventBufferChainStatus
)

// ChainStatus is one chain's row in a BufferChainStatus report.
type ChainStatus struct {
	Index        int
	QueueEntryID string
	HasEntry     bool
	State        string
	FillPercent  float64
	Write        uint64
	Read         uint64
	Total        uint64
	HasTotal     bool
}

// Event is one value on the engine's external event stream (spec.md §6).
type Event struct {
	Kind         EventKind
	QueueEntryID string
	Ticks        tick.Tick
	ErrorKind    types.ErrorKind
	Volume       float64
	Chains       []ChainStatus
}

const eventStreamBufferSize = 256

// trackedEntry is the priority/bound state the engine last submitted a
// queue entry's decode request at, so reconcile can detect promotion.
type trackedEntry struct {
	priority decoder.Priority
	bounded  bool
}

// Engine implements spec.md §4.9. One Engine serves one playback
// session; construct with New, wire a decode pipeline factory, then Start.
type Engine struct {
	cfg         Config
	bus         *events.Bus
	manager     *buffermanager.Manager
	queueMgr    *queue.Manager
	dec         *decoder.Decoder
	mx          *mixer.Mixer
	ring        *outputring.Ring
	persistence types.PersistenceSink

	mu        sync.Mutex
	playing   bool
	submitted map[string]trackedEntry

	stopCh chan struct{}
	wg     sync.WaitGroup

	eventsOut chan Event
}

// New wires every component described in spec.md §4.9. buildPipelineFactory
// receives the manager New constructs internally and returns the
// decoder.PipelineFactory bound to it — in production this is
// engine.PipelineFactoryFor, supplied by the caller (cmd/wkmpd) so this
// package has no direct dependency on the decoder factory. Taking a
// builder rather than an already-built factory keeps the manager the
// decode pipeline pushes samples into and the manager this Engine
// tracks chain state through the same instance.
func New(cfg Config, buildPipelineFactory func(*buffermanager.Manager) decoder.PipelineFactory, persistence types.PersistenceSink) *Engine {
	if persistence == nil {
		persistence = types.NoopPersistence{}
	}

	bus := events.NewBus()
	manager := buffermanager.New(cfg.MaxDecodeStreams, cfg.Thresholds, bus)
	queueMgr := queue.New(cfg.MaxDecodeStreams)
	ring := outputring.New(cfg.OutputRingFrames)

	e := &Engine{
		cfg:         cfg,
		bus:         bus,
		manager:     manager,
		queueMgr:    queueMgr,
		ring:        ring,
		persistence: persistence,
		submitted:   make(map[string]trackedEntry),
		stopCh:      make(chan struct{}),
		eventsOut:   make(chan Event, eventStreamBufferSize),
	}

	e.dec = decoder.New(manager, buildPipelineFactory(manager), decoder.Callbacks{
		OnComplete: e.handleDecodeComplete,
		OnError:    e.handleDecodeError,
	}, cfg.DecoderConfig)

	e.mx = mixer.New(manager, mixer.Callbacks{
		OnPassageCompleted: e.handleMixerPassageCompleted,
	}, cfg.MixerConfig)

	return e
}

// Ring returns the output ring the real-time audio callback reads
// from. The device adapter is the only consumer.
func (e *Engine) Ring() *outputring.Ring {
	return e.ring
}

// Events returns the engine's external event stream (spec.md §6). The
// HTTP API's SSE endpoint is the intended subscriber.
func (e *Engine) Events() <-chan Event {
	return e.eventsOut
}

// Start launches the decoder worker and four engine goroutines: the
// orchestration loop that consumes the buffer-manager event bus, the
// mixer refill task, the periodic BufferChainStatus reporter, and the
// PositionUpdate reporter (the audio callback itself belongs to the
// device adapter, not this package).
func (e *Engine) Start() {
	e.dec.Start()

	e.wg.Add(4)
	go e.runOrchestration()
	go e.runMixerRefill()
	go e.runStatusReporter()
	go e.runPositionReporter()

	slog.Info("engine started",
		"max_decode_streams", e.cfg.MaxDecodeStreams,
		"working_sample_rate", e.cfg.WorkingSampleRate)
}

// Shutdown stops every engine task and the decoder worker, draining
// within roughly one decode_work_period as spec.md §5 requires.
func (e *Engine) Shutdown() {
	close(e.stopCh)
	e.wg.Wait()
	e.dec.Shutdown()
	slog.Info("engine stopped")
}

func (e *Engine) emit(ev Event) {
	select {
	case e.eventsOut <- ev:
	default:
		slog.Warn("engine event stream full, dropping event", "kind", ev.Kind)
	}
}

// Enqueue implements spec.md §6's enqueue operation: defaults and
// validates passage, inserts it at the tail of the queue, assigns a
// chain if one is free, and submits a decode request at the priority
// its queue position implies.
func (e *Engine) Enqueue(passage *types.Passage) (string, error) {
	passage.ApplyDefaults()
	if err := passage.Validate(); err != nil {
		return "", types.NewEngineError(types.ErrKindInvalidState, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.queueMgr.Enqueue(passage)
	e.reconcileLocked()
	e.recomputeNextLocked()
	e.emit(Event{Kind: EventQueueChanged})
	return entry.ID, nil
}

// Remove implements spec.md §6's remove operation: cancels any
// outstanding decode request for the entry, releases its chain, and
// promotes the next waiting entry onto it.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.queueMgr.Remove(id)
	if err != nil {
		return types.NewEngineError(types.ErrKindUnknownQueueEntry, err)
	}
	e.dec.Cancel(id)
	delete(e.submitted, id)
	if entry.ChainIndex >= 0 {
		e.manager.Release(entry.ChainIndex)
	}
	e.reconcileLocked()
	e.recomputeNextLocked()
	e.emit(Event{Kind: EventQueueChanged})
	return nil
}

// ClearQueue implements spec.md §6's clear_queue operation: cancels
// every outstanding decode request, releases every chain, and empties
// the queue.
func (e *Engine) ClearQueue() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range e.queueMgr.Snapshot() {
		e.dec.Cancel(entry.ID)
		if entry.ChainIndex >= 0 {
			e.manager.Release(entry.ChainIndex)
		}
	}
	e.queueMgr.Clear()
	e.submitted = make(map[string]trackedEntry)
	e.mx.ClearNext()
	e.playing = false
	e.persistence.QueueCleared()
	e.emit(Event{Kind: EventQueueChanged})
	return nil
}

// Play implements spec.md §6's play operation: marks the engine
// playing; if the mixer is paused, it resumes it with the mixer's ramp;
// otherwise, if the front chain is already Ready-or-later, it begins
// mixing immediately rather than waiting for a ReadyForStart event
// that may never re-fire.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.playing = true
	if e.mx.State() == mixer.KindPaused {
		e.mx.Resume()
		return nil
	}
	if front, ok := e.queueMgr.EntryAt(0); ok && front.ChainIndex >= 0 {
		e.maybeBeginFrontLocked(front)
	}
	return nil
}

// Pause implements spec.md §6's pause operation, overlaying the
// mixer's decay/ramp envelope on whatever is currently playing.
func (e *Engine) Pause() error {
	e.mx.Pause()
	return nil
}

// SkipNext implements spec.md §6's skip_next operation: treats the
// front entry as completed immediately.
func (e *Engine) SkipNext() error {
	e.mu.Lock()
	front, ok := e.queueMgr.EntryAt(0)
	e.mu.Unlock()
	if !ok {
		return types.NewEngineError(types.ErrKindInvalidState, fmt.Errorf("engine: queue is empty"))
	}
	e.handleMixerPassageCompleted(front.ID)
	return nil
}

// SetVolume implements spec.md §6's set_volume operation.
func (e *Engine) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return types.NewEngineError(types.ErrKindInvalidState, fmt.Errorf("engine: volume %v out of [0,1]", v))
	}
	e.mx.SetVolume(v)
	e.emit(Event{Kind: EventVolumeChanged, Volume: v})
	return nil
}

// maybeBeginFrontLocked starts mixing the front chain if the engine is
// playing, nothing is currently mixing, and the chain is ready enough
// to pass the mixer's start gate. Caller must hold e.mu.
func (e *Engine) maybeBeginFrontLocked(front *queue.Entry) {
	if !e.playing || e.mx.State() != mixer.KindNone {
		return
	}
	state := e.manager.State(front.ChainIndex)
	if state != buffermanager.Ready && state != buffermanager.Finished {
		return
	}
	if err := e.mx.BeginSinglePassage(front.ChainIndex); err != nil {
		slog.Debug("begin_single_passage deferred", "queue_entry_id", front.ID, "error", err)
		return
	}
	e.persistence.PassageStarted(front.ID)
	e.emit(Event{Kind: EventPassageStarted, QueueEntryID: front.ID})
	e.recomputeNextLocked()
}

// reconcileLocked submits decode requests for newly chain-assigned
// entries and promotes already-submitted entries whose queue-position-
// derived priority has changed (in particular, the back-to-front
// promotion spec.md §4.6 describes, which lifts the partial-decode
// bound). Caller must hold e.mu.
func (e *Engine) reconcileLocked() {
	snapshot := e.queueMgr.Snapshot()
	seen := make(map[string]bool, len(snapshot))

	for pos, entry := range snapshot {
		seen[entry.ID] = true
		if entry.ChainIndex < 0 {
			continue
		}
		priority, bounded := positionPriority(pos)
		var boundFrames int64
		if bounded {
			boundFrames = e.cfg.PreBufferFrames
		}

		prev, exists := e.submitted[entry.ID]
		if !exists {
			e.manager.Register(entry.ChainIndex, entry.ID, e.cfg.PlayoutBufferFrames)
			e.dec.Submit(decoder.Request{
				QueueEntryID: entry.ID,
				ChainIndex:   entry.ChainIndex,
				Passage:      entry.Passage,
				Priority:     priority,
				BoundFrames:  boundFrames,
			})
			e.submitted[entry.ID] = trackedEntry{priority: priority, bounded: bounded}
			continue
		}

		if prev.priority != priority || prev.bounded != bounded {
			liftBound := prev.bounded && !bounded
			e.dec.Promote(entry.ID, priority, liftBound)
			e.submitted[entry.ID] = trackedEntry{priority: priority, bounded: bounded}
		}
	}

	for id := range e.submitted {
		if !seen[id] {
			delete(e.submitted, id)
		}
	}
}

// positionPriority maps a zero-based queue position onto the decode
// priority and partial-decode-bound rule of spec.md §4.6: the two
// front positions (now-playing and next) decode unbounded; everything
// further back is bounded by pre_buffer_seconds.
func positionPriority(pos int) (priority decoder.Priority, bounded bool) {
	switch pos {
	case 0:
		return decoder.Immediate, false
	case 1:
		return decoder.Next, false
	default:
		return decoder.Prefetch, true
	}
}

// recomputeNextLocked arms (or clears) the mixer's crossfade successor
// from the current front pair, per spec.md §4.7's "entry at queue
// position 0 or 1... the engine may recompute crossfade timing against
// its neighbour." Caller must hold e.mu.
func (e *Engine) recomputeNextLocked() {
	front, ok0 := e.queueMgr.EntryAt(0)
	second, ok1 := e.queueMgr.EntryAt(1)
	if !ok0 || !ok1 || front.ChainIndex < 0 || second.ChainIndex < 0 {
		e.mx.ClearNext()
		return
	}

	duration := crossfadeDurationFrames(front.Passage, second.Passage, e.cfg.DefaultCrossfadeFrames, e.cfg.WorkingSampleRate)
	e.mx.SetNext(mixer.NextInfo{
		ChainIndex:     second.ChainIndex,
		DurationFrames: duration,
		CurveOut:       front.Passage.FadeOutCurve,
		CurveIn:        second.Passage.FadeInCurve,
	})
}

// crossfadeDurationFrames implements spec.md §4.8's duration formula:
// min(A.lead_out_duration, B.lead_in_duration), falling back to
// defaultFrames only when neither side has a positive window. A's
// lead-out duration is undefined (treated as non-positive) until its
// end_time is known.
func crossfadeDurationFrames(a, b *types.Passage, defaultFrames int64, rate int) int64 {
	var leadOutTicks tick.Tick
	if a.EndTime != nil {
		leadOutTicks = *a.EndTime - a.LeadOutPoint
	}
	leadInTicks := b.LeadInPoint - b.StartTime

	leadOutFrames := ticksToFramesOrZero(leadOutTicks, rate)
	leadInFrames := ticksToFramesOrZero(leadInTicks, rate)

	if leadOutFrames <= 0 && leadInFrames <= 0 {
		return defaultFrames
	}
	d := leadOutFrames
	if leadInFrames < d {
		d = leadInFrames
	}
	if d < 0 {
		d = 0
	}
	return d
}

func ticksToFramesOrZero(t tick.Tick, rate int) int64 {
	if t <= 0 {
		return 0
	}
	n, err := tick.TicksToSamples(t, rate)
	if err != nil {
		return 0
	}
	return n
}

// runOrchestration is the single orchestration task of spec.md §4.9:
// it owns the queue and chain-assignment map and reacts to every event
// the buffer manager publishes.
func (e *Engine) runOrchestration() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case ev := <-e.bus.Events():
			e.handleChainEvent(ev)
		}
	}
}

func (e *Engine) handleChainEvent(ev events.ChainEvent) {
	switch ev.Kind {
	case events.KindReadyForStart:
		e.handleReadyForStart(ev)
	case events.KindExhausted:
		e.handleExhausted(ev)
	case events.KindEndpointDiscovered:
		e.handleEndpointDiscovered(ev)
	case events.KindFinished:
		e.handleChainFinished(ev)
	}
}

// handleReadyForStart begins mixing if this is the front chain, or
// re-arms the crossfade successor if it is the chain right behind it.
func (e *Engine) handleReadyForStart(ev events.ChainEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	front, ok := e.queueMgr.EntryAt(0)
	if ok && front.ChainIndex == ev.ChainIndex {
		e.maybeBeginFrontLocked(front)
		return
	}
	e.recomputeNextLocked()
}

// handleExhausted escalates decode priority to Immediate for the
// now-playing chain, per spec.md §4.9.
func (e *Engine) handleExhausted(ev events.ChainEvent) {
	e.dec.Promote(ev.QueueEntryID, decoder.Immediate, true)
}

// handleEndpointDiscovered records the newly discovered endpoint and
// recomputes crossfade timing if the entry sits at queue position 0 or
// 1, per spec.md §4.7.
func (e *Engine) handleEndpointDiscovered(ev events.ChainEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.queueMgr.UpdateEndpoint(ev.QueueEntryID, tick.Tick(ev.EndTicks)); err != nil {
		return
	}
	for pos := 0; pos < 2; pos++ {
		if entry, ok := e.queueMgr.EntryAt(pos); ok && entry.ID == ev.QueueEntryID {
			e.recomputeNextLocked()
			return
		}
	}
}

// handleMixerPassageCompleted advances the queue, releases the
// completed chain, and emits PassageCompleted, per spec.md §4.9's "On
// PassageCompleted, advance the queue, release the chain... and
// promote the new front chain's decode request."
func (e *Engine) handleMixerPassageCompleted(queueEntryID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed, err := e.queueMgr.Advance()
	if err != nil {
		return
	}
	delete(e.submitted, queueEntryID)
	if removed.ChainIndex >= 0 {
		e.manager.Release(removed.ChainIndex)
	}
	e.persistence.PassageCompleted(queueEntryID, types.ErrKindNone)
	e.emit(Event{Kind: EventPassageCompleted, QueueEntryID: queueEntryID})
	e.emit(Event{Kind: EventQueueChanged})

	e.reconcileLocked()
	e.recomputeNextLocked()
	if front, ok := e.queueMgr.EntryAt(0); ok && front.ChainIndex >= 0 {
		e.maybeBeginFrontLocked(front)
	}
}

// handleDecodeComplete is the decoder worker's completion callback. A
// chain finishing decode does not by itself change mixer or queue
// state (the mixer's own exhaustion check, which reports through
// handleMixerPassageCompleted, handles that); this hook exists for
// future diagnostics and currently only logs.
func (e *Engine) handleDecodeComplete(queueEntryID string) {
	slog.Debug("decode complete", "queue_entry_id", queueEntryID)
}

// handleChainFinished logs the buffer manager's Finished transition
// (decode_complete && read_position >= total_samples, spec.md §4.4).
// It does not itself drive mixer or queue state: the mixer detects
// completion independently by polling buffer exhaustion on every frame
// it reads (pkg/mixer's IsExhausted check), since that is the only way
// to know exactly which frame was the passage's last one; by the time
// this event arrives the mixer may already be several frames past it.
// This handler exists so Finished is not an entirely unconsumed event
// kind, matching handleDecodeComplete's diagnostics-only pattern.
func (e *Engine) handleChainFinished(ev events.ChainEvent) {
	slog.Debug("chain finished", "chain_index", ev.ChainIndex, "queue_entry_id", ev.QueueEntryID)
}

// handleDecodeError implements spec.md §7's propagation policy: the
// chain is torn down, the queue entry is reported completed with an
// error, and the queue advances — a failed passage never blocks the
// ones behind it.
func (e *Engine) handleDecodeError(queueEntryID string, decodeErr error) {
	slog.Warn("decode error, skipping passage", "queue_entry_id", queueEntryID, "error", decodeErr)

	e.mu.Lock()
	entry, ok := e.queueMgr.Get(queueEntryID)
	e.mu.Unlock()
	if !ok {
		return
	}
	if entry.ChainIndex >= 0 {
		e.manager.Release(entry.ChainIndex)
	}

	e.mu.Lock()
	e.queueMgr.Remove(queueEntryID)
	delete(e.submitted, queueEntryID)
	e.mx.ClearNext()
	e.reconcileLocked()
	e.recomputeNextLocked()
	var front *queue.Entry
	if f, ok := e.queueMgr.EntryAt(0); ok {
		front = f
	}
	e.mu.Unlock()

	e.persistence.PassageCompleted(queueEntryID, types.ErrKindDecodeError)
	e.emit(Event{Kind: EventPassageCompleted, QueueEntryID: queueEntryID, ErrorKind: types.ErrKindDecodeError})
	e.emit(Event{Kind: EventQueueChanged})

	if front != nil {
		e.mu.Lock()
		e.maybeBeginFrontLocked(front)
		e.mu.Unlock()
	}
}

// runMixerRefill is the mixer refill task of spec.md §4.9 and §5: it
// runs periodically, pulls a block of frames from the mixer, and
// writes them into the output ring for the audio callback to consume.
// It holds no lock across the blocking Write/sleep boundary.
func (e *Engine) runMixerRefill() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.RefillPeriod)
	defer ticker.Stop()

	block := make([]outputring.Frame, e.cfg.RefillBlockFrames)

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.refillOnce(block)
		}
	}
}

func (e *Engine) refillOnce(block []outputring.Frame) {
	avail := e.ring.AvailableWrite()
	if avail <= 0 {
		return
	}
	n := len(block)
	if avail < n {
		n = avail
	}
	for i := 0; i < n; i++ {
		block[i] = e.mx.ProduceFrame()
	}
	if _, err := e.ring.Write(block[:n]); err != nil {
		slog.Warn("output ring write failed", "error", err)
	}
}

// runStatusReporter emits BufferChainStatus unconditionally every
// StatusReportPeriod, per spec.md §6: "emitted unconditionally — the
// report carries the authoritative snapshot."
func (e *Engine) runStatusReporter() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.StatusReportPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.emit(Event{Kind: EventBufferChainStatus, Chains: e.snapshotChainStatus()})
		}
	}
}

// runPositionReporter emits PositionUpdate at the >=10Hz cadence
// spec.md §6 requires, tracking whichever chain is currently Playing.
func (e *Engine) runPositionReporter() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PositionReportPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.emitPositionUpdate()
		}
	}
}

func (e *Engine) emitPositionUpdate() {
	e.mu.Lock()
	front, ok := e.queueMgr.EntryAt(0)
	e.mu.Unlock()
	if !ok || front.ChainIndex < 0 {
		return
	}
	if e.manager.State(front.ChainIndex) != buffermanager.Playing {
		return
	}
	buf := e.manager.Buffer(front.ChainIndex)
	if buf == nil {
		return
	}

	offsetTicks, err := tick.SamplesToTicks(int64(buf.ReadPosition()), e.cfg.WorkingSampleRate)
	if err != nil {
		return
	}
	e.emit(Event{
		Kind:         EventPositionUpdate,
		QueueEntryID: front.ID,
		Ticks:        front.Passage.StartTime + offsetTicks,
	})
}

func (e *Engine) snapshotChainStatus() []ChainStatus {
	e.mu.Lock()
	byChain := make(map[int]string, len(e.submitted))
	for _, entry := range e.queueMgr.Snapshot() {
		if entry.ChainIndex >= 0 {
			byChain[entry.ChainIndex] = entry.ID
		}
	}
	e.mu.Unlock()

	out := make([]ChainStatus, 0, e.cfg.MaxDecodeStreams)
	for i := 0; i < e.cfg.MaxDecodeStreams; i++ {
		buf := e.manager.Buffer(i)
		cs := ChainStatus{Index: i}
		if id, ok := byChain[i]; ok {
			cs.QueueEntryID = id
			cs.HasEntry = true
		}
		if buf != nil {
			cs.State = e.manager.State(i).String()
			cs.FillPercent = buf.FillPercent()
			cs.Write = buf.WritePosition()
			cs.Read = buf.ReadPosition()
			if total, known := buf.TotalSamples(); known {
				cs.Total = total
				cs.HasTotal = true
			}
		}
		out = append(out, cs)
	}
	return out
}

// PipelineFactoryFor adapts decodepipeline.New into a
// decoder.PipelineFactory bound to manager. Its signature is exactly
// the func(*buffermanager.Manager) decoder.PipelineFactory that New
// expects, so cmd/wkmpd passes engine.PipelineFactoryFor straight
// through without needing to see the manager New constructs itself.
func PipelineFactoryFor(manager *buffermanager.Manager) decoder.PipelineFactory {
	return func(req decoder.Request) (*decodepipeline.Pipeline, error) {
		return decodepipeline.New(manager, req.ChainIndex, req.QueueEntryID, req.Passage)
	}
}
