// Package decoder implements the serial priority decoder of spec.md
// §4.6: strictly one decode in flight at a time, a min-heap-ordered
// priority queue of requests, cooperative yield at chunk boundaries, and
// a pause/resume map that lets a yielded passage continue from the exact
// frame it left off rather than re-decoding.
//
// It is grounded on the teacher's producer-goroutine shape
// (pkg/audioplayer/player.go's producer/consumer pattern: a dedicated
// goroutine, a stop channel, a WaitGroup for shutdown), generalized from
// "one goroutine decodes the one open file" to "one goroutine serially
// decodes whichever chain currently has priority," with state preserved
// across yields instead of running to completion.
package decoder

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/wkmp/playback/pkg/buffermanager"
	"github.com/wkmp/playback/pkg/decodepipeline"
	"github.com/wkmp/playback/pkg/types"
)

// Priority is a decode request's priority level. Lower values are
// serviced first; ties break by enqueue order.
type Priority int

const (
	Immediate Priority = iota // underrun recovery / now playing
	Next                      // the upcoming passage
	Prefetch                  // back chains, pre-buffering only
)

func (p Priority) String() string {
	switch p {
	case Immediate:
		return "Immediate"
	case Next:
		return "Next"
	case Prefetch:
		return "Prefetch"
	default:
		return "Unknown"
	}
}

// Request describes one passage's decode work. BoundFrames is the
// partial-decode bound of spec.md §4.6 for chains that are not yet
// front (now-playing or next): 0 means unbounded (decode to end_time or
// EOF). The engine lifts the bound by resubmitting via Promote.
type Request struct {
	QueueEntryID string
	ChainIndex   int
	Passage      *types.Passage
	Priority     Priority
	BoundFrames  int64
}

// PipelineFactory constructs the decode→resample→fade→push pipeline for
// a fresh (never-yielded) request. The decoder calls this exactly once
// per queue entry; a resumed request reuses the existing pipeline
// instead, per spec.md §4.6's "no re-decode of already-processed
// samples".
type PipelineFactory func(req Request) (*decodepipeline.Pipeline, error)

// Callbacks the decoder invokes as requests complete or fail. Both are
// called from the decoder's own goroutine; implementations must not
// block it for long.
type Callbacks struct {
	OnComplete func(queueEntryID string)
	OnError    func(queueEntryID string, err error)
}

// Config holds the decoder's tunable timings.
type Config struct {
	// DecodeWorkPeriod is the time-based yield predicate of spec.md
	// §4.5 (default 5s).
	DecodeWorkPeriod time.Duration
}

// DefaultConfig returns spec.md §6's default decode_work_period.
func DefaultConfig() Config {
	return Config{DecodeWorkPeriod: 5 * time.Second}
}

// pausedEntry is a yielded request's preserved state: the pipeline
// object (format reader + codec decoder + resampler state + chunk
// counter, all internal to decodepipeline.Pipeline) plus the request
// it was servicing.
type pausedEntry struct {
	req       Request
	pipeline  *decodepipeline.Pipeline
	lastYield time.Time
}

// Decoder is the serial priority decoder. One instance serves the whole
// engine; the worker goroutine is started by Start and stopped by
// Shutdown.
type Decoder struct {
	manager *buffermanager.Manager
	factory PipelineFactory
	cb      Callbacks
	cfg     Config

	mu     sync.Mutex
	cond   *sync.Cond
	heap   requestHeap
	paused map[string]*pausedEntry
	seq    int64

	shutdown bool
	wg       sync.WaitGroup
}

// New creates a decoder. manager is consulted for per-chain writable
// space when deciding whether a paused passage may resume.
func New(manager *buffermanager.Manager, factory PipelineFactory, cb Callbacks, cfg Config) *Decoder {
	d := &Decoder{
		manager: manager,
		factory: factory,
		cb:      cb,
		cfg:     cfg,
		paused:  make(map[string]*pausedEntry),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the worker goroutine.
func (d *Decoder) Start() {
	d.wg.Add(1)
	go d.run()
}

// Shutdown signals the worker to stop, waits for it to exit, and clears
// the paused-requests map without resuming any of them, per spec.md
// §4.6's "on process shutdown, the map is cleared without resuming."
func (d *Decoder) Shutdown() {
	d.mu.Lock()
	d.shutdown = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.wg.Wait()
}

// Submit enqueues a fresh decode request at its priority. Ties among
// equal priorities are broken by submission order.
func (d *Decoder) Submit(req Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	heap.Push(&d.heap, &queueItem{req: req, seq: d.seq})
	d.cond.Signal()
}

// Promote escalates a passage's priority and optionally lifts its
// partial-decode bound, per spec.md §4.6's "promotion of a chain from
// back to front triggers a resubmission as Next or Immediate with the
// bound lifted." It updates the request wherever it currently sits
// (the heap, if not yet started, or the paused map, if yielded) and
// wakes the worker so it can reconsider immediately.
func (d *Decoder) Promote(queueEntryID string, newPriority Priority, liftBound bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, item := range d.heap {
		if item.req.QueueEntryID == queueEntryID {
			item.req.Priority = newPriority
			if liftBound {
				item.req.BoundFrames = 0
			}
			heap.Fix(&d.heap, item.index)
			d.cond.Signal()
			return
		}
	}

	if pe, ok := d.paused[queueEntryID]; ok {
		pe.req.Priority = newPriority
		if liftBound {
			pe.req.BoundFrames = 0
		}
		d.cond.Signal()
	}
}

// Cancel removes queueEntryID from the heap or paused map (for
// clear_queue / remove, per spec.md §5's cancellation policy), closing
// its pipeline if one was preserved.
func (d *Decoder) Cancel(queueEntryID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, item := range d.heap {
		if item.req.QueueEntryID == queueEntryID {
			heap.Remove(&d.heap, i)
			break
		}
	}
	if pe, ok := d.paused[queueEntryID]; ok {
		pe.pipeline.Close()
		delete(d.paused, queueEntryID)
	}
}

// run is the worker goroutine's main loop: it resumes a pausable request
// if one qualifies, otherwise pops the heap head, otherwise waits.
func (d *Decoder) run() {
	defer d.wg.Done()

	for {
		next, ok := d.nextWork()
		if !ok {
			return
		}
		if next.fresh {
			d.serviceFresh(next.req)
		} else {
			d.service(next.req, next.pipeline, next.lastYield)
		}
	}
}

// work describes the next piece of decode work run should perform.
type work struct {
	req       Request
	fresh     bool
	pipeline  *decodepipeline.Pipeline
	lastYield time.Time
}

// nextWork blocks until there is work to do or the decoder is shutting
// down, in which case ok is false.
func (d *Decoder) nextWork() (w work, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		if d.shutdown {
			d.clearPausedLocked()
			return work{}, false
		}

		if pe := d.takeResumableLocked(); pe != nil {
			return work{req: pe.req, pipeline: pe.pipeline, lastYield: pe.lastYield}, true
		}

		if d.heap.Len() > 0 {
			item := heap.Pop(&d.heap).(*queueItem)
			return work{req: item.req, fresh: true}, true
		}

		d.cond.Wait()
	}
}

// headPriorityLocked returns the priority of the highest-priority
// request still waiting in the heap, and whether the heap is non-empty.
// Caller must hold d.mu.
func (d *Decoder) headPriorityLocked() (Priority, bool) {
	if d.heap.Len() == 0 {
		return 0, false
	}
	return d.heap[0].req.Priority, true
}

// takeResumableLocked finds a paused request whose chain currently has
// writable space and whose priority beats or equals the heap head's
// (or there is no heap head), per spec.md §4.6. Caller must hold d.mu.
func (d *Decoder) takeResumableLocked() *pausedEntry {
	headPrio, haveHead := d.headPriorityLocked()

	var bestKey string
	var best *pausedEntry
	for key, pe := range d.paused {
		if haveHead && pe.req.Priority > headPrio {
			continue
		}
		if d.writable(pe.req.ChainIndex) <= 0 {
			continue
		}
		if best == nil || pe.req.Priority < best.req.Priority {
			best, bestKey = pe, key
		}
	}
	if best == nil {
		return nil
	}
	delete(d.paused, bestKey)
	return best
}

func (d *Decoder) writable(chainIndex int) int {
	buf := d.manager.Buffer(chainIndex)
	if buf == nil {
		return 0
	}
	return buf.Capacity() - int(buf.Headroom())
}

func (d *Decoder) clearPausedLocked() {
	for key, pe := range d.paused {
		pe.pipeline.Close()
		delete(d.paused, key)
	}
}

// serviceFresh builds a new pipeline for a never-yielded request and
// runs it.
func (d *Decoder) serviceFresh(req Request) {
	pipeline, err := d.factory(req)
	if err != nil {
		slog.Error("decoder: failed to open passage", "queue_entry_id", req.QueueEntryID, "error", err)
		if d.cb.OnError != nil {
			d.cb.OnError(req.QueueEntryID, err)
		}
		return
	}
	d.service(req, pipeline, time.Now())
}

// service runs pipeline chunk-by-chunk until it completes, errors, or a
// yield predicate fires.
func (d *Decoder) service(req Request, pipeline *decodepipeline.Pipeline, since time.Time) {
	for {
		result, err := pipeline.ProcessChunk()
		if err != nil {
			pipeline.Close()
			slog.Error("decoder: decode error", "queue_entry_id", req.QueueEntryID, "error", err)
			if d.cb.OnError != nil {
				d.cb.OnError(req.QueueEntryID, err)
			}
			return
		}

		if result.Done {
			pipeline.Close()
			if d.cb.OnComplete != nil {
				d.cb.OnComplete(req.QueueEntryID)
			}
			return
		}

		if yield, reason := d.shouldYield(req, pipeline, result, since); yield {
			slog.Debug("decoder: yielding", "queue_entry_id", req.QueueEntryID, "reason", reason)
			d.mu.Lock()
			d.paused[req.QueueEntryID] = &pausedEntry{req: req, pipeline: pipeline, lastYield: time.Now()}
			d.mu.Unlock()
			return
		}
	}
}

// shouldYield evaluates spec.md §4.5's three yield predicates plus the
// §4.6 partial-decode bound.
func (d *Decoder) shouldYield(req Request, pipeline *decodepipeline.Pipeline, result decodepipeline.ChunkResult, since time.Time) (bool, string) {
	d.mu.Lock()
	headPrio, haveHead := d.headPriorityLocked()
	d.mu.Unlock()
	if haveHead && headPrio < req.Priority {
		return true, "higher-priority request waiting"
	}

	if time.Since(since) >= d.cfg.DecodeWorkPeriod {
		return true, "decode_work_period elapsed"
	}

	if result.BufferFull {
		return true, "buffer full"
	}

	if req.BoundFrames > 0 && pipeline.FramePos() >= req.BoundFrames {
		return true, "partial-decode bound reached"
	}

	return false, ""
}

// requestHeap is a container/heap.Interface priority queue of decode
// requests, ordered by Priority ascending (Immediate first) and, within
// equal priority, by submission sequence.
type requestHeap []*queueItem

type queueItem struct {
	req   Request
	seq   int64
	index int
}

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority < h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
