// Package outputring implements the single-producer/single-consumer
// lock-free frame queue that sits between the mixer and the real-time
// audio callback (spec.md §4.2). It is grounded on the power-of-2 mask
// and atomic-position algorithm of the teacher's pkg/ringbuffer, reworked
// to operate on stereo frames instead of raw bytes, plus an atomically
// held last-valid-frame slot so the read path can repeat it on underrun
// instead of emitting silence.
package outputring

import (
	"math"
	"sync/atomic"
)

// Frame is one interleaved L+R sample pair at the working sample rate.
type Frame [2]float32

// Ring is a lock-free SPSC ring buffer of Frames. The mixer is the sole
// producer (Write); the audio callback is the sole consumer (Read).
// Neither side may block, allocate, or lock.
type Ring struct {
	buffer []Frame
	mask   uint64

	writePos atomic.Uint64
	readPos  atomic.Uint64

	lastFrame atomic.Uint64 // packed Frame, see packFrame/unpackFrame
}

// New creates a ring sized to at least capacity frames, rounded up to
// the next power of 2 for mask-based indexing.
func New(capacity int) *Ring {
	size := nextPowerOf2(uint64(capacity))
	return &Ring{
		buffer: make([]Frame, size),
		mask:   size - 1,
	}
}

func packFrame(f Frame) uint64 {
	return uint64(math.Float32bits(f[0]))<<32 | uint64(math.Float32bits(f[1]))
}

func unpackFrame(v uint64) Frame {
	return Frame{math.Float32frombits(uint32(v >> 32)), math.Float32frombits(uint32(v))}
}

// Capacity returns the ring's frame capacity.
func (r *Ring) Capacity() int {
	return len(r.buffer)
}

// AvailableWrite returns the number of frames that can currently be
// written without overwriting unread data.
func (r *Ring) AvailableWrite() int {
	return len(r.buffer) - int(r.writePos.Load()-r.readPos.Load())
}

// AvailableRead returns the number of frames currently available to read.
func (r *Ring) AvailableRead() int {
	return int(r.writePos.Load() - r.readPos.Load())
}

// ErrInsufficientSpace is returned by Write when frames does not fit in
// the currently available capacity. The mixer is expected to check
// AvailableWrite before calling, so this signals a caller bug, not
// ordinary backpressure (unlike playout.Buffer.Append on the decode
// side, which stores what fits and returns the count).
var ErrInsufficientSpace = ringWriteError{}

type ringWriteError struct{}

func (ringWriteError) Error() string { return "outputring: insufficient space" }

// Write pushes frames into the ring as a single atomic batch: either all
// of frames is written or none of it is. On success, the last frame of
// the batch becomes the underrun fallback frame for the read side. This
// is the only method the mixer refill task may call.
func (r *Ring) Write(frames []Frame) (int, error) {
	n := uint64(len(frames))
	if n == 0 {
		return 0, nil
	}
	if n > uint64(r.AvailableWrite()) {
		return 0, ErrInsufficientSpace
	}

	writePos := r.writePos.Load()
	size := uint64(len(r.buffer))
	start := writePos & r.mask
	end := (writePos + n) & r.mask

	if end > start || n == 0 {
		copy(r.buffer[start:start+n], frames)
	} else {
		firstChunk := size - start
		copy(r.buffer[start:], frames[:firstChunk])
		copy(r.buffer[:end], frames[firstChunk:])
	}

	r.lastFrame.Store(packFrame(frames[len(frames)-1]))
	r.writePos.Store(writePos + n)

	return len(frames), nil
}

// Read fills out completely: real frames for whatever is available, and
// repeats of the last-written frame for the remainder. It never blocks,
// allocates, or returns an error, and is the only method the real-time
// audio callback may call. The returned count is the number of genuine
// (non-repeated) frames consumed, which is what advances the SPSC
// invariants; repeated filler frames do not move the read position.
func (r *Ring) Read(out []Frame) int {
	want := uint64(len(out))
	if want == 0 {
		return 0
	}

	available := uint64(r.AvailableRead())
	toRead := want
	if toRead > available {
		toRead = available
	}

	if toRead > 0 {
		readPos := r.readPos.Load()
		size := uint64(len(r.buffer))
		start := readPos & r.mask
		end := (readPos + toRead) & r.mask

		if end > start {
			copy(out[:toRead], r.buffer[start:end])
		} else {
			firstChunk := size - start
			copy(out[:firstChunk], r.buffer[start:])
			copy(out[firstChunk:toRead], r.buffer[:end])
		}

		r.readPos.Store(readPos + toRead)
	}

	if toRead < want {
		last := unpackFrame(r.lastFrame.Load())
		for i := toRead; i < want; i++ {
			out[i] = last
		}
	}

	return int(toRead)
}

// LastFrame returns the most recently written frame, or the zero frame
// if nothing has ever been written.
func (r *Ring) LastFrame() Frame {
	return unpackFrame(r.lastFrame.Load())
}

func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
