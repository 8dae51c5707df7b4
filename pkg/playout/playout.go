// Package playout implements the per-chain bounded interleaved-stereo
// sample store of spec.md §4.3. It is grounded on the same circular-
// buffer bookkeeping as pkg/outputring and the teacher's pkg/ringbuffer
// (cumulative monotonic positions, power-of-2 mask), extended with the
// endpoint-discovery and underrun-policy fields a decode-pipeline buffer
// needs that a plain byte ring does not: total_samples, decode_complete,
// and a cached last frame.
//
// Unlike pkg/outputring, this buffer has exactly one writer (the decoder
// worker, serialized by a mutex) and one reader (the mixer refill task,
// which is not real-time), so a plain mutex is appropriate here.
package playout

import (
	"sync"

	"github.com/wkmp/playback/pkg/outputring"
)

// Frame is one interleaved L+R sample pair at the working sample rate.
type Frame = outputring.Frame

// unknownTotal marks total_samples as not yet discovered.
const unknownTotal = -1

// Buffer is the playout store for one chain.
type Buffer struct {
	mu sync.Mutex

	data []Frame
	mask uint64

	writePos uint64
	readPos  uint64

	totalSamples   int64 // -1 until known
	decodeComplete bool

	lastFrame Frame
}

// New creates a buffer with at least capacity frames of storage, rounded
// up to the next power of 2.
func New(capacity int) *Buffer {
	size := nextPowerOf2(uint64(capacity))
	return &Buffer{
		data:         make([]Frame, size),
		mask:         size - 1,
		totalSamples: unknownTotal,
	}
}

// Capacity returns the buffer's frame capacity.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Append writes samples at the tail and returns the number of frames
// actually stored. A partial write occurs when remaining capacity is
// less than len(samples); the caller (the decode pipeline) retains and
// retries the un-stored tail rather than discarding it.
func (b *Buffer) Append(samples []Frame) int {
	if len(samples) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	free := uint64(len(b.data)) - (b.writePos - b.readPos)
	n := uint64(len(samples))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	size := uint64(len(b.data))
	start := b.writePos & b.mask
	end := (b.writePos + n) & b.mask

	if end > start {
		copy(b.data[start:end], samples[:n])
	} else {
		firstChunk := size - start
		copy(b.data[start:], samples[:firstChunk])
		copy(b.data[:end], samples[firstChunk:n])
	}

	b.writePos += n
	return int(n)
}

// Read returns n frames: genuine buffered frames where available, and
// repeats of the last valid frame for the remainder (the underrun
// policy of §4.3). underrun reports whether any filler was needed.
// Only genuinely consumed frames advance read_position, so total_read
// never exceeds total_written.
func (b *Buffer) Read(n int) (frames []Frame, underrun bool) {
	if n <= 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Frame, n)
	available := b.writePos - b.readPos
	toRead := uint64(n)
	if toRead > available {
		toRead = available
	}

	if toRead > 0 {
		size := uint64(len(b.data))
		start := b.readPos & b.mask
		end := (b.readPos + toRead) & b.mask

		if end > start {
			copy(out[:toRead], b.data[start:end])
		} else {
			firstChunk := size - start
			copy(out[:firstChunk], b.data[start:])
			copy(out[firstChunk:toRead], b.data[:end])
		}

		b.lastFrame = out[toRead-1]
		b.readPos += toRead
	}

	if toRead < uint64(n) {
		underrun = true
		for i := toRead; i < uint64(n); i++ {
			out[i] = b.lastFrame
		}
	}

	return out, underrun
}

// WritePosition returns the cumulative number of frames ever appended.
func (b *Buffer) WritePosition() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writePos
}

// ReadPosition returns the cumulative number of genuine frames ever read.
func (b *Buffer) ReadPosition() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readPos
}

// Headroom returns write_position - read_position.
func (b *Buffer) Headroom() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writePos - b.readPos
}

// FillPercent returns headroom as a percentage of capacity.
func (b *Buffer) FillPercent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.writePos-b.readPos) / float64(len(b.data)) * 100.0
}

// Finalize marks decoding complete with the given total frame count.
func (b *Buffer) Finalize(totalSamples uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decodeComplete = true
	b.totalSamples = int64(totalSamples)
}

// TotalSamples returns the discovered total frame count, and whether it
// is known yet.
func (b *Buffer) TotalSamples() (total uint64, known bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.totalSamples < 0 {
		return 0, false
	}
	return uint64(b.totalSamples), true
}

// IsComplete reports decode_complete ∧ write == total_samples.
func (b *Buffer) IsComplete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decodeComplete && b.totalSamples >= 0 && b.writePos == uint64(b.totalSamples)
}

// IsExhausted reports is_complete ∧ read ≥ total_samples.
func (b *Buffer) IsExhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decodeComplete && b.totalSamples >= 0 &&
		b.writePos == uint64(b.totalSamples) && b.readPos >= uint64(b.totalSamples)
}

// LastFrame returns the most recently read frame (the underrun fallback
// value), or the zero frame if nothing has been read yet.
func (b *Buffer) LastFrame() Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFrame
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
