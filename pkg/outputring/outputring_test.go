package outputring

import (
	"sync"
	"testing"
)

func TestNewRoundsToPowerOf2(t *testing.T) {
	r := New(100)
	if r.Capacity() != 128 {
		t.Errorf("Capacity() = %d, want 128", r.Capacity())
	}
}

func TestWriteRead(t *testing.T) {
	r := New(16)
	frames := []Frame{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}

	n, err := r.Write(frames)
	if err != nil || n != 3 {
		t.Fatalf("Write() = (%d, %v), want (3, nil)", n, err)
	}

	out := make([]Frame, 3)
	got := r.Read(out)
	if got != 3 {
		t.Fatalf("Read() genuine = %d, want 3", got)
	}
	for i, f := range frames {
		if out[i] != f {
			t.Errorf("out[%d] = %v, want %v", i, out[i], f)
		}
	}
}

func TestWriteInsufficientSpace(t *testing.T) {
	r := New(4)
	frames := make([]Frame, 10)
	if _, err := r.Write(frames); err != ErrInsufficientSpace {
		t.Errorf("Write() err = %v, want ErrInsufficientSpace", err)
	}
}

func TestReadUnderrunRepeatsLastFrame(t *testing.T) {
	r := New(8)
	last := Frame{0.5, -0.5}
	if _, err := r.Write([]Frame{{0.1, 0.1}, last}); err != nil {
		t.Fatal(err)
	}

	out := make([]Frame, 5)
	genuine := r.Read(out)
	if genuine != 2 {
		t.Fatalf("genuine = %d, want 2", genuine)
	}
	for i := 2; i < 5; i++ {
		if out[i] != last {
			t.Errorf("out[%d] = %v, want repeated last frame %v", i, out[i], last)
		}
	}
}

func TestReadEmptyRingRepeatsZeroFrame(t *testing.T) {
	r := New(8)
	out := make([]Frame, 4)
	genuine := r.Read(out)
	if genuine != 0 {
		t.Errorf("genuine = %d, want 0", genuine)
	}
	for i, f := range out {
		if f != (Frame{}) {
			t.Errorf("out[%d] = %v, want zero frame", i, f)
		}
	}
}

func TestWrapAround(t *testing.T) {
	r := New(4)

	for round := 0; round < 10; round++ {
		f := Frame{float32(round), float32(-round)}
		if _, err := r.Write([]Frame{f}); err != nil {
			t.Fatalf("round %d: Write: %v", round, err)
		}
		out := make([]Frame, 1)
		if n := r.Read(out); n != 1 || out[0] != f {
			t.Fatalf("round %d: Read() = %v (n=%d), want %v", round, out, n, f)
		}
	}
}

func TestInvariants(t *testing.T) {
	r := New(16)
	if got := r.AvailableWrite() + r.AvailableRead(); got != r.Capacity() {
		t.Errorf("available_write + available_read = %d, want capacity %d", got, r.Capacity())
	}

	r.Write([]Frame{{1, 1}, {2, 2}, {3, 3}})
	if got := r.AvailableWrite() + r.AvailableRead(); got != r.Capacity() {
		t.Errorf("after write: available_write + available_read = %d, want capacity %d", got, r.Capacity())
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	r := New(256)

	const numFrames = 10000
	const batchSize = 10

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < numFrames; i += batchSize {
			batch := make([]Frame, batchSize)
			for j := range batch {
				batch[j] = Frame{float32(i + j), float32(-(i + j))}
			}
			for len(batch) > 0 {
				n, err := r.Write(batch)
				if err == ErrInsufficientSpace {
					continue
				}
				if err != nil {
					t.Errorf("Write error: %v", err)
					return
				}
				batch = batch[n:]
			}
		}
	}()

	received := 0
	go func() {
		defer wg.Done()
		buf := make([]Frame, batchSize)
		for received < numFrames {
			n := r.Read(buf)
			for i := 0; i < n; i++ {
				want := float32(received)
				if buf[i][0] != want {
					t.Errorf("frame %d: got %v, want L=%v", received, buf[i], want)
				}
				received++
			}
		}
	}()

	wg.Wait()

	if received != numFrames {
		t.Errorf("received %d frames, want %d", received, numFrames)
	}
}
