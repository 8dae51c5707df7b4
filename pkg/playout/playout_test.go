package playout

import "testing"

func TestAppendPartialWrite(t *testing.T) {
	b := New(4)
	frames := make([]Frame, 10)
	for i := range frames {
		frames[i] = Frame{float32(i), float32(i)}
	}

	n := b.Append(frames)
	if n != b.Capacity() {
		t.Fatalf("Append() = %d, want %d (buffer capacity, never discard)", n, b.Capacity())
	}

	rest := frames[n:]
	n2 := b.Append(rest)
	if n2 != 0 {
		t.Errorf("second Append() = %d, want 0 (buffer still full)", n2)
	}
}

func TestReadUnderrunRepeatsLastFrame(t *testing.T) {
	b := New(8)
	b.Append([]Frame{{1, 1}, {2, 2}})

	out, underrun := b.Read(5)
	if !underrun {
		t.Error("underrun = false, want true")
	}
	if out[0] != (Frame{1, 1}) || out[1] != (Frame{2, 2}) {
		t.Errorf("genuine frames wrong: %v", out[:2])
	}
	for i := 2; i < 5; i++ {
		if out[i] != (Frame{2, 2}) {
			t.Errorf("out[%d] = %v, want repeated last frame {2,2}", i, out[i])
		}
	}
	if got := b.ReadPosition(); got != 2 {
		t.Errorf("ReadPosition() = %d, want 2 (only genuine frames advance it)", got)
	}
}

func TestHeadroomAndFillPercent(t *testing.T) {
	b := New(4) // rounds to 4
	b.Append([]Frame{{1, 1}, {1, 1}})
	if got := b.Headroom(); got != 2 {
		t.Errorf("Headroom() = %d, want 2", got)
	}
	if got := b.FillPercent(); got != 50.0 {
		t.Errorf("FillPercent() = %v, want 50.0", got)
	}
}

func TestCompleteAndExhausted(t *testing.T) {
	b := New(8)
	b.Append([]Frame{{1, 1}, {2, 2}})
	b.Finalize(2)

	if !b.IsComplete() {
		t.Error("IsComplete() = false, want true")
	}
	if b.IsExhausted() {
		t.Error("IsExhausted() = true before drain, want false")
	}

	b.Read(2)
	if !b.IsExhausted() {
		t.Error("IsExhausted() = false after drain, want true")
	}
}

func TestZeroLengthPassageExhaustsImmediately(t *testing.T) {
	b := New(8)
	b.Finalize(0)
	if !b.IsComplete() {
		t.Error("IsComplete() = false, want true for zero-length passage")
	}
	if !b.IsExhausted() {
		t.Error("IsExhausted() = false, want true for zero-length passage")
	}
}

func TestTotalSamplesUnknownUntilDiscovered(t *testing.T) {
	b := New(8)
	if _, known := b.TotalSamples(); known {
		t.Error("TotalSamples() known = true before discovery")
	}
	b.Finalize(100)
	total, known := b.TotalSamples()
	if !known || total != 100 {
		t.Errorf("TotalSamples() = (%d, %v), want (100, true)", total, known)
	}
}
