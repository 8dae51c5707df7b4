package resample

import "testing"

func TestPassthroughWhenRatesMatch(t *testing.T) {
	r, err := New(44100, 44100, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	in := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	out, err := r.Push(in)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("passthrough Push() len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("passthrough Push()[%d] = %d, want %d", i, out[i], in[i])
		}
	}
	if flushed, err := r.Close(); err != nil || flushed != nil {
		t.Fatalf("passthrough Close() = (%v, %v), want (nil, nil)", flushed, err)
	}
}
