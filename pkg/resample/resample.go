// Package resample wraps github.com/zaf/resample (SoXR bindings) as the
// stage-2 resampler of spec.md §4.5. The teacher's cmd/transform.go
// creates one soxr.Resampler per whole-file batch operation and closes
// it immediately after a single Write; this package instead keeps one
// Resampler alive for a chain's entire decode lifetime so SoXR's
// internal filter state survives chunk boundaries, which spec.md
// requires ("must preserve filter state across chunk boundaries to
// avoid phase discontinuities at chunk seams").
package resample

import (
	"bytes"
	"fmt"
	"io"

	soxr "github.com/zaf/resample"
)

// Resampler converts interleaved 16-bit PCM at one sample rate to
// interleaved 16-bit PCM at another, preserving filter state across
// calls to Push. When fromRate == toRate it is a pure pass-through and
// never touches SoXR.
type Resampler struct {
	passthrough bool
	out         bytes.Buffer
	soxr        *soxr.Resampler
}

// New creates a resampler converting channels-channel 16-bit PCM from
// fromRate to toRate, at SoXR's high-quality setting (matching the
// teacher's cmd/transform.go).
func New(fromRate, toRate, channels int) (*Resampler, error) {
	r := &Resampler{}
	if fromRate == toRate {
		r.passthrough = true
		return r, nil
	}

	s, err := soxr.New(&r.out, float64(fromRate), float64(toRate), channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	r.soxr = s
	return r, nil
}

// Push feeds one chunk of interleaved 16-bit PCM input and returns
// however many resampled 16-bit PCM bytes SoXR has produced so far. The
// internal filter state carries forward to the next Push call.
func (r *Resampler) Push(pcm []byte) ([]byte, error) {
	if r.passthrough {
		return pcm, nil
	}

	if _, err := r.soxr.Write(pcm); err != nil {
		return nil, fmt.Errorf("resample write: %w", err)
	}

	produced := make([]byte, r.out.Len())
	copy(produced, r.out.Bytes())
	r.out.Reset()
	return produced, nil
}

// Close flushes any samples SoXR is still holding internally and
// releases the resampler. Call this once, after the last Push — never
// between chunks, or filter state is lost and chunk seams will click.
// The decode pipeline calls it when the chain's input ends.
func (r *Resampler) Close() ([]byte, error) {
	if r.passthrough || r.soxr == nil {
		return nil, nil
	}
	if err := r.soxr.Close(); err != nil {
		return nil, fmt.Errorf("resample close: %w", err)
	}
	produced := make([]byte, r.out.Len())
	copy(produced, r.out.Bytes())
	r.out.Reset()
	return produced, nil
}

var _ io.Writer = (*bytes.Buffer)(nil)
