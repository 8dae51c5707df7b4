// Package decodepipeline implements the decode→resample→stereo-convert→
// fade→push pipeline of spec.md §4.5. It is grounded on the teacher's
// cmd/transform.go batch pipeline (decodeAllAudio → resampleAudio →
// convertToMono16Bit → writeWAVFile), generalized from a one-shot batch
// conversion into a chunked, resumable, stateful stream that a serial
// decoder worker can run one chunk at a time and yield out of.
package decodepipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/wkmp/playback/pkg/buffermanager"
	"github.com/wkmp/playback/pkg/decoders"
	"github.com/wkmp/playback/pkg/fade"
	"github.com/wkmp/playback/pkg/outputring"
	"github.com/wkmp/playback/pkg/resample"
	"github.com/wkmp/playback/pkg/tick"
	"github.com/wkmp/playback/pkg/types"
)

// WorkingSampleRate is the WSR of spec.md §3: 44,100 Hz stereo f32.
const WorkingSampleRate = 44100

// chunkSeconds is roughly how much source-rate audio one ProcessChunk
// call decodes before returning control to the caller, per spec.md
// §4.5's "chunked at ~1 s of output audio per iteration".
const chunkSeconds = 1.0

// ChunkResult reports what happened in one ProcessChunk call, letting
// the caller evaluate spec.md §4.5's yield predicates and §4.5's
// push-loop retry without reaching into the pipeline's internals.
type ChunkResult struct {
	// Done is true once the chain's buffer has been finalized: either
	// end_time was reached or the decoder hit EOF.
	Done bool
	// BufferFull is true when push_samples returned fewer frames than
	// offered on this chunk — yield predicate (c) of spec.md §4.5.
	BufferFull bool
	// FramesPushed counts WSR frames accepted by the playout buffer
	// this call, for progress reporting.
	FramesPushed int
}

// Pipeline holds all state a decode worker must preserve across a yield:
// the open decoder, the resampler's filter state, the fade-position
// cursor, and any frames computed but not yet accepted by the buffer.
type Pipeline struct {
	manager      *buffermanager.Manager
	chainIndex   int
	queueEntryID string
	passage      *types.Passage

	decoder        types.AudioDecoder
	sourceRate     int
	sourceChannels int
	sourceBits     int

	resampler *resample.Resampler

	// framePos counts WSR frames produced so far, relative to
	// passage.StartTime. It is both the fade-region cursor and (once
	// finalized) the chain's total_samples.
	framePos int64

	// fadeInEndSamples / fadeOutStartSamples are WSR-frame offsets
	// relative to StartTime, known from the passage regardless of
	// whether EndTime is defined.
	fadeInEndSamples    int64
	fadeOutStartSamples int64

	// endSamplesKnown / endSamples bound decode when EndTime is
	// defined; when it is not, decode runs to EOF and the endpoint is
	// discovered there instead.
	endSamplesKnown bool
	endSamples      int64

	// pendingPush holds frames already computed (resampled, stereo-
	// converted, faded) but not yet accepted by the playout buffer,
	// per spec.md §4.5's "never discard decoded samples".
	pendingPush []outputring.Frame

	// heldTail buffers frames from fadeOutStartSamples onward when
	// EndTime is undefined: the fade-out curve cannot be evaluated
	// until the discovered endpoint is known, so those frames are held
	// unfaded and only pushed once EOF resolves the fade-out window.
	heldTail []outputring.Frame

	eofReached bool
	done       bool
}

// New opens passage.FilePath's decoder, establishes the WSR resampler, and
// decode-and-discards up to passage.StartTime (sample-accurate seeking
// when the codec lacks a seek table, per spec.md §4.5).
func New(manager *buffermanager.Manager, chainIndex int, queueEntryID string, passage *types.Passage) (*Pipeline, error) {
	dec, err := decoders.NewDecoder(passage.FilePath)
	if err != nil {
		return nil, fmt.Errorf("decodepipeline: %w", err)
	}

	rate, channels, bits := dec.GetFormat()
	rs, err := resample.New(rate, WorkingSampleRate, channels)
	if err != nil {
		dec.Close()
		return nil, fmt.Errorf("decodepipeline: %w", err)
	}

	p := &Pipeline{
		manager:        manager,
		chainIndex:     chainIndex,
		queueEntryID:   queueEntryID,
		passage:        passage,
		decoder:        dec,
		sourceRate:     rate,
		sourceChannels: channels,
		sourceBits:     bits,
		resampler:      rs,
	}

	fadeInEnd, err := tick.TicksToSamples(passage.FadeInPoint-passage.StartTime, WorkingSampleRate)
	if err != nil {
		dec.Close()
		return nil, fmt.Errorf("decodepipeline: %w", err)
	}
	p.fadeInEndSamples = fadeInEnd

	fadeOutStart, err := tick.TicksToSamples(passage.FadeOutPoint-passage.StartTime, WorkingSampleRate)
	if err != nil {
		dec.Close()
		return nil, fmt.Errorf("decodepipeline: %w", err)
	}
	p.fadeOutStartSamples = fadeOutStart

	if passage.EndTime != nil {
		end, err := tick.TicksToSamples(*passage.EndTime-passage.StartTime, WorkingSampleRate)
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("decodepipeline: %w", err)
		}
		p.endSamplesKnown = true
		p.endSamples = end
	}

	if err := p.seekToStart(); err != nil {
		dec.Close()
		return nil, fmt.Errorf("decodepipeline: seek to start_time: %w", err)
	}

	return p, nil
}

// seekToStart decode-and-discards source-rate frames up to
// passage.StartTime. This is the main contributor to cold-start latency
// noted in spec.md §4.5.
func (p *Pipeline) seekToStart() error {
	startSourceSamples, err := tick.TicksToSamples(p.passage.StartTime, p.sourceRate)
	if err != nil {
		return err
	}

	bytesPerSample := p.sourceBits / 8
	discard := make([]byte, p.sourceRate*p.sourceChannels*bytesPerSample)

	var discarded int64
	for discarded < startSourceSamples {
		want := startSourceSamples - discarded
		if want > int64(p.sourceRate) {
			want = int64(p.sourceRate)
		}
		n, err := p.decoder.DecodeSamples(int(want), discard)
		discarded += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.eofReached = true
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// FramePos returns the number of WSR frames produced so far, relative
// to the passage's start_time. The serial decoder uses this to enforce
// the partial-decode bound of spec.md §4.6 for chains that are not yet
// "front" (now-playing or next).
func (p *Pipeline) FramePos() int64 {
	return p.framePos
}

// Close releases the decoder. The resampler has no resources beyond
// its internal SoXR state, reclaimed when it is garbage collected once
// the pipeline is dropped.
func (p *Pipeline) Close() error {
	return p.decoder.Close()
}

// ProcessChunk decodes, resamples, stereo-converts, and fades roughly
// one second of source audio, then pushes the result into the chain's
// playout buffer, retrying any tail the buffer could not accept. It is
// the unit of work the serial decoder calls between yield-predicate
// checks.
func (p *Pipeline) ProcessChunk() (ChunkResult, error) {
	if p.done {
		return ChunkResult{Done: true}, nil
	}

	pushed, err := p.flushPending()
	if err != nil {
		return ChunkResult{}, err
	}
	if len(p.pendingPush) > 0 {
		// Buffer is still full from a previous chunk; do not decode
		// more until it drains.
		return ChunkResult{BufferFull: true, FramesPushed: pushed}, nil
	}

	if !p.eofReached {
		if err := p.decodeAndProduce(); err != nil && !errors.Is(err, io.EOF) {
			return ChunkResult{}, err
		}
	}

	if p.eofReached {
		if err := p.finishAtEOF(); err != nil {
			return ChunkResult{}, err
		}
	}

	more, err := p.flushPending()
	if err != nil {
		return ChunkResult{}, err
	}
	pushed += more

	return ChunkResult{
		Done:         p.done,
		BufferFull:   len(p.pendingPush) > 0,
		FramesPushed: pushed,
	}, nil
}

// decodeAndProduce decodes one chunk of source-rate audio (bounded by
// EndTime if known), runs it through resample → stereo-convert → fade,
// and appends the result to pendingPush.
func (p *Pipeline) decodeAndProduce() error {
	wantSourceFrames := p.sourceRate * int(chunkSeconds)
	if p.endSamplesKnown {
		remaining := p.endSamples - p.framePos
		if remaining <= 0 {
			// end_time already reached (including end_time == start_time,
			// where remaining is 0 before any decode has happened): there
			// is nothing left to decode, so drive completion here rather
			// than silently no-oping forever.
			p.eofReached = true
			return nil
		}
		// remaining is in WSR frames; approximate the source-rate frame
		// budget proportionally so we do not decode meaningfully past
		// end_time. Any small overshoot is trimmed below by endSamples.
		approxSource := int64(float64(remaining) * float64(p.sourceRate) / float64(WorkingSampleRate))
		if approxSource < int64(wantSourceFrames) {
			wantSourceFrames = int(approxSource) + 1
		}
	}
	if wantSourceFrames <= 0 {
		return nil
	}

	bytesPerSample := p.sourceBits / 8
	raw := make([]byte, wantSourceFrames*p.sourceChannels*bytesPerSample)
	n, err := p.decoder.DecodeSamples(wantSourceFrames, raw)
	if n > 0 {
		if perr := p.produce(raw[:n*p.sourceChannels*bytesPerSample]); perr != nil {
			return perr
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.eofReached = true
			return nil
		}
		return err
	}
	return nil
}

// produce normalizes raw decoded PCM to 16-bit, resamples it to WSR,
// stereo-converts it, applies the fade curve, and appends the resulting
// frames to pendingPush (or heldTail, for the undefined-end-time
// fade-out case).
func (p *Pipeline) produce(raw []byte) error {
	pcm16 := normalizeToInt16(raw, p.sourceBits)
	resampled, err := p.resampler.Push(int16ToBytes(pcm16))
	if err != nil {
		return err
	}
	p.emit(bytesToInt16(resampled))
	return nil
}

// emit stereo-converts and fades already-resampled 16-bit PCM, then
// routes the resulting frames to pendingPush or heldTail.
func (p *Pipeline) emit(samples []int16) {
	frames := toStereoFrames(samples, p.sourceChannels)
	for _, f := range frames {
		if p.endSamplesKnown && p.framePos >= p.endSamples {
			break // past end_time: trimmed, never pushed
		}
		if !p.endSamplesKnown && p.framePos >= p.fadeOutStartSamples {
			p.heldTail = append(p.heldTail, f) // hold unfaded; see finishAtEOF
		} else {
			p.pendingPush = append(p.pendingPush, p.applyFade(f, p.framePos))
		}
		p.framePos++
	}
}

// applyFade returns f scaled by the fade-in or fade-out multiplier at
// framePos, or f unchanged in the body region.
func (p *Pipeline) applyFade(f outputring.Frame, framePos int64) outputring.Frame {
	mult := 1.0
	if framePos < p.fadeInEndSamples {
		mult = fade.In(p.passage.FadeInCurve, fade.Position(framePos, 0, p.fadeInEndSamples))
	} else if p.endSamplesKnown && framePos >= p.fadeOutStartSamples {
		mult = fade.Out(p.passage.FadeOutCurve, fade.Position(framePos, p.fadeOutStartSamples, p.endSamples))
	}
	return outputring.Frame{f[0] * float32(mult), f[1] * float32(mult)}
}

// finishAtEOF flushes the resampler's remaining buffered samples,
// resolves the discovered endpoint (if EndTime was undefined), applies
// the fade-out curve to any held tail frames against that endpoint, and
// finalizes the chain's buffer.
func (p *Pipeline) finishAtEOF() error {
	flushed, err := p.resampler.Close()
	if err != nil {
		return err
	}
	if len(flushed) > 0 {
		p.emit(bytesToInt16(flushed))
	}

	totalSamples := p.framePos
	if p.endSamplesKnown && totalSamples > p.endSamples {
		totalSamples = p.endSamples
	}

	if len(p.heldTail) > 0 {
		end := totalSamples
		start := int64(len(p.heldTail))
		tailStartFrame := end - start
		for i, f := range p.heldTail {
			pos := tailStartFrame + int64(i)
			mult := fade.Out(p.passage.FadeOutCurve, fade.Position(pos, p.fadeOutStartSamples, end))
			p.pendingPush = append(p.pendingPush, outputring.Frame{f[0] * float32(mult), f[1] * float32(mult)})
		}
		p.heldTail = nil
	}

	if p.endSamplesKnown {
		p.manager.Finalize(p.chainIndex, uint64(totalSamples))
		return nil
	}

	offset, err := tick.SamplesToTicks(totalSamples, WorkingSampleRate)
	if err != nil {
		return err
	}
	endTicks := p.passage.StartTime + offset
	p.manager.SetDiscoveredEndpoint(p.chainIndex, int64(endTicks), uint64(totalSamples))
	return nil
}

// flushPending pushes as much of pendingPush into the chain's buffer as
// capacity allows, retaining any un-pushed tail for the next call —
// spec.md §4.5's "never discard decoded samples" rule.
func (p *Pipeline) flushPending() (int, error) {
	if len(p.pendingPush) == 0 {
		if p.eofReached && len(p.heldTail) == 0 && p.framePos >= 0 {
			p.maybeMarkDone()
		}
		return 0, nil
	}

	n := p.manager.PushSamples(p.chainIndex, p.pendingPush)
	p.manager.NotifySamplesAppended(p.chainIndex, n)
	p.pendingPush = p.pendingPush[n:]

	p.maybeMarkDone()
	return n, nil
}

func (p *Pipeline) maybeMarkDone() {
	if p.done {
		return
	}
	if len(p.pendingPush) == 0 && len(p.heldTail) == 0 {
		if p.endSamplesKnown && p.framePos >= p.endSamples {
			p.done = true
		} else if p.eofReached {
			p.done = true
		}
	}
}

// normalizeToInt16 converts raw native-bit-depth interleaved PCM to
// 16-bit signed PCM samples. The WAV decoder preserves the source
// file's native bit depth (8/16/24/32) while the other decoders emit
// 16-bit; every downstream stage
// (resample, stereo-convert, fade) operates uniformly on 16-bit, so
// this conversion always runs first regardless of source format.
func normalizeToInt16(raw []byte, bitsPerSample int) []int16 {
	switch bitsPerSample {
	case 8:
		out := make([]int16, len(raw))
		for i, b := range raw {
			out[i] = (int16(b) - 128) << 8
		}
		return out
	case 16:
		return bytesToInt16(raw)
	case 24:
		n := len(raw) / 3
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			b := raw[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= -0x1000000 // sign-extend 24->32
			}
			out[i] = int16(v >> 8)
		}
		return out
	case 32:
		n := len(raw) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(raw[i*4:]))
			out[i] = int16(v >> 16)
		}
		return out
	default:
		return nil
	}
}

func bytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// toStereoFrames implements spec.md §4.5 stage 3: mono duplicates to
// L/R, stereo passes through, and anything wider downmixes by averaging
// channels split evenly into left/right groups (an odd center channel
// joins the left group, matching common convention).
func toStereoFrames(samples []int16, channels int) []outputring.Frame {
	switch channels {
	case 1:
		frames := make([]outputring.Frame, len(samples))
		for i, s := range samples {
			v := int16ToFloat32(s)
			frames[i] = outputring.Frame{v, v}
		}
		return frames
	case 2:
		n := len(samples) / 2
		frames := make([]outputring.Frame, n)
		for i := 0; i < n; i++ {
			frames[i] = outputring.Frame{int16ToFloat32(samples[i*2]), int16ToFloat32(samples[i*2+1])}
		}
		return frames
	default:
		if channels <= 0 {
			return nil
		}
		n := len(samples) / channels
		leftCount := (channels + 1) / 2
		rightCount := channels - leftCount
		frames := make([]outputring.Frame, n)
		for i := 0; i < n; i++ {
			base := i * channels
			var l, r float32
			for c := 0; c < channels; c++ {
				v := int16ToFloat32(samples[base+c])
				if c < leftCount {
					l += v
				} else {
					r += v
				}
			}
			if leftCount > 0 {
				l /= float32(leftCount)
			}
			if rightCount > 0 {
				r /= float32(rightCount)
			}
			frames[i] = outputring.Frame{l, r}
		}
		return frames
	}
}

func int16ToFloat32(s int16) float32 {
	return float32(s) / 32768.0
}
