// Package flac wraps github.com/drgolem/go-flac to provide FLAC
// decoding, matching the types.AudioDecoder contract the other format
// packages in this module implement.
package flac

import (
	"fmt"

	goflac "github.com/drgolem/go-flac/flac"
)

// flacOutputBits is the bit depth go-flac decodes into. FLAC is
// lossless and can carry up to 32-bit samples, but this decoder emits
// 16-bit PCM (normalizeToInt16 in pkg/decodepipeline handles other
// depths too, so this is a choice, not a constraint) for uniformity with
// the lossy mp3/vorbis decoders, which have no higher-depth source to
// preserve. The WAV decoder, by contrast, passes its file's native
// depth through.
const flacOutputBits = 16

// Decoder wraps a goflac.FlacDecoder.
type Decoder struct {
	decoder  *goflac.FlacDecoder
	rate     int
	channels int
	bps      int
}

// NewDecoder creates a new FLAC decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes a FLAC file for decoding.
func (d *Decoder) Open(fileName string) error {
	decoder, err := goflac.NewFlacFrameDecoder(flacOutputBits)
	if err != nil {
		return fmt.Errorf("failed to create FLAC decoder: %w", err)
	}

	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("failed to open FLAC file: %w", err)
	}

	rate, channels, bps := decoder.GetFormat()

	d.decoder = decoder
	d.rate = rate
	d.channels = channels
	d.bps = bps

	return nil
}

// Close closes the decoder and releases resources.
func (d *Decoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}

// GetFormat returns the audio format: sample rate, channels, and bits
// per sample (fixed at flacOutputBits).
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	return d.rate, d.channels, d.bps
}

// DecodeSamples decodes up to 'samples' multi-channel frames into audio
// as interleaved PCM at flacOutputBits. io.EOF propagates once the
// stream is exhausted so the caller can treat it as the
// endpoint-discovery signal per spec.md §7.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}
	return d.decoder.DecodeSamples(samples, audio)
}
