// Package opus wraps github.com/thesyncim/gopus and its Ogg container
// reader to decode Opus-in-Ogg files, matching the types.AudioDecoder
// contract the other format packages in this module implement.
//
// drgolem/go-opus (a cgo libopus binding) was the teacher's original
// choice for this concern, but its source was never retrieved alongside
// the rest of the toolkit and its API cannot be learned from anything in
// this module's reference material. github.com/thesyncim/gopus is a
// pure-Go Opus decoder plus an Ogg demuxer (container/ogg) that covers
// the same file format without guessing at an unseen cgo surface.
package opus

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/thesyncim/gopus"
	"github.com/thesyncim/gopus/container/ogg"
)

// maxFrameSamples is the largest per-channel sample count a single Opus
// frame can decode to: 120ms at 48kHz.
const maxFrameSamples = 5760

// Decoder wraps a gopus.Decoder fed by an ogg.Reader demuxer. Opus
// packets decode one at a time into a fixed-size scratch buffer; this
// wrapper buffers leftover samples between DecodeSamples calls so chunk
// boundaries never lose or duplicate a sample.
type Decoder struct {
	file     *os.File
	ogg      *ogg.Reader
	dec      *gopus.Decoder
	rate     int
	channels int

	preSkipRemaining int
	pending          []int16 // undelivered interleaved samples from the last packet
	scratch          []int16
}

// NewDecoder creates a new Opus decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// opusSampleRate is the only sample rate gopus.NewDecoder accepts that
// also matches what Ogg Opus streams are conventionally decoded at
// regardless of their original encoding rate (RFC 7845 always specifies
// a 48kHz "input" rate for the container's granule position accounting).
const opusSampleRate = 48000

// Open opens and initializes an Ogg Opus file for decoding.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open Opus file: %w", err)
	}

	oggReader, err := ogg.NewReader(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create Ogg reader: %w", err)
	}

	channels := int(oggReader.Channels())
	if channels < 1 || channels > 2 {
		file.Close()
		return fmt.Errorf("unsupported Opus channel count: %d", channels)
	}

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create Opus decoder: %w", err)
	}

	d.file = file
	d.ogg = oggReader
	d.dec = dec
	d.rate = opusSampleRate
	d.channels = channels
	d.preSkipRemaining = int(oggReader.PreSkip())
	d.scratch = make([]int16, maxFrameSamples*channels)

	return nil
}

// Close closes the decoder and releases resources.
func (d *Decoder) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		d.ogg = nil
		d.dec = nil
		d.pending = nil
		return err
	}
	return nil
}

// GetFormat returns the audio format: 48000 Hz (Ogg Opus's fixed
// container rate), the stream's channel count, and a fixed 16 bits per
// sample.
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	return d.rate, d.channels, 16
}

// DecodeSamples decodes up to 'samples' multi-channel samples into audio
// as interleaved 16-bit signed little-endian PCM, dropping the stream's
// pre-skip samples per RFC 7845. Returns io.EOF once the stream is
// exhausted.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.dec == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	bytesPerSample := 2 * d.channels
	decoded := 0

	for decoded < samples {
		if len(d.pending) == 0 {
			n, err := d.decodeNextPacket()
			if err != nil {
				if errors.Is(err, io.EOF) {
					if decoded > 0 {
						return decoded, nil
					}
					return 0, io.EOF
				}
				return decoded, err
			}
			if n == 0 {
				continue
			}
		}

		framesAvail := len(d.pending) / d.channels
		framesWanted := samples - decoded
		take := framesWanted
		if take > framesAvail {
			take = framesAvail
		}
		if take == 0 {
			break
		}

		offset := decoded * bytesPerSample
		if offset+take*bytesPerSample > len(audio) {
			take = (len(audio) - offset) / bytesPerSample
			if take <= 0 {
				break
			}
		}

		for i := 0; i < take*d.channels; i++ {
			s := d.pending[i]
			audio[offset+i*2] = byte(s)
			audio[offset+i*2+1] = byte(s >> 8)
		}

		d.pending = d.pending[take*d.channels:]
		decoded += take
	}

	return decoded, nil
}

// decodeNextPacket reads and decodes the next Opus packet, applying
// pre-skip, and stores its samples in d.pending. Returns the number of
// frames appended to d.pending, or io.EOF at the end of the stream.
func (d *Decoder) decodeNextPacket() (int, error) {
	packet, _, err := d.ogg.ReadPacket()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("ogg read error: %w", err)
	}

	n, err := d.dec.DecodeInt16(packet, d.scratch)
	if err != nil {
		return 0, fmt.Errorf("opus decode error: %w", err)
	}

	frames := d.scratch[:n*d.channels]
	if d.preSkipRemaining > 0 {
		skip := d.preSkipRemaining
		if skip > n {
			skip = n
		}
		frames = frames[skip*d.channels:]
		d.preSkipRemaining -= skip
	}

	d.pending = append(d.pending[:0:0], frames...)
	return len(d.pending) / d.channels, nil
}
