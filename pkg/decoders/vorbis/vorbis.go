// Package vorbis wraps github.com/jfreymuth/oggvorbis to provide Ogg
// Vorbis decoding, matching the types.AudioDecoder contract the other
// format packages in this module implement.
package vorbis

import (
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"
)

// Decoder wraps oggvorbis.Reader. oggvorbis decodes to float32 samples
// one Ogg packet at a time; this wrapper converts to 16-bit PCM (the
// house convention for lossy formats in this module, matching the MP3
// decoder) and buffers any leftover samples between DecodeSamples calls
// so chunk boundaries never lose or duplicate a sample.
type Decoder struct {
	file     *os.File
	reader   *oggvorbis.Reader
	rate     int
	channels int

	pending []float32 // undelivered samples from the last packet read
}

// NewDecoder creates a new Ogg Vorbis decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes an Ogg Vorbis file for decoding.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open Vorbis file: %w", err)
	}

	reader, err := oggvorbis.NewReader(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create Vorbis reader: %w", err)
	}

	d.file = file
	d.reader = reader
	d.rate = reader.SampleRate()
	d.channels = reader.Channels()

	return nil
}

// Close closes the decoder and releases resources.
func (d *Decoder) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		d.reader = nil
		d.pending = nil
		return err
	}
	return nil
}

// GetFormat returns the audio format: sample rate, channels, and a fixed
// 16 bits per sample (this decoder always emits 16-bit PCM).
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	return d.rate, d.channels, 16
}

// DecodeSamples decodes up to 'samples' multi-channel samples into audio
// as interleaved 16-bit signed little-endian PCM. Returns io.EOF once
// the stream is exhausted.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.reader == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	bytesPerSample := 2 * d.channels
	decoded := 0

	for decoded < samples {
		if len(d.pending) == 0 {
			buf := make([]float32, 8192*d.channels)
			n, err := d.reader.Read(buf)
			if n > 0 {
				d.pending = buf[:n]
			}
			if err != nil && n == 0 {
				if err == io.EOF {
					return decoded, io.EOF
				}
				return decoded, fmt.Errorf("vorbis decode error: %w", err)
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
			v := d.pending[i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			s := int16(v * 32767)
			audio[offset+i*2] = byte(s)
			audio[offset+i*2+1] = byte(s >> 8)
		}

		d.pending = d.pending[take*d.channels:]
		decoded += take
	}

	return decoded, nil
}
