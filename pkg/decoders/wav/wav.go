// Package wav wraps github.com/youpy/go-wav to provide PCM WAV decoding,
// matching the types.AudioDecoder contract the other format packages in
// this module implement.
package wav

import (
	"fmt"
	"os"

	"github.com/youpy/go-wav"
)

// Decoder wraps go-wav's sample-at-a-time reader. go-wav has no bulk
// read call, so DecodeSamples below loops one frame at a time and packs
// each channel's value into audio at its native bit depth.
type Decoder struct {
	file     *os.File
	reader   *wav.Reader
	rate     int
	channels int
	bps      int
}

// NewDecoder creates a new WAV decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes a WAV file for decoding. Only PCM WAV is
// supported; compressed WAV formats (ADPCM, etc.) are rejected.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		file.Close()
		return fmt.Errorf("unsupported WAV format: %d (only PCM supported)", format.AudioFormat)
	}

	d.file = file
	d.reader = reader
	d.rate = int(format.SampleRate)
	d.channels = int(format.NumChannels)
	d.bps = int(format.BitsPerSample)

	return nil
}

// Close closes the decoder and releases resources.
func (d *Decoder) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		d.reader = nil
		return err
	}
	return nil
}

// GetFormat returns the audio format: sample rate, channels, and the
// source file's native bits per sample (8/16/24/32).
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	return d.rate, d.channels, d.bps
}

// DecodeSamples decodes up to 'samples' multi-channel frames into audio
// as interleaved native-bit-depth PCM. Returns the number of frames
// actually decoded; io.EOF (as returned by go-wav) propagates once the
// stream is exhausted so the caller can treat it as the
// endpoint-discovery signal per spec.md §7.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.reader == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	bytesPerSample := d.bps / 8
	frameSize := d.channels * bytesPerSample
	decoded := 0

	for decoded < samples {
		frames, err := d.reader.ReadSamples(1)
		if err != nil {
			return decoded, err
		}
		if len(frames) == 0 {
			return decoded, nil
		}

		offset := decoded * frameSize
		if offset+frameSize > len(audio) {
			return decoded, nil
		}
		if err := writeFrame(audio[offset:offset+frameSize], frames[0], d.channels, d.bps); err != nil {
			return decoded, err
		}

		decoded++
	}

	return decoded, nil
}

// writeFrame packs one go-wav sample's per-channel values into dst as
// little-endian PCM at bitsPerSample.
func writeFrame(dst []byte, s wav.Sample, channels, bitsPerSample int) error {
	bytesPerSample := bitsPerSample / 8
	for ch := 0; ch < channels; ch++ {
		if ch >= len(s.Values) {
			break
		}
		value := s.Values[ch]
		off := ch * bytesPerSample
		switch bitsPerSample {
		case 8:
			dst[off] = byte(value)
		case 16:
			dst[off] = byte(value)
			dst[off+1] = byte(value >> 8)
		case 24:
			dst[off] = byte(value)
			dst[off+1] = byte(value >> 8)
			dst[off+2] = byte(value >> 16)
		case 32:
			dst[off] = byte(value)
			dst[off+1] = byte(value >> 8)
			dst[off+2] = byte(value >> 16)
			dst[off+3] = byte(value >> 24)
		default:
			return fmt.Errorf("unsupported bits per sample: %d", bitsPerSample)
		}
	}
	return nil
}
