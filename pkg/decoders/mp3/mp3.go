// Package mp3 wraps github.com/imcarsen/go-mp3 to provide MP3 decoding,
// matching the types.AudioDecoder contract the other format packages in
// this module implement.
package mp3

import (
	"fmt"
	"io"
	"os"

	goMp3 "github.com/imcarsen/go-mp3"
)

// Decoder wraps imcarsen/go-mp3 to provide MP3 decoding capabilities.
// Implements types.AudioDecoder interface.
//
// go-mp3 always decodes to interleaved 16-bit signed little-endian
// stereo PCM regardless of the source file's channel count, so Channels
// and BitsPerSample below are fixed rather than read from the stream.
type Decoder struct {
	file    *os.File
	decoder *goMp3.Decoder
	rate    int
}

// NewDecoder creates a new MP3 decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes an MP3 file for decoding.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := goMp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	d.file = file
	d.decoder = decoder
	d.rate = decoder.SampleRate()

	return nil
}

// Close closes the decoder and releases resources.
func (d *Decoder) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		d.decoder = nil
		return err
	}
	return nil
}

// GetFormat returns the audio format: sample rate, channels (always 2),
// bits per sample (always 16).
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	return d.rate, 2, 16
}

const bytesPerStereoSample16 = 2 * 2 // stereo, 16-bit

// DecodeSamples decodes up to 'samples' stereo 16-bit samples into audio.
// Returns the number of samples actually decoded. io.EOF is returned
// once the file is exhausted; the caller treats this as the
// endpoint-discovery signal per spec.md §7 when the passage's end_time
// was undefined.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	want := samples * bytesPerStereoSample16
	if want > len(audio) {
		want = len(audio) - (len(audio) % bytesPerStereoSample16)
	}

	total := 0
	for total < want {
		n, err := d.decoder.Read(audio[total:want])
		total += n
		if err != nil {
			decoded := total / bytesPerStereoSample16
			if err == io.EOF {
				return decoded, io.EOF
			}
			return decoded, fmt.Errorf("mp3 decode error: %w", err)
		}
		if n == 0 {
			break
		}
	}

	return total / bytesPerStereoSample16, nil
}
