package wav

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestNewDecoder(t *testing.T) {
	decoder := NewDecoder()
	if decoder == nil {
		t.Fatal("NewDecoder returned nil")
	}
}

func TestDecoderGetFormatBeforeOpen(t *testing.T) {
	decoder := NewDecoder()

	rate, channels, bitsPerSample := decoder.GetFormat()
	if rate != 0 || channels != 0 || bitsPerSample != 0 {
		t.Errorf("GetFormat() before Open = (%d,%d,%d), want all zero", rate, channels, bitsPerSample)
	}
}

func TestDecoderClose(t *testing.T) {
	decoder := NewDecoder()

	if err := decoder.Close(); err != nil {
		t.Errorf("Close on unopened decoder failed: %v", err)
	}
	if err := decoder.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestDecodeSamplesWithoutOpen(t *testing.T) {
	decoder := NewDecoder()

	buffer := make([]byte, 1024)
	if _, err := decoder.DecodeSamples(4, buffer); err == nil {
		t.Error("expected error when decoding without opening file")
	}
}

func TestOpenMissingFile(t *testing.T) {
	decoder := NewDecoder()

	if err := decoder.Open("/nonexistent/path/does-not-exist.wav"); err == nil {
		t.Error("expected error opening a nonexistent file")
	}
}

func TestOpenRejectsNonPCMFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adpcm.wav")
	writeWAVHeader(t, path, 44100, 1, 16, 2 /* AudioFormat != PCM */, nil)

	decoder := NewDecoder()
	if err := decoder.Open(path); err == nil {
		t.Error("expected error opening a non-PCM WAV file")
	}
}

func TestDecodeSamplesRoundTrips16Bit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")

	samples := []int16{100, -100, 200, -200, 300, -300}
	writeWAVHeader(t, path, 44100, 2, 16, 1, samples)

	decoder := NewDecoder()
	if err := decoder.Open(path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer decoder.Close()

	rate, channels, bits := decoder.GetFormat()
	if rate != 44100 || channels != 2 || bits != 16 {
		t.Fatalf("GetFormat() = (%d,%d,%d), want (44100,2,16)", rate, channels, bits)
	}

	buf := make([]byte, 3*2*2) // 3 stereo frames, 16-bit
	n, err := decoder.DecodeSamples(3, buf)
	if err != nil && err != io.EOF {
		t.Fatalf("DecodeSamples() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("DecodeSamples() frames = %d, want 3", n)
	}

	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		if got != want {
			t.Errorf("sample[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestDecodeSamplesReturnsEOFAtEndOfFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.wav")
	writeWAVHeader(t, path, 44100, 1, 16, 1, []int16{1, 2})

	decoder := NewDecoder()
	if err := decoder.Open(path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer decoder.Close()

	buf := make([]byte, 10*2) // ask for more frames than the file has
	n, err := decoder.DecodeSamples(10, buf)
	if n != 2 {
		t.Errorf("DecodeSamples() frames = %d, want 2", n)
	}
	if err == nil {
		t.Error("expected io.EOF (or similar) once the file is exhausted")
	}
}

// writeWAVHeader writes a minimal PCM (or non-PCM, if audioFormat != 1)
// WAV file with the given sample rate, channel count, and bit depth.
// samples are always written as 16-bit values, so they only match the
// header when bitsPerSample is 16.
func writeWAVHeader(t *testing.T, path string, rate, channels, bitsPerSample int, audioFormat uint16, samples []int16) {
	t.Helper()

	bytesPerSample := bitsPerSample / 8
	dataSize := len(samples) * bytesPerSample
	byteRate := rate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	buf := make([]byte, 0, 44+dataSize)
	buf = append(buf, "RIFF"...)
	buf = appendUint32(buf, uint32(36+dataSize))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = appendUint32(buf, 16)
	buf = appendUint16(buf, audioFormat)
	buf = appendUint16(buf, uint16(channels))
	buf = appendUint32(buf, uint32(rate))
	buf = appendUint32(buf, uint32(byteRate))
	buf = appendUint16(buf, uint16(blockAlign))
	buf = appendUint16(buf, uint16(bitsPerSample))
	buf = append(buf, "data"...)
	buf = appendUint32(buf, uint32(dataSize))
	for _, s := range samples {
		buf = appendUint16(buf, uint16(s))
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("failed to write test WAV: %v", err)
	}
}

func appendUint32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func appendUint16(b []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(b, tmp...)
}
