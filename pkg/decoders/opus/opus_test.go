package opus

import (
	"testing"
)

func TestNewDecoder(t *testing.T) {
	decoder := NewDecoder()
	if decoder == nil {
		t.Fatal("NewDecoder returned nil")
	}
}

func TestDecoderGetFormat(t *testing.T) {
	decoder := NewDecoder()

	rate, channels, bitsPerSample := decoder.GetFormat()
	if rate != 0 || channels != 0 {
		t.Errorf("expected zero rate/channels before Open, got rate=%d channels=%d", rate, channels)
	}
	if bitsPerSample != 16 {
		t.Errorf("expected bitsPerSample 16 (fixed), got %d", bitsPerSample)
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
	if _, err := decoder.DecodeSamples(100, buffer); err == nil {
		t.Error("expected error when decoding without opening file")
	}
}

func TestOpenMissingFile(t *testing.T) {
	decoder := NewDecoder()

	if err := decoder.Open("/nonexistent/path/does-not-exist.opus"); err == nil {
		t.Error("expected error opening a nonexistent file")
	}
}
