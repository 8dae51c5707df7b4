package decoders

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wkmp/playback/pkg/decoders/flac"
	"github.com/wkmp/playback/pkg/decoders/mp3"
	"github.com/wkmp/playback/pkg/decoders/opus"
	"github.com/wkmp/playback/pkg/decoders/vorbis"
	"github.com/wkmp/playback/pkg/decoders/wav"
	"github.com/wkmp/playback/pkg/types"
)

// magic byte prefixes used to detect a format when the extension is
// missing or wrong, per spec.md §4.5's "format auto-detect via magic
// bytes / extension hint".
var magicPrefixes = []struct {
	prefix []byte
	ext    string
}{
	{[]byte("RIFF"), ".wav"},
	{[]byte("fLaC"), ".flac"},
	{[]byte{0xFF, 0xFB}, ".mp3"},
	{[]byte{0xFF, 0xF3}, ".mp3"},
	{[]byte{0xFF, 0xFA}, ".mp3"},
	{[]byte("ID3"), ".mp3"},
}

// sniff reads the leading bytes of fileName and returns the extension
// implied by its magic bytes, or "" if none match. An Ogg container
// ("OggS") holds either Vorbis or Opus; the first page's codec
// identifier ("OpusHead" vs "vorbis") disambiguates them since both
// share the same outer magic prefix.
func sniff(fileName string) string {
	f, err := os.Open(fileName)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	buf = buf[:n]

	if bytes.HasPrefix(buf, []byte("OggS")) {
		switch {
		case bytes.Contains(buf, []byte("OpusHead")):
			return ".opus"
		default:
			return ".ogg"
		}
	}

	for _, m := range magicPrefixes {
		if bytes.HasPrefix(buf, m.prefix) {
			return m.ext
		}
	}
	return ""
}

// NewDecoder creates and opens the appropriate decoder for fileName.
// The file extension is tried first; if it is missing or unrecognized,
// the file's magic bytes are sniffed as a fallback, matching spec.md
// §4.5's "format auto-detect via magic bytes / extension hint".
// Supports .mp3, .flac/.fla, .wav, .ogg (Vorbis) and .opus (Opus-in-Ogg).
// A .ogg extension always selects the Vorbis decoder; only an Ogg file
// whose extension is missing or unrecognized is sniffed for Opus.
func NewDecoder(fileName string) (types.AudioDecoder, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	decoder, err := decoderForExt(ext)
	if err != nil {
		if sniffed := sniff(fileName); sniffed != "" {
			decoder, err = decoderForExt(sniffed)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := decoder.Open(fileName); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fileName, err)
	}

	return decoder, nil
}

func decoderForExt(ext string) (types.AudioDecoder, error) {
	switch ext {
	case ".mp3":
		return mp3.NewDecoder(), nil
	case ".flac", ".fla":
		return flac.NewDecoder(), nil
	case ".wav":
		return wav.NewDecoder(), nil
	case ".ogg":
		return vorbis.NewDecoder(), nil
	case ".opus":
		return opus.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported file format: %q (supported: .mp3, .flac, .fla, .wav, .ogg, .opus)", ext)
	}
}
