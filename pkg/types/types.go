// Package types holds the contracts shared across the playback engine's
// components: the decoder interface kept from the teacher toolkit, the
// passage/timing data model of spec.md §3, and the error kinds of §7.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/wkmp/playback/pkg/fade"
	"github.com/wkmp/playback/pkg/tick"
)

// AudioDecoder is the common interface for all audio decoders (MP3, FLAC, WAV).
// All decoders must implement these methods to provide a consistent API
// for decoding audio files into raw PCM samples.
type AudioDecoder interface {
	// Open opens an audio file for decoding
	Open(fileName string) error

	// Close closes the decoder and releases resources
	Close() error

	// GetFormat returns the audio format information
	// Returns: sample rate (Hz), channels (1=mono, 2=stereo), bits per sample (8/16/24/32)
	GetFormat() (rate, channels, bitsPerSample int)

	// DecodeSamples decodes audio samples into the provided buffer
	// Parameters:
	//   samples: number of samples to decode (not bytes!)
	//   audio: buffer to write decoded audio data
	// Returns: number of samples actually decoded, error if decoding failed
	// Note: Buffer must be large enough: samples * channels * (bitsPerSample/8) bytes
	DecodeSamples(samples int, audio []byte) (int, error)
}

// PlaybackStatus holds unified playback information for audio players.
// This struct provides real-time metrics for monitoring audio playback.
type PlaybackStatus struct {
	FileName        string        // Name of the currently playing file
	SampleRate      int           // Audio sample rate in Hz (e.g., 44100, 48000)
	Channels        int           // Number of audio channels (1=mono, 2=stereo)
	BitsPerSample   int           // Bit depth (8, 16, 24, or 32)
	FramesPerBuffer int           // PortAudio frames per buffer (if applicable)
	PlayedSamples   uint64        // Samples actually sent to audio output (played)
	BufferedSamples uint64        // Samples decoded but not yet played (in-flight)
	ElapsedTime     time.Duration // Wall-clock time since playback started
}

// PlaybackMonitor is an interface for types that can report playback status.
// Implementing this interface allows consistent status monitoring across
// different player implementations.
type PlaybackMonitor interface {
	GetPlaybackStatus() PlaybackStatus
}

// Common ringbuffer errors for comparison using errors.Is(). No package in
// this module returns them: pkg/outputring defines its own
// ErrInsufficientSpace, and playout.Buffer.Append reports a partial write
// by its returned count.
var (
	// ErrInsufficientSpace indicates the ringbuffer doesn't have enough space for the write operation
	ErrInsufficientSpace = errors.New("insufficient space in ringbuffer")

	// ErrInsufficientData indicates the ringbuffer doesn't have enough data for the read operation
	ErrInsufficientData = errors.New("insufficient data in ringbuffer")
)

// Passage is the input contract the queue manager and decode pipeline
// consume: a time-bounded region of an audio file plus fade/crossfade
// metadata, as defined in spec.md §3. EndTime is nil when the caller did
// not supply one; the decode pipeline then discovers it at EOF.
type Passage struct {
	FilePath string

	StartTime    tick.Tick
	FadeInPoint  tick.Tick
	LeadInPoint  tick.Tick
	LeadOutPoint tick.Tick
	FadeOutPoint tick.Tick
	EndTime      *tick.Tick // nil until known or discovered

	FadeInCurve  fade.Curve
	FadeOutCurve fade.Curve
}

// Validate checks the ordering invariants spec.md §3 requires after
// defaulting: start <= fade_in <= fade_out <= end and
// start <= lead_in <= lead_out <= end (the latter only when EndTime is
// known; an undefined end_time cannot violate an ordering against it).
func (p *Passage) Validate() error {
	if p.EndTime != nil {
		end := *p.EndTime
		if !(p.StartTime <= p.FadeInPoint && p.FadeInPoint <= p.FadeOutPoint && p.FadeOutPoint <= end) {
			return fmt.Errorf("passage fade points out of order: start=%d fade_in=%d fade_out=%d end=%d",
				p.StartTime, p.FadeInPoint, p.FadeOutPoint, end)
		}
		if !(p.StartTime <= p.LeadInPoint && p.LeadInPoint <= p.LeadOutPoint && p.LeadOutPoint <= end) {
			return fmt.Errorf("passage lead points out of order: start=%d lead_in=%d lead_out=%d end=%d",
				p.StartTime, p.LeadInPoint, p.LeadOutPoint, end)
		}
		return nil
	}
	if !(p.StartTime <= p.FadeInPoint && p.FadeInPoint <= p.FadeOutPoint) {
		return fmt.Errorf("passage fade points out of order: start=%d fade_in=%d fade_out=%d",
			p.StartTime, p.FadeInPoint, p.FadeOutPoint)
	}
	if !(p.StartTime <= p.LeadInPoint && p.LeadInPoint <= p.LeadOutPoint) {
		return fmt.Errorf("passage lead points out of order: start=%d lead_in=%d lead_out=%d",
			p.StartTime, p.LeadInPoint, p.LeadOutPoint)
	}
	return nil
}

// ApplyDefaults fills in the optional-field defaults of spec.md §6, in
// order: fade_in/lead_in default to start_time; fade_out/lead_out
// default to end_time (left zero if end_time is still undefined, to be
// re-derived once the endpoint is discovered); fade curves default to
// linear (the Curve zero value already is Linear).
func (p *Passage) ApplyDefaults() {
	if p.FadeInPoint == 0 {
		p.FadeInPoint = p.StartTime
	}
	if p.LeadInPoint == 0 {
		p.LeadInPoint = p.StartTime
	}
	if p.EndTime != nil {
		if p.FadeOutPoint == 0 {
			p.FadeOutPoint = *p.EndTime
		}
		if p.LeadOutPoint == 0 {
			p.LeadOutPoint = *p.EndTime
		}
	}
}

// ErrorKind identifies the category of a propagated engine error, per
// spec.md §7. BufferFull is never surfaced through this type: it is an
// expected backpressure signal the decode pipeline handles internally.
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrKindFileNotFound
	ErrKindUnsupportedFormat
	ErrKindDecodeError
	ErrKindIOError
	ErrKindUnknownQueueEntry
	ErrKindInvalidState
	ErrKindDeviceError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindFileNotFound:
		return "FileNotFound"
	case ErrKindUnsupportedFormat:
		return "UnsupportedFormat"
	case ErrKindDecodeError:
		return "DecodeError"
	case ErrKindIOError:
		return "IoError"
	case ErrKindUnknownQueueEntry:
		return "UnknownQueueEntry"
	case ErrKindInvalidState:
		return "InvalidState"
	case ErrKindDeviceError:
		return "DeviceError"
	default:
		return "None"
	}
}

// EngineError wraps an underlying error with the §7 classification the
// API layer and event bus need to report it correctly.
type EngineError struct {
	Kind ErrorKind
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError constructs an EngineError of the given kind wrapping err.
func NewEngineError(kind ErrorKind, err error) *EngineError {
	return &EngineError{Kind: kind, Err: err}
}

// PersistenceSink is the persistence collaborator spec.md §6 describes:
// the engine is the source of truth and merely informs persistence of
// state changes. A failure here must never fail the engine operation
// that triggered it. The zero value of NoopPersistence satisfies this
// interface by discarding everything, so the engine runs standalone
// without a concrete database.
type PersistenceSink interface {
	PassageStarted(queueEntryID string)
	PassageCompleted(queueEntryID string, errKind ErrorKind)
	QueueCleared()
}

// NoopPersistence is the default PersistenceSink: it does nothing.
type NoopPersistence struct{}

func (NoopPersistence) PassageStarted(string)              {}
func (NoopPersistence) PassageCompleted(string, ErrorKind) {}
func (NoopPersistence) QueueCleared()                      {}
