// Package device is the audio-device adapter spec.md §6 describes as
// "assumes a 44,100 Hz device stream": it owns the PortAudio output
// stream, the real-time callback-equivalent consumer loop, and the
// int16 PCM conversion the device actually wants, so that nothing in
// pkg/outputring or pkg/mixer has to know about a concrete audio API.
//
// Grounded on the teacher's pkg/audioplayer/player.go: Config/NewPlayer/
// Play/Stop's lifecycle shape, initStream's PortAudio parameter setup,
// and consumer()'s read-convert-write loop and per-iteration metrics.
// The teacher's producer goroutine has no counterpart here — spec.md's
// mixer refill task (pkg/engine) is the producer that fills the ring;
// this package only ever drains it, matching spec.md §4.2's "no locks,
// no allocation, no system calls on the read path" by doing the int16
// conversion into a single reused buffer rather than allocating per call.
package device

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/wkmp/playback/pkg/outputring"
	"github.com/wkmp/playback/pkg/types"
)

// Config holds the PortAudio-facing knobs spec.md §6 leaves to the
// "external collaborator" audio device interface.
type Config struct {
	SampleRate      int // must be 44100 per spec.md §6; the engine works at WorkingSampleRate
	FramesPerBuffer int
	DeviceIndex     int // -1 selects PortAudio's default output device
}

// DefaultConfig mirrors the teacher's audioplayer.DefaultConfig balanced
// buffer/latency tradeoff, adjusted to the working sample rate.
func DefaultConfig() Config {
	return Config{
		SampleRate:      44100,
		FramesPerBuffer: 512,
		DeviceIndex:     -1,
	}
}

// Sink drains pkg/outputring.Ring at device rate and writes int16 PCM
// frames to a PortAudio stream. It is the sole consumer of the ring, as
// spec.md §5's shared-resource policy requires.
type Sink struct {
	ring *outputring.Ring
	cfg  Config

	stream   *portaudio.PaStream
	streamMx sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	framesPlayed atomic.Uint64
	underruns    atomic.Uint64
	startTime    time.Time
}

// NewSink creates a Sink draining ring. Start opens the PortAudio
// stream and begins the consumer loop.
func NewSink(ring *outputring.Ring, cfg Config) *Sink {
	return &Sink{
		ring:   ring,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start opens and starts the PortAudio output stream, then launches the
// consumer goroutine. Mirrors audioplayer.Player.Play's ordering:
// stream first, then the draining goroutine.
func (s *Sink) Start() error {
	if err := s.initStream(); err != nil {
		return fmt.Errorf("device: failed to initialize audio stream: %w", err)
	}
	if err := s.stream.StartStream(); err != nil {
		return fmt.Errorf("device: failed to start stream: %w", err)
	}

	s.startTime = time.Now()
	s.wg.Add(1)
	go s.run()

	slog.Info("device: output stream started",
		"sample_rate", s.cfg.SampleRate,
		"frames_per_buffer", s.cfg.FramesPerBuffer,
		"device_index", s.cfg.DeviceIndex)
	return nil
}

// Stop signals the consumer goroutine to exit, waits for it, then tears
// down the PortAudio stream. Spec.md §3's "teardown waits for ... the
// output stream to stop" ownership rule.
func (s *Sink) Stop() error {
	close(s.stopCh)
	s.wg.Wait()

	s.streamMx.Lock()
	defer s.streamMx.Unlock()
	if s.stream == nil {
		return nil
	}
	if err := s.stream.StopStream(); err != nil {
		slog.Warn("device: failed to stop stream", "error", err)
	}
	if err := s.stream.Close(); err != nil {
		slog.Warn("device: failed to close stream", "error", err)
	}
	s.stream = nil
	return nil
}

func (s *Sink) initStream() error {
	outParams := portaudio.PaStreamParameters{
		DeviceIndex:  s.cfg.DeviceIndex,
		ChannelCount: 2,
		SampleFormat: portaudio.SampleFmtInt16,
	}

	stream, err := portaudio.NewStream(outParams, float64(s.cfg.SampleRate))
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	if err := stream.Open(s.cfg.FramesPerBuffer); err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	s.stream = stream
	return nil
}

// run is the device-rate consumer: read one block of frames from the
// ring (always fully populated, real or repeated, per spec.md §4.2's
// underrun policy), convert to interleaved int16 PCM, write it out.
// Adapted from audioplayer.Player.consumer, minus format reconfiguration
// (the engine's working sample rate never changes mid-session) and
// minus the file-backed ringbuffer underrun retry (outputring.Read
// never signals "try again" — it always returns a full block).
func (s *Sink) run() {
	defer s.wg.Done()

	frames := make([]outputring.Frame, s.cfg.FramesPerBuffer)
	pcm := make([]byte, s.cfg.FramesPerBuffer*2*2) // stereo, int16

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		genuine := s.ring.Read(frames)
		if missing := len(frames) - genuine; missing > 0 {
			s.underruns.Add(uint64(missing))
		}

		for i, f := range frames {
			pcm[i*4+0], pcm[i*4+1] = int16ToBytes(floatToInt16(f[0]))
			pcm[i*4+2], pcm[i*4+3] = int16ToBytes(floatToInt16(f[1]))
		}

		s.streamMx.Lock()
		err := s.stream.Write(len(frames), pcm)
		s.streamMx.Unlock()
		if err != nil {
			slog.Error("device: failed to write to audio stream", "error", err)
			return
		}

		s.framesPlayed.Add(uint64(len(frames)))
	}
}

// floatToInt16 clamps and converts a WSR f32 sample in [-1,+1] (spec.md
// §3) to a signed 16-bit PCM sample.
func floatToInt16(v float32) int16 {
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	return int16(v * 32767)
}

func int16ToBytes(v int16) (byte, byte) {
	return byte(v), byte(v >> 8)
}

// Status returns the Sink's playback status in the teacher's
// types.PlaybackStatus shape, for anything that wants a unified
// cross-player status report (cmd/wkmpd's verbose logging, for one).
func (s *Sink) Status() types.PlaybackStatus {
	return types.PlaybackStatus{
		SampleRate:      s.cfg.SampleRate,
		Channels:        2,
		BitsPerSample:   16,
		FramesPerBuffer: s.cfg.FramesPerBuffer,
		PlayedSamples:   s.framesPlayed.Load(),
		BufferedSamples: uint64(s.ring.AvailableRead()),
		ElapsedTime:     time.Since(s.startTime),
	}
}

// Underruns returns the cumulative count of repeated-frame fallbacks
// the consumer loop has observed, spec.md §4.2's click-avoidance path.
func (s *Sink) Underruns() uint64 {
	return s.underruns.Load()
}
