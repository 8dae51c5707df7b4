// Package config loads the playback engine's tunables: the named
// parameter table of spec.md §6, defaulted and optionally overridden by
// a YAML file, then converted into the frame/tick-denominated configs
// pkg/engine and its collaborators actually consume.
//
// The YAML-load shape is grounded on doismellburning-samoyed's
// deviceid_init (read file, yaml.Unmarshal into a plain struct); here
// only a missing file falls back to defaults with a log line, while
// open, read and parse errors are returned to the caller. The
// flag-registration style on the teacher's cmd/player.go
// (*VarP calls against package-level or struct fields in one init-style
// function).
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/wkmp/playback/internal/device"
	"github.com/wkmp/playback/pkg/buffermanager"
	"github.com/wkmp/playback/pkg/decoder"
	"github.com/wkmp/playback/pkg/engine"
	"github.com/wkmp/playback/pkg/mixer"
	"github.com/wkmp/playback/pkg/tick"
)

// Config holds every named parameter of spec.md §6, plus the handful of
// ambient knobs (HTTP listen address, audio device index, refill
// cadence) the expanded spec's ambient/domain stack adds.
type Config struct {
	WorkingSampleRate          int     `yaml:"working_sample_rate"`
	MaximumDecodeStreams       int     `yaml:"maximum_decode_streams"`
	PlayoutRingbufferSize      int     `yaml:"playout_ringbuffer_size"`
	PlayoutRingbufferHeadroom  int     `yaml:"playout_ringbuffer_headroom"`
	ExhaustionThreshold        int     `yaml:"exhaustion_threshold"`
	MinBufferThresholdMs       int     `yaml:"min_buffer_threshold_ms"`
	FirstPassageThresholdMs    int     `yaml:"first_passage_threshold_ms"`
	DecodeWorkPeriodMs         int     `yaml:"decode_work_period_ms"`
	PreBufferSeconds           int     `yaml:"pre_buffer_seconds"`
	MixerMinStartLevel         int     `yaml:"mixer_min_start_level"`
	PauseDecayFactor           float64 `yaml:"pause_decay_factor"`
	PauseDecayFloor            float64 `yaml:"pause_decay_floor"`
	DefaultCrossfadeDurationMs int     `yaml:"default_crossfade_duration_ms"`

	// Ambient knobs not named in spec.md §6's table but required to run
	// a real process.
	OutputRingFrames   int    `yaml:"output_ring_frames"`
	RefillPeriodMs     int    `yaml:"refill_period_ms"`
	RefillBlockFrames  int    `yaml:"refill_block_frames"`
	StatusReportMs     int    `yaml:"status_report_ms"`
	PositionReportMs   int    `yaml:"position_report_ms"`
	HTTPAddr              string `yaml:"http_addr"`
	AudioDeviceIndex      int    `yaml:"audio_device_index"`
	DeviceFramesPerBuffer int    `yaml:"device_frames_per_buffer"`
	Verbose               bool   `yaml:"-"`
}

// Default returns spec.md §6's documented defaults plus reasonable
// ambient values for the knobs the spec doesn't name.
func Default() Config {
	return Config{
		WorkingSampleRate:          44100,
		MaximumDecodeStreams:       12,
		PlayoutRingbufferSize:      661_941,
		PlayoutRingbufferHeadroom:  441,
		ExhaustionThreshold:        220_500,
		MinBufferThresholdMs:       3000,
		FirstPassageThresholdMs:    500,
		DecodeWorkPeriodMs:         5000,
		PreBufferSeconds:           15,
		MixerMinStartLevel:         44100,
		PauseDecayFactor:           0.96875,
		PauseDecayFloor:            0.0001778,
		DefaultCrossfadeDurationMs: 0,

		OutputRingFrames:  8820,
		RefillPeriodMs:    20,
		RefillBlockFrames: 882,
		StatusReportMs:    1000,
		PositionReportMs:  100,
		HTTPAddr:              ":8080",
		AudioDeviceIndex:      -1,
		DeviceFramesPerBuffer: 512,
	}
}

// Load starts from Default and overlays any fields present in the YAML
// file at path. A missing file is not an error — the process runs on
// defaults alone, as spec.md names defaults for every parameter.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// RegisterFlags binds cfg's fields to cmd-line flags, following the
// teacher's one-call-per-field *VarP style.
func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.IntVar(&cfg.WorkingSampleRate, "working-sample-rate", cfg.WorkingSampleRate, "internal pipeline sample rate (Hz)")
	flags.IntVar(&cfg.MaximumDecodeStreams, "max-decode-streams", cfg.MaximumDecodeStreams, "number of decoder-buffer chains")
	flags.IntVar(&cfg.PlayoutRingbufferSize, "playout-buffer-frames", cfg.PlayoutRingbufferSize, "per-chain playout buffer capacity, in frames")
	flags.IntVar(&cfg.ExhaustionThreshold, "exhaustion-threshold-frames", cfg.ExhaustionThreshold, "headroom at which Exhausted fires")
	flags.IntVar(&cfg.MinBufferThresholdMs, "min-buffer-threshold-ms", cfg.MinBufferThresholdMs, "readiness threshold for subsequent passages")
	flags.IntVar(&cfg.FirstPassageThresholdMs, "first-passage-threshold-ms", cfg.FirstPassageThresholdMs, "readiness threshold for the very first passage")
	flags.IntVar(&cfg.DecodeWorkPeriodMs, "decode-work-period-ms", cfg.DecodeWorkPeriodMs, "time-based decoder yield period")
	flags.IntVar(&cfg.PreBufferSeconds, "pre-buffer-seconds", cfg.PreBufferSeconds, "partial-decode bound for back chains")
	flags.IntVar(&cfg.MixerMinStartLevel, "mixer-min-start-level", cfg.MixerMinStartLevel, "minimum buffered frames before the mixer begins drawing from a chain")
	flags.Float64Var(&cfg.PauseDecayFactor, "pause-decay-factor", cfg.PauseDecayFactor, "per-frame envelope multiplier while paused")
	flags.Float64Var(&cfg.PauseDecayFloor, "pause-decay-floor", cfg.PauseDecayFloor, "envelope floor while paused")
	flags.IntVar(&cfg.DefaultCrossfadeDurationMs, "default-crossfade-duration-ms", cfg.DefaultCrossfadeDurationMs, "crossfade duration used when neither passage defines lead points")
	flags.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "address the HTTP control surface listens on")
	flags.IntVar(&cfg.AudioDeviceIndex, "device", cfg.AudioDeviceIndex, "output audio device index, -1 for default")
	flags.IntVar(&cfg.DeviceFramesPerBuffer, "device-frames-per-buffer", cfg.DeviceFramesPerBuffer, "PortAudio frames per buffer")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")
}

// msToFrames converts a millisecond duration to working-sample-rate
// frames, rounding toward zero as the tick package's integer
// conversions do throughout the engine.
func msToFrames(ms, rate int) int64 {
	t := tick.MsToTicks(int64(ms))
	n, err := tick.TicksToSamples(t, rate)
	if err != nil {
		return 0
	}
	return n
}

// EngineConfig converts the loaded parameters into pkg/engine.Config,
// performing every ms/seconds-to-frames conversion spec.md's components
// expect at their boundaries instead of at call sites.
func (c Config) EngineConfig() engine.Config {
	rate := c.WorkingSampleRate

	return engine.Config{
		WorkingSampleRate:   rate,
		MaxDecodeStreams:    c.MaximumDecodeStreams,
		PlayoutBufferFrames: c.PlayoutRingbufferSize,
		Thresholds: buffermanager.Thresholds{
			ReadyFrames:        uint64(msToFrames(c.MinBufferThresholdMs, rate)),
			FirstPassageFrames: uint64(msToFrames(c.FirstPassageThresholdMs, rate)),
			ExhaustionFrames:   uint64(c.ExhaustionThreshold),
		},
		DecoderConfig: decoder.Config{
			DecodeWorkPeriod: time.Duration(c.DecodeWorkPeriodMs) * time.Millisecond,
		},
		MixerConfig: mixer.Config{
			PauseDecayFactor: c.PauseDecayFactor,
			PauseDecayFloor:  c.PauseDecayFloor,
			ResumeRampFrames: int64(rate) / 10, // 100ms; spec.md names no explicit value
			MinStartLevel:    uint64(c.MixerMinStartLevel),
		},
		PreBufferFrames:        int64(c.PreBufferSeconds) * int64(rate),
		DefaultCrossfadeFrames: msToFrames(c.DefaultCrossfadeDurationMs, rate),
		OutputRingFrames:       c.OutputRingFrames,
		RefillPeriod:           time.Duration(c.RefillPeriodMs) * time.Millisecond,
		RefillBlockFrames:      c.RefillBlockFrames,
		StatusReportPeriod:     time.Duration(c.StatusReportMs) * time.Millisecond,
		PositionReportPeriod:   time.Duration(c.PositionReportMs) * time.Millisecond,
	}
}

// DeviceConfig converts the loaded parameters into internal/device.Config
// for the PortAudio output adapter.
func (c Config) DeviceConfig() device.Config {
	return device.Config{
		SampleRate:      c.WorkingSampleRate,
		FramesPerBuffer: c.DeviceFramesPerBuffer,
		DeviceIndex:     c.AudioDeviceIndex,
	}
}
