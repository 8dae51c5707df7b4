// Command wkmp-bench exercises the playback engine directly against a
// list of audio files, without the HTTP control surface: it enqueues
// every file argument, starts playback, and logs each emitted event
// until the queue drains or it's interrupted.
//
// Grounded on the teacher's cmd/fileplayer.go (playlistCmd): sequential
// multi-file playback, a signal channel racing completion, and a
// periodic status logger (monitorBufferStatus/monitorPlayback), here
// generalized from "one file, one player, one status struct" to "one
// engine, N queued passages, one event stream" since pkg/engine owns
// the whole queue rather than the caller looping file-by-file.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"

	"github.com/wkmp/playback/internal/config"
	"github.com/wkmp/playback/internal/device"
	"github.com/wkmp/playback/pkg/engine"
	"github.com/wkmp/playback/pkg/types"
)

var (
	deviceIdx int
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "wkmp-bench <audio_file> [audio_file...]",
	Short: "Play a list of audio files through the playback engine core",
	Long: `wkmp-bench enqueues every file argument into the playback engine and
plays them back to back with crossfade/gapless handling, logging each
PassageStarted/PassageCompleted event and a periodic buffer-chain status
report. It exercises the same engine code path as wkmpd, minus the HTTP
control surface, for quick manual or scripted verification.

Examples:
  # Play three files in queue order
  wkmp-bench song1.mp3 song2.flac song3.wav

  # Verbose (per-second buffer status) output on a specific device
  wkmp-bench -v -d 2 *.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.Flags().IntVarP(&deviceIdx, "device", "d", -1, "audio output device index, -1 for default")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose (debug-level, per-second status) logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("wkmp-bench: failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()
	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())

	cfg := config.Default()
	cfg.AudioDeviceIndex = deviceIdx

	eng := engine.New(cfg.EngineConfig(), engine.PipelineFactoryFor, types.NoopPersistence{})

	sink := device.NewSink(eng.Ring(), cfg.DeviceConfig())
	if err := sink.Start(); err != nil {
		return fmt.Errorf("wkmp-bench: failed to start audio output: %w", err)
	}

	eng.Start()

	pending := make(map[string]string, len(args))
	for _, path := range args {
		id, err := eng.Enqueue(&types.Passage{FilePath: path})
		if err != nil {
			slog.Error("failed to enqueue file", "file", path, "error", err)
			continue
		}
		pending[id] = path
		slog.Info("enqueued", "file", path, "queue_entry_id", id)
	}

	if err := eng.Play(); err != nil {
		return fmt.Errorf("wkmp-bench: failed to start playback: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go watchEvents(eng, pending, done)

	select {
	case <-done:
		slog.Info("all files completed")
	case sig := <-sigCh:
		slog.Info("signal received, stopping", "signal", sig)
	}

	eng.Shutdown()
	if err := sink.Stop(); err != nil {
		slog.Warn("audio output shutdown error", "error", err)
	}
	slog.Info("wkmp-bench exiting")
	return nil
}

// watchEvents logs each engine event and closes done once every
// enqueued passage has reported PassageCompleted, mirroring
// cmd/fileplayer.go's per-file completion loop collapsed onto the
// engine's single event stream.
func watchEvents(eng *engine.Engine, pending map[string]string, done chan struct{}) {
	lastStatus := time.Now()
	for ev := range eng.Events() {
		switch ev.Kind {
		case engine.EventPassageStarted:
			slog.Info("passage started", "file", pending[ev.QueueEntryID])
		case engine.EventPassageCompleted:
			if ev.ErrorKind != types.ErrKindNone {
				slog.Error("passage failed", "file", pending[ev.QueueEntryID], "error_kind", ev.ErrorKind.String())
			} else {
				slog.Info("passage completed", "file", pending[ev.QueueEntryID])
			}
			delete(pending, ev.QueueEntryID)
			if len(pending) == 0 {
				close(done)
				return
			}
		case engine.EventBufferChainStatus:
			if time.Since(lastStatus) >= time.Second {
				lastStatus = time.Now()
				slog.Debug("buffer chain status", "chains", ev.Chains)
			}
		}
	}
}
