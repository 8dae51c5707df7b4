// Command wkmpd is the playback engine daemon: it loads configuration,
// wires pkg/engine against a real decoder factory and PortAudio output
// device, exposes the control surface over HTTP, and runs until signaled.
//
// Grounded on the teacher's cmd/player.go: PortAudio Initialize/Terminate
// bracketing, signal handling via os/signal + syscall.SIGTERM, and the
// slog-based verbose/info logging split. The one-process-many-goroutines
// shutdown sequence (HTTP server close, engine shutdown, device stop)
// generalizes cmd/player.go's single player.Stop() into the engine's own
// multi-task Shutdown plus the device Sink's separate lifecycle.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"

	"github.com/wkmp/playback/internal/config"
	"github.com/wkmp/playback/internal/device"
	"github.com/wkmp/playback/internal/httpapi"
	"github.com/wkmp/playback/pkg/engine"
	"github.com/wkmp/playback/pkg/types"
)

var (
	cfg        config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "wkmpd",
	Short: "WKMP gapless audio playback engine daemon",
	Long: `wkmpd runs the audio playback engine core: a queue of passages is
decoded, resampled, faded, and crossfaded into a single gapless stereo
output stream, driven by an HTTP control surface.

Examples:
  # Run with defaults, control surface on :8080
  wkmpd

  # Load tunables from a YAML file, override the output device
  wkmpd --config wkmpd.yaml --device 2

  # Verbose (debug-level) logging
  wkmpd -v`,
	RunE: runDaemon,
}

func init() {
	// --config is consulted before the rest of the flags are registered
	// so their displayed defaults (and unset values) reflect the file,
	// not just the hardcoded baseline; any flag the user does pass still
	// wins, since cobra applies flag values after this point.
	configPath = preScanConfigFlag(os.Args[1:])
	loaded, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wkmpd: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded

	rootCmd.Flags().StringVar(&configPath, "config", configPath, "path to a YAML config file")
	config.RegisterFlags(rootCmd.Flags(), &cfg)
}

// preScanConfigFlag looks for a --config value (given as "--config path"
// or "--config=path") among raw args so
// it can be loaded before cobra's own flag parsing runs.
func preScanConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("wkmpd: failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()
	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())

	eng := engine.New(cfg.EngineConfig(), engine.PipelineFactoryFor, types.NoopPersistence{})

	sink := device.NewSink(eng.Ring(), cfg.DeviceConfig())
	if err := sink.Start(); err != nil {
		return fmt.Errorf("wkmpd: failed to start audio output: %w", err)
	}

	eng.Start()

	router := httpapi.NewRouter(eng)
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP control surface listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", "signal", sig)
	case err := <-serverErr:
		slog.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	eng.Shutdown()
	if err := sink.Stop(); err != nil {
		slog.Warn("audio output shutdown error", "error", err)
	}

	slog.Info("wkmpd exiting")
	return nil
}
