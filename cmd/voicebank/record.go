package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/voicebank/internal/app"
	"github.com/MrWong99/voicebank/internal/capture"
	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/observe"
)

// record captures one clip from the microphone, normalises it and writes the
// canonical WAV to disk. Ctrl+C stops the capture early.
func record(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	out := fs.String("o", "take.wav", "output WAV file")
	device := fs.String("device", cfg.Audio.Device, "input device ID (empty = system default)")
	maxDur := fs.Duration("max", cfg.Audio.MaxDuration, "auto-stop after this long")
	list := fs.Bool("list", false, "list input devices and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	platform, err := reg.CreateAudio(config.ProviderEntry{Name: "miniaudio"})
	if err != nil {
		slog.Error("failed to open audio backend", "err", err)
		return 1
	}
	if c, ok := platform.(io.Closer); ok {
		defer c.Close()
	}

	metrics := observe.DefaultMetrics()
	session, err := capture.New(capture.Config{
		Platform:      platform,
		MaxDuration:   cfg.Audio.MaxDuration,
		Timeslice:     cfg.Audio.Timeslice,
		LevelInterval: cfg.Audio.LevelInterval,
		OnLevel:       drawLevel,
		Metrics:       metrics,
	})
	if err != nil {
		slog.Error("failed to create capture session", "err", err)
		return 1
	}
	defer session.Close()

	if *list {
		for _, d := range session.Devices(ctx) {
			mark := " "
			if d.Default {
				mark = "*"
			}
			fmt.Printf("%s %-40s %s\n", mark, d.ID, d.Label)
		}
		return 0
	}

	ctrl, err := app.NewIngestController(cfg, metrics, slog.Default())
	if err != nil {
		slog.Error("failed to create pipeline", "err", err)
		return 1
	}

	rec, err := session.Start(ctx, capture.StartOptions{DeviceID: *device, MaxDuration: *maxDur})
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrPermissionDenied):
			fmt.Fprintln(os.Stderr, "voicebank: microphone access was denied, allow it in your system settings and try again")
		case errors.Is(err, capture.ErrDeviceUnavailable):
			fmt.Fprintln(os.Stderr, "voicebank: no usable microphone found, check the device ID with 'record -list'")
		default:
			fmt.Fprintf(os.Stderr, "voicebank: %v\n", err)
		}
		return 1
	}
	fmt.Fprintf(os.Stderr, "recording for up to %s, press Ctrl+C to stop\n", *maxDur)

	select {
	case <-rec.Done():
	case <-ctx.Done():
		rec.Stop()
	}
	capt, err := rec.Result()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicebank: capture failed: %v\n", err)
		return 1
	}

	// The signal context may already be cancelled; processing still runs.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	res, err := ctrl.IngestRecording(pctx, capt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicebank: could not process the recording: %v\n", err)
		return 1
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "  ! %s\n", w)
	}
	if !res.IsValid {
		fmt.Fprintln(os.Stderr, "voicebank: recording rejected, please record again")
		return 1
	}

	if err := os.WriteFile(*out, res.Blob.Data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "voicebank: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%.1fs, %s, rms %.3f, peak %.3f)\n",
		*out, res.Metrics.Seconds(), cfg.Audio.Format(), res.Metrics.RMSLevel, res.Metrics.PeakLevel)
	return 0
}

// drawLevel renders the meter on a single terminal line.
func drawLevel(level float64) {
	n := int(level / 5)
	fmt.Fprintf(os.Stderr, "\r[%-20s] %3.0f", strings.Repeat("#", n), level)
}
