// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Command timemachine composites a test scene, records it into a rolling
// buffer and exports the last window as a WebM file.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // overlay decoder
	_ "image/png"  // overlay decoder
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/timemachine/capture"
	"github.com/pion/timemachine/chunkbuf"
	"github.com/pion/timemachine/compositor"
	"github.com/pion/timemachine/config"
	"github.com/pion/timemachine/console"
	"github.com/pion/timemachine/layer"
	tmlogging "github.com/pion/timemachine/logging"
	"github.com/pion/timemachine/muxer"
	"github.com/pion/timemachine/muxer/codecs"
	"github.com/pion/timemachine/stats"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var errUnknownFlag = errors.New("flag not defined")

func newRootCommand() *cobra.Command {
	var (
		cfgFile  string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:          "timemachine",
		Short:        "Record a composited scene into a rolling replay buffer",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}
			if err = bindFlags(cmd, v); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, duration)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./timemachine.yaml)")
	flags.DurationVar(&duration, "duration", 0, "recording duration, 0 records until interrupted")
	flags.Int("width", 0, "frame width")
	flags.Int("height", 0, "frame height")
	flags.Int("fps", 0, "frame rate")
	flags.String("overlay", "", "PNG or JPEG drawn over the scene")
	flags.Duration("max-age", 0, "replay window")
	flags.String("placement", "", "buffer placement: inline or isolated")
	flags.Int("video-bitrate", 0, "pinned video bitrate in bps")
	flags.Bool("audio", true, "record a synthetic tone")
	flags.String("stats-addr", "", "stats server address, e.g. :8081")
	flags.String("export-dir", "", "directory for exported recordings")
	flags.String("log-level", "", "disable, error, warn, info, debug or trace")
	flags.String("log-file", "", "log sink: stdout, stderr or a path")
	flags.String("chunk-log", "", "CSV log of ingested chunks")

	return cmd
}

// bindFlags overrides config keys with the flags set on the command line.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	keys := map[string]string{
		"width":         "compositor.width",
		"height":        "compositor.height",
		"fps":           "compositor.fps",
		"overlay":       "compositor.overlay",
		"max-age":       "recorder.max_age",
		"placement":     "recorder.placement",
		"video-bitrate": "recorder.video_bitrate",
		"audio":         "audio.enabled",
		"stats-addr":    "stats.addr",
		"export-dir":    "export.dir",
		"log-level":     "logging.level",
		"log-file":      "logging.file",
		"chunk-log":     "logging.chunk_log",
	}
	for name, key := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("%w: %s", errUnknownFlag, name)
		}
		if !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}

	return nil
}

//nolint:cyclop
func run(ctx context.Context, cfg *config.Config, duration time.Duration) error {
	logFile, err := tmlogging.GetLogFile(cfg.Logging.File)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := logFile.Close(); closeErr != nil {
			log.Printf("failed to close log file: %v", closeErr)
		}
	}()
	loggerFactory, err := tmlogging.NewLoggerFactory(cfg.Logging.Level, logFile, cfg.Logging.Scopes)
	if err != nil {
		return err
	}
	logger := loggerFactory.NewLogger("timemachine")

	chunkLog, err := tmlogging.GetLogFile(cfg.Logging.ChunkLog)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := chunkLog.Close(); closeErr != nil {
			logger.Errorf("failed to close chunk log: %v", closeErr)
		}
	}()

	rt, err := muxer.NewRuntime(append(codecs.Options(),
		muxer.WithDefaultBitrates(cfg.Recorder.VideoBitrate, cfg.Recorder.AudioBitrate),
		muxer.WithLoggerFactory(loggerFactory),
	)...)
	if err != nil {
		return err
	}
	logger.Infof("registered codecs: %v", rt.Codecs())

	consoleCfg, err := cfg.Console()
	if err != nil {
		return err
	}

	// The isolated buffer worker is the only goroutine the group may run.
	workers := &errgroup.Group{}
	workers.SetLimit(1)

	tm, err := console.New(consoleCfg, rt,
		console.WithLoggerFactory(loggerFactory),
		console.WithBufferOptions(
			chunkbuf.WithExecutor(workers),
			chunkbuf.WithChunkLog(chunkLog),
		),
	)
	if err != nil {
		return err
	}

	if err = setupScene(tm, cfg); err != nil {
		tm.Destroy()

		return err
	}

	var bus capture.AudioBus
	if cfg.Audio.Enabled {
		bus = capture.NewToneBus(cfg.Audio.Frequency)
	}
	if err = tm.InitRecorder(bus); err != nil {
		tm.Destroy()

		return err
	}
	if err = tm.StartRecording(cfg.Recorder.Timeslice); err != nil {
		tm.Destroy()

		return err
	}
	logger.Infof("recording %dx%d@%d into a %v window",
		cfg.Compositor.Width, cfg.Compositor.Height, cfg.Compositor.FPS, cfg.Recorder.MaxAge)

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	group, gctx := errgroup.WithContext(ctx)
	server := stats.NewServer(stats.WithServerLoggerFactory(loggerFactory))
	if cfg.Stats.Addr != "" {
		group.Go(func() error {
			return server.Start(gctx, cfg.Stats.Addr)
		})
	}
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Stats.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				snap := tm.Stats()
				server.Publish(snap)
				logger.Debugf("fps %d, dropped %d, recording %v", snap.FPS, snap.DroppedFrames, snap.Recording)
			}
		}
	})
	if err = group.Wait(); err != nil {
		logger.Errorf("stopping: %v", err)
	}

	export := tm.Flush()
	tm.Destroy()
	if waitErr := workers.Wait(); waitErr != nil {
		logger.Warnf("buffer worker: %v", waitErr)
	}

	measured := chunkbuf.EstimateBitrate(export.TotalSize, export.DurationMs)
	verdict := stats.VerifyBitrate(measured, int64(cfg.Stats.TargetBitrate), cfg.Stats.Tolerance)
	logger.Info(verdict.String())

	if export.ChunkCount == 0 {
		logger.Warn("nothing recorded, skipping export")

		return err
	}
	path, saveErr := tm.SaveExport(cfg.Export.Dir, cfg.Export.Prefix, export)
	if saveErr != nil {
		return saveErr
	}
	fmt.Println(path) //nolint:forbidigo

	return err
}

// setupScene puts a moving test pattern in the base slot and the configured
// overlay image on top.
func setupScene(tm *console.Console, cfg *config.Config) error {
	pattern := layer.NewTestPattern(cfg.Compositor.Width, cfg.Compositor.Height)
	if err := tm.SetLayer(compositor.SlotBase, pattern); err != nil {
		return err
	}
	if cfg.Compositor.Overlay == "" {
		return nil
	}

	img, err := loadImage(cfg.Compositor.Overlay)
	if err != nil {
		return err
	}

	return tm.SetLayer(compositor.SlotOverlay, layer.NewImage(img))
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return img, nil
}

func realMain() error {
	return newRootCommand().ExecuteContext(context.Background())
}

func main() {
	if err := realMain(); err != nil {
		log.Fatal(err)
	}
}
