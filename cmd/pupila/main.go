package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/ebanchero/pupila/internal/capture"
	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/detect"
	"github.com/ebanchero/pupila/internal/pipeline"
	"github.com/ebanchero/pupila/internal/server"
	"github.com/ebanchero/pupila/internal/store"
)

func main() {
	var (
		cameraID    = flag.Int("camera", 0, "camera device id")
		width       = flag.Int("width", capture.DefaultWidth, "capture width")
		height      = flag.Int("height", capture.DefaultHeight, "capture height")
		fps         = flag.Int("fps", capture.DefaultFPS, "capture frame rate")
		brightness  = flag.Int("brightness", 0, "initial camera brightness")
		contrast    = flag.Int("contrast", 50, "initial camera contrast")
		addr        = flag.String("addr", ":8080", "http listen address")
		dbPath      = flag.String("db", "", "sqlite database path (default ~/.pupila/pupila.db)")
		detectorCmd = flag.String("detector-cmd", "python3 scripts/eye_service.py", "eye detector service command")
		profileName = flag.String("profile", "", "tuning profile to load at boot")
		staticDir   = flag.String("static", "", "directory of static web assets")
		autostart   = flag.Bool("autostart", true, "start the pipeline at boot")
		debug       = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(log)

	path := *dbPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Error("cannot resolve home directory", "error", err)
			os.Exit(1)
		}
		dir := filepath.Join(homeDir, ".pupila")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("cannot create data directory", "dir", dir, "error", err)
			os.Exit(1)
		}
		path = filepath.Join(dir, "pupila.db")
	}

	st, err := store.New(path)
	if err != nil {
		log.Error("store init failed", "path", path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	settings := config.DefaultSettings(*width, *height, *brightness, *contrast)
	if *profileName != "" {
		profile, err := st.Profiles().GetByName(*profileName)
		if err != nil {
			log.Error("profile not found", "profile", *profileName, "error", err)
			os.Exit(1)
		}
		settings = profile.Settings
		log.Info("profile loaded", "profile", profile.Name)
	}

	ctrl := pipeline.New(pipeline.Options{
		Device: capture.DeviceSettings{
			DeviceID:   *cameraID,
			Width:      *width,
			Height:     *height,
			FPS:        *fps,
			Brightness: settings.Brightness,
			Contrast:   settings.Contrast,
		},
		Settings: settings,
		DetectorFactory: func() (detect.Detector, error) {
			return detect.NewServiceDetector(strings.Fields(*detectorCmd), detect.DefaultConfig())
		},
		Log: log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pump := server.NewPump(ctrl.Output(), log)
	go pump.Run(ctx)

	srv := server.New(server.Config{
		StaticDir:  *staticDir,
		Store:      st,
		Controller: ctrl,
		Pump:       pump,
		Log:        log,
	})

	if *autostart {
		if err := ctrl.Start(); err != nil {
			log.Error("pipeline start failed", "error", err)
			os.Exit(1)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", *addr)
		errCh <- srv.ListenAndServe(*addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("http server failed", "error", err)
	}

	if err := ctrl.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		log.Warn("pipeline stop", "error", err)
	}
}
