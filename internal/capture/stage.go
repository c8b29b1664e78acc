package capture

import (
	"context"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/frameq"
)

// Open retry policy. A camera that cannot be opened after these attempts is
// fatal to the stage: it raises the shared capture-failed flag and exits.
const (
	maxOpenRetries = 5
	openRetryDelay = 500 * time.Millisecond
)

// Stage is the capture stage. It opens the camera, derives FrameInfo from
// the first frame, then reads in a tight loop and try-pushes each frame
// downstream.
type Stage struct {
	cam        Camera
	cfg        *config.Shared
	log        *slog.Logger
	retryDelay time.Duration
}

// NewStage creates the capture stage around an opened-on-demand camera.
func NewStage(cam Camera, cfg *config.Shared, log *slog.Logger) *Stage {
	return &Stage{
		cam:        cam,
		cfg:        cfg,
		log:        log,
		retryDelay: openRetryDelay,
	}
}

// Run drives the capture loop until the shared running flag drops or ctx is
// cancelled. The camera is released on every exit path.
func (s *Stage) Run(ctx context.Context, out *frameq.Queue[Frame], info chan<- FrameInfo) {
	defer s.cam.Close()

	if !s.open(ctx) {
		s.log.Error("camera unavailable, giving up", "retries", maxOpenRetries)
		s.fail()
		return
	}

	// First frame only establishes the geometry; it is not forwarded.
	first := gocv.NewMat()
	if !s.cam.Read(&first) {
		first.Close()
		s.log.Error("could not read the first frame")
		s.fail()
		return
	}
	fi := NewFrameInfo(first.Cols(), first.Rows())
	first.Close()

	select {
	case info <- fi:
	case <-ctx.Done():
		return
	}
	s.log.Info("capture started", "width", fi.Width, "height", fi.Height)

	meter := newFPSMeter()
	for s.cfg.Running() && ctx.Err() == nil {
		if s.cfg.ConsumeColorChanged() {
			s.cam.SetColor(s.cfg.Brightness(), s.cfg.Contrast())
		}

		mat := gocv.NewMat()
		if !s.cam.Read(&mat) {
			// Transient read failure: drop it and try again immediately.
			mat.Close()
			continue
		}

		frame := Frame{Mat: mat, FPS: meter.tick(time.Now())}
		if !out.TryPut(frame) {
			frame.Close()
		}
	}

	s.log.Info("capture stopped")
}

// fail records a fatal capture failure and drops the running flag, so the
// downstream stages wind down instead of waiting on frames that will never
// come.
func (s *Stage) fail() {
	s.cfg.SetCaptureFailed(true)
	s.cfg.SetRunning(false)
}

// open tries to open the camera, retrying with a backoff. The last failed
// attempt reports immediately; there is nothing left to wait for.
func (s *Stage) open(ctx context.Context) bool {
	for attempt := 1; attempt <= maxOpenRetries; attempt++ {
		err := s.cam.Open()
		if err == nil {
			return true
		}
		s.log.Warn("camera open failed", "attempt", attempt, "error", err)
		if attempt == maxOpenRetries {
			break
		}

		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
			return false
		}
	}
	return false
}
