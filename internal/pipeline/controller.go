// Package pipeline assembles the capture, detection and processing stages
// into a supervised unit with a start/stop/reconfigure lifecycle.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ebanchero/pupila/internal/capture"
	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/detect"
	"github.com/ebanchero/pupila/internal/frameq"
	"github.com/ebanchero/pupila/internal/pupil"
)

// Lifecycle errors.
var (
	ErrNotStopped = errors.New("pipeline is not stopped")
	ErrNotRunning = errors.New("pipeline is not running")
)

// State is the controller's lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Shutdown escalation timings: stages get joinTimeout to observe the
// cooperative running flag, then cancelGrace after the hard context cancel
// before they are abandoned. restartCooldown is the minimum gap between a
// stop and the next start so the OS releases the video device.
const (
	defaultJoinTimeout     = time.Second
	defaultCancelGrace     = 500 * time.Millisecond
	defaultRestartCooldown = 1500 * time.Millisecond
)

// Options configures a Controller. The factories exist so tests can inject
// mock cameras and detectors; both have production defaults.
type Options struct {
	Device   capture.DeviceSettings
	Settings config.Settings

	CameraFactory   func(capture.DeviceSettings) capture.Camera
	DetectorFactory func() (detect.Detector, error)

	JoinTimeout     time.Duration
	CancelGrace     time.Duration
	RestartCooldown time.Duration

	Log *slog.Logger
}

// Controller owns the three stage goroutines and the queues between them.
//
// The output queue is created once and survives restarts, so a consumer that
// grabbed it keeps working across Stop/Start and Reconfigure.
type Controller struct {
	mu   sync.Mutex
	opts Options
	log  *slog.Logger

	state     State
	cfg       *config.Shared
	det       detect.Detector
	cancel    context.CancelFunc
	stagesEnd chan struct{}
	stoppedAt time.Time

	frames   *frameq.Queue[capture.Frame]
	contexts *frameq.Queue[detect.Context]
	output   *frameq.Queue[pupil.Result]
}

// New creates a stopped Controller.
func New(opts Options) *Controller {
	if opts.CameraFactory == nil {
		opts.CameraFactory = func(s capture.DeviceSettings) capture.Camera {
			return capture.NewDevice(s)
		}
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	if opts.RestartCooldown <= 0 {
		opts.RestartCooldown = defaultRestartCooldown
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Controller{
		opts:   opts,
		log:    opts.Log,
		cfg:    config.New(opts.Settings),
		output: frameq.New[pupil.Result](frameq.Capacity),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the live shared tuning state. The returned pointer is
// replaced on Reconfigure; callers should re-fetch it per use.
func (c *Controller) Config() *config.Shared {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Output returns the result queue consumed by the delivery layer. Stable
// across restarts.
func (c *Controller) Output() *frameq.Queue[pupil.Result] { return c.output }

// Device returns the device settings of the current (or next) run.
func (c *Controller) Device() capture.DeviceSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Device
}

// CaptureFailed reports whether the capture stage gave up on the camera
// since the last start.
func (c *Controller) CaptureFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.CaptureFailed()
}

// Start launches the three stage goroutines. It fails if the pipeline is not
// fully stopped.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

func (c *Controller) startLocked() error {
	if c.state != Stopped {
		return ErrNotStopped
	}
	c.state = Starting

	det, err := c.newDetector()
	if err != nil {
		c.state = Stopped
		return err
	}
	c.det = det
	cam := c.opts.CameraFactory(c.opts.Device)

	c.frames = frameq.New[capture.Frame](frameq.Capacity)
	c.contexts = frameq.New[detect.Context](frameq.Capacity)
	info := make(chan capture.FrameInfo, 1)

	c.cfg.SetCaptureFailed(false)
	c.cfg.SetRunning(true)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.stagesEnd = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		capture.NewStage(cam, c.cfg, c.log).Run(ctx, c.frames, info)
	}()
	go func() {
		defer wg.Done()
		detect.NewStage(det, c.cfg, c.log).Run(ctx, c.frames, c.contexts, info)
	}()
	go func() {
		defer wg.Done()
		pupil.NewStage(c.cfg, c.log).Run(ctx, c.contexts, c.output)
	}()

	end := c.stagesEnd
	go func() {
		wg.Wait()
		close(end)
	}()

	c.state = Running
	c.log.Info("pipeline started",
		"device", c.opts.Device.DeviceID,
		"width", c.opts.Device.Width,
		"height", c.opts.Device.Height,
		"fps", c.opts.Device.FPS)
	return nil
}

func (c *Controller) newDetector() (detect.Detector, error) {
	if c.opts.DetectorFactory != nil {
		return c.opts.DetectorFactory()
	}
	return nil, errors.New("no detector configured")
}

// Stop brings the pipeline down. Stages first get a cooperative window to
// observe the dropped running flag, then the shared context is cancelled,
// and a stage that still does not exit is abandoned with a warning rather
// than blocking shutdown forever.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if c.state != Running {
		return ErrNotRunning
	}
	c.state = Stopping

	c.cfg.SetRunning(false)

	select {
	case <-c.stagesEnd:
	case <-time.After(c.opts.JoinTimeout):
		c.log.Warn("stages missed the cooperative stop window, cancelling")
		c.cancel()
		select {
		case <-c.stagesEnd:
		case <-time.After(c.opts.CancelGrace):
			c.log.Warn("abandoning unresponsive stage goroutines")
			// An abandoned detect stage never reaches its own deferred
			// Close, and is most likely stuck on an inference reply.
			// Closing the detector here kills the service process, which
			// both reaps the child and unblocks the pending read.
			if err := c.det.Close(); err != nil {
				c.log.Warn("detector shutdown after abandonment", "error", err)
			}
		}
	}
	c.cancel()

	c.frames.Drain(func(f capture.Frame) { f.Close() })
	c.contexts.Drain(func(d detect.Context) { d.Close() })
	c.output.Drain(func(r pupil.Result) { r.Close() })

	c.stoppedAt = time.Now()
	c.state = Stopped
	c.log.Info("pipeline stopped")
	return nil
}

// Reconfigure restarts the pipeline with new device settings while carrying
// the current tuning over. dev is taken as the complete new device
// configuration: its brightness and contrast become the live color tuning,
// so a caller changing only the geometry must fill them in from the current
// state. The shared config is recreated so no stale changed flag or ROI from
// the old geometry leaks into the new run, and the restart waits out the
// cooldown so the OS has released the device.
func (c *Controller) Reconfigure(dev capture.DeviceSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := c.cfg.Snapshot()
	snapshot.Brightness = dev.Brightness
	snapshot.Contrast = dev.Contrast

	if c.state == Running {
		if err := c.stopLocked(); err != nil {
			return err
		}
	}
	if c.state != Stopped {
		return ErrNotStopped
	}

	if wait := c.opts.RestartCooldown - time.Since(c.stoppedAt); wait > 0 {
		time.Sleep(wait)
	}

	c.opts.Device = dev
	c.cfg = config.New(snapshot)
	return c.startLocked()
}
