// Package capture owns the camera device and produces the raw frames the
// rest of the pipeline consumes, using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default device settings, matching the clinical capture head.
const (
	DefaultWidth  = 960
	DefaultHeight = 540
	DefaultFPS    = 120
)

// ErrCameraUnavailable is reported when the device cannot be opened after
// the configured number of retries.
var ErrCameraUnavailable = errors.New("camera unavailable")

// DeviceSettings describes how the camera device is opened and configured.
type DeviceSettings struct {
	DeviceID   int
	Width      int
	Height     int
	FPS        int
	Brightness int
	Contrast   int
}

// Camera is the capture stage's view of a camera device.
type Camera interface {
	// Open opens the device and applies the configured settings.
	Open() error

	// Read reads the next frame into dst and reports success. A false
	// return is a transient condition; the caller just tries again.
	Read(dst *gocv.Mat) bool

	// SetColor applies new brightness and contrast to the open device.
	SetColor(brightness, contrast int)

	// IsOpened reports whether the device is currently open.
	IsOpened() bool

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Device is the gocv-backed Camera used in production.
type Device struct {
	settings DeviceSettings
	mu       sync.Mutex
	cap      *gocv.VideoCapture
}

// NewDevice creates a Device for the given settings. The device is not
// opened until Open is called.
func NewDevice(settings DeviceSettings) *Device {
	return &Device{settings: settings}
}

// Open opens the device and pins it to the configured mode: MJPG transport,
// requested resolution and frame rate, autofocus off, fixed auto-exposure,
// driver buffer of one frame so reads always return the newest image.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap != nil {
		return nil
	}

	cap, err := gocv.OpenVideoCapture(d.settings.DeviceID)
	if err != nil {
		return fmt.Errorf("open device %d: %w", d.settings.DeviceID, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("open device %d: %w", d.settings.DeviceID, ErrCameraUnavailable)
	}

	cap.Set(gocv.VideoCaptureFOURCC, cap.ToCodec("MJPG"))
	cap.Set(gocv.VideoCaptureFrameWidth, float64(d.settings.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(d.settings.Height))
	cap.Set(gocv.VideoCaptureFPS, float64(d.settings.FPS))
	cap.Set(gocv.VideoCaptureAutoFocus, 0)
	cap.Set(gocv.VideoCaptureAutoExposure, 3)
	cap.Set(gocv.VideoCaptureBufferSize, 1)
	cap.Set(gocv.VideoCaptureBrightness, float64(d.settings.Brightness))
	cap.Set(gocv.VideoCaptureContrast, float64(d.settings.Contrast))

	d.cap = cap
	return nil
}

// Read reads the next frame into dst.
func (d *Device) Read(dst *gocv.Mat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return false
	}
	if ok := d.cap.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// SetColor applies new brightness and contrast to the open device.
func (d *Device) SetColor(brightness, contrast int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return
	}
	d.cap.Set(gocv.VideoCaptureBrightness, float64(brightness))
	d.cap.Set(gocv.VideoCaptureContrast, float64(contrast))
}

// IsOpened reports whether the device is currently open.
func (d *Device) IsOpened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cap != nil
}

// Close releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return nil
	}
	err := d.cap.Close()
	d.cap = nil
	return err
}
