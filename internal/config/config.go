// Package config holds the tuning state shared by every pipeline stage.
//
// Each field is an independently atomic scalar: the controller or the HTTP
// layer writes a field while the stages read it mid-frame. Readers may
// observe a value that is stale by one frame but never a torn write, and no
// invariant spans more than one field, so there is no struct-wide lock.
package config

import (
	"math"
	"sync/atomic"
)

// Eye indices used throughout the pipeline. The camera view is mirrored, so
// the subject's right eye appears on the left half of the frame.
const (
	EyeRight = 0
	EyeLeft  = 1
)

// Default tuning values.
const (
	DefaultNoseWidthRatio = 0.25
	DefaultEyeHeightRatio = 0.40
)

// ROI is an axis-aligned eye region in canvas-absolute pixel coordinates.
type ROI struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Settings is a plain-value snapshot of every tunable field. It is what gets
// persisted as a profile, served over the API, and carried across a
// stop-then-recreate reconfiguration.
type Settings struct {
	Threshold      [2]int  `json:"threshold"`
	Erode          [2]int  `json:"erode"`
	NoseWidthRatio float64 `json:"nose_width_ratio"`
	EyeHeightRatio float64 `json:"eye_height_ratio"`
	Brightness     int     `json:"brightness"`
	Contrast       int     `json:"contrast"`
	UseModel       bool    `json:"use_model"`
	FixedROI       [2]ROI  `json:"fixed_roi"`
}

// DefaultSettings returns the boot tuning for a frame of the given size.
// The fixed ROIs start as generous halves of the upper frame so that
// fixed-ROI mode is usable before any model detection has calibrated them.
func DefaultSettings(width, height, brightness, contrast int) Settings {
	return Settings{
		NoseWidthRatio: DefaultNoseWidthRatio,
		EyeHeightRatio: DefaultEyeHeightRatio,
		Brightness:     brightness,
		Contrast:       contrast,
		UseModel:       true,
		FixedROI: [2]ROI{
			EyeRight: {X1: 0, Y1: height / 10, X2: width * 4 / 10, Y2: height / 2},
			EyeLeft:  {X1: width * 6 / 10, Y1: height / 10, X2: width, Y2: height / 2},
		},
	}
}

// Shared is the live, process-shared pipeline configuration.
type Shared struct {
	threshold [2]atomic.Int32
	erode     [2]atomic.Int32

	noseWidth  atomic.Uint64 // float64 bits
	eyeHeight  atomic.Uint64 // float64 bits
	brightness atomic.Int32
	contrast   atomic.Int32

	changedNose      atomic.Bool
	changedEyeHeight atomic.Bool
	changedColor     atomic.Bool

	useModel   atomic.Bool
	sliderHeld atomic.Bool

	fixedROI [2][4]atomic.Int32

	running       atomic.Bool
	captureFailed atomic.Bool
}

// New creates a Shared seeded from s.
func New(s Settings) *Shared {
	c := &Shared{}
	c.Apply(s)
	return c
}

// Apply copies every field of s into the shared state without raising the
// changed flags; it is meant for boot and for the reconfigure transfer.
func (c *Shared) Apply(s Settings) {
	for eye := 0; eye < 2; eye++ {
		c.threshold[eye].Store(int32(s.Threshold[eye]))
		c.erode[eye].Store(int32(s.Erode[eye]))
		c.storeROI(eye, s.FixedROI[eye])
	}
	c.noseWidth.Store(math.Float64bits(s.NoseWidthRatio))
	c.eyeHeight.Store(math.Float64bits(s.EyeHeightRatio))
	c.brightness.Store(int32(s.Brightness))
	c.contrast.Store(int32(s.Contrast))
	c.useModel.Store(s.UseModel)
}

// Snapshot returns a plain-value copy of the current tuning.
func (c *Shared) Snapshot() Settings {
	s := Settings{
		NoseWidthRatio: c.NoseWidthRatio(),
		EyeHeightRatio: c.EyeHeightRatio(),
		Brightness:     c.Brightness(),
		Contrast:       c.Contrast(),
		UseModel:       c.UseModel(),
	}
	for eye := 0; eye < 2; eye++ {
		s.Threshold[eye] = c.Threshold(eye)
		s.Erode[eye] = c.Erode(eye)
		s.FixedROI[eye] = c.FixedROI(eye)
	}
	return s
}

// Threshold returns the binarization threshold for the given eye.
// Zero selects adaptive (Otsu) thresholding.
func (c *Shared) Threshold(eye int) int { return int(c.threshold[eye].Load()) }

// SetThreshold sets the binarization threshold for the given eye.
func (c *Shared) SetThreshold(eye, value int) { c.threshold[eye].Store(int32(value)) }

// Erode returns the erosion iteration count for the given eye.
func (c *Shared) Erode(eye int) int { return int(c.erode[eye].Load()) }

// SetErode sets the erosion iteration count for the given eye.
func (c *Shared) SetErode(eye, value int) { c.erode[eye].Store(int32(value)) }

// NoseWidthRatio returns the fraction of the frame width reserved for the
// gap between the two eye strips.
func (c *Shared) NoseWidthRatio() float64 {
	return math.Float64frombits(c.noseWidth.Load())
}

// SetNoseWidthRatio updates the nose-width ratio and raises its changed flag.
func (c *Shared) SetNoseWidthRatio(r float64) {
	c.noseWidth.Store(math.Float64bits(r))
	c.changedNose.Store(true)
}

// ConsumeNoseChanged reports whether the nose ratio changed since the last
// call, clearing the flag.
func (c *Shared) ConsumeNoseChanged() bool {
	return c.changedNose.CompareAndSwap(true, false)
}

// EyeHeightRatio returns the fraction of the frame height covered by the eye
// strips.
func (c *Shared) EyeHeightRatio() float64 {
	return math.Float64frombits(c.eyeHeight.Load())
}

// SetEyeHeightRatio updates the eye-height ratio and raises its changed flag.
func (c *Shared) SetEyeHeightRatio(r float64) {
	c.eyeHeight.Store(math.Float64bits(r))
	c.changedEyeHeight.Store(true)
}

// ConsumeEyeHeightChanged reports whether the eye-height ratio changed since
// the last call, clearing the flag.
func (c *Shared) ConsumeEyeHeightChanged() bool {
	return c.changedEyeHeight.CompareAndSwap(true, false)
}

// Brightness returns the requested camera brightness.
func (c *Shared) Brightness() int { return int(c.brightness.Load()) }

// Contrast returns the requested camera contrast.
func (c *Shared) Contrast() int { return int(c.contrast.Load()) }

// SetColor updates brightness and contrast and raises the color-changed flag
// so the capture stage reapplies them to the device on its next iteration.
func (c *Shared) SetColor(brightness, contrast int) {
	c.brightness.Store(int32(brightness))
	c.contrast.Store(int32(contrast))
	c.changedColor.Store(true)
}

// ConsumeColorChanged reports whether brightness or contrast changed since
// the last call, clearing the flag.
func (c *Shared) ConsumeColorChanged() bool {
	return c.changedColor.CompareAndSwap(true, false)
}

// UseModel reports whether detection runs the external model (true) or
// synthesizes boxes from the fixed ROIs (false).
func (c *Shared) UseModel() bool { return c.useModel.Load() }

// SetUseModel toggles between model-based and fixed-ROI detection.
func (c *Shared) SetUseModel(v bool) { c.useModel.Store(v) }

// SliderHeld reports whether the threshold slider is currently held down,
// which enables the threshold-mask overlay on the output frame.
func (c *Shared) SliderHeld() bool { return c.sliderHeld.Load() }

// SetSliderHeld records whether the threshold slider is held down.
func (c *Shared) SetSliderHeld(v bool) { c.sliderHeld.Store(v) }

// FixedROI returns the fixed region for the given eye.
func (c *Shared) FixedROI(eye int) ROI {
	return ROI{
		X1: int(c.fixedROI[eye][0].Load()),
		Y1: int(c.fixedROI[eye][1].Load()),
		X2: int(c.fixedROI[eye][2].Load()),
		Y2: int(c.fixedROI[eye][3].Load()),
	}
}

// SetFixedROI sets the fixed region for the given eye. The detection stage
// also calls this while in model mode, so switching to fixed-ROI mode starts
// from recently observed geometry.
func (c *Shared) SetFixedROI(eye int, r ROI) { c.storeROI(eye, r) }

func (c *Shared) storeROI(eye int, r ROI) {
	c.fixedROI[eye][0].Store(int32(r.X1))
	c.fixedROI[eye][1].Store(int32(r.Y1))
	c.fixedROI[eye][2].Store(int32(r.X2))
	c.fixedROI[eye][3].Store(int32(r.Y2))
}

// Running reports whether the pipeline stages should keep looping.
func (c *Shared) Running() bool { return c.running.Load() }

// SetRunning flips the cooperative run flag observed by every stage loop.
func (c *Shared) SetRunning(v bool) { c.running.Store(v) }

// CaptureFailed reports whether the capture stage gave up opening the camera.
func (c *Shared) CaptureFailed() bool { return c.captureFailed.Load() }

// SetCaptureFailed records a fatal capture failure. Stages never panic across
// the stage boundary; this flag is how the failure reaches the controller.
func (c *Shared) SetCaptureFailed(v bool) { c.captureFailed.Store(v) }
