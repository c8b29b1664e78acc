package capture

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is a raw captured frame tagged with the rolling FPS estimate at the
// moment it was read. Whoever holds a Frame owns its Mat; ownership moves
// with the Frame when it is queued, and dropped frames must be Closed at the
// drop site.
type Frame struct {
	Mat gocv.Mat
	FPS float64
}

// Close releases the frame's pixel buffer.
func (f Frame) Close() {
	f.Mat.Close()
}

// FrameInfo is derived once from the first captured frame and read-only
// afterward. ROIY/ROIHeight bound the vertical band the eyes live in, and
// OutHeight is the letterboxed height of the canvas later stages work on.
type FrameInfo struct {
	Width     int
	Height    int
	ROIY      int
	ROIHeight int
	OutHeight int
}

// NewFrameInfo derives the frame geometry from the first frame's size.
func NewFrameInfo(width, height int) FrameInfo {
	roiHeight := int(float64(height) * 0.4)
	return FrameInfo{
		Width:     width,
		Height:    height,
		ROIY:      int(float64(height) * 0.1),
		ROIHeight: roiHeight,
		OutHeight: height - roiHeight,
	}
}

// fpsSampleWindow is how many instantaneous samples feed one average.
const fpsSampleWindow = 30

// fpsMeter turns read timestamps into a rolling FPS average. The
// instantaneous value is 1/dt with dt floored at 1ms so a burst of
// back-to-back reads cannot blow the estimate up.
type fpsMeter struct {
	last    time.Time
	samples []float64
	avg     float64
}

func newFPSMeter() *fpsMeter {
	return &fpsMeter{samples: make([]float64, 0, fpsSampleWindow)}
}

// tick records a frame read at now and returns the current average.
func (m *fpsMeter) tick(now time.Time) float64 {
	if m.last.IsZero() {
		m.last = now
		return m.avg
	}

	dt := now.Sub(m.last).Seconds()
	if dt < 0.001 {
		dt = 0.001
	}
	m.last = now

	m.samples = append(m.samples, 1.0/dt)
	if len(m.samples) >= fpsSampleWindow {
		sum := 0.0
		for _, v := range m.samples {
			sum += v
		}
		m.avg = sum / float64(len(m.samples))
		m.samples = m.samples[:0]
	}
	return m.avg
}
