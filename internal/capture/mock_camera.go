package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames for testing.
type MockCamera struct {
	mu      sync.Mutex
	frames  []gocv.Mat
	index   int
	loop    bool
	open    bool
	opens   int
	reads   int
	failOps int // Open calls that fail before one succeeds

	brightness int
	contrast   int
	colorSets  int
}

// NewMockCamera creates a mock that serves the given frames. With loop set,
// playback restarts at the beginning when the frames run out.
func NewMockCamera(frames []gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{frames: frames, loop: loop}
}

// FailOpens makes the next n Open calls fail.
func (c *MockCamera) FailOpens(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOps = n
}

// Open implements Camera.
func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.opens++
	if c.failOps > 0 {
		c.failOps--
		return ErrCameraUnavailable
	}
	c.open = true
	c.index = 0
	return nil
}

// Read copies the next recorded frame into dst.
func (c *MockCamera) Read(dst *gocv.Mat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || len(c.frames) == 0 {
		return false
	}
	if c.index >= len(c.frames) {
		if !c.loop {
			return false
		}
		c.index = 0
	}

	c.frames[c.index].CopyTo(dst)
	c.index++
	c.reads++
	return true
}

// SetColor implements Camera, recording the values applied.
func (c *MockCamera) SetColor(brightness, contrast int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brightness = brightness
	c.contrast = contrast
	c.colorSets++
}

// IsOpened implements Camera.
func (c *MockCamera) IsOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close implements Camera.
func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// OpenAttempts returns how many times Open was called.
func (c *MockCamera) OpenAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// ColorSets returns how many times SetColor was called, plus the last values.
func (c *MockCamera) ColorSets() (count, brightness, contrast int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.colorSets, c.brightness, c.contrast
}
