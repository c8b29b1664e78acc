package detect

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface. It
// returns pre-configured boxes or an error and counts how often it is
// invoked, which is what the throttling tests observe.
type MockDetector struct {
	mu     sync.Mutex
	boxes  []Box
	err    error
	calls  int
	closes int
	delay  chan struct{} // when set, Detect blocks until it is closed
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetBoxes sets the boxes that will be returned by Detect.
func (m *MockDetector) SetBoxes(boxes []Box) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes = boxes
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Block makes subsequent Detect calls block until Unblock is called,
// simulating an inference call in flight during shutdown.
func (m *MockDetector) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = make(chan struct{})
}

// Unblock releases any blocked Detect calls.
func (m *MockDetector) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delay != nil {
		close(m.delay)
		m.delay = nil
	}
}

// Detect returns the pre-configured boxes or error.
func (m *MockDetector) Detect(img gocv.Mat) ([]Box, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	boxes, err := m.boxes, m.err
	m.mu.Unlock()

	if delay != nil {
		<-delay
	}
	if err != nil {
		return nil, err
	}
	out := make([]Box, len(boxes))
	copy(out, boxes)
	return out, nil
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close releases any blocked Detect calls, the way killing a real service
// tears down the pipe a pending inference is reading from.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if m.delay != nil {
		close(m.delay)
		m.delay = nil
	}
	return nil
}

// CloseCalls returns how many times Close has been invoked.
func (m *MockDetector) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}
