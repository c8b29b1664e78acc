// Package detect locates the subject's eyes. It composes the dual-eye canvas
// from each raw frame and produces eye bounding boxes, either by invoking the
// external detection model on a throttled schedule or by synthesizing boxes
// from the manually fixed ROIs.
package detect

import "gocv.io/x/gocv"

// Box is an axis-aligned eye bounding box with a confidence score. Boxes
// travel through the pipeline in the scaled inference coordinate space; the
// processing stage maps them back onto the canvas.
type Box struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}

// CenterX returns the horizontal center of the box.
func (b Box) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// Detector is the narrow contract to the external detection model:
// image in, bounding boxes out. A failed call is treated by the stage as
// "no detections this cycle", never as a pipeline error.
type Detector interface {
	// Detect analyzes an image and returns the detected eye boxes in the
	// image's own coordinate space.
	Detect(img gocv.Mat) ([]Box, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds the inference parameters forwarded to the model.
type Config struct {
	// MaxDetections caps the number of boxes per call (default: 2, one
	// per eye).
	MaxDetections int

	// MinConfidence is the detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// IOUThreshold is the non-maximum-suppression IOU threshold.
	IOUThreshold float64
}

// DefaultConfig returns a Config with the clinical defaults.
func DefaultConfig() Config {
	return Config{
		MaxDetections: 2,
		MinConfidence: 0.5,
		IOUThreshold:  0.45,
	}
}
