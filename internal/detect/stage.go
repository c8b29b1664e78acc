package detect

import (
	"context"
	"image"
	"log/slog"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"github.com/ebanchero/pupila/internal/capture"
	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/frameq"
)

const (
	// DefaultFrequency is the model invocation interval in frames; the
	// frames in between reuse the last successful box set.
	DefaultFrequency = 4

	// InferScale is the downscale factor applied to the canvas content
	// before it is submitted to the model.
	InferScale = 0.5

	// defaultMaxCacheAge bounds how many consecutive frames may be served
	// from the box cache without a fresh model result before the stage
	// falls back to the fixed ROIs.
	defaultMaxCacheAge = 60

	idleSleep = time.Millisecond
)

// Context is the per-frame payload handed to the processing stage: the
// letterboxed canvas, its grayscale copy, the eye boxes in scaled inference
// space, and the numbers needed to map those boxes back onto the canvas.
type Context struct {
	Frame       gocv.Mat
	Gray        gocv.Mat
	Boxes       []Box
	XOffset     int
	YOffset     int
	ScaleFactor float64
	FPS         float64
	Width       int
	Height      int
}

// Close releases the Mats carried by the context.
func (c Context) Close() {
	c.Frame.Close()
	c.Gray.Close()
}

// Stage is the detection stage. One instance runs per pipeline; it is not
// safe for concurrent use.
type Stage struct {
	det Detector
	cfg *config.Shared
	log *slog.Logger

	frequency   int
	scale       float64
	maxCacheAge int

	counter  int
	cached   []Box
	cacheAge int
}

// NewStage creates the detection stage. The stage takes ownership of the
// detector and closes it when its loop exits.
func NewStage(det Detector, cfg *config.Shared, log *slog.Logger) *Stage {
	return &Stage{
		det:         det,
		cfg:         cfg,
		log:         log,
		frequency:   DefaultFrequency,
		scale:       InferScale,
		maxCacheAge: defaultMaxCacheAge,
	}
}

// Run consumes raw frames and emits detection contexts until the shared
// running flag drops or ctx is cancelled. The first thing it does is block
// for the FrameInfo handshake from the capture stage.
func (s *Stage) Run(ctx context.Context, in *frameq.Queue[capture.Frame], out *frameq.Queue[Context], info <-chan capture.FrameInfo) {
	defer s.det.Close()

	var fi capture.FrameInfo
handshake:
	for {
		select {
		case fi = <-info:
			break handshake
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
			if !s.cfg.Running() {
				return
			}
		}
	}
	s.log.Info("detection started", "width", fi.Width, "out_height", fi.OutHeight)

	for s.cfg.Running() && ctx.Err() == nil {
		frame, ok := in.TryGet()
		if !ok {
			time.Sleep(idleSleep)
			continue
		}

		dctx, ok := s.step(frame, fi)
		frame.Close()
		if !ok {
			continue
		}
		if !out.TryPut(dctx) {
			dctx.Close()
		}
	}
	s.log.Info("detection stopped")
}

// step processes one frame into a detection context. The returned context
// owns freshly allocated Mats; the input frame stays with the caller.
func (s *Stage) step(frame capture.Frame, info capture.FrameInfo) (Context, bool) {
	if s.cfg.ConsumeNoseChanged() {
		s.log.Debug("nose width changed", "ratio", s.cfg.NoseWidthRatio())
	}
	if s.cfg.ConsumeEyeHeightChanged() {
		s.log.Debug("eye height changed", "ratio", s.cfg.EyeHeightRatio())
	}

	canvas, layout, ok := composeCanvas(frame.Mat, info, s.cfg.NoseWidthRatio(), s.cfg.EyeHeightRatio())
	if !ok {
		return Context{}, false
	}

	gray := gocv.NewMat()
	gocv.CvtColor(canvas, &gray, gocv.ColorBGRToGray)

	var boxes []Box
	if s.cfg.UseModel() {
		boxes = s.modelBoxes(canvas, layout)
	} else {
		boxes = s.fixedBoxes(layout)
	}
	s.counter++

	return Context{
		Frame:       canvas,
		Gray:        gray,
		Boxes:       boxes,
		XOffset:     layout.XOffset,
		YOffset:     layout.YOffset,
		ScaleFactor: s.scale,
		FPS:         frame.FPS,
		Width:       info.Width,
		Height:      info.OutHeight,
	}, true
}

// modelBoxes runs the throttled model schedule: infer every Nth frame,
// serve the cache in between, and stop trusting a cache that has gone too
// long without a fresh result.
func (s *Stage) modelBoxes(canvas gocv.Mat, layout Layout) []Box {
	if s.counter%s.frequency == 0 {
		if boxes, ok := s.infer(canvas, layout); ok {
			s.cached = boxes
			s.cacheAge = 0
			s.calibrate(boxes, layout)
			return boxes
		}
	}

	s.cacheAge++
	if s.cacheAge > s.maxCacheAge {
		return s.fixedBoxes(layout)
	}
	return s.cached
}

// infer submits the downscaled canvas content to the model. Boxes come back
// in the scaled content coordinate space. Any failure or empty result is
// reported as not-ok; the stage never crashes on a bad call.
func (s *Stage) infer(canvas gocv.Mat, layout Layout) ([]Box, bool) {
	content := canvas.Region(image.Rect(
		layout.XOffset, layout.YOffset,
		layout.XOffset+layout.ContentW, layout.YOffset+layout.ContentH,
	))
	defer content.Close()

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(content, &small, image.Pt(0, 0), s.scale, s.scale, gocv.InterpolationLinear)

	boxes, err := s.det.Detect(small)
	if err != nil {
		s.log.Debug("inference failed, reusing cached boxes", "error", err)
		return nil, false
	}
	if len(boxes) == 0 {
		return nil, false
	}

	sort.Slice(boxes, func(i, j int) bool { return boxes[i].X1 < boxes[j].X1 })
	return boxes, true
}

// calibrate writes a fresh two-box detection back into the shared fixed-ROI
// state in canvas-absolute coordinates, so a later switch to fixed-ROI mode
// starts from recently observed geometry.
func (s *Stage) calibrate(boxes []Box, layout Layout) {
	if len(boxes) < 2 {
		return
	}
	for i, eye := range []int{config.EyeRight, config.EyeLeft} {
		b := boxes[i]
		s.cfg.SetFixedROI(eye, config.ROI{
			X1: int(b.X1/s.scale) + layout.XOffset,
			Y1: int(b.Y1/s.scale) + layout.YOffset,
			X2: int(b.X2/s.scale) + layout.XOffset,
			Y2: int(b.Y2/s.scale) + layout.YOffset,
		})
	}
}

// fixedBoxes synthesizes the two eye boxes from the shared fixed ROIs,
// transformed from canvas-absolute into scaled inference space so they take
// the same path through processing as model output.
func (s *Stage) fixedBoxes(layout Layout) []Box {
	boxes := make([]Box, 0, 2)
	for _, eye := range []int{config.EyeRight, config.EyeLeft} {
		r := s.cfg.FixedROI(eye)
		boxes = append(boxes, Box{
			X1:         float64(r.X1-layout.XOffset) * s.scale,
			Y1:         float64(r.Y1-layout.YOffset) * s.scale,
			X2:         float64(r.X2-layout.XOffset) * s.scale,
			Y2:         float64(r.Y2-layout.YOffset) * s.scale,
			Confidence: 1,
		})
	}
	return boxes
}
