package pupil

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/detect"
	"github.com/ebanchero/pupila/internal/frameq"
)

const (
	crosshairLen = 5
	idleSleep    = time.Millisecond
)

// Overlay colors (the subject's right eye shows red, the left light blue).
var (
	rightEyeColor = color.RGBA{R: 255}
	leftEyeColor  = color.RGBA{G: 191, B: 255}
	boxColor      = color.RGBA{G: 255}
	fpsColor      = color.RGBA{R: 43, G: 243, B: 248}
)

// Point is a pupil center in canvas coordinates, with the y axis inverted so
// that upward gaze movement is positive.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Result is the consumer-facing output of the pipeline: the annotated
// display frame (RGB order), the grayscale canvas, and the per-eye pupil
// positions indexed by config.EyeRight / config.EyeLeft, nil when that
// pupil was not found.
type Result struct {
	Frame  gocv.Mat
	Gray   gocv.Mat
	Pupils [2]*Point
	FPS    float64
}

// Close releases the Mats carried by the result.
func (r Result) Close() {
	r.Frame.Close()
	r.Gray.Close()
}

// Stage is the geometry/processing stage.
type Stage struct {
	cfg *config.Shared
	log *slog.Logger
}

// NewStage creates the processing stage.
func NewStage(cfg *config.Shared, log *slog.Logger) *Stage {
	return &Stage{cfg: cfg, log: log}
}

// Run consumes detection contexts and emits display results until the
// shared running flag drops or ctx is cancelled.
func (s *Stage) Run(ctx context.Context, in *frameq.Queue[detect.Context], out *frameq.Queue[Result]) {
	s.log.Info("processing started")

	for s.cfg.Running() && ctx.Err() == nil {
		dctx, ok := in.TryGet()
		if !ok {
			time.Sleep(idleSleep)
			continue
		}

		result := s.process(dctx)
		if !out.TryPut(result) {
			result.Close()
		}
	}
	s.log.Info("processing stopped")
}

// process consumes a detection context and produces the annotated result.
// Ownership of the context's Mats transfers here: the gray canvas is passed
// through on the result and the BGR canvas is released after conversion.
func (s *Stage) process(dctx detect.Context) Result {
	boxes := append([]detect.Box(nil), dctx.Boxes...)
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].X1 < boxes[j].X1 })

	var pupils [2]*Point
	for _, box := range boxes {
		eyeRect, ok := canvasRect(box, dctx)
		if !ok {
			// Out-of-range region: discard it, keep the other eye.
			continue
		}

		// Mirrored camera view: the eye left of the midpoint is the
		// subject's right eye.
		eye := config.EyeLeft
		if float64(eyeRect.Min.X)+float64(eyeRect.Dx())/2 < float64(dctx.Width)/2 {
			eye = config.EyeRight
		}

		eyeGray := dctx.Gray.Region(eyeRect)
		est, mask, found := EstimatePupil(eyeGray, s.cfg.Threshold(eye), s.cfg.Erode(eye))
		eyeGray.Close()
		if !found {
			continue
		}

		s.drawOverlays(&dctx.Frame, eyeRect, est, mask, eye)
		mask.Close()

		pupils[eye] = &Point{
			X: eyeRect.Min.X + est.X,
			Y: -(eyeRect.Min.Y + est.Y),
		}
	}

	// The display frame is always produced, annotated or not.
	display := gocv.NewMat()
	gocv.CvtColor(dctx.Frame, &display, gocv.ColorBGRToRGB)
	dctx.Frame.Close()

	gocv.PutText(&display, fmt.Sprintf("%.1f", dctx.FPS),
		image.Pt(dctx.Width-45, 15), gocv.FontHersheySimplex, 0.5, fpsColor, 1)

	return Result{Frame: display, Gray: dctx.Gray, Pupils: pupils, FPS: dctx.FPS}
}

// canvasRect maps a box from scaled inference space onto the canvas and
// bounds-checks it.
func canvasRect(box detect.Box, dctx detect.Context) (image.Rectangle, bool) {
	x1 := int(box.X1/dctx.ScaleFactor) + dctx.XOffset
	y1 := int(box.Y1/dctx.ScaleFactor) + dctx.YOffset
	x2 := int(box.X2/dctx.ScaleFactor) + dctx.XOffset
	y2 := int(box.Y2/dctx.ScaleFactor) + dctx.YOffset

	if x1 < 0 || y1 < 0 || x2 > dctx.Width || y2 > dctx.Height || x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, false
	}
	return image.Rect(x1, y1, x2, y2), true
}

// drawOverlays composites the debug annotations for one eye into the canvas.
func (s *Stage) drawOverlays(frame *gocv.Mat, eyeRect image.Rectangle, est Estimate, mask gocv.Mat, eye int) {
	if s.cfg.SliderHeld() {
		gocv.Rectangle(frame, eyeRect, boxColor, 1)
		region := frame.Region(eyeRect)
		gocv.AddWeighted(region, 1, mask, 1, 0, &region)
		region.Close()
	}
	if !s.cfg.UseModel() {
		gocv.Rectangle(frame, eyeRect, boxColor, 1)
	}

	eyeColor := leftEyeColor
	if eye == config.EyeRight {
		eyeColor = rightEyeColor
	}

	absX := eyeRect.Min.X + est.X
	absY := eyeRect.Min.Y + est.Y
	gocv.Circle(frame, image.Pt(absX, absY), est.Radius, eyeColor, 1)
	gocv.Line(frame, image.Pt(absX-crosshairLen, absY), image.Pt(absX+crosshairLen, absY), eyeColor, 1)
	gocv.Line(frame, image.Pt(absX, absY-crosshairLen), image.Pt(absX, absY+crosshairLen), eyeColor, 1)
}
