package detect

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ebanchero/pupila/internal/capture"
)

// Layout records where the composed eye content sits inside the letterboxed
// canvas, so box coordinates can be mapped between canvas space and the
// scaled inference space.
type Layout struct {
	XOffset  int
	YOffset  int
	ContentW int
	ContentH int
}

// splitWidths returns the pixel widths of the right strip, the nose gap and
// the left strip for a frame of the given width. The three always add back
// up to the frame width; the left strip absorbs the rounding remainder.
func splitWidths(width int, noseRatio float64) (rightW, noseW, leftW int) {
	noseW = int(float64(width) * noseRatio)
	rightW = (width - noseW) / 2
	leftW = width - noseW - rightW
	return rightW, noseW, leftW
}

// composeCanvas cuts the two eye strips out of the raw frame, joins them
// around the nose gap and letterboxes the result into a canvas of the
// original width and the precomputed output height. Keeping the canvas
// geometry fixed makes all downstream pupil math resolution-independent.
//
// The returned canvas is owned by the caller. ok is false when the current
// ratios leave no usable strip, in which case nothing is allocated.
func composeCanvas(frame gocv.Mat, info capture.FrameInfo, noseRatio, eyeHeightRatio float64) (canvas gocv.Mat, layout Layout, ok bool) {
	w := frame.Cols()
	h := frame.Rows()

	rightW, noseW, _ := splitWidths(w, noseRatio)
	stripH := int(float64(h) * eyeHeightRatio)
	if info.ROIY+stripH > h {
		stripH = h - info.ROIY
	}
	if rightW <= 0 || stripH <= 0 {
		return gocv.Mat{}, Layout{}, false
	}

	rightStrip := frame.Region(image.Rect(0, info.ROIY, rightW, info.ROIY+stripH))
	leftStrip := frame.Region(image.Rect(rightW+noseW, info.ROIY, w, info.ROIY+stripH))
	defer rightStrip.Close()
	defer leftStrip.Close()

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.Hconcat(rightStrip, leftStrip, &combined)

	// Aspect-preserving fit into outHeight x w.
	cw := combined.Cols()
	ch := combined.Rows()
	newW := w
	newH := ch * newW / cw
	if newH > info.OutHeight {
		newH = info.OutHeight
		newW = cw * newH / ch
	}
	if newW <= 0 || newH <= 0 {
		return gocv.Mat{}, Layout{}, false
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(combined, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

	canvas = gocv.Zeros(info.OutHeight, w, gocv.MatTypeCV8UC3)
	layout = Layout{
		XOffset:  (w - newW) / 2,
		YOffset:  (info.OutHeight - newH) / 2,
		ContentW: newW,
		ContentH: newH,
	}

	target := canvas.Region(image.Rect(layout.XOffset, layout.YOffset, layout.XOffset+newW, layout.YOffset+newH))
	resized.CopyTo(&target)
	target.Close()

	return canvas, layout, true
}
