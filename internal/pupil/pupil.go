// Package pupil extracts the pupil center and radius from eye regions and
// turns detection contexts into display-ready output frames.
package pupil

import (
	"image"
	"image/color"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// Radius bounds. Estimates outside the plausible band are clamped: a pupil
// is never smaller than a few pixels nor wider than a third of the eye
// region's short side.
const (
	MinRadius = 5

	// minContourArea rejects noise specks; maxContourAreaRatio rejects a
	// thresholded eyelid masquerading as a pupil.
	minContourArea      = 20.0
	maxContourAreaRatio = 0.5
)

// Estimate is a pupil position and radius in eye-region-local coordinates.
type Estimate struct {
	X      int
	Y      int
	Radius int
}

// EstimatePupil locates the pupil in a grayscale eye region. threshold is
// the binarization cut (0 selects Otsu), erodeIters the erosion count
// (0 skips erosion). On success it also returns a BGR visualization of the
// threshold mask with the chosen contour, circle and center drawn in; the
// caller owns and must Close it.
func EstimatePupil(eyeGray gocv.Mat, threshold, erodeIters int) (Estimate, gocv.Mat, bool) {
	ew := eyeGray.Cols()
	eh := eyeGray.Rows()
	if ew <= 0 || eh <= 0 {
		return Estimate{}, gocv.Mat{}, false
	}

	// Noise suppression, then local contrast enhancement so a fixed
	// threshold behaves consistently across lighting conditions.
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(eyeGray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	enhanced := gocv.NewMat()
	defer enhanced.Close()
	clahe.Apply(blurred, &enhanced)

	// The pupil is the dark region, so the threshold is inverted to make
	// it foreground.
	thresh := gocv.NewMat()
	defer thresh.Close()
	if threshold == 0 {
		gocv.Threshold(enhanced, &thresh, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)
	} else {
		gocv.Threshold(enhanced, &thresh, float32(threshold), 255, gocv.ThresholdBinaryInv)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3))
	defer kernel.Close()

	eroded := gocv.NewMat()
	defer eroded.Close()
	if erodeIters > 0 {
		gocv.ErodeWithParams(thresh, &eroded, kernel, image.Pt(-1, -1), erodeIters, int(gocv.BorderConstant))
	} else {
		thresh.CopyTo(&eroded)
	}

	// Close small holes, then dilate once to recover the full extent.
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyExWithParams(eroded, &closed, gocv.MorphClose, kernel, 1, int(gocv.BorderConstant))

	processed := gocv.NewMat()
	defer processed.Close()
	gocv.Dilate(closed, &processed, kernel)

	contours := gocv.FindContours(processed, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	bestIdx := -1
	bestArea := 0.0
	maxArea := maxContourAreaRatio * float64(ew) * float64(eh)
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area <= minContourArea || area >= maxArea {
			continue
		}
		if area > bestArea {
			bestArea = area
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return Estimate{}, gocv.Mat{}, false
	}

	cx, cy := contourCentroid(contours, bestIdx, ew, eh)
	radius := contourRadius(contours.At(bestIdx), cx, cy)

	maxRadius := min(ew, eh) / 3
	radius = max(MinRadius, min(radius, maxRadius))

	mask := gocv.NewMat()
	gocv.CvtColor(processed, &mask, gocv.ColorGrayToBGR)
	gocv.DrawContours(&mask, contours, bestIdx, color.RGBA{R: 255}, 1)
	gocv.Circle(&mask, image.Pt(cx, cy), radius, color.RGBA{G: 255}, 1)
	gocv.Circle(&mask, image.Pt(cx, cy), 2, color.RGBA{B: 255}, -1)

	return Estimate{X: cx, Y: cy, Radius: radius}, mask, true
}

// contourCentroid computes the contour's centroid via image moments over the
// filled contour, falling back to the bounding-rectangle center when the
// zeroth moment degenerates to zero.
func contourCentroid(contours gocv.PointsVector, idx, ew, eh int) (int, int) {
	filled := gocv.Zeros(eh, ew, gocv.MatTypeCV8U)
	defer filled.Close()
	gocv.DrawContours(&filled, contours, idx, color.RGBA{R: 255, G: 255, B: 255}, -1)

	m := gocv.Moments(filled, true)
	if m["m00"] != 0 {
		return int(m["m10"] / m["m00"]), int(m["m01"] / m["m00"])
	}

	r := gocv.BoundingRect(contours.At(idx))
	return r.Min.X + r.Dx()/2, r.Min.Y + r.Dy()/2
}

// contourRadius estimates the radius as the median distance from the
// contour's points to the centroid. The median, not the mean, keeps jagged
// contour edges from dragging the estimate around frame to frame. With no
// points available it falls back to the minimum enclosing circle.
func contourRadius(contour gocv.PointVector, cx, cy int) int {
	pts := contour.ToPoints()
	if len(pts) == 0 {
		_, _, r := gocv.MinEnclosingCircle(contour)
		return int(r)
	}

	dists := make([]float64, len(pts))
	for i, p := range pts {
		dx := float64(p.X - cx)
		dy := float64(p.Y - cy)
		dists[i] = math.Sqrt(dx*dx + dy*dy)
	}
	sort.Float64s(dists)

	n := len(dists)
	if n%2 == 1 {
		return int(dists[n/2])
	}
	return int((dists[n/2-1] + dists[n/2]) / 2)
}
