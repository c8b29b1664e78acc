package detect

import (
	"testing"

	"gocv.io/x/gocv"

	"github.com/ebanchero/pupila/internal/capture"
)

func TestSplitWidths_AlwaysAddUpToFrameWidth(t *testing.T) {
	widths := []int{320, 639, 640, 960, 1281, 1920}
	ratios := []float64{0.01, 0.1, 0.25, 0.33, 0.5, 0.77, 0.99}

	for _, w := range widths {
		for _, r := range ratios {
			rightW, noseW, leftW := splitWidths(w, r)
			if rightW+noseW+leftW != w {
				t.Errorf("splitWidths(%d, %.2f): %d+%d+%d != %d", w, r, rightW, noseW, leftW, w)
			}
			if diff := leftW - rightW; diff < 0 || diff > 1 {
				t.Errorf("splitWidths(%d, %.2f): strips differ by %d, want at most 1", w, r, diff)
			}
		}
	}
}

func TestComposeCanvas_LetterboxGeometry(t *testing.T) {
	frame := gocv.NewMatWithSize(540, 960, gocv.MatTypeCV8UC3)
	defer frame.Close()
	info := capture.NewFrameInfo(960, 540)

	canvas, layout, ok := composeCanvas(frame, info, 0.25, 0.4)
	if !ok {
		t.Fatal("composeCanvas failed on a regular frame")
	}
	defer canvas.Close()

	if canvas.Cols() != 960 || canvas.Rows() != info.OutHeight {
		t.Errorf("canvas = %dx%d, want %dx%d", canvas.Cols(), canvas.Rows(), 960, info.OutHeight)
	}

	// 960 wide with a 240px nose gap: strips are 360+360=720 wide, 216
	// tall, so the fit lands at 960x288 centered vertically.
	want := Layout{XOffset: 0, YOffset: 18, ContentW: 960, ContentH: 288}
	if layout != want {
		t.Errorf("layout = %+v, want %+v", layout, want)
	}
}

func TestComposeCanvas_TallContentClampedToOutputHeight(t *testing.T) {
	frame := gocv.NewMatWithSize(540, 960, gocv.MatTypeCV8UC3)
	defer frame.Close()
	info := capture.NewFrameInfo(960, 540)

	// A wide nose gap leaves narrow strips, which would scale taller than
	// the output height; the width must shrink instead.
	canvas, layout, ok := composeCanvas(frame, info, 0.8, 0.4)
	if !ok {
		t.Fatal("composeCanvas failed")
	}
	defer canvas.Close()

	if layout.ContentH != info.OutHeight {
		t.Errorf("content height = %d, want clamped to %d", layout.ContentH, info.OutHeight)
	}
	if layout.ContentW >= 960 {
		t.Errorf("content width = %d, want < 960 after clamping", layout.ContentW)
	}
	if layout.XOffset != (960-layout.ContentW)/2 {
		t.Errorf("content not horizontally centered: xoffset = %d, width = %d", layout.XOffset, layout.ContentW)
	}
}

func TestComposeCanvas_DegenerateRatiosRejected(t *testing.T) {
	frame := gocv.NewMatWithSize(540, 960, gocv.MatTypeCV8UC3)
	defer frame.Close()
	info := capture.NewFrameInfo(960, 540)

	if _, _, ok := composeCanvas(frame, info, 0.999, 0.4); ok {
		t.Error("a nose gap consuming the whole frame should be rejected")
	}
	if _, _, ok := composeCanvas(frame, info, 0.25, 0.0); ok {
		t.Error("a zero eye-height ratio should be rejected")
	}
}
