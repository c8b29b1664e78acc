package config

import (
	"sync"
	"testing"
)

func TestDefaultSettings_ROIHalves(t *testing.T) {
	s := DefaultSettings(960, 540, -21, 50)

	right := s.FixedROI[EyeRight]
	left := s.FixedROI[EyeLeft]

	if right.X1 != 0 || right.X2 != 384 {
		t.Errorf("right ROI x = [%d, %d], want [0, 384]", right.X1, right.X2)
	}
	if left.X1 != 576 || left.X2 != 960 {
		t.Errorf("left ROI x = [%d, %d], want [576, 960]", left.X1, left.X2)
	}
	if right.Y1 != 54 || right.Y2 != 270 {
		t.Errorf("right ROI y = [%d, %d], want [54, 270]", right.Y1, right.Y2)
	}
	if !s.UseModel {
		t.Error("model detection should be enabled by default")
	}
}

func TestShared_RoundTrip(t *testing.T) {
	in := Settings{
		Threshold:      [2]int{42, 0},
		Erode:          [2]int{2, 1},
		NoseWidthRatio: 0.3,
		EyeHeightRatio: 0.35,
		Brightness:     -10,
		Contrast:       60,
		UseModel:       false,
		FixedROI: [2]ROI{
			{X1: 1, Y1: 2, X2: 3, Y2: 4},
			{X1: 5, Y1: 6, X2: 7, Y2: 8},
		},
	}

	c := New(in)
	out := c.Snapshot()

	if out != in {
		t.Errorf("Snapshot() = %+v, want %+v", out, in)
	}
}

func TestShared_ChangedFlagsConsumedOnce(t *testing.T) {
	c := New(DefaultSettings(640, 480, 0, 50))

	// No flag raised by Apply/New.
	if c.ConsumeNoseChanged() || c.ConsumeEyeHeightChanged() || c.ConsumeColorChanged() {
		t.Fatal("no changed flag should be set after New")
	}

	c.SetNoseWidthRatio(0.2)
	if !c.ConsumeNoseChanged() {
		t.Error("nose changed flag should be set after SetNoseWidthRatio")
	}
	if c.ConsumeNoseChanged() {
		t.Error("nose changed flag should be consumed by the first read")
	}

	c.SetEyeHeightRatio(0.3)
	if !c.ConsumeEyeHeightChanged() {
		t.Error("eye-height changed flag should be set after SetEyeHeightRatio")
	}

	c.SetColor(-5, 45)
	if !c.ConsumeColorChanged() {
		t.Error("color changed flag should be set after SetColor")
	}
	if c.Brightness() != -5 || c.Contrast() != 45 {
		t.Errorf("color = (%d, %d), want (-5, 45)", c.Brightness(), c.Contrast())
	}
}

func TestShared_PerEyeFields(t *testing.T) {
	c := New(DefaultSettings(640, 480, 0, 50))

	c.SetThreshold(EyeRight, 80)
	c.SetThreshold(EyeLeft, 120)
	c.SetErode(EyeRight, 3)

	if got := c.Threshold(EyeRight); got != 80 {
		t.Errorf("Threshold(right) = %d, want 80", got)
	}
	if got := c.Threshold(EyeLeft); got != 120 {
		t.Errorf("Threshold(left) = %d, want 120", got)
	}
	if got := c.Erode(EyeRight); got != 3 {
		t.Errorf("Erode(right) = %d, want 3", got)
	}
	if got := c.Erode(EyeLeft); got != 0 {
		t.Errorf("Erode(left) = %d, want 0", got)
	}
}

func TestShared_ConcurrentReadersSingleWriter(t *testing.T) {
	c := New(DefaultSettings(640, 480, 0, 50))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Many readers, as the stages would be.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = c.Threshold(EyeRight)
				_ = c.NoseWidthRatio()
				_ = c.FixedROI(EyeLeft)
				_ = c.Running()
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		c.SetThreshold(EyeRight, i%256)
		c.SetNoseWidthRatio(float64(i%100) / 100)
		c.SetFixedROI(EyeLeft, ROI{X1: i, Y1: i, X2: i + 10, Y2: i + 10})
		c.SetRunning(i%2 == 0)
	}

	close(stop)
	wg.Wait()
}
