package capture

import (
	"testing"
	"time"
)

func TestNewFrameInfo(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          FrameInfo
	}{
		{
			name:  "960x540",
			width: 960, height: 540,
			want: FrameInfo{Width: 960, Height: 540, ROIY: 54, ROIHeight: 216, OutHeight: 324},
		},
		{
			name:  "640x480",
			width: 640, height: 480,
			want: FrameInfo{Width: 640, Height: 480, ROIY: 48, ROIHeight: 192, OutHeight: 288},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewFrameInfo(tt.width, tt.height)
			if got != tt.want {
				t.Errorf("NewFrameInfo(%d, %d) = %+v, want %+v", tt.width, tt.height, got, tt.want)
			}
		})
	}
}

func TestFPSMeter_RollingAverage(t *testing.T) {
	m := newFPSMeter()
	start := time.Now()

	// First tick only seeds the clock; the average stays 0 until a full
	// window of samples has accumulated.
	if got := m.tick(start); got != 0 {
		t.Errorf("first tick average = %f, want 0", got)
	}

	// 30 samples at exactly 10ms apart -> 100 FPS.
	var got float64
	for i := 1; i <= fpsSampleWindow; i++ {
		got = m.tick(start.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	if got < 99.0 || got > 101.0 {
		t.Errorf("average after full window = %f, want ~100", got)
	}
}

func TestFPSMeter_GuardsAgainstZeroDelta(t *testing.T) {
	m := newFPSMeter()
	now := time.Now()

	m.tick(now)
	// Same timestamp repeatedly: dt is floored at 1ms, so the
	// instantaneous estimate is capped at 1000 FPS instead of exploding.
	var got float64
	for i := 0; i < fpsSampleWindow; i++ {
		got = m.tick(now)
	}
	if got > 1000.0 {
		t.Errorf("average with zero deltas = %f, want <= 1000", got)
	}
	if got == 0 {
		t.Error("average should be populated after a full window")
	}
}
