package server

import (
	"context"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/frameq"
	"github.com/ebanchero/pupila/internal/pupil"
)

func testResult() pupil.Result {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(120, 120, 120, 0), 144, 320, gocv.MatTypeCV8UC3)
	gray := gocv.NewMatWithSize(144, 320, gocv.MatTypeCV8U)
	return pupil.Result{
		Frame:  frame,
		Gray:   gray,
		Pupils: [2]*pupil.Point{config.EyeRight: {X: 50, Y: -48}},
		FPS:    100,
	}
}

func TestPump_EncodesLatestFrame(t *testing.T) {
	out := frameq.New[pupil.Result](frameq.Capacity)
	p := NewPump(out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	out.TryPut(testResult())

	deadline := time.Now().Add(2 * time.Second)
	var frame []byte
	var seq uint64
	for time.Now().Before(deadline) {
		if frame, seq = p.Latest(); frame != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if frame == nil {
		t.Fatal("pump never produced a frame")
	}
	if seq != 1 {
		t.Errorf("seq = %d after one frame, want 1", seq)
	}

	// JPEG magic bytes.
	if len(frame) < 2 || frame[0] != 0xff || frame[1] != 0xd8 {
		t.Errorf("latest frame is not a JPEG (starts %x)", frame[:min(4, len(frame))])
	}
}

func TestPump_BroadcastsSamples(t *testing.T) {
	out := frameq.New[pupil.Result](frameq.Capacity)
	p := NewPump(out, testLogger())

	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	out.TryPut(testResult())

	select {
	case sample := <-sub:
		if sample.Right == nil {
			t.Fatal("sample lost the right pupil")
		}
		if sample.Right.X != 50 {
			t.Errorf("pupil x = %d, want 50", sample.Right.X)
		}
		if sample.Left != nil {
			t.Error("left pupil should be nil when not detected")
		}
		if sample.FPS != 100 {
			t.Errorf("fps = %v, want 100", sample.FPS)
		}
		if sample.Timestamp == 0 {
			t.Error("sample should carry a timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sample was broadcast")
	}
}

func TestPump_SlowSubscriberDoesNotBlock(t *testing.T) {
	out := frameq.New[pupil.Result](frameq.Capacity)
	p := NewPump(out, testLogger())

	// Never read from this subscription; the pump must keep going.
	stuck := p.Subscribe()
	defer p.Unsubscribe(stuck)
	for i := 0; i < cap(stuck)+4; i++ {
		r := testResult()
		p.consume(r)
		r.Close()
	}

	if _, seq := p.Latest(); seq != uint64(cap(stuck)+4) {
		t.Errorf("seq = %d, want %d (pump stalled on a full subscriber)", seq, cap(stuck)+4)
	}
}
