package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/frameq"
	"github.com/ebanchero/pupila/internal/pupil"
)

// Sample is one pupil measurement pushed to websocket clients. A nil eye
// means the pupil was not found in that frame.
type Sample struct {
	Right     *pupil.Point `json:"right"`
	Left      *pupil.Point `json:"left"`
	FPS       float64      `json:"fps"`
	Timestamp int64        `json:"ts"`
}

// Pump is the single consumer of the pipeline's output queue. It keeps the
// latest JPEG-encoded display frame for the MJPEG stream and fans pupil
// samples out to websocket subscribers. Running it outside the pipeline
// keeps slow HTTP clients from ever stalling a stage.
type Pump struct {
	out *frameq.Queue[pupil.Result]
	log *slog.Logger

	mu     sync.RWMutex
	latest []byte
	seq    uint64
	subs   map[chan Sample]struct{}
}

// NewPump creates a pump over the pipeline's output queue.
func NewPump(out *frameq.Queue[pupil.Result], log *slog.Logger) *Pump {
	return &Pump{
		out:  out,
		log:  log,
		subs: make(map[chan Sample]struct{}),
	}
}

// Run drains the output queue until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) {
	for ctx.Err() == nil {
		result, ok := p.out.TryGet()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		p.consume(result)
		result.Close()
	}
}

func (p *Pump) consume(result pupil.Result) {
	// The display frame arrives in RGB order; JPEG encoding wants BGR.
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(result.Frame, &bgr, gocv.ColorRGBToBGR)

	buf, err := gocv.IMEncode(".jpg", bgr)
	if err != nil {
		p.log.Debug("frame encode failed", "error", err)
		return
	}
	encoded := make([]byte, buf.Len())
	copy(encoded, buf.GetBytes())
	buf.Close()

	sample := Sample{
		Right:     result.Pupils[config.EyeRight],
		Left:      result.Pupils[config.EyeLeft],
		FPS:       result.FPS,
		Timestamp: time.Now().UnixMilli(),
	}

	p.mu.Lock()
	p.latest = encoded
	p.seq++
	for ch := range p.subs {
		// Best effort: a subscriber that cannot keep up loses samples.
		select {
		case ch <- sample:
		default:
		}
	}
	p.mu.Unlock()
}

// Latest returns the most recent JPEG frame and its sequence number. The
// returned slice must not be modified.
func (p *Pump) Latest() ([]byte, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.seq
}

// Subscribe registers a sample channel. The caller must Unsubscribe when
// done.
func (p *Pump) Subscribe() chan Sample {
	ch := make(chan Sample, 8)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes a sample channel registered with Subscribe.
func (p *Pump) Unsubscribe(ch chan Sample) {
	p.mu.Lock()
	delete(p.subs, ch)
	p.mu.Unlock()
}
