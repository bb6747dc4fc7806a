package spectrum

import (
	"sync"
	"time"
)

// Source is a live sample stream a tap can be attached to.
type Source interface {
	Attach(fn func([]int16)) (detach func())
}

// Surface is the drawing target of the visualizer, in logical pixels.
type Surface interface {
	Size() (width, height float64)
	Clear()
	FillRect(x, y, w, h float64, g Gradient)
}

// FrameClock schedules one callback on the next display frame.
type FrameClock interface {
	RequestFrame(fn func()) (cancel func())
}

// TimerClock fires frames at a fixed interval.
type TimerClock struct {
	Interval time.Duration
}

func (c TimerClock) RequestFrame(fn func()) func() {
	t := time.AfterFunc(c.Interval, fn)
	return func() { t.Stop() }
}

// Visualizer draws a bar spectrum of a live source while it is active.
type Visualizer struct {
	newContext func() (AnalysisContext, error)
	surface    Surface
	clock      FrameClock

	mu       sync.Mutex
	actx     AnalysisContext
	analyser Analyser
	source   Source
	detach   func()
	cancel   func()
	gen      uint64
	active   bool
	closed   bool
	frame    []byte
	onFrame  func()
}

func NewVisualizer(newContext func() (AnalysisContext, error), surface Surface, clock FrameClock) *Visualizer {
	return &Visualizer{newContext: newContext, surface: surface, clock: clock}
}

// OnFrame registers fn to run after every drawn frame.
func (v *Visualizer) OnFrame(fn func()) {
	v.mu.Lock()
	v.onFrame = fn
	v.mu.Unlock()
}

func (v *Visualizer) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Update activates the visualizer on src when active is true and src is
// non-nil, and deactivates it otherwise. A new source replaces the old tap.
func (v *Visualizer) Update(src Source, active bool) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if src == nil || !active {
		v.stopLocked()
		v.mu.Unlock()
		return nil
	}
	if v.active && v.source == src {
		v.mu.Unlock()
		return nil
	}

	if v.actx == nil {
		actx, err := v.newContext()
		if err != nil {
			v.mu.Unlock()
			return err
		}
		v.actx = actx
	}
	analyser, err := v.actx.NewAnalyser(FFTSize)
	if err != nil {
		v.mu.Unlock()
		return err
	}

	v.stopLocked()
	v.analyser = analyser
	v.source = src
	v.frame = make([]byte, analyser.FrequencyBinCount())
	v.detach = src.Attach(analyser.Write)
	v.active = true
	v.gen++
	gen := v.gen
	v.mu.Unlock()

	v.tick(gen)
	return nil
}

// Close tears the visualizer down for good and releases the analysis context.
func (v *Visualizer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.stopLocked()
	v.closed = true
	if v.actx == nil {
		return nil
	}
	err := v.actx.Close()
	v.actx = nil
	return err
}

func (v *Visualizer) stopLocked() {
	if !v.active {
		return
	}
	v.active = false
	v.gen++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	if v.detach != nil {
		v.detach()
		v.detach = nil
	}
	v.source = nil
	v.analyser = nil
}

func (v *Visualizer) tick(gen uint64) {
	v.mu.Lock()
	// a tick that lost the race with deactivation must not draw
	if !v.active || v.gen != gen {
		v.mu.Unlock()
		return
	}
	v.cancel = v.clock.RequestFrame(func() { v.tick(gen) })

	v.analyser.ByteFrequencyData(v.frame)
	width, height := v.surface.Size()
	v.surface.Clear()
	for _, b := range Layout(v.frame, width, height) {
		v.surface.FillRect(b.X, b.Y, b.W, b.H, BarGradient)
	}
	onFrame := v.onFrame
	v.mu.Unlock()

	if onFrame != nil {
		onFrame()
	}
}
