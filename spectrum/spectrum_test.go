package spectrum

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
)

type rect struct {
	x, y, w, h float64
}

type recordingSurface struct {
	mu     sync.Mutex
	w, h   float64
	clears int
	rects  []rect
}

func (s *recordingSurface) Size() (float64, float64) { return s.w, s.h }

func (s *recordingSurface) Clear() {
	s.mu.Lock()
	s.clears++
	s.rects = s.rects[:0]
	s.mu.Unlock()
}

func (s *recordingSurface) FillRect(x, y, w, h float64, _ Gradient) {
	s.mu.Lock()
	s.rects = append(s.rects, rect{x, y, w, h})
	s.mu.Unlock()
}

func (s *recordingSurface) draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// manualClock runs requested frames only when Tick is called.
type manualClock struct {
	mu      sync.Mutex
	pending map[int]func()
	next    int
}

func (c *manualClock) RequestFrame(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = make(map[int]func())
	}
	id := c.next
	c.next++
	c.pending[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
}

func (c *manualClock) Tick() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.pending))
	for _, fn := range c.pending {
		fns = append(fns, fn)
	}
	clear(c.pending)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

type fakeSource struct {
	mu       sync.Mutex
	attached int
	detached int
	taps     map[int]func([]int16)
	next     int
}

func (s *fakeSource) Attach(fn func([]int16)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taps == nil {
		s.taps = make(map[int]func([]int16))
	}
	id := s.next
	s.next++
	s.taps[id] = fn
	s.attached++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.taps[id]; ok {
			delete(s.taps, id)
			s.detached++
		}
	}
}

func (s *fakeSource) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taps)
}

type countingContext struct {
	AnalysisContext
	created  int
	closed   int
	analyser int
}

func (c *countingContext) NewAnalyser(n int) (Analyser, error) {
	c.analyser++
	return c.AnalysisContext.NewAnalyser(n)
}

func (c *countingContext) Close() error {
	c.closed++
	return c.AnalysisContext.Close()
}

func newTestVisualizer(t *testing.T) (*Visualizer, *recordingSurface, *manualClock, *countingContext) {
	t.Helper()
	surface := &recordingSurface{w: Width, h: Height}
	clock := &manualClock{}
	cc := &countingContext{}
	v := NewVisualizer(func() (AnalysisContext, error) {
		inner, err := NewFFTContext()
		cc.AnalysisContext = inner
		cc.created++
		return cc, err
	}, surface, clock)
	return v, surface, clock, cc
}

func TestLayout(t *testing.T) {
	frame := make([]byte, BinCount)
	for i := range frame {
		frame[i] = byte(i * 2)
	}
	for _, width := range []float64{300, 80, 1000} {
		bars := Layout(frame, width, 100)
		if len(bars) != BinCount {
			t.Fatalf("width %v: %d bars, want %d", width, len(bars), BinCount)
		}
		wantW := width / BinCount * 2.5
		for i, b := range bars {
			if b.H != float64(frame[i])/2 {
				t.Errorf("bar %d height %v, want %v", i, b.H, float64(frame[i])/2)
			}
			if math.Abs(b.W-wantW) > 1e-9 {
				t.Errorf("bar %d width %v, want %v", i, b.W, wantW)
			}
			if math.Abs(b.Y-(50-b.H/2)) > 1e-9 {
				t.Errorf("bar %d not centred: y=%v h=%v", i, b.Y, b.H)
			}
			if i > 0 && math.Abs(b.X-(bars[i-1].X+wantW+1)) > 1e-9 {
				t.Errorf("bar %d x=%v, want %v", i, b.X, bars[i-1].X+wantW+1)
			}
			if i > 0 && b.H < bars[i-1].H {
				t.Errorf("height not monotonic in value at %d", i)
			}
		}
	}
	if Layout(nil, 300, 100) != nil {
		t.Error("empty frame should give no bars")
	}
}

func TestAnalyserSilence(t *testing.T) {
	ctx, _ := NewFFTContext()
	a, err := ctx.NewAnalyser(FFTSize)
	if err != nil {
		t.Fatal(err)
	}
	if a.FrequencyBinCount() != BinCount {
		t.Fatalf("bins = %d", a.FrequencyBinCount())
	}
	a.Write(make([]int16, FFTSize))
	frame := make([]byte, BinCount)
	a.ByteFrequencyData(frame)
	for i, v := range frame {
		if v != 0 {
			t.Fatalf("bin %d = %d on silence", i, v)
		}
	}
}

func TestAnalyserTonePeak(t *testing.T) {
	const bin = 20
	ctx, _ := NewFFTContext()
	a, _ := ctx.NewAnalyser(FFTSize)

	samples := make([]int16, FFTSize*4)
	for i := range samples {
		samples[i] = int16(1600 * math.Sin(2*math.Pi*bin*float64(i)/FFTSize))
	}
	a.Write(samples)

	frame := make([]byte, BinCount)
	for range 10 {
		a.ByteFrequencyData(frame)
	}
	peak := 0
	for i, v := range frame {
		if v > frame[peak] {
			peak = i
		}
	}
	if peak != bin {
		t.Errorf("peak at bin %d, want %d", peak, bin)
	}
	if frame[bin] < 150 || frame[bin] == 255 {
		t.Errorf("peak value %d outside the scaled range", frame[bin])
	}
}

func TestAnalyserRejectsBadSize(t *testing.T) {
	ctx, _ := NewFFTContext()
	if _, err := ctx.NewAnalyser(100); err == nil {
		t.Error("expected error for non power of two")
	}
	ctx.Close()
	if _, err := ctx.NewAnalyser(FFTSize); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestVisualizerDrawsWhileActive(t *testing.T) {
	v, surface, clock, _ := newTestVisualizer(t)
	src := &fakeSource{}

	if err := v.Update(src, true); err != nil {
		t.Fatal(err)
	}
	if surface.draws() != 1 {
		t.Fatalf("draws after activation = %d, want 1", surface.draws())
	}
	if len(surface.rects) != BinCount {
		t.Errorf("rects = %d, want %d", len(surface.rects), BinCount)
	}
	clock.Tick()
	clock.Tick()
	if surface.draws() != 3 {
		t.Errorf("draws = %d, want 3", surface.draws())
	}
	if clock.Pending() != 1 {
		t.Errorf("pending frames = %d, want 1", clock.Pending())
	}
}

func TestVisualizerNoDrawAfterDeactivation(t *testing.T) {
	v, surface, clock, _ := newTestVisualizer(t)
	src := &fakeSource{}

	v.Update(src, true)
	// capture the scheduled tick before it is cancelled to simulate a race
	clock.mu.Lock()
	var raced func()
	for _, fn := range clock.pending {
		raced = fn
	}
	clock.mu.Unlock()

	v.Update(src, false)
	before := surface.draws()
	clock.Tick()
	raced()
	if surface.draws() != before {
		t.Errorf("drew %d frames after deactivation", surface.draws()-before)
	}
	if clock.Pending() != 0 {
		t.Error("frame still pending after deactivation")
	}
	if src.live() != 0 {
		t.Error("tap still attached after deactivation")
	}
	if v.Active() {
		t.Error("still active")
	}
}

func TestVisualizerSingleTap(t *testing.T) {
	v, _, _, _ := newTestVisualizer(t)
	a, b := &fakeSource{}, &fakeSource{}

	v.Update(a, true)
	v.Update(a, true)
	if a.attached != 1 {
		t.Errorf("re-update attached %d times", a.attached)
	}
	v.Update(b, true)
	if a.live() != 0 || b.live() != 1 {
		t.Errorf("live taps a=%d b=%d, want 0 and 1", a.live(), b.live())
	}
	v.Update(nil, true)
	if b.live() != 0 {
		t.Error("nil source left tap attached")
	}
}

func TestVisualizerContextLifetime(t *testing.T) {
	v, _, _, cc := newTestVisualizer(t)
	src := &fakeSource{}

	for range 3 {
		v.Update(src, true)
		v.Update(src, false)
	}
	if cc.created != 1 {
		t.Errorf("context created %d times, want 1", cc.created)
	}
	if cc.closed != 0 {
		t.Errorf("context closed %d times on pause", cc.closed)
	}
	if cc.analyser != 3 {
		t.Errorf("analysers = %d, want 3", cc.analyser)
	}

	v.Update(src, true)
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if cc.closed != 1 {
		t.Errorf("context closed %d times, want 1", cc.closed)
	}
	if src.live() != 0 {
		t.Error("tap survived Close")
	}
	v.Close()
	if cc.closed != 1 {
		t.Error("second Close closed the context again")
	}
	if err := v.Update(src, true); !errors.Is(err, ErrClosed) {
		t.Errorf("Update after Close = %v", err)
	}
}

func TestVisualizerFeedsAnalyser(t *testing.T) {
	v, surface, clock, _ := newTestVisualizer(t)
	src := &fakeSource{}
	var frames int
	v.OnFrame(func() { frames++ })
	v.Update(src, true)

	samples := make([]int16, FFTSize)
	for i := range samples {
		samples[i] = int16(20000 * math.Sin(2*math.Pi*8*float64(i)/FFTSize))
	}
	src.mu.Lock()
	for _, fn := range src.taps {
		fn(samples)
	}
	src.mu.Unlock()
	for range 5 {
		clock.Tick()
	}

	tallest := 0.0
	for _, r := range surface.rects {
		tallest = math.Max(tallest, r.h)
	}
	if tallest == 0 {
		t.Error("tone produced no visible bars")
	}
	if frames != 6 {
		t.Errorf("OnFrame called %d times, want 6", frames)
	}
}

func TestCanvas(t *testing.T) {
	c := NewCanvas(30, 5)
	c.FillRect(0, 0, Width/2, Height, BarGradient)
	out := c.Render()
	lines := strings.Split(out, "\n")
	if len(lines) != 5 {
		t.Fatalf("rows = %d, want 5", len(lines))
	}
	if !strings.Contains(out, "▀") {
		t.Error("filled area not rendered")
	}
	c.Clear()
	if strings.Contains(c.Render(), "▀") {
		t.Error("Clear left pixels")
	}
	// off-surface rects are clipped, not panicking
	c.FillRect(-50, -50, 1000, 1000, BarGradient)
	c.FillRect(400, 0, 10, 10, BarGradient)
}

func TestGradientAt(t *testing.T) {
	if got := BarGradient.At(0); got != "#ec4899" {
		t.Errorf("At(0) = %s", got)
	}
	if got := BarGradient.At(1); got != "#8b5cf6" {
		t.Errorf("At(1) = %s", got)
	}
}
