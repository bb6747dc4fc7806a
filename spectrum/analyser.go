package spectrum

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	FFTSize  = 256
	BinCount = FFTSize / 2

	smoothing = 0.8
	minDB     = -100.0
	maxDB     = -30.0
)

var ErrClosed = errors.New("analysis context closed")

// AnalysisContext hands out analysers. It is expensive to create and lives
// until Close.
type AnalysisContext interface {
	NewAnalyser(fftSize int) (Analyser, error)
	Close() error
}

// Analyser consumes raw samples and reports the latest magnitude spectrum as
// bytes, one per frequency bin.
type Analyser interface {
	Write(samples []int16)
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
}

type FFTContext struct {
	mu     sync.Mutex
	closed bool
}

func NewFFTContext() (AnalysisContext, error) {
	return &FFTContext{}, nil
}

func (c *FFTContext) NewAnalyser(fftSize int) (Analyser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, errors.New("fft size must be a power of two >= 32")
	}
	return newFFTAnalyser(fftSize), nil
}

func (c *FFTContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FFTAnalyser keeps the last fftSize samples in a ring and computes a
// Blackman-windowed, time-smoothed spectrum on demand.
type FFTAnalyser struct {
	mu       sync.Mutex
	size     int
	ring     []float64
	pos      int
	fft      *fourier.FFT
	buf      []float64
	coeff    []complex128
	smoothed []float64
}

func newFFTAnalyser(size int) *FFTAnalyser {
	return &FFTAnalyser{
		size:     size,
		ring:     make([]float64, size),
		fft:      fourier.NewFFT(size),
		buf:      make([]float64, size),
		smoothed: make([]float64, size/2),
	}
}

func (a *FFTAnalyser) FrequencyBinCount() int { return a.size / 2 }

func (a *FFTAnalyser) Write(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(samples) > a.size {
		samples = samples[len(samples)-a.size:]
	}
	for _, s := range samples {
		a.ring[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % a.size
	}
}

// ByteFrequencyData fills dst with the current spectrum scaled from
// [minDB, maxDB] onto [0, 255]. Extra bins in dst are left untouched.
func (a *FFTAnalyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := copy(a.buf, a.ring[a.pos:])
	copy(a.buf[n:], a.ring[:a.pos])
	window.Blackman(a.buf)
	a.coeff = a.fft.Coefficients(a.coeff, a.buf)

	bins := min(len(dst), len(a.smoothed))
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(a.coeff[k]) / float64(a.size)
		a.smoothed[k] = smoothing*a.smoothed[k] + (1-smoothing)*mag
		dst[k] = toByte(a.smoothed[k])
	}
}

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDB) / (maxDB - minDB)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}
