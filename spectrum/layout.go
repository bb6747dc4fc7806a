package spectrum

// Logical drawing area of the spectrum, in pixels.
const (
	Width  = 300
	Height = 100
)

// Gradient is a vertical two-stop fill spanning the whole surface height.
type Gradient struct {
	Top, Bottom string
}

var BarGradient = Gradient{Top: "#ec4899", Bottom: "#8b5cf6"}

type Bar struct {
	X, Y, W, H float64
}

// Layout turns one spectrum frame into bars centred on the horizontal axis.
// Bars are 2.5 bin-widths wide with a one pixel gap, so the upper part of the
// spectrum falls off the right edge.
func Layout(frame []byte, width, height float64) []Bar {
	if len(frame) == 0 {
		return nil
	}
	barWidth := (width / float64(len(frame))) * 2.5
	bars := make([]Bar, len(frame))
	x := 0.0
	for i, v := range frame {
		h := float64(v) / 2
		bars[i] = Bar{X: x, Y: height/2 - h/2, W: barWidth, H: h}
		x += barWidth + 1
	}
	return bars
}
